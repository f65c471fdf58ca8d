package transport

import "errors"

var (
	// ErrNotOpen is returned when sending on a network whose channels are not open.
	ErrNotOpen = errors.New("transport: channels are not open")

	// ErrUnknownRole is returned when a channel role is not one of listener, lock or join.
	ErrUnknownRole = errors.New("transport: unknown channel role")

	// ErrDatagramTooLarge is returned when a payload exceeds the configured datagram size.
	ErrDatagramTooLarge = errors.New("transport: datagram too large")

	// ErrAddressType is returned when a destination address does not belong to this network.
	ErrAddressType = errors.New("transport: unsupported address type")

	// ErrNotRenewable is returned when renewing the listener channel, whose address is the group port.
	ErrNotRenewable = errors.New("transport: channel cannot be renewed")

	// ErrConfigValidation is returned when a transport Config fails validation.
	ErrConfigValidation = errors.New("transport: config validation error")
)
