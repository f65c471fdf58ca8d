package protocol

import "errors"

// ErrMalformedMessage indicates a datagram that cannot be parsed into
// "<id> <timestamp> <status>". Malformed datagrams are dropped by the receiver.
var ErrMalformedMessage = errors.New("protocol: malformed message")
