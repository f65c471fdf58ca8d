package transport

import (
	"fmt"
	"net"

	"github.com/jathurchan/mcastlock/protocol"
)

const (
	// DefaultGroup is the multicast group peers meet on.
	DefaultGroup = "228.5.6.7"

	// DefaultPort is the UDP port of the group.
	DefaultPort = 6789

	// DefaultTTL keeps datagrams on the local network segment.
	DefaultTTL = 1

	// DefaultInboundQueueSize bounds the datagrams buffered between readers and the loop.
	DefaultInboundQueueSize = 256
)

// Config describes the multicast group and channel parameters.
type Config struct {
	// Group is the IPv4 multicast address shared by all peers.
	Group string

	// Port is the UDP port the listener binds.
	Port int

	// TTL is the multicast time-to-live for outgoing broadcasts.
	TTL int

	// Interface names the network interface to join the group on.
	// Empty lets the system choose.
	Interface string

	// Loopback enables multicast loopback so peers on the same host hear each other.
	Loopback bool

	// ReadBufferSize is the largest datagram read from a channel.
	ReadBufferSize int

	// InboundQueueSize bounds datagrams waiting for the loop. When full, readers block
	// and the kernel drops further datagrams.
	InboundQueueSize int
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Group:            DefaultGroup,
		Port:             DefaultPort,
		TTL:              DefaultTTL,
		Loopback:         true,
		ReadBufferSize:   protocol.MaxDatagramSize,
		InboundQueueSize: DefaultInboundQueueSize,
	}
}

// WithDefaults fills zero-valued optional fields.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Group == "" {
		c.Group = d.Group
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.InboundQueueSize <= 0 {
		c.InboundQueueSize = d.InboundQueueSize
	}
	return c
}

// Validate checks that the configuration describes a usable IPv4 multicast group.
func (c Config) Validate() error {
	ip := net.ParseIP(c.Group)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: group %q is not an IPv4 address", ErrConfigValidation, c.Group)
	}
	if !ip.IsMulticast() {
		return fmt.Errorf("%w: group %q is not a multicast address", ErrConfigValidation, c.Group)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be in [1, 65535], got %d", ErrConfigValidation, c.Port)
	}
	if c.TTL < 0 || c.TTL > 255 {
		return fmt.Errorf("%w: ttl must be in [0, 255], got %d", ErrConfigValidation, c.TTL)
	}
	if c.ReadBufferSize <= 0 || c.ReadBufferSize > 65507 {
		return fmt.Errorf("%w: read buffer size must be in [1, 65507], got %d", ErrConfigValidation, c.ReadBufferSize)
	}
	if c.InboundQueueSize <= 0 {
		return fmt.Errorf("%w: inbound queue size must be positive, got %d", ErrConfigValidation, c.InboundQueueSize)
	}
	return nil
}

// GroupAddr returns the UDP address of the multicast group.
func (c Config) GroupAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(c.Group).To4(), Port: c.Port}
}
