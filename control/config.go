package control

import (
	"fmt"
	"time"
)

const (
	// DefaultListenAddr is where the control endpoint listens by default. It is
	// loopback-only since the endpoint is unauthenticated.
	DefaultListenAddr = "127.0.0.1:7946"

	// DefaultRate is the default number of control requests admitted per second.
	DefaultRate = 20.0

	// DefaultBurst is the default number of requests admitted in a burst.
	DefaultBurst = 5

	// DefaultRequestTimeout bounds how long a request may wait for the peer loop.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultKeepaliveTime is the interval between server keepalive pings on idle connections.
	DefaultKeepaliveTime = 30 * time.Second

	// DefaultKeepaliveTimeout is how long the server waits for a keepalive acknowledgment.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultMaxMsgSize caps control messages; commands and status lines are small.
	DefaultMaxMsgSize = 64 * 1024
)

// Config holds the control endpoint parameters.
type Config struct {
	// ListenAddr is the TCP address the gRPC server listens on.
	ListenAddr string

	// Rate is the number of requests admitted per second. Zero or less disables limiting.
	Rate float64

	// Burst is the number of requests admitted at once.
	Burst int

	// RequestTimeout bounds each request, including the wait for the peer loop.
	RequestTimeout time.Duration

	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	MaxMsgSize       int
}

// DefaultConfig returns the default control configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       DefaultListenAddr,
		Rate:             DefaultRate,
		Burst:            DefaultBurst,
		RequestTimeout:   DefaultRequestTimeout,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		MaxMsgSize:       DefaultMaxMsgSize,
	}
}

// WithDefaults fills zero-valued fields. Rate is left as is since zero disables limiting.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = d.KeepaliveTime
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = d.KeepaliveTimeout
	}
	if c.MaxMsgSize <= 0 {
		c.MaxMsgSize = d.MaxMsgSize
	}
	return c
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: ListenAddr cannot be empty", ErrConfigValidation)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("%w: Burst (%d) must be positive", ErrConfigValidation, c.Burst)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: RequestTimeout must be positive", ErrConfigValidation)
	}
	return nil
}
