package mutex

import (
	"fmt"
	"time"

	"github.com/jathurchan/mcastlock/types"
)

// Config holds the parameters of a Machine.
type Config struct {
	// ID identifies the local peer on the wire. It must be unique within the group.
	ID types.PeerID

	// FreezeResponders fixes the set of peers a request waits for at the moment it is
	// broadcast. When false, completion is evaluated against the current members, so
	// members joining or leaving mid-request change how many replies are required.
	FreezeResponders bool

	// RetryInterval is how long a WANTED request waits before it is rebroadcast.
	RetryInterval time.Duration

	// MaxAcquireRetries is how many rebroadcasts a request gets before it is abandoned.
	// A negative value retries forever.
	MaxAcquireRetries int
}

// DefaultConfig returns a Config for id with the default retry policy.
func DefaultConfig(id types.PeerID) Config {
	return Config{
		ID:                id,
		RetryInterval:     DefaultRetryInterval,
		MaxAcquireRetries: DefaultMaxAcquireRetries,
	}
}

// WithDefaults fills zero-valued fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxAcquireRetries == 0 {
		c.MaxAcquireRetries = DefaultMaxAcquireRetries
	}
	return c
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if err := c.ID.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigValidation, err)
	}
	if c.RetryInterval < MinRetryInterval {
		return fmt.Errorf("%w: RetryInterval (%v) must be at least %v",
			ErrConfigValidation, c.RetryInterval, MinRetryInterval)
	}
	return nil
}
