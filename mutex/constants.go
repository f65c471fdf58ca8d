package mutex

import "time"

const (
	// DefaultRetryInterval is how long a WANTED request waits for replies before it is rebroadcast.
	DefaultRetryInterval = 2 * time.Second

	// DefaultMaxAcquireRetries is how many times a WANTED request is rebroadcast before it is abandoned.
	DefaultMaxAcquireRetries = 5

	// MinRetryInterval bounds how aggressively requests can be rebroadcast.
	MinRetryInterval = 10 * time.Millisecond
)
