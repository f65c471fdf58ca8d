package mutex

import "errors"

var (
	// ErrSendFailure wraps a failed transmit. The state transition that triggered the
	// send has already been committed when this is returned.
	ErrSendFailure = errors.New("mutex: send failed")

	// ErrNetworkOpen is returned by Join when the channels cannot be opened, and by
	// Acquire when the lock channel cannot be renewed.
	ErrNetworkOpen = errors.New("mutex: cannot open network channels")

	// ErrAcquireTimeout is returned by Retry when a request is abandoned after too many rebroadcasts.
	ErrAcquireTimeout = errors.New("mutex: acquire timed out waiting for replies")

	// ErrConfigValidation is returned when a Config fails validation.
	ErrConfigValidation = errors.New("mutex: config validation error")

	// ErrMissingDependencies is returned when required dependencies are not provided.
	ErrMissingDependencies = errors.New("mutex: missing required dependencies")
)
