package control

import "errors"

var (
	// ErrRateLimited indicates the request was rejected by the rate limiter.
	ErrRateLimited = errors.New("control: request rate limited")

	// ErrEmptyCommand indicates a Submit request without a command name.
	ErrEmptyCommand = errors.New("control: empty command")

	// ErrNoStatus indicates the peer has not published any status yet.
	ErrNoStatus = errors.New("control: no status published yet")

	// ErrServerStarted indicates Start or Serve was called twice.
	ErrServerStarted = errors.New("control: server already started")

	// ErrConfigValidation is returned when a Config fails validation.
	ErrConfigValidation = errors.New("control: config validation error")
)
