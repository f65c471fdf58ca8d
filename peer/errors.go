package peer

import "errors"

var (
	// ErrUnknownCommand is reported for commands other than JOIN, ACQUIRE, RELEASE and EXIT.
	ErrUnknownCommand = errors.New("peer: unknown command")

	// ErrStopped is returned when submitting to a peer whose loop has terminated.
	ErrStopped = errors.New("peer: stopped")

	// ErrAlreadyRunning is returned when Run is called on a peer that is already running.
	ErrAlreadyRunning = errors.New("peer: already running")
)
