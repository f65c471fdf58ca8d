package logger

import "github.com/jathurchan/mcastlock/types"

// Logger defines a structured, leveled logging interface.
// Key/value pairs follow the message: "key1", value1, "key2", value2.
type Logger interface {
	// Debugw logs a debug-level message with optional structured context.
	Debugw(msg string, keysAndValues ...any)

	// Infow logs an info-level message with optional structured context.
	Infow(msg string, keysAndValues ...any)

	// Warnw logs a warning-level message with optional structured context.
	Warnw(msg string, keysAndValues ...any)

	// Errorw logs an error-level message with optional structured context.
	Errorw(msg string, keysAndValues ...any)

	// Fatalw logs a fatal-level message with optional structured context and then terminates the application.
	Fatalw(msg string, keysAndValues ...any)

	// With adds arbitrary key-value pairs to the logger's context.
	With(keysAndValues ...any) Logger

	// WithPeerID adds the local peer id to the logger's context.
	WithPeerID(id types.PeerID) Logger

	// WithComponent adds a component label (e.g., "machine", "transport") to categorize log output.
	WithComponent(name string) Logger
}
