package logger

import "github.com/jathurchan/mcastlock/types"

// NoOpLogger discards log messages. When Hook is set, every message is handed to it
// with its level, so tests can observe what a component logs. Loggers derived with
// With, WithPeerID or WithComponent share the hook.
type NoOpLogger struct {
	Hook func(level LogLevel, msg string, keysAndValues ...any)
}

func (l *NoOpLogger) emit(level LogLevel, msg string, keysAndValues []any) {
	if l.Hook != nil {
		l.Hook(level, msg, keysAndValues...)
	}
}

func (l *NoOpLogger) Debugw(msg string, keysAndValues ...any) { l.emit(LevelDebug, msg, keysAndValues) }
func (l *NoOpLogger) Infow(msg string, keysAndValues ...any)  { l.emit(LevelInfo, msg, keysAndValues) }
func (l *NoOpLogger) Warnw(msg string, keysAndValues ...any)  { l.emit(LevelWarn, msg, keysAndValues) }
func (l *NoOpLogger) Errorw(msg string, keysAndValues ...any) { l.emit(LevelError, msg, keysAndValues) }

// Fatalw never terminates the process.
func (l *NoOpLogger) Fatalw(msg string, keysAndValues ...any) { l.emit(LevelFatal, msg, keysAndValues) }

func (l *NoOpLogger) With(keysAndValues ...any) Logger  { return l }
func (l *NoOpLogger) WithPeerID(id types.PeerID) Logger { return l }
func (l *NoOpLogger) WithComponent(name string) Logger  { return l }

// NewNoOpLogger returns a Logger that discards all log messages.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}
