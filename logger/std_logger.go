package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"

	"github.com/jathurchan/mcastlock/types"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// ParseLevel maps a string to a LogLevel. The second result is false on unknown
// input, in which case LevelInfo is returned.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "fatal":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// StdLogger writes key=value log lines through a standard library *log.Logger.
// Persistent context keys are written in sorted order so lines are stable.
type StdLogger struct {
	out      *log.Logger
	context  map[string]any
	minLevel LogLevel
	exit     func(int)
}

// NewStdLogger returns a StdLogger writing to stderr with a minimum log level filter.
func NewStdLogger(minLevelStr string) Logger {
	return NewStdLoggerWithWriter(os.Stderr, minLevelStr)
}

// NewStdLoggerWithWriter returns a StdLogger writing to w.
func NewStdLoggerWithWriter(w io.Writer, minLevelStr string) Logger {
	level, _ := ParseLevel(minLevelStr)
	return &StdLogger{
		out:      log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		context:  make(map[string]any),
		minLevel: level,
		exit:     os.Exit,
	}
}

func (l *StdLogger) log(level LogLevel, levelStr string, msg string, kvs ...any) {
	if level < l.minLevel {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(levelStr), msg)

	keys := make([]string, 0, len(l.context))
	for k := range l.context {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, l.context[k])
	}

	appendPairs(&b, kvs)

	l.out.Println(b.String())

	if level == LevelFatal {
		l.exit(1)
	}
}

// appendPairs writes well-formed key/value pairs; unpaired or non-string keys are skipped.
func appendPairs(b *strings.Builder, kvs []any) {
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		fmt.Fprintf(b, " %s=%v", key, kvs[i+1])
	}
}

func (l *StdLogger) Debugw(msg string, kvs ...any) { l.log(LevelDebug, "debug", msg, kvs...) }
func (l *StdLogger) Infow(msg string, kvs ...any)  { l.log(LevelInfo, "info", msg, kvs...) }
func (l *StdLogger) Warnw(msg string, kvs ...any)  { l.log(LevelWarn, "warn", msg, kvs...) }
func (l *StdLogger) Errorw(msg string, kvs ...any) { l.log(LevelError, "error", msg, kvs...) }
func (l *StdLogger) Fatalw(msg string, kvs ...any) { l.log(LevelFatal, "fatal", msg, kvs...) }

func (l *StdLogger) cloneWithContext(extra map[string]any) *StdLogger {
	newCtx := make(map[string]any, len(l.context)+len(extra))
	for k, v := range l.context {
		newCtx[k] = v
	}
	for k, v := range extra {
		newCtx[k] = v
	}
	return &StdLogger{out: l.out, context: newCtx, minLevel: l.minLevel, exit: l.exit}
}

// With adds key-value pairs to the logger's context.
func (l *StdLogger) With(kvs ...any) Logger {
	ctx := make(map[string]any)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		ctx[key] = kvs[i+1]
	}
	return l.cloneWithContext(ctx)
}

// WithPeerID returns a logger with the peer id added to the context.
func (l *StdLogger) WithPeerID(id types.PeerID) Logger {
	return l.cloneWithContext(map[string]any{"peer": id})
}

// WithComponent returns a logger with a component name added to the context.
func (l *StdLogger) WithComponent(name string) Logger {
	return l.cloneWithContext(map[string]any{"component": name})
}
