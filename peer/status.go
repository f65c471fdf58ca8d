package peer

import (
	"fmt"
	"io"
	"sync"

	"github.com/jathurchan/mcastlock/mutex"
)

// StatusSink receives the peer's status whenever it changes.
// Publish is called from the loop goroutine and must not block for long.
type StatusSink interface {
	Publish(s mutex.Snapshot)
}

// SinkFunc adapts a function to a StatusSink.
type SinkFunc func(mutex.Snapshot)

// Publish implements StatusSink.
func (f SinkFunc) Publish(s mutex.Snapshot) { f(s) }

// MultiSink publishes to every sink in order.
type MultiSink []StatusSink

// Publish implements StatusSink.
func (m MultiSink) Publish(s mutex.Snapshot) {
	for _, sink := range m {
		sink.Publish(s)
	}
}

// WriterSink writes each status as one line to w. Write errors are ignored.
func WriterSink(w io.Writer) StatusSink {
	var mu sync.Mutex
	return SinkFunc(func(s mutex.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(w, s.String())
	})
}

// Board keeps the latest published status for readers on other goroutines.
type Board struct {
	mu      sync.RWMutex
	latest  mutex.Snapshot
	has     bool
	version uint64
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Publish implements StatusSink.
func (b *Board) Publish(s mutex.Snapshot) {
	b.mu.Lock()
	b.latest = s
	b.has = true
	b.version++
	b.mu.Unlock()
}

// Latest returns the most recent status and whether any was published.
func (b *Board) Latest() (mutex.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.has
}

// Version counts publications.
func (b *Board) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}
