package peer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jathurchan/mcastlock/mutex"
)

// CommandKind is one of the four commands a peer understands.
type CommandKind int

const (
	CommandJoin CommandKind = iota + 1
	CommandAcquire
	CommandRelease
	CommandExit
)

func (k CommandKind) String() string {
	switch k {
	case CommandJoin:
		return "JOIN"
	case CommandAcquire:
		return "ACQUIRE"
	case CommandRelease:
		return "RELEASE"
	case CommandExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// ParseCommand parses a command name, ignoring case and surrounding whitespace.
func ParseCommand(s string) (CommandKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JOIN":
		return CommandJoin, nil
	case "ACQUIRE":
		return CommandAcquire, nil
	case "RELEASE":
		return CommandRelease, nil
	case "EXIT":
		return CommandExit, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Result is what a command produced.
type Result struct {
	Snapshot mutex.Snapshot
	Err      error
}

// Command is one entry from a command source. Name is parsed by the loop, so
// unknown names are reported rather than rejected at the source.
//
// Reply, when set, receives exactly one Result. It must be buffered: the loop
// never blocks on it.
type Command struct {
	Name  string
	Reply chan<- Result
}

// Submitter sends commands to a running peer and waits for their results.
// It is safe for concurrent use.
type Submitter struct {
	Commands chan<- Command
	Done     <-chan struct{}
}

// Submit sends name to the peer and returns the outcome. It fails with ErrStopped
// once the peer's loop has terminated.
func (s Submitter) Submit(ctx context.Context, name string) (Result, error) {
	reply := make(chan Result, 1)

	select {
	case s.Commands <- Command{Name: name, Reply: reply}:
	case <-s.Done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-s.Done:
		// EXIT replies right before the loop terminates.
		select {
		case r := <-reply:
			return r, nil
		default:
			return Result{}, ErrStopped
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
