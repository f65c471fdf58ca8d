// Command mcastlock runs a peer of a multicast mutual exclusion group, simulates a
// group in process, and talks to a running peer's control endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitSuccess     = 0
	exitFailure     = 1
	exitInterrupted = 130 // Exit code for SIGINT or SIGTERM
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		fmt.Fprintln(os.Stderr, "mcastlock:", err)
		return exitFailure
	}
}
