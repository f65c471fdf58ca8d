package mutex

import (
	"fmt"

	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/transport"
)

// Dependencies bundles the external components a Machine needs.
type Dependencies struct {
	// Network provides the listener, lock and join channels.
	Network transport.Network

	// Clock provides request timestamps.
	Clock Clock

	// Logger provides structured logging.
	Logger logger.Logger

	// Metrics records operational metrics.
	Metrics Metrics
}

// Validate checks that all required dependencies are provided.
// Optional dependencies (Logger, Metrics) may be nil.
func (d *Dependencies) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: dependencies struct cannot be nil", ErrMissingDependencies)
	}
	if d.Network == nil {
		return fmt.Errorf("%w: Network dependency cannot be nil", ErrMissingDependencies)
	}
	if d.Clock == nil {
		return fmt.Errorf("%w: Clock dependency cannot be nil", ErrMissingDependencies)
	}
	return nil
}
