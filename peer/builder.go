package peer

import (
	"errors"
	"fmt"

	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/transport"
)

// Builder assembles a Peer with appropriate defaults.
type Builder struct {
	config   mutex.Config
	network  transport.Network
	commands <-chan Command
	sink     StatusSink
	logger   logger.Logger
	metrics  mutex.Metrics
	clock    mutex.Clock
}

// NewBuilder creates a new builder for Peer construction.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the machine configuration, including the peer id.
func (b *Builder) WithConfig(config mutex.Config) *Builder {
	b.config = config
	return b
}

// WithNetwork sets the channels the peer talks on.
func (b *Builder) WithNetwork(network transport.Network) *Builder {
	b.network = network
	return b
}

// WithCommands sets the command source. Closing it makes the peer exit.
func (b *Builder) WithCommands(commands <-chan Command) *Builder {
	b.commands = commands
	return b
}

// WithStatusSink sets where status snapshots are published.
func (b *Builder) WithStatusSink(sink StatusSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger logger.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics implementation.
func (b *Builder) WithMetrics(metrics mutex.Metrics) *Builder {
	b.metrics = metrics
	return b
}

// WithClock sets the clock implementation.
func (b *Builder) WithClock(clock mutex.Clock) *Builder {
	b.clock = clock
	return b
}

// Build constructs the Peer. It fails if required components are missing or the
// configuration is invalid.
func (b *Builder) Build() (*Peer, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	b.setDefaults()

	cfg := b.config.WithDefaults()
	machine, err := mutex.NewMachine(cfg, mutex.Dependencies{
		Network: b.network,
		Clock:   b.clock,
		Logger:  b.logger,
		Metrics: b.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state machine: %w", err)
	}

	log := b.logger.WithPeerID(cfg.ID).WithComponent("loop")
	log.Infow("Peer initialized",
		"retry_interval", cfg.RetryInterval,
		"max_acquire_retries", cfg.MaxAcquireRetries,
		"freeze_responders", cfg.FreezeResponders)

	return &Peer{
		id:            cfg.ID,
		machine:       machine,
		network:       b.network,
		commands:      b.commands,
		sink:          b.sink,
		clock:         b.clock,
		logger:        log,
		metrics:       b.metrics,
		retryInterval: cfg.RetryInterval,
		done:          make(chan struct{}),
	}, nil
}

func (b *Builder) validate() error {
	if b.config.ID == "" {
		return errors.New("config (including peer ID) must be provided using WithConfig()")
	}
	if b.network == nil {
		return errors.New("network cannot be nil")
	}
	if b.commands == nil {
		return errors.New("command source cannot be nil")
	}
	return nil
}

func (b *Builder) setDefaults() {
	if b.logger == nil {
		b.logger = logger.NewNoOpLogger()
	}
	if b.metrics == nil {
		b.metrics = mutex.NewNoOpMetrics()
	}
	if b.clock == nil {
		b.clock = mutex.NewStandardClock()
	}
	if b.sink == nil {
		b.sink = SinkFunc(func(mutex.Snapshot) {})
	}
}
