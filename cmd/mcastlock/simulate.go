package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/peer"
	"github.com/jathurchan/mcastlock/transport"
	"github.com/jathurchan/mcastlock/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var errExclusionViolated = errors.New("mutual exclusion violated")

// simulation describes an in-process run of several peers over a hub.
type simulation struct {
	Peers         int
	Rounds        int
	Hold          time.Duration
	RetryInterval time.Duration
	DropRate      float64
	Timeout       time.Duration

	// Clock is shared by all peers. Nil uses the standard clock.
	Clock mutex.Clock
}

func defaultSimulation() simulation {
	return simulation{
		Peers:         3,
		Rounds:        5,
		Hold:          10 * time.Millisecond,
		RetryInterval: 200 * time.Millisecond,
		Timeout:       time.Minute,
	}
}

func (s simulation) validate() error {
	switch {
	case s.Peers < 1:
		return fmt.Errorf("peers must be at least 1, got %d", s.Peers)
	case s.Rounds < 1:
		return fmt.Errorf("rounds must be at least 1, got %d", s.Rounds)
	case s.Hold < 0:
		return fmt.Errorf("hold cannot be negative")
	case s.DropRate < 0 || s.DropRate >= 1:
		return fmt.Errorf("drop rate must be in [0, 1), got %g", s.DropRate)
	case s.Timeout <= 0:
		return fmt.Errorf("timeout must be positive")
	case s.RetryInterval < mutex.MinRetryInterval:
		return fmt.Errorf("retry interval must be at least %v", mutex.MinRetryInterval)
	}
	return nil
}

func newSimulateCommand(v *viper.Viper) *cobra.Command {
	sim := defaultSimulation()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a group of peers in process and check that at most one holds the resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			report, err := runSimulation(cmd.Context(), sim, log)
			if err != nil && !errors.Is(err, errExclusionViolated) {
				return err
			}
			report.write(cmd.OutOrStdout())
			return err
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&sim.Peers, "peers", sim.Peers, "number of peers")
	flags.IntVar(&sim.Rounds, "rounds", sim.Rounds, "acquire/release rounds per peer")
	flags.DurationVar(&sim.Hold, "hold", sim.Hold, "how long each grant is held")
	flags.DurationVar(&sim.RetryInterval, "retry-interval", sim.RetryInterval, "rebroadcast an unanswered request after this long")
	flags.Float64Var(&sim.DropRate, "drop-rate", sim.DropRate, "probability of losing a datagram once the group has formed")
	flags.DurationVar(&sim.Timeout, "timeout", sim.Timeout, "abort the simulation after this long")
	return cmd
}

// simReport summarizes a simulation.
type simReport struct {
	Peers      int
	Rounds     int
	Grants     int
	Violations int
	Dropped    int64
	Latencies  []time.Duration
	Elapsed    time.Duration
}

func (r simReport) write(w io.Writer) {
	title := cases.Title(language.English)
	row := func(key, value string) {
		fmt.Fprintf(w, "  %-18s %s\n", title.String(key), value)
	}

	fmt.Fprintln(w, title.String("simulation summary"))
	row("peers", humanize.Comma(int64(r.Peers)))
	row("rounds per peer", humanize.Comma(int64(r.Rounds)))
	row("grants", humanize.Comma(int64(r.Grants)))
	row("violations", humanize.Comma(int64(r.Violations)))
	row("dropped datagrams", humanize.Comma(r.Dropped))
	row("elapsed", seconds(r.Elapsed))

	if len(r.Latencies) == 0 {
		return
	}
	sorted := slices.Sorted(slices.Values(r.Latencies))
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	mean := total / time.Duration(len(sorted))
	p99 := sorted[(len(sorted)*99)/100]
	if len(sorted) < 100 {
		p99 = sorted[len(sorted)-1]
	}
	row("acquire latency", fmt.Sprintf("mean %s, p99 %s, max %s",
		seconds(mean), seconds(p99), seconds(sorted[len(sorted)-1])))
}

func seconds(d time.Duration) string {
	return humanize.SIWithDigits(d.Seconds(), 2, "s")
}

// monitor tracks which peers hold the resource. A peer enters when its status turns
// HELD and leaves right before it submits RELEASE, so a successor can only enter
// after the previous holder has left.
type monitor struct {
	mu         sync.Mutex
	holders    map[types.PeerID]struct{}
	grants     int
	violations int
	latencies  []time.Duration
}

func newMonitor() *monitor {
	return &monitor{holders: make(map[types.PeerID]struct{})}
}

// sink signals held each time the peer's status turns HELD.
func (m *monitor) sink(id types.PeerID, held chan<- struct{}) peer.StatusSink {
	wasHeld := false
	return peer.SinkFunc(func(s mutex.Snapshot) {
		isHeld := s.State == types.StateHeld
		if isHeld == wasHeld {
			return
		}
		wasHeld = isHeld
		if !isHeld {
			return
		}
		m.enter(id)
		select {
		case held <- struct{}{}:
		default:
		}
	})
}

func (m *monitor) enter(id types.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.holders) > 0 {
		m.violations++
	}
	m.holders[id] = struct{}{}
	m.grants++
}

func (m *monitor) leave(id types.PeerID) {
	m.mu.Lock()
	delete(m.holders, id)
	m.mu.Unlock()
}

func (m *monitor) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

type simNode struct {
	id     types.PeerID
	submit peer.Submitter
	board  *peer.Board
	held   chan struct{}
}

func (n *simNode) do(ctx context.Context, name string) error {
	res, err := n.submit.Submit(ctx, name)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", n.id, name, err)
	}
	if res.Err != nil {
		return fmt.Errorf("%s: %s: %w", n.id, name, res.Err)
	}
	return nil
}

func (n *simNode) rounds(ctx context.Context, sim simulation, mon *monitor) error {
	for range sim.Rounds {
		start := time.Now()
		if err := n.do(ctx, peer.CommandAcquire.String()); err != nil {
			return err
		}
		select {
		case <-n.held:
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for the resource: %w", n.id, ctx.Err())
		}
		mon.observe(time.Since(start))

		select {
		case <-time.After(sim.Hold):
		case <-ctx.Done():
			return ctx.Err()
		}

		mon.leave(n.id)
		if err := n.do(ctx, peer.CommandRelease.String()); err != nil {
			return err
		}
	}
	return nil
}

// runSimulation starts sim.Peers peers on a hub, joins them, runs the rounds
// concurrently and makes every peer exit. It fails with errExclusionViolated when two
// peers held the resource at once.
func runSimulation(ctx context.Context, sim simulation, log logger.Logger) (simReport, error) {
	report := simReport{Peers: sim.Peers, Rounds: sim.Rounds}
	if err := sim.validate(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	ctx, cancel := context.WithTimeout(ctx, sim.Timeout)
	defer cancel()

	hub := transport.NewHub(transport.DefaultInboundQueueSize)
	var lossy atomic.Bool
	var dropped atomic.Int64
	if sim.DropRate > 0 {
		hub.SetDropFunc(func(transport.Delivery) bool {
			if lossy.Load() && rand.Float64() < sim.DropRate {
				dropped.Add(1)
				return true
			}
			return false
		})
	}

	mon := newMonitor()
	nodes := make([]*simNode, 0, sim.Peers)

	runCtx, stopPeers := context.WithCancel(context.Background())
	var running sync.WaitGroup
	defer func() {
		stopPeers()
		running.Wait()
	}()

	for i := range sim.Peers {
		id := types.PeerID(fmt.Sprintf("peer-%d", i+1))
		cfg := mutex.DefaultConfig(id)
		cfg.RetryInterval = sim.RetryInterval
		cfg.MaxAcquireRetries = -1

		commands := make(chan peer.Command)
		board := peer.NewBoard()
		held := make(chan struct{}, 1)
		b := peer.NewBuilder().
			WithConfig(cfg).
			WithNetwork(hub.Endpoint(string(id))).
			WithCommands(commands).
			WithStatusSink(peer.MultiSink{board, mon.sink(id, held)}).
			WithLogger(log.WithPeerID(id))
		if sim.Clock != nil {
			b = b.WithClock(sim.Clock)
		}
		p, err := b.Build()
		if err != nil {
			return report, err
		}

		running.Add(1)
		go func() {
			defer running.Done()
			if err := p.Run(runCtx); err != nil {
				log.Warnw("Peer exited with error", "peer", id, "error", err)
			}
		}()
		nodes = append(nodes, &simNode{id: id, submit: p.Submitter(commands), board: board, held: held})
	}

	for _, n := range nodes {
		if err := n.do(ctx, peer.CommandJoin.String()); err != nil {
			return report, err
		}
	}
	if err := waitForMembers(ctx, nodes, sim.Peers-1); err != nil {
		return report, err
	}
	log.Infow("Group formed", "peers", sim.Peers)

	lossy.Store(true)
	start := time.Now()
	errs := make(chan error, len(nodes))
	for _, n := range nodes {
		go func() { errs <- n.rounds(ctx, sim, mon) }()
	}
	var roundErr error
	for range nodes {
		roundErr = errors.Join(roundErr, <-errs)
	}
	report.Elapsed = time.Since(start)
	lossy.Store(false)

	for _, n := range nodes {
		if err := n.do(ctx, peer.CommandExit.String()); err != nil {
			log.Warnw("Exit failed", "peer", n.id, "error", err)
		}
	}

	mon.mu.Lock()
	report.Grants = mon.grants
	report.Violations = mon.violations
	report.Latencies = slices.Clone(mon.latencies)
	mon.mu.Unlock()
	report.Dropped = dropped.Load()

	if roundErr != nil {
		return report, roundErr
	}
	if report.Violations > 0 {
		return report, fmt.Errorf("%w: %d overlapping grants", errExclusionViolated, report.Violations)
	}
	return report, nil
}

// waitForMembers polls until every peer knows want other members.
func waitForMembers(ctx context.Context, nodes []*simNode, want int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		formed := true
		for _, n := range nodes {
			s, ok := n.board.Latest()
			if !ok || len(s.Members) != want {
				formed = false
				break
			}
		}
		if formed {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("group did not form: %w", ctx.Err())
		}
	}
}
