package peer

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/testutil"
	"github.com/jathurchan/mcastlock/transport"
	"github.com/jathurchan/mcastlock/types"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 2 * time.Millisecond
)

// tickingClock hands out strictly increasing times so concurrent requests never
// carry equal timestamps. Timers are real.
type tickingClock struct {
	ticks atomic.Int64
}

var sharedClock = &tickingClock{}

func (c *tickingClock) Now() time.Time {
	return time.Unix(1_000_000, 0).Add(time.Duration(c.ticks.Add(1)) * time.Millisecond)
}

func (c *tickingClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *tickingClock) NewTimer(d time.Duration) mutex.Timer {
	return mutex.NewStandardClock().NewTimer(d)
}

type testNode struct {
	id       types.PeerID
	peer     *Peer
	commands chan Command
	board    *Board
	submit   Submitter
	cancel   context.CancelFunc
	errc     chan error
}

func startNode(t *testing.T, hub *transport.Hub, id string, opts ...func(*mutex.Config)) *testNode {
	t.Helper()

	cfg := mutex.DefaultConfig(types.PeerID(id))
	for _, opt := range opts {
		opt(&cfg)
	}

	commands := make(chan Command)
	board := NewBoard()
	p, err := NewBuilder().
		WithConfig(cfg).
		WithNetwork(hub.Endpoint(id)).
		WithCommands(commands).
		WithStatusSink(board).
		WithClock(sharedClock).
		Build()
	testutil.RequireNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	n := &testNode{
		id:       cfg.ID,
		peer:     p,
		commands: commands,
		board:    board,
		submit:   p.Submitter(commands),
		cancel:   cancel,
		errc:     make(chan error, 1),
	}
	go func() { n.errc <- p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-p.Done():
		case <-time.After(waitTimeout):
			t.Errorf("peer %s did not stop", id)
		}
	})
	return n
}

func (n *testNode) do(t *testing.T, command string) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	r, err := n.submit.Submit(ctx, command)
	testutil.RequireNoError(t, err, "submit %s to %s", command, n.id)
	return r
}

func (n *testNode) snapshot() mutex.Snapshot {
	s, _ := n.board.Latest()
	return s
}

func (n *testNode) state() types.ResourceState {
	return n.snapshot().State
}

func (n *testNode) waitState(t *testing.T, want types.ResourceState) {
	t.Helper()
	testutil.RequireEventually(t, func() bool { return n.state() == want },
		waitTimeout, waitTick, "%s never reached %s", n.id, want)
}

func (n *testNode) waitDeferred(t *testing.T, ids ...types.PeerID) {
	t.Helper()
	testutil.RequireEventually(t, func() bool { return slices.Equal(n.snapshot().Deferred, ids) },
		waitTimeout, waitTick, "%s never deferred %v", n.id, ids)
}

func fastRetry(c *mutex.Config) {
	c.RetryInterval = 20 * time.Millisecond
	c.MaxAcquireRetries = -1
}

// cluster starts the peers and joins them one by one, waiting until every
// peer knows every other.
func cluster(t *testing.T, hub *transport.Hub, ids ...string) []*testNode {
	t.Helper()
	return clusterWith(t, hub, nil, ids...)
}

func clusterWith(t *testing.T, hub *transport.Hub, opt func(*mutex.Config), ids ...string) []*testNode {
	t.Helper()
	nodes := make([]*testNode, 0, len(ids))
	for _, id := range ids {
		var n *testNode
		if opt != nil {
			n = startNode(t, hub, id, opt)
		} else {
			n = startNode(t, hub, id)
		}
		n.do(t, "JOIN")
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		testutil.RequireEventually(t, func() bool { return len(n.snapshot().Members) == len(ids)-1 },
			waitTimeout, waitTick, "%s did not discover the group", n.id)
	}
	return nodes
}
