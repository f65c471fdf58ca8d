package mutex

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/testutil"
	"github.com/jathurchan/mcastlock/transport"
	"github.com/jathurchan/mcastlock/types"
)

// mockClock is a manually advanced Clock.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(seconds int64) *mockClock {
	return &mockClock{now: time.Unix(seconds, 0)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *mockClock) Set(seconds int64) {
	c.mu.Lock()
	c.now = time.Unix(seconds, 0)
	c.mu.Unlock()
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *mockClock) NewTimer(d time.Duration) Timer {
	return &mockTimer{ch: make(chan time.Time, 1)}
}

type mockTimer struct {
	ch chan time.Time
}

func (t *mockTimer) Chan() <-chan time.Time { return t.ch }

func (t *mockTimer) Stop() bool { return true }

func (t *mockTimer) Reset(time.Duration) bool { return true }

// sent is one datagram recorded by recordingNetwork.
type sent struct {
	Role    transport.Role
	To      net.Addr // nil for broadcasts
	Message protocol.Message
}

// recordingNetwork implements transport.Network by recording every send.
type recordingNetwork struct {
	name    string
	inbound chan transport.Datagram

	open     bool
	openErr  error
	sendErr  error
	renewErr error
	opened   int
	closed   int
	epochs   [3]uint64
	sent     []sent
}

var errInjected = errors.New("injected failure")

func newRecordingNetwork(name string) *recordingNetwork {
	return &recordingNetwork{name: name, inbound: make(chan transport.Datagram)}
}

func (n *recordingNetwork) Open(context.Context) error {
	if n.openErr != nil {
		return n.openErr
	}
	n.open = true
	n.opened++
	return nil
}

func (n *recordingNetwork) Inbound() <-chan transport.Datagram { return n.inbound }

func (n *recordingNetwork) Broadcast(role transport.Role, payload []byte) error {
	return n.record(role, nil, payload)
}

func (n *recordingNetwork) SendTo(role transport.Role, addr net.Addr, payload []byte) error {
	return n.record(role, addr, payload)
}

func (n *recordingNetwork) record(role transport.Role, to net.Addr, payload []byte) error {
	if !n.open {
		return transport.ErrNotOpen
	}
	if n.sendErr != nil {
		return n.sendErr
	}
	msg, err := protocol.Decode(payload, n.LocalAddr(role))
	if err != nil {
		return err
	}
	n.sent = append(n.sent, sent{Role: role, To: to, Message: msg})
	return nil
}

func (n *recordingNetwork) LocalAddr(role transport.Role) net.Addr {
	return transport.HubAddr{Endpoint: n.name, Role: role, Epoch: n.epochs[role]}
}

func (n *recordingNetwork) Renew(role transport.Role) (uint64, error) {
	if !n.open {
		return 0, transport.ErrNotOpen
	}
	if n.renewErr != nil {
		return 0, n.renewErr
	}
	n.epochs[role]++
	return n.epochs[role], nil
}

func (n *recordingNetwork) Close() error {
	n.open = false
	n.closed++
	return nil
}

// take returns and forgets everything sent so far.
func (n *recordingNetwork) take() []sent {
	out := n.sent
	n.sent = nil
	return out
}

// recordingMetrics counts the calls the tests care about.
type recordingMetrics struct {
	noOpMetrics
	deferred     int
	replaced     int
	retries      int
	timeouts     int
	contested    int
	uncontested  int
	sendFailures int
	groupSize    int
}

func (r *recordingMetrics) ObserveDeferred(replaced bool) {
	r.deferred++
	if replaced {
		r.replaced++
	}
}

func (r *recordingMetrics) ObserveAcquireRetry() { r.retries++ }

func (r *recordingMetrics) ObserveAcquireTimeout() { r.timeouts++ }

func (r *recordingMetrics) SetGroupSize(n int) { r.groupSize = n }

func (r *recordingMetrics) ObserveMessageSent(_ protocol.Status, success bool) {
	if !success {
		r.sendFailures++
	}
}

func (r *recordingMetrics) ObserveAcquireLatency(_ time.Duration, contested bool) {
	if contested {
		r.contested++
	} else {
		r.uncontested++
	}
}

type testPeer struct {
	*Machine
	net *recordingNetwork
}

func newTestPeer(t *testing.T, id string, clock Clock, opts ...func(*Config)) *testPeer {
	t.Helper()
	cfg := DefaultConfig(types.PeerID(id))
	for _, opt := range opts {
		opt(&cfg)
	}
	network := newRecordingNetwork(id)
	m, err := NewMachine(cfg, Dependencies{Network: network, Clock: clock})
	testutil.RequireNoError(t, err)
	return &testPeer{Machine: m, net: network}
}

func frozen(c *Config) { c.FreezeResponders = true }

// joined returns peers that have joined and know each other.
func joined(t *testing.T, clock Clock, ids ...string) map[string]*testPeer {
	t.Helper()
	peers := make(map[string]*testPeer, len(ids))
	for _, id := range ids {
		p := newTestPeer(t, id, clock)
		testutil.RequireNoError(t, p.Join(context.Background()))
		peers[id] = p
	}
	for _, p := range peers {
		for _, id := range ids {
			p.HandleWelcome(protocol.Message{ID: types.PeerID(id), Status: protocol.StatusAck})
		}
		p.net.take()
	}
	return peers
}

// requestFrom is the WANTED message peer p broadcast most recently.
func requestFrom(t *testing.T, p *testPeer) protocol.Message {
	t.Helper()
	for i := len(p.net.sent) - 1; i >= 0; i-- {
		s := p.net.sent[i]
		if s.To == nil && s.Message.Status == protocol.StatusWanted {
			return s.Message
		}
	}
	t.Fatalf("%s did not broadcast a request", p.ID())
	return protocol.Message{}
}

// reply is a message addressed to one generation of a lock channel.
type reply struct {
	protocol.Message
	epoch uint64
}

// repliesTo returns the unicast messages p sent to any lock channel of target.
func repliesTo(p *testPeer, target string) []reply {
	var out []reply
	for _, s := range p.net.sent {
		to, ok := s.To.(transport.HubAddr)
		if ok && to.Endpoint == target && to.Role == transport.RoleLock {
			out = append(out, reply{Message: s.Message, epoch: to.Epoch})
		}
	}
	return out
}

// receive hands r to p as if it arrived on the lock channel it was addressed to.
func (p *testPeer) receive(r reply) bool {
	return p.HandleReply(r.Message, r.epoch)
}

// answer hands msg to p on its current lock channel.
func (p *testPeer) answer(msg protocol.Message) bool {
	return p.HandleReply(msg, p.net.epochs[transport.RoleLock])
}
