// Package mutex implements the Ricart-Agrawala permission protocol for one peer:
// the resource state machine together with the group, deferred queue and response
// bookkeeping it owns.
//
// A Machine is not safe for concurrent use. Every method must be called from the
// single goroutine that owns it.
package mutex

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/transport"
	"github.com/jathurchan/mcastlock/types"
)

// Machine owns the resource state of one peer.
type Machine struct {
	cfg     Config
	network transport.Network
	clock   Clock
	logger  logger.Logger
	metrics Metrics

	state     types.ResourceState
	timestamp float64

	group     *Group
	deferred  *DeferredQueue
	responses *ResponseSet

	lockEpoch   uint64
	retries     int
	requestedAt time.Time
	heldAt      time.Time
}

// NewMachine validates cfg and deps and returns a DISCONNECTED machine.
func NewMachine(cfg Config, deps Dependencies) (*Machine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Validate(); err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}

	return &Machine{
		cfg:       cfg,
		network:   deps.Network,
		clock:     deps.Clock,
		logger:    log.WithPeerID(cfg.ID).WithComponent("machine"),
		metrics:   metrics,
		state:     types.StateDisconnected,
		timestamp: types.NoTimestamp,
		group:     NewGroup(cfg.ID),
		deferred:  NewDeferredQueue(),
		responses: NewResponseSet(),
	}, nil
}

// ID returns the local peer id.
func (m *Machine) ID() types.PeerID { return m.cfg.ID }

// State returns the current resource state.
func (m *Machine) State() types.ResourceState { return m.state }

// Timestamp returns the outstanding request timestamp, or types.NoTimestamp.
func (m *Machine) Timestamp() float64 { return m.timestamp }

// AwaitingReplies reports whether a broadcast request is waiting for replies.
func (m *Machine) AwaitingReplies() bool { return m.state == types.StateWanted }

// Members returns the group tracker. Callers must not mutate it.
func (m *Machine) Members() *Group { return m.group }

// Snapshot returns the observable status.
func (m *Machine) Snapshot() Snapshot {
	members := make([]types.PeerID, 0, m.group.Size())
	for id := range m.group.Members() {
		members = append(members, id)
	}
	return Snapshot{
		ID:       m.cfg.ID,
		State:    m.state,
		Members:  members,
		Deferred: m.deferred.IDs(),
	}
}

// Join opens the channels and announces the peer to the group.
// It does nothing unless the machine is DISCONNECTED.
func (m *Machine) Join(ctx context.Context) error {
	if m.state != types.StateDisconnected {
		m.logger.Debugw("Join ignored", "state", m.state.String())
		return nil
	}
	if err := m.network.Open(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkOpen, err)
	}

	m.timestamp = types.NoTimestamp
	m.setState(types.StateReleased)
	m.logger.Infow("Joined group")

	return m.broadcast(transport.RoleJoin, protocol.StatusJoin, m.now())
}

// Acquire requests the resource. It does nothing while WANTED, HELD or DISCONNECTED.
//
// With no known members the resource is granted at once without any I/O. Otherwise the
// lock channel is renewed, so replies to earlier requests can no longer reach this one,
// and the machine goes WANTED and broadcasts the request on it.
func (m *Machine) Acquire() error {
	switch m.state {
	case types.StateWanted, types.StateHeld, types.StateDisconnected:
		m.logger.Debugw("Acquire ignored", "state", m.state.String())
		return nil
	}

	releaseErr := m.Release()

	m.responses.Reset()
	m.retries = 0
	m.timestamp = m.now()
	m.requestedAt = m.clock.Now()

	if m.group.Size() == 0 {
		m.grant(false)
		return releaseErr
	}

	epoch, err := m.network.Renew(transport.RoleLock)
	if err != nil {
		m.timestamp = types.NoTimestamp
		m.logger.Warnw("Lock channel renewal failed", "error", err)
		return errors.Join(releaseErr, fmt.Errorf("%w: renew lock channel: %w", ErrNetworkOpen, err))
	}
	m.lockEpoch = epoch

	if m.cfg.FreezeResponders {
		m.responses.Freeze(m.group)
	}
	m.setState(types.StateWanted)
	m.logger.Infow("Requesting resource", "timestamp", m.timestamp, "members", m.group.Size(), "lock_epoch", epoch)

	return errors.Join(releaseErr, m.broadcast(transport.RoleLock, protocol.StatusWanted, m.timestamp))
}

// Release gives up the resource or abandons an outstanding request, then answers every
// deferred request with RELEASED. It does nothing while DISCONNECTED.
func (m *Machine) Release() error {
	if m.state == types.StateDisconnected {
		return nil
	}

	prev := m.state
	timestamp := m.timestamp

	m.setState(types.StateReleased)
	out := m.deferred.Drain(m.cfg.ID, timestamp, types.StateReleased)
	m.responses.Reset()
	m.timestamp = types.NoTimestamp
	m.retries = 0
	m.metrics.SetDeferredQueueSize(0)

	if prev == types.StateHeld {
		m.metrics.ObserveHoldDuration(m.clock.Since(m.heldAt))
		m.logger.Infow("Released resource", "deferred_replies", len(out))
	}

	var errs []error
	for _, o := range out {
		if err := m.send(transport.RoleListener, o.To, o.Message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleRequest applies the permission rule to a WANTED message from another peer.
//
// The request is deferred while HELD, or while WANTED with a strictly earlier local
// timestamp (both timestamps > 0). Otherwise it is answered at once with the local state.
func (m *Machine) HandleRequest(msg protocol.Message) error {
	if m.shouldDefer(msg) {
		replaced := m.deferred.Enqueue(msg)
		m.metrics.ObserveDeferred(replaced)
		m.metrics.SetDeferredQueueSize(m.deferred.Len())
		m.logger.Debugw("Request deferred",
			"from", msg.ID,
			"their_timestamp", msg.Timestamp,
			"our_timestamp", m.timestamp,
			"state", m.state.String(),
			"replaced", replaced)
		return nil
	}

	return m.send(transport.RoleListener, msg.Source, protocol.Message{
		ID:        m.cfg.ID,
		Timestamp: m.now(),
		Status:    protocol.StatusOf(m.state),
	})
}

func (m *Machine) shouldDefer(msg protocol.Message) bool {
	switch m.state {
	case types.StateHeld:
		return true
	case types.StateWanted:
		return m.timestamp > 0 && msg.Timestamp > 0 && m.timestamp < msg.Timestamp
	default:
		return false
	}
}

// HandleReply counts a reply to the outstanding request and reports whether it
// completed the request. epoch is the generation of the lock channel the reply
// arrived on. Replies outside WANTED, replies to an earlier request, duplicates and
// replies from peers the request is not waiting for do not count.
func (m *Machine) HandleReply(msg protocol.Message, epoch uint64) bool {
	if m.state != types.StateWanted {
		return false
	}
	if epoch != m.lockEpoch {
		m.logger.Debugw("Stale reply ignored", "from", msg.ID, "epoch", epoch, "lock_epoch", m.lockEpoch)
		return false
	}
	if !m.responses.Expects(msg.ID, m.group) {
		m.logger.Debugw("Reply from unexpected peer ignored", "from", msg.ID)
		return false
	}
	if !m.responses.Add(msg.ID) {
		m.logger.Debugw("Duplicate reply ignored", "from", msg.ID)
		return false
	}
	return m.completeIfAnswered()
}

// HandleJoin adds the sender of a JOIN to the group. A newly added member is sent an
// ACK so it learns about this peer. It reports whether the member was new.
func (m *Machine) HandleJoin(msg protocol.Message) (bool, error) {
	if !m.group.Add(msg.ID) {
		return false, nil
	}
	m.metrics.SetGroupSize(m.group.Size())
	m.logger.Infow("Peer joined", "member", msg.ID, "source", addrString(msg.Source))

	return true, m.send(transport.RoleListener, msg.Source, protocol.Message{
		ID:        m.cfg.ID,
		Timestamp: m.now(),
		Status:    protocol.StatusAck,
	})
}

// HandleWelcome adds a peer that acknowledged our JOIN. It reports whether the member was new.
func (m *Machine) HandleWelcome(msg protocol.Message) bool {
	if !m.group.Add(msg.ID) {
		return false
	}
	m.metrics.SetGroupSize(m.group.Size())
	m.logger.Infow("Discovered peer", "member", msg.ID, "source", addrString(msg.Source))
	return true
}

// HandleLeave removes the sender of a LEAVE from the group and drops its pending request.
// While WANTED the departure may complete the outstanding request.
// It reports whether the member was known.
func (m *Machine) HandleLeave(msg protocol.Message) bool {
	removed := m.group.Remove(msg.ID)
	m.responses.Forget(msg.ID)
	if m.deferred.Remove(msg.ID) {
		m.metrics.SetDeferredQueueSize(m.deferred.Len())
	}
	if removed {
		m.metrics.SetGroupSize(m.group.Size())
		m.logger.Infow("Peer left", "member", msg.ID)
	}
	if m.state == types.StateWanted {
		m.completeIfAnswered()
	}
	return removed
}

// Acknowledge answers a message whose status is not understood. ACKs are never answered.
func (m *Machine) Acknowledge(role transport.Role, msg protocol.Message) error {
	if msg.Status == protocol.StatusAck {
		return nil
	}
	return m.send(role, msg.Source, protocol.Message{
		ID:        m.cfg.ID,
		Timestamp: m.now(),
		Status:    protocol.StatusAck,
	})
}

// Retry rebroadcasts the outstanding request with its original timestamp and reports
// whether it did. Once MaxAcquireRetries rebroadcasts have gone unanswered the request
// is abandoned: the machine releases and ErrAcquireTimeout is returned.
func (m *Machine) Retry() (bool, error) {
	if m.state != types.StateWanted {
		return false, nil
	}

	if m.cfg.MaxAcquireRetries >= 0 && m.retries >= m.cfg.MaxAcquireRetries {
		m.metrics.ObserveAcquireTimeout()
		m.logger.Warnw("Abandoning request",
			"timestamp", m.timestamp,
			"retries", m.retries,
			"responses", m.responses.Len(),
			"members", m.group.Size())
		retries := m.retries
		err := m.Release()
		return false, errors.Join(fmt.Errorf("%w after %d rebroadcasts", ErrAcquireTimeout, retries), err)
	}

	m.retries++
	m.metrics.ObserveAcquireRetry()
	m.logger.Infow("Rebroadcasting request",
		"timestamp", m.timestamp,
		"attempt", m.retries,
		"responses", m.responses.Len(),
		"members", m.group.Size())
	return true, m.broadcast(transport.RoleLock, protocol.StatusWanted, m.timestamp)
}

// Exit releases the resource, announces LEAVE and closes the channels.
// It does nothing while DISCONNECTED.
func (m *Machine) Exit() error {
	if m.state == types.StateDisconnected {
		return nil
	}

	var errs []error
	if err := m.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := m.broadcast(transport.RoleJoin, protocol.StatusLeave, m.now()); err != nil {
		errs = append(errs, err)
	}
	if err := m.network.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channels: %w", err))
	}

	m.setState(types.StateDisconnected)
	m.group.Clear()
	m.metrics.SetGroupSize(0)
	m.logger.Infow("Left group")
	return errors.Join(errs...)
}

func (m *Machine) completeIfAnswered() bool {
	if !m.responses.Complete(m.group) {
		return false
	}
	m.grant(true)
	return true
}

func (m *Machine) grant(contested bool) {
	m.setState(types.StateHeld)
	m.responses.Reset()
	m.timestamp = types.NoTimestamp
	m.retries = 0
	m.heldAt = m.clock.Now()

	latency := m.clock.Since(m.requestedAt)
	m.metrics.ObserveAcquireLatency(latency, contested)
	m.logger.Infow("Resource held", "contested", contested, "latency", latency)
}

func (m *Machine) setState(to types.ResourceState) {
	from := m.state
	if from == to {
		return
	}
	if !from.CanTransitionTo(to) {
		m.logger.Warnw("Unexpected state transition", "from", from.String(), "to", to.String())
	}
	m.state = to
	m.metrics.ObserveStateChange(from, to)
	m.logger.Debugw("State changed", "from", from.String(), "to", to.String())
}

func (m *Machine) broadcast(role transport.Role, status protocol.Status, timestamp float64) error {
	msg := protocol.Message{ID: m.cfg.ID, Timestamp: timestamp, Status: status}
	err := m.network.Broadcast(role, protocol.Encode(msg))
	m.metrics.ObserveMessageSent(status, err == nil)
	if err != nil {
		m.logger.Warnw("Broadcast failed", "channel", role.String(), "message", msg.String(), "error", err)
		return fmt.Errorf("%w: broadcast %s on %s channel: %w", ErrSendFailure, status, role, err)
	}
	return nil
}

func (m *Machine) send(role transport.Role, to net.Addr, msg protocol.Message) error {
	err := m.network.SendTo(role, to, protocol.Encode(msg))
	m.metrics.ObserveMessageSent(msg.Status, err == nil)
	if err != nil {
		m.logger.Warnw("Send failed", "to", addrString(to), "message", msg.String(), "error", err)
		return fmt.Errorf("%w: send %s to %s: %w", ErrSendFailure, msg.Status, addrString(to), err)
	}
	return nil
}

func (m *Machine) now() float64 {
	return Seconds(m.clock.Now())
}

func addrString(a net.Addr) string {
	if a == nil {
		return "<nil>"
	}
	return a.String()
}
