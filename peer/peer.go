// Package peer runs a mutual-exclusion peer: a single loop that owns the state
// machine and multiplexes the transport channels, a command source and the
// request retry timer.
package peer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/transport"
	"github.com/jathurchan/mcastlock/types"
)

// Peer is one member of a multicast group. Build it with a Builder.
type Peer struct {
	id       types.PeerID
	machine  *mutex.Machine
	network  transport.Network
	commands <-chan Command
	sink     StatusSink
	clock    mutex.Clock
	logger   logger.Logger
	metrics  mutex.Metrics

	retryInterval time.Duration
	retryTimer    mutex.Timer
	retryFor      float64

	last      mutex.Snapshot
	published bool
	exiting   bool

	running atomic.Bool
	done    chan struct{}
}

// ID returns the local peer id.
func (p *Peer) ID() types.PeerID { return p.id }

// Done is closed when Run returns.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Submitter returns a Submitter that feeds commands into this peer through commands,
// which must be the channel the peer was built with.
func (p *Peer) Submitter(commands chan<- Command) Submitter {
	return Submitter{Commands: commands, Done: p.done}
}

// Run drives the peer until an EXIT command completes, the command source is
// closed, or ctx is cancelled. Every path out performs the exit sequence.
// The returned error is that of the exit sequence.
func (p *Peer) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(p.done)
	defer p.stopRetryTimer()

	p.logger.Infow("Peer loop started")
	p.publish()

	commands := p.commands
	inbound := p.network.Inbound()
	var exitErr error

	for !p.exiting {
		select {
		case <-ctx.Done():
			p.logger.Infow("Context cancelled, exiting", "reason", context.Cause(ctx))
			exitErr = p.exit()

		case d := <-inbound:
			p.handleDatagram(d)

		case cmd, ok := <-commands:
			if !ok {
				p.logger.Infow("Command source closed, exiting")
				commands = nil
				exitErr = p.exit()
				break
			}
			if err := p.dispatch(ctx, cmd); err != nil && p.exiting {
				exitErr = err
			}

		case <-p.retryChan():
			p.handleRetry()
		}

		p.syncRetryTimer()
		p.publish()
	}

	p.logger.Infow("Peer loop stopped")
	return exitErr
}

// dispatch runs one command and returns its error. The status is published
// before the result is replied, so sinks never lag behind a returned result.
func (p *Peer) dispatch(ctx context.Context, cmd Command) error {
	kind, err := ParseCommand(cmd.Name)
	if err != nil {
		p.logger.Warnw("Ignoring unknown command", "command", cmd.Name)
		p.reply(cmd, err)
		return nil
	}

	p.logger.Debugw("Command received", "command", kind.String(), "state", p.machine.State().String())

	switch kind {
	case CommandJoin:
		err = p.machine.Join(ctx)
	case CommandAcquire:
		err = p.machine.Acquire()
	case CommandRelease:
		err = p.machine.Release()
	case CommandExit:
		err = p.exit()
	}
	if err != nil {
		p.logger.Warnw("Command failed", "command", kind.String(), "error", err)
	}
	p.publish()
	p.reply(cmd, err)
	return err
}

func (p *Peer) reply(cmd Command, err error) {
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- Result{Snapshot: p.machine.Snapshot(), Err: err}:
	default:
		p.logger.Warnw("Dropping command result, reply channel full", "command", cmd.Name)
	}
}

// exit runs the exit sequence and marks the loop for termination.
func (p *Peer) exit() error {
	err := p.machine.Exit()
	p.exiting = true
	return err
}

func (p *Peer) handleDatagram(d transport.Datagram) {
	msg, err := protocol.Decode(d.Payload, d.Source)
	if err != nil {
		p.metrics.ObserveMessageDropped("malformed")
		p.logger.Debugw("Dropping malformed datagram", "channel", d.Role.String(), "source", d.Source, "error", err)
		return
	}
	if msg.ID == p.id {
		p.metrics.ObserveMessageDropped("loopback")
		return
	}
	if !p.subscribed(d.Role) {
		p.metrics.ObserveMessageDropped("unsubscribed")
		p.logger.Debugw("Dropping datagram on inactive channel", "channel", d.Role.String(), "message", msg.String())
		return
	}

	p.metrics.ObserveMessageReceived(d.Role.String(), msg.Status)
	p.logger.Debugw("Datagram received", "channel", d.Role.String(), "message", msg.String(), "source", d.Source)

	if !msg.Status.Known() {
		p.logIfFailed("acknowledge", p.machine.Acknowledge(d.Role, msg))
		return
	}

	switch {
	// Anything on the lock channel answers our request, WANTED included.
	case d.Role == transport.RoleLock:
		p.machine.HandleReply(msg, d.Epoch)
	case msg.Status == protocol.StatusWanted:
		p.logIfFailed("reply to request", p.machine.HandleRequest(msg))
	case d.Role == transport.RoleListener && msg.Status == protocol.StatusJoin:
		_, err := p.machine.HandleJoin(msg)
		p.logIfFailed("welcome", err)
	case msg.Status == protocol.StatusLeave:
		p.machine.HandleLeave(msg)
	case d.Role == transport.RoleJoin && msg.Status == protocol.StatusAck:
		p.machine.HandleWelcome(msg)
	}
}

// subscribed reports whether datagrams on role are dispatched in the current state.
// The lock channel only matters while a request is outstanding.
func (p *Peer) subscribed(role transport.Role) bool {
	switch p.machine.State() {
	case types.StateDisconnected:
		return false
	case types.StateWanted:
		return true
	default:
		return role != transport.RoleLock
	}
}

func (p *Peer) handleRetry() {
	p.retryTimer = nil
	if _, err := p.machine.Retry(); err != nil {
		if errors.Is(err, mutex.ErrAcquireTimeout) {
			p.logger.Warnw("Acquire abandoned", "error", err)
			return
		}
		p.logger.Warnw("Retry failed", "error", err)
	}
}

func (p *Peer) retryChan() <-chan time.Time {
	if p.retryTimer == nil {
		return nil
	}
	return p.retryTimer.Chan()
}

// syncRetryTimer arms the retry timer while a request is outstanding and
// disarms it otherwise. A new request restarts the timer.
func (p *Peer) syncRetryTimer() {
	if !p.machine.AwaitingReplies() {
		p.stopRetryTimer()
		return
	}
	ts := p.machine.Timestamp()
	if p.retryTimer != nil && ts == p.retryFor {
		return
	}
	p.stopRetryTimer()
	p.retryTimer = p.clock.NewTimer(p.retryInterval)
	p.retryFor = ts
}

func (p *Peer) stopRetryTimer() {
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
}

// publish pushes the status to the sink if it changed since the last push.
func (p *Peer) publish() {
	snap := p.machine.Snapshot()
	if p.published && snap.Equal(p.last) {
		return
	}
	p.last = snap
	p.published = true
	p.sink.Publish(snap)
}

func (p *Peer) logIfFailed(action string, err error) {
	if err != nil {
		p.logger.Warnw("Failed to "+action, "error", err)
	}
}
