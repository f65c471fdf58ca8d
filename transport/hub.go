package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jathurchan/mcastlock/protocol"
)

// HubAddr addresses one generation of one channel of one endpoint on a Hub.
type HubAddr struct {
	Endpoint string
	Role     Role
	Epoch    uint64
}

// Network implements net.Addr.
func (a HubAddr) Network() string { return "hub" }

// String implements net.Addr.
func (a HubAddr) String() string {
	if a.Epoch == 0 {
		return a.Endpoint + "/" + a.Role.String()
	}
	return a.Endpoint + "/" + a.Role.String() + "#" + strconv.FormatUint(a.Epoch, 10)
}

// Delivery describes one datagram in flight on a Hub, for drop and delay filters.
type Delivery struct {
	From    HubAddr
	To      HubAddr
	Payload []byte
}

// Hub is an in-memory multicast medium. Broadcasts reach the listener channel of
// every open endpoint, including the sender's own, like multicast with loopback.
// Unicasts reach the addressed channel generation. Datagrams to closed endpoints,
// renewed channels or full queues are dropped.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*HubEndpoint
	drop      func(Delivery) bool
	delay     func(Delivery) time.Duration
	queueSize int
}

// NewHub returns an empty hub. queueSize bounds each endpoint's inbound queue;
// non-positive values use DefaultInboundQueueSize.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultInboundQueueSize
	}
	return &Hub{
		endpoints: make(map[string]*HubEndpoint),
		queueSize: queueSize,
	}
}

// SetDropFunc installs a filter; deliveries for which drop returns true are discarded.
// Passing nil removes the filter.
func (h *Hub) SetDropFunc(drop func(Delivery) bool) {
	h.mu.Lock()
	h.drop = drop
	h.mu.Unlock()
}

// SetDelayFunc installs a latency model; each delivery is held back for the
// duration delay returns. The target is checked again when the delay expires, so a
// delayed reply to a channel renewed in the meantime is lost. Passing nil removes it.
func (h *Hub) SetDelayFunc(delay func(Delivery) time.Duration) {
	h.mu.Lock()
	h.delay = delay
	h.mu.Unlock()
}

// Endpoint returns the endpoint registered under name, creating it if needed.
func (h *Hub) Endpoint(name string) *HubEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.endpoints[name]; ok {
		return e
	}
	e := &HubEndpoint{
		name:    name,
		hub:     h,
		inbound: make(chan Datagram, h.queueSize),
	}
	h.endpoints[name] = e
	return e
}

func (h *Hub) deliver(d Delivery) {
	h.mu.RLock()
	target, ok := h.endpoints[d.To.Endpoint]
	drop, delay := h.drop, h.delay
	h.mu.RUnlock()

	if !ok || !target.open.Load() {
		return
	}
	if drop != nil && drop(d) {
		return
	}

	payload := make([]byte, len(d.Payload))
	copy(payload, d.Payload)
	d.Payload = payload

	if delay != nil {
		if wait := delay(d); wait > 0 {
			time.AfterFunc(wait, func() { target.push(d) })
			return
		}
	}
	target.push(d)
}

func (h *Hub) names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.endpoints))
	for name := range h.endpoints {
		names = append(names, name)
	}
	return names
}

// HubEndpoint is one peer's Network on a Hub.
type HubEndpoint struct {
	name    string
	hub     *Hub
	inbound chan Datagram
	open    atomic.Bool
	epochs  [3]atomic.Uint64 // indexed by Role
}

// push queues d unless the endpoint closed or the addressed channel was renewed.
func (e *HubEndpoint) push(d Delivery) {
	if !e.open.Load() {
		return
	}
	epoch := e.epochs[d.To.Role].Load()
	if d.To.Epoch != epoch {
		return
	}
	select {
	case e.inbound <- Datagram{Role: d.To.Role, Epoch: epoch, Payload: d.Payload, Source: d.From}:
	default:
	}
}

// Name returns the endpoint's registration name.
func (e *HubEndpoint) Name() string { return e.name }

// Open implements Network.
func (e *HubEndpoint) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.open.Store(true)
	return nil
}

// Inbound implements Network.
func (e *HubEndpoint) Inbound() <-chan Datagram { return e.inbound }

// Broadcast implements Network.
func (e *HubEndpoint) Broadcast(role Role, payload []byte) error {
	if err := e.checkSend(role, payload); err != nil {
		return err
	}
	from := e.addr(role)
	for _, name := range e.hub.names() {
		e.hub.deliver(Delivery{From: from, To: HubAddr{Endpoint: name, Role: RoleListener}, Payload: payload})
	}
	return nil
}

// SendTo implements Network.
func (e *HubEndpoint) SendTo(role Role, addr net.Addr, payload []byte) error {
	if err := e.checkSend(role, payload); err != nil {
		return err
	}
	var to HubAddr
	switch a := addr.(type) {
	case HubAddr:
		to = a
	case *HubAddr:
		to = *a
	default:
		return fmt.Errorf("%w: %T", ErrAddressType, addr)
	}
	if !to.Role.IsValid() {
		return fmt.Errorf("%w: %d", ErrUnknownRole, to.Role)
	}
	e.hub.deliver(Delivery{From: e.addr(role), To: to, Payload: payload})
	return nil
}

func (e *HubEndpoint) checkSend(role Role, payload []byte) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: %d", ErrUnknownRole, role)
	}
	if len(payload) > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(payload))
	}
	if !e.open.Load() {
		return ErrNotOpen
	}
	return nil
}

// LocalAddr implements Network.
func (e *HubEndpoint) LocalAddr(role Role) net.Addr {
	if !e.open.Load() || !role.IsValid() {
		return nil
	}
	return e.addr(role)
}

func (e *HubEndpoint) addr(role Role) HubAddr {
	return HubAddr{Endpoint: e.name, Role: role, Epoch: e.epochs[role].Load()}
}

// Renew implements Network. The new generation takes the channel's place at once;
// anything still addressed to the previous one is dropped on arrival.
func (e *HubEndpoint) Renew(role Role) (uint64, error) {
	if !role.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRole, role)
	}
	if role == RoleListener {
		return 0, fmt.Errorf("%w: %s", ErrNotRenewable, role)
	}
	if !e.open.Load() {
		return 0, ErrNotOpen
	}
	return e.epochs[role].Add(1), nil
}

// Close implements Network.
func (e *HubEndpoint) Close() error {
	e.open.Store(false)
	return nil
}
