package transport

import (
	"context"
	"testing"
	"time"

	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/testutil"
)

func openEndpoint(t *testing.T, h *Hub, name string) *HubEndpoint {
	t.Helper()
	e := h.Endpoint(name)
	testutil.RequireNoError(t, e.Open(context.Background()))
	return e
}

func receive(t *testing.T, e *HubEndpoint) Datagram {
	t.Helper()
	select {
	case d := <-e.Inbound():
		return d
	case <-time.After(time.Second):
		t.Fatalf("no datagram received on %s", e.Name())
		return Datagram{}
	}
}

func assertNothing(t *testing.T, e *HubEndpoint) {
	t.Helper()
	select {
	case d := <-e.Inbound():
		t.Fatalf("unexpected datagram on %s: %q from %v", e.Name(), d.Payload, d.Source)
	default:
	}
}

func TestHub_BroadcastReachesEveryListenerIncludingSelf(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")
	b := openEndpoint(t, h, "b")

	testutil.RequireNoError(t, a.Broadcast(RoleLock, []byte("a 1 WANTED")))

	for _, e := range []*HubEndpoint{a, b} {
		d := receive(t, e)
		testutil.AssertEqual(t, RoleListener, d.Role)
		testutil.AssertEqual(t, "a 1 WANTED", string(d.Payload))
		testutil.AssertEqual(t, HubAddr{Endpoint: "a", Role: RoleLock}, d.Source)
	}
}

func TestHub_SendToTargetsRole(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")
	b := openEndpoint(t, h, "b")

	testutil.RequireNoError(t, b.SendTo(RoleListener, HubAddr{Endpoint: "a", Role: RoleLock}, []byte("b 2 RELEASED")))

	d := receive(t, a)
	testutil.AssertEqual(t, RoleLock, d.Role)
	testutil.AssertEqual(t, HubAddr{Endpoint: "b", Role: RoleListener}, d.Source)
	assertNothing(t, b)
}

func TestHub_ClosedEndpoints(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")
	b := openEndpoint(t, h, "b")
	testutil.RequireNoError(t, b.Close())

	testutil.RequireNoError(t, a.Broadcast(RoleJoin, []byte("a 1 JOIN")))
	receive(t, a)
	assertNothing(t, b)

	testutil.AssertErrorIs(t, b.Broadcast(RoleJoin, []byte("b 1 JOIN")), ErrNotOpen)
	testutil.AssertEqual(t, nil, b.LocalAddr(RoleLock))

	testutil.RequireNoError(t, b.Open(context.Background()))
	testutil.AssertEqual(t, HubAddr{Endpoint: "b", Role: RoleLock}, b.LocalAddr(RoleLock))
}

func TestHub_Errors(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")

	testutil.AssertErrorIs(t, a.Broadcast(Role(7), []byte("x")), ErrUnknownRole)
	testutil.AssertErrorIs(t, a.Broadcast(RoleLock, make([]byte, protocol.MaxDatagramSize+1)), ErrDatagramTooLarge)
	testutil.AssertErrorIs(t, a.SendTo(RoleLock, nil, []byte("x")), ErrAddressType)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	testutil.AssertError(t, h.Endpoint("late").Open(ctx))
}

func TestHub_DropFunc(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")
	b := openEndpoint(t, h, "b")

	h.SetDropFunc(func(d Delivery) bool { return d.To.Endpoint == "b" })
	testutil.RequireNoError(t, a.Broadcast(RoleLock, []byte("a 1 WANTED")))
	receive(t, a)
	assertNothing(t, b)

	h.SetDropFunc(nil)
	testutil.RequireNoError(t, a.Broadcast(RoleLock, []byte("a 1 WANTED")))
	receive(t, b)
}

func TestHub_FullQueueDrops(t *testing.T) {
	h := NewHub(1)
	a := openEndpoint(t, h, "a")

	testutil.RequireNoError(t, a.Broadcast(RoleLock, []byte("first")))
	testutil.RequireNoError(t, a.Broadcast(RoleLock, []byte("second")))

	testutil.AssertEqual(t, "first", string(receive(t, a).Payload))
	assertNothing(t, a)
}

func TestHub_RenewDropsRepliesToOldChannel(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")
	b := openEndpoint(t, h, "b")

	old := a.LocalAddr(RoleLock)
	epoch, err := a.Renew(RoleLock)
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, uint64(1), epoch)
	testutil.AssertEqual(t, HubAddr{Endpoint: "a", Role: RoleLock, Epoch: 1}, a.LocalAddr(RoleLock))
	testutil.AssertEqual(t, "a/lock#1", a.LocalAddr(RoleLock).String())

	testutil.RequireNoError(t, b.SendTo(RoleListener, old, []byte("b 2 RELEASED")))
	assertNothing(t, a)

	testutil.RequireNoError(t, b.SendTo(RoleListener, a.LocalAddr(RoleLock), []byte("b 3 RELEASED")))
	d := receive(t, a)
	testutil.AssertEqual(t, RoleLock, d.Role)
	testutil.AssertEqual(t, uint64(1), d.Epoch)
	testutil.AssertEqual(t, "b 3 RELEASED", string(d.Payload))

	testutil.RequireNoError(t, a.Broadcast(RoleLock, []byte("a 4 WANTED")))
	testutil.AssertEqual(t, a.LocalAddr(RoleLock), receive(t, b).Source, "broadcasts carry the current generation")
}

func TestHub_RenewErrors(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")

	_, err := a.Renew(RoleListener)
	testutil.AssertErrorIs(t, err, ErrNotRenewable)
	_, err = a.Renew(Role(9))
	testutil.AssertErrorIs(t, err, ErrUnknownRole)
	testutil.AssertErrorIs(t, a.SendTo(RoleLock, HubAddr{Endpoint: "a", Role: Role(9)}, []byte("x")), ErrUnknownRole)

	testutil.RequireNoError(t, a.Close())
	_, err = a.Renew(RoleLock)
	testutil.AssertErrorIs(t, err, ErrNotOpen)
}

func TestHub_DelayFunc(t *testing.T) {
	h := NewHub(0)
	a := openEndpoint(t, h, "a")
	b := openEndpoint(t, h, "b")

	h.SetDelayFunc(func(d Delivery) time.Duration {
		if d.To.Role == RoleLock {
			return 30 * time.Millisecond
		}
		return 0
	})

	testutil.RequireNoError(t, b.SendTo(RoleListener, a.LocalAddr(RoleLock), []byte("b 1 RELEASED")))
	assertNothing(t, a)
	testutil.AssertEqual(t, "b 1 RELEASED", string(receive(t, a).Payload), "delayed datagrams still arrive")

	testutil.RequireNoError(t, b.SendTo(RoleListener, a.LocalAddr(RoleLock), []byte("b 2 RELEASED")))
	_, err := a.Renew(RoleLock)
	testutil.RequireNoError(t, err)
	testutil.AssertNever(t, func() bool { return len(a.Inbound()) > 0 }, 100*time.Millisecond, 5*time.Millisecond,
		"a datagram delayed past a renewal is lost")

	h.SetDelayFunc(nil)
	testutil.RequireNoError(t, b.Broadcast(RoleJoin, []byte("b 3 JOIN")))
	receive(t, a)
}
