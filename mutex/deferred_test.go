package mutex

import (
	"testing"

	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/testutil"
	"github.com/jathurchan/mcastlock/transport"
	"github.com/jathurchan/mcastlock/types"
)

func request(id string, ts float64) protocol.Message {
	return protocol.Message{
		ID:        types.PeerID(id),
		Timestamp: ts,
		Status:    protocol.StatusWanted,
		Source:    transport.HubAddr{Endpoint: id, Role: transport.RoleLock},
	}
}

func TestDeferredQueue_EnqueueDedupKeepsLatest(t *testing.T) {
	q := NewDeferredQueue()

	testutil.AssertFalse(t, q.Enqueue(request("b", 101)))
	testutil.AssertFalse(t, q.Enqueue(request("c", 102)))
	renewed := request("b", 110)
	renewed.Source = transport.HubAddr{Endpoint: "b", Role: transport.RoleLock, Epoch: 1}
	testutil.AssertTrue(t, q.Enqueue(renewed), "second request from b replaces the first")

	testutil.AssertEqual(t, 2, q.Len())
	testutil.AssertEqual(t, []types.PeerID{"b", "c"}, q.IDs())

	out := q.Drain("a", 100, types.StateReleased)
	testutil.AssertEqual(t, renewed.Source, out[0].To, "the reply goes to the latest request's channel")
}

func TestDeferredQueue_Drain(t *testing.T) {
	q := NewDeferredQueue()
	q.Enqueue(request("b", 101))
	q.Enqueue(request("c", 102))

	out := q.Drain("a", 100, types.StateReleased)

	testutil.AssertLen(t, out, 2)
	testutil.AssertEqual(t, 0, q.Len(), "drain empties the queue")
	for i, id := range []string{"b", "c"} {
		testutil.AssertEqual(t, transport.HubAddr{Endpoint: id, Role: transport.RoleLock}, out[i].To)
		testutil.AssertEqual(t, protocol.Message{ID: "a", Timestamp: 100, Status: protocol.StatusReleased}, out[i].Message)
	}

	testutil.AssertLen(t, q.Drain("a", 100, types.StateReleased), 0, "draining an empty queue")
}

func TestDeferredQueue_Remove(t *testing.T) {
	q := NewDeferredQueue()
	q.Enqueue(request("b", 101))
	q.Enqueue(request("c", 102))
	q.Enqueue(request("d", 103))

	testutil.AssertTrue(t, q.Remove("c"))
	testutil.AssertFalse(t, q.Remove("c"))
	testutil.AssertEqual(t, []types.PeerID{"b", "d"}, q.IDs())
}
