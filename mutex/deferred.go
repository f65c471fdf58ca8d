package mutex

import (
	"net"

	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/types"
)

// Outbound is a message addressed to a single peer.
type Outbound struct {
	To      net.Addr
	Message protocol.Message
}

// DeferredQueue holds requests that will be answered on release.
// It keeps at most one request per requester, in arrival order of first enqueue.
type DeferredQueue struct {
	entries []protocol.Message
}

// NewDeferredQueue returns an empty queue.
func NewDeferredQueue() *DeferredQueue {
	return &DeferredQueue{}
}

// Enqueue adds msg, replacing any pending request from the same requester.
// It reports whether an existing entry was replaced.
func (q *DeferredQueue) Enqueue(msg protocol.Message) bool {
	for i, e := range q.entries {
		if e.ID == msg.ID {
			q.entries[i] = msg
			return true
		}
	}
	q.entries = append(q.entries, msg)
	return false
}

// Remove drops the pending request from id, if any.
func (q *DeferredQueue) Remove(id types.PeerID) bool {
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Drain empties the queue and returns one reply per queued request,
// each carrying (localID, timestamp, state) and addressed to the request's source.
func (q *DeferredQueue) Drain(localID types.PeerID, timestamp float64, state types.ResourceState) []Outbound {
	if len(q.entries) == 0 {
		return nil
	}
	out := make([]Outbound, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, Outbound{
			To: e.Source,
			Message: protocol.Message{
				ID:        localID,
				Timestamp: timestamp,
				Status:    protocol.StatusOf(state),
			},
		})
	}
	q.entries = nil
	return out
}

// IDs returns the requester ids in queue order.
func (q *DeferredQueue) IDs() []types.PeerID {
	ids := make([]types.PeerID, 0, len(q.entries))
	for _, e := range q.entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Len returns the number of pending requests.
func (q *DeferredQueue) Len() int {
	return len(q.entries)
}
