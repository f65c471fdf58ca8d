package mutex

import (
	"github.com/jathurchan/mcastlock/types"
)

// ResponseSet collects the peers that answered the outstanding request.
//
// By default the peers a request waits for are the current group members, evaluated
// each time completion is checked. After Freeze they are the members at the moment
// the request was broadcast.
type ResponseSet struct {
	received map[types.PeerID]struct{}
	expected map[types.PeerID]struct{}
	frozen   bool
}

// NewResponseSet returns an empty, unfrozen set.
func NewResponseSet() *ResponseSet {
	return &ResponseSet{received: make(map[types.PeerID]struct{})}
}

// Reset empties the set and unfreezes it.
func (r *ResponseSet) Reset() {
	clear(r.received)
	r.expected = nil
	r.frozen = false
}

// Freeze fixes the expected responders to the current members of g.
func (r *ResponseSet) Freeze(g *Group) {
	r.expected = make(map[types.PeerID]struct{}, g.Size())
	for id := range g.Members() {
		r.expected[id] = struct{}{}
	}
	r.frozen = true
}

// Expects reports whether a reply from id counts towards completion.
func (r *ResponseSet) Expects(id types.PeerID, g *Group) bool {
	if r.frozen {
		_, ok := r.expected[id]
		return ok
	}
	return g.Contains(id)
}

// Add records a reply from id and reports whether it was the first from that peer.
func (r *ResponseSet) Add(id types.PeerID) bool {
	if _, ok := r.received[id]; ok {
		return false
	}
	r.received[id] = struct{}{}
	return true
}

// Forget removes id from the received and expected sets, for peers that left.
func (r *ResponseSet) Forget(id types.PeerID) {
	delete(r.received, id)
	if r.frozen {
		delete(r.expected, id)
	}
}

// Has reports whether id has answered.
func (r *ResponseSet) Has(id types.PeerID) bool {
	_, ok := r.received[id]
	return ok
}

// Len returns the number of distinct peers that answered.
func (r *ResponseSet) Len() int {
	return len(r.received)
}

// Complete reports whether every expected responder has answered.
func (r *ResponseSet) Complete(g *Group) bool {
	if r.frozen {
		for id := range r.expected {
			if !r.Has(id) {
				return false
			}
		}
		return true
	}
	for id := range g.Members() {
		if !r.Has(id) {
			return false
		}
	}
	return true
}
