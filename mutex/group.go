package mutex

import (
	"iter"
	"maps"
	"slices"

	"github.com/jathurchan/mcastlock/types"
)

// Group tracks the ids of the other peers in the multicast group.
// It never contains the local id.
type Group struct {
	local   types.PeerID
	members map[types.PeerID]struct{}
}

// NewGroup returns an empty group for the peer identified by local.
func NewGroup(local types.PeerID) *Group {
	return &Group{
		local:   local,
		members: make(map[types.PeerID]struct{}),
	}
}

// Add inserts id and reports whether it was newly added.
// The local id and ids already present are ignored.
func (g *Group) Add(id types.PeerID) bool {
	if id == g.local {
		return false
	}
	if _, ok := g.members[id]; ok {
		return false
	}
	g.members[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (g *Group) Remove(id types.PeerID) bool {
	if _, ok := g.members[id]; !ok {
		return false
	}
	delete(g.members, id)
	return true
}

// Contains reports whether id is a known member.
func (g *Group) Contains(id types.PeerID) bool {
	_, ok := g.members[id]
	return ok
}

// Size returns the number of known members.
func (g *Group) Size() int {
	return len(g.members)
}

// Members yields the member ids in sorted order. The sequence can be ranged over
// more than once; each pass reflects the membership at the time it starts.
func (g *Group) Members() iter.Seq[types.PeerID] {
	return func(yield func(types.PeerID) bool) {
		for _, id := range slices.Sorted(maps.Keys(g.members)) {
			if !yield(id) {
				return
			}
		}
	}
}

// Clear forgets every member.
func (g *Group) Clear() {
	clear(g.members)
}
