package mutex

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jathurchan/mcastlock/types"
)

// Snapshot is the observable status of a peer.
type Snapshot struct {
	ID       types.PeerID
	State    types.ResourceState
	Members  []types.PeerID
	Deferred []types.PeerID
}

// Equal reports whether two snapshots describe the same status.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.ID == o.ID &&
		s.State == o.State &&
		slices.Equal(s.Members, o.Members) &&
		slices.Equal(s.Deferred, o.Deferred)
}

// String renders the snapshot as a single human-readable line.
func (s Snapshot) String() string {
	return fmt.Sprintf("peer=%s state=%s members=[%s] deferred=[%s]",
		s.ID, s.State, joinIDs(s.Members), joinIDs(s.Deferred))
}

func joinIDs(ids []types.PeerID) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(string(id))
	}
	return b.String()
}
