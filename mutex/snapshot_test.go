package mutex

import (
	"testing"

	"github.com/jathurchan/mcastlock/testutil"
	"github.com/jathurchan/mcastlock/types"
)

func TestSnapshot_String(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want string
	}{
		{
			name: "disconnected",
			snap: Snapshot{ID: "a", State: types.StateDisconnected},
			want: "peer=a state=DISCONNECTED members=[] deferred=[]",
		},
		{
			name: "held with deferred",
			snap: Snapshot{
				ID:       "a",
				State:    types.StateHeld,
				Members:  []types.PeerID{"b", "c"},
				Deferred: []types.PeerID{"b"},
			},
			want: "peer=a state=HELD members=[b c] deferred=[b]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, tt.want, tt.snap.String())
		})
	}
}

func TestSnapshot_Equal(t *testing.T) {
	base := Snapshot{ID: "a", State: types.StateReleased, Members: []types.PeerID{"b"}}

	testutil.AssertTrue(t, base.Equal(Snapshot{ID: "a", State: types.StateReleased, Members: []types.PeerID{"b"}, Deferred: []types.PeerID{}}))
	testutil.AssertFalse(t, base.Equal(Snapshot{ID: "a", State: types.StateWanted, Members: []types.PeerID{"b"}}))
	testutil.AssertFalse(t, base.Equal(Snapshot{ID: "a", State: types.StateReleased}))
	testutil.AssertFalse(t, base.Equal(Snapshot{ID: "a", State: types.StateReleased, Members: []types.PeerID{"b"}, Deferred: []types.PeerID{"b"}}))
}
