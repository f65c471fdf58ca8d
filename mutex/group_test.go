package mutex

import (
	"slices"
	"testing"

	"github.com/jathurchan/mcastlock/testutil"
	"github.com/jathurchan/mcastlock/types"
)

func TestGroup_AddRemove(t *testing.T) {
	g := NewGroup("local")

	testutil.AssertTrue(t, g.Add("b"), "first add of b")
	testutil.AssertFalse(t, g.Add("b"), "second add of b")
	testutil.AssertFalse(t, g.Add("local"), "local id must never be added")
	testutil.AssertTrue(t, g.Add("a"))

	testutil.AssertEqual(t, 2, g.Size())
	testutil.AssertTrue(t, g.Contains("a"))
	testutil.AssertFalse(t, g.Contains("local"))

	testutil.AssertTrue(t, g.Remove("a"))
	testutil.AssertFalse(t, g.Remove("a"), "removing an absent id")
	testutil.AssertEqual(t, 1, g.Size())

	g.Clear()
	testutil.AssertEqual(t, 0, g.Size())
}

func TestGroup_MembersSortedAndRestartable(t *testing.T) {
	g := NewGroup("local")
	for _, id := range []types.PeerID{"c", "a", "b"} {
		g.Add(id)
	}

	seq := g.Members()
	first := slices.Collect(seq)
	second := slices.Collect(seq)

	testutil.AssertEqual(t, []types.PeerID{"a", "b", "c"}, first)
	testutil.AssertEqual(t, first, second)

	g.Add("d")
	testutil.AssertLen(t, slices.Collect(seq), 4, "a new pass sees the new member")
}

func TestGroup_MembersEarlyStop(t *testing.T) {
	g := NewGroup("local")
	g.Add("a")
	g.Add("b")

	var seen []types.PeerID
	for id := range g.Members() {
		seen = append(seen, id)
		break
	}
	testutil.AssertEqual(t, []types.PeerID{"a"}, seen)
}
