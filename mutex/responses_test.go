package mutex

import (
	"testing"

	"github.com/jathurchan/mcastlock/testutil"
)

func TestResponseSet_DuplicatesCountOnce(t *testing.T) {
	r := NewResponseSet()
	testutil.AssertTrue(t, r.Add("b"))
	for range 5 {
		testutil.AssertFalse(t, r.Add("b"))
	}
	testutil.AssertEqual(t, 1, r.Len())
}

func TestResponseSet_LazyCompletion(t *testing.T) {
	g := NewGroup("a")
	g.Add("b")
	g.Add("c")
	r := NewResponseSet()

	testutil.AssertTrue(t, r.Expects("b", g))
	testutil.AssertFalse(t, r.Expects("z", g))

	r.Add("b")
	testutil.AssertFalse(t, r.Complete(g))

	g.Add("d")
	r.Add("c")
	testutil.AssertFalse(t, r.Complete(g), "a member that joined mid-request is waited for")

	g.Remove("d")
	testutil.AssertTrue(t, r.Complete(g))
}

func TestResponseSet_FrozenCompletion(t *testing.T) {
	g := NewGroup("a")
	g.Add("b")
	g.Add("c")
	r := NewResponseSet()
	r.Freeze(g)
	testutil.AssertTrue(t, r.frozen)

	g.Add("d")
	testutil.AssertFalse(t, r.Expects("d", g), "members joining after the freeze are not expected")

	r.Add("b")
	testutil.AssertFalse(t, r.Complete(g))

	r.Forget("c")
	testutil.AssertTrue(t, r.Complete(g), "a member leaving drops out of the frozen set")

	r.Reset()
	testutil.AssertFalse(t, r.frozen)
	testutil.AssertEqual(t, 0, r.Len())
}
