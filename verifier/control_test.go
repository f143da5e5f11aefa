package verifier

import (
	"errors"
	"testing"

	"github.com/chazu/bcverify/types"
)

func TestJoinRejectsDepthMismatch(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	f.Push(types.Int)
	must(t, f.AddTarget(5))
	must(t, f.Drop())

	wantKind(t, f.SetIP(5), StructuralError)
}

func TestJoinRejectsNullAgainstPrimitive(t *testing.T) {
	tt := newTestTypes(t)

	t.Run("null then long", func(t *testing.T) {
		f := staticFrame(tt)
		must(t, f.SetIP(0))
		f.Push(types.None)
		must(t, f.AddTarget(5))
		must(t, f.Drop())
		must(t, f.SetIP(2))
		f.Push(types.Long)
		wantKind(t, f.SetIP(5), TypeError)
	})

	t.Run("long then null", func(t *testing.T) {
		f := staticFrame(tt)
		must(t, f.SetIP(0))
		f.Push(types.Long)
		must(t, f.AddTarget(5))
		must(t, f.Drop())
		must(t, f.SetIP(2))
		f.Push(types.None)
		wantKind(t, f.SetIP(5), TypeError)
	})

	t.Run("null then reference", func(t *testing.T) {
		f := staticFrame(tt)
		must(t, f.SetIP(0))
		f.Push(types.None)
		must(t, f.AddTarget(5))
		must(t, f.Drop())
		must(t, f.SetIP(2))
		f.Push(tt.bar)
		must(t, f.SetIP(5))
		if top, _ := f.Peek(0); top.Type != tt.bar {
			t.Errorf("merged top = %s, want Bar", top)
		}
	})
}

func TestForwardTargetMustLieAhead(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	must(t, f.SetIP(4))
	wantKind(t, f.AddTarget(4), StructuralError)
	wantKind(t, f.AddTarget(1), StructuralError)
}

func TestOvershotTargetRejected(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	must(t, f.AddTarget(3))

	err := f.SetIP(4)
	wantKind(t, err, StructuralError)
	var verr *Error
	if errors.As(err, &verr) && verr.Address != 4 {
		t.Errorf("Address = %d, want 4", verr.Address)
	}
}

func TestFinish(t *testing.T) {
	tt := newTestTypes(t)

	t.Run("falls off the end", func(t *testing.T) {
		f := staticFrame(tt)
		must(t, f.SetIP(0))
		f.Push(types.Int)
		wantKind(t, f.Finish(1), StructuralError)
	})

	t.Run("unresolved target", func(t *testing.T) {
		f := staticFrame(tt)
		must(t, f.SetIP(0))
		must(t, f.AddTarget(9))
		f.StopFlow()
		wantKind(t, f.Finish(5), StructuralError)
	})

	t.Run("region ends at method end", func(t *testing.T) {
		f := NewFrame(&Signature{Declaring: tt.foo, Return: types.Void, Static: true},
			[]Handler{{Start: 0, End: 3, Entry: 2, Catch: tt.exception}})
		must(t, f.SetIP(0))
		must(t, f.SetIP(1))
		f.StopFlow()
		must(t, f.SetIP(2))
		must(t, f.PushHandlerException())
		f.StopFlow()
		must(t, f.Finish(3))
	})
}

func TestReenterRestoresSavedState(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt, tt.foo)
	must(t, f.SetIP(0))
	f.Push(tt.bar)
	must(t, f.Store(1))
	f.Push(types.Int)
	must(t, f.AddTarget(8))
	f.StopFlow()

	// Nothing is saved for 3: empty stack, declared slot types.
	must(t, f.SetIP(3))
	if f.Depth() != 0 {
		t.Errorf("Depth() at 3 = %d, want 0", f.Depth())
	}
	if got := f.Local(1); got.Type != tt.foo {
		t.Errorf("Local(1) at 3 = %s, want Foo", got)
	}
	f.StopFlow()

	must(t, f.SetIP(8))
	if f.Depth() != 1 {
		t.Fatalf("Depth() at 8 = %d, want 1", f.Depth())
	}
	if got := f.Local(1); got.Type != tt.bar {
		t.Errorf("Local(1) at 8 = %s, want Bar", got)
	}
}

func TestJoinWidensToCommonAncestor(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	f.Push(tt.bar)
	must(t, f.AddTarget(6))
	must(t, f.Drop())
	f.Push(tt.baz)

	must(t, f.SetIP(6))
	top, err := f.Peek(0)
	must(t, err)
	if top.Type != tt.foo {
		t.Errorf("top at 6 = %s, want Foo", top)
	}
}

func TestDistinctAllocationsAlias(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	f.PushUninitialized(tt.foo, false)
	must(t, f.SetIP(1))
	f.Push(types.Int)
	must(t, f.SetIP(2))
	_, err := f.Pop(types.Int)
	must(t, err)
	must(t, f.AddTarget(10))
	must(t, f.SetIP(5))
	must(t, f.Drop())
	must(t, f.SetIP(6))
	f.PushUninitialized(tt.foo, false)

	err = f.SetIP(10)
	wantKind(t, err, AliasingError)
	var verr *Error
	if !errors.As(err, &verr) || len(verr.Origins) != 2 || verr.Origins[0] != 0 || verr.Origins[1] != 6 {
		t.Errorf("error = %+v, want origins [0 6]", verr)
	}
}

func TestBackwardBranch(t *testing.T) {
	tt := newTestTypes(t)

	t.Run("unmarked target", func(t *testing.T) {
		f := staticFrame(tt)
		must(t, f.SetIP(0))
		must(t, f.SetIP(2))
		wantKind(t, f.AddBackwardsTarget(0), StructuralError)
	})

	t.Run("uninitialized slot", func(t *testing.T) {
		f := staticFrame(tt, tt.foo)
		must(t, f.SetIP(0))
		must(t, f.MarkBasicBlockEntry())
		must(t, f.SetIP(1))
		f.PushUninitialized(tt.foo, false)
		must(t, f.Store(1))
		must(t, f.SetIP(3))
		wantKind(t, f.AddBackwardsTarget(0), InitializationError)
	})

	t.Run("constructed before the branch", func(t *testing.T) {
		f := staticFrame(tt, tt.foo)
		must(t, f.SetIP(0))
		must(t, f.MarkBasicBlockEntry())
		must(t, f.SetIP(1))
		f.PushUninitialized(tt.foo, false)
		must(t, f.SetIP(2))
		must(t, f.Dup())
		must(t, f.SetIP(3))
		_, err := f.PopForInitialization(tt.foo)
		must(t, err)
		must(t, f.Store(1))
		must(t, f.SetIP(4))
		must(t, f.AddBackwardsTarget(0))
		f.StopFlow()
		must(t, f.Finish(6))
	})
}

// loopPass replays: local1 = Bar; loop: local1 = Foo; goto loop.
func loopPass(t *testing.T, f *Frame, tt *testTypes) {
	t.Helper()
	must(t, f.SetIP(0))
	f.Push(tt.bar)
	must(t, f.Store(1))
	must(t, f.SetIP(2))
	must(t, f.MarkBasicBlockEntry())
	must(t, f.SetIP(3))
	f.Push(tt.foo)
	must(t, f.Store(1))
	must(t, f.SetIP(5))
	must(t, f.AddBackwardsTarget(2))
	f.StopFlow()
	must(t, f.Finish(6))
}

func TestBackwardBranchReachesFixedPoint(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt, tt.foo)

	loopPass(t, f, tt)
	if !f.HasChanged() {
		t.Fatal("first pass should widen the loop header")
	}
	if f.HasChanged() {
		t.Fatal("HasChanged should clear the flag")
	}

	f.Begin()
	loopPass(t, f, tt)
	if f.HasChanged() {
		t.Error("second pass should be stable")
	}

	f.Begin()
	must(t, f.SetIP(0))
	f.Push(tt.bar)
	must(t, f.Store(1))
	must(t, f.SetIP(2))
	if got := f.Local(1); got.Type != tt.foo {
		t.Errorf("Local(1) at loop header = %s, want Foo", got)
	}
}

func TestUninitializedSlotInsideTryRegion(t *testing.T) {
	tt := newTestTypes(t)
	f := NewFrame(&Signature{
		Declaring: tt.foo,
		Locals:    []*types.Type{tt.foo},
		Return:    types.Void,
		Static:    true,
	}, []Handler{{Start: 2, End: 6, Entry: 6, Catch: tt.exception}})

	must(t, f.SetIP(0))
	f.PushUninitialized(tt.foo, false)
	must(t, f.Store(1))
	wantKind(t, f.SetIP(2), InitializationError)
}

func TestBeginReowesHandlerBoundaries(t *testing.T) {
	tt := newTestTypes(t)
	f := NewFrame(&Signature{Declaring: tt.foo, Return: types.Void, Static: true},
		[]Handler{{Start: 0, End: 4, Entry: 4, Catch: tt.exception}})

	must(t, f.SetIP(0))
	f.StopFlow()
	wantKind(t, f.Finish(2), StructuralError)

	f.Begin()
	must(t, f.SetIP(0))
	wantKind(t, f.SetIP(5), StructuralError)
}
