package verifier

import (
	"errors"
	"testing"

	"github.com/chazu/bcverify/types"
)

// staticFrame builds a frame for a static method with the given locals.
func staticFrame(tt *testTypes, locals ...*types.Type) *Frame {
	return NewFrame(&Signature{
		Declaring: tt.foo,
		Locals:    locals,
		Return:    types.Void,
		Static:    true,
	}, nil)
}

// must fails the test immediately on a verification error.
func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func wantKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("error %q has kind %s, want %s", err, got, kind)
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewFrameLayout(t *testing.T) {
	tt := newTestTypes(t)
	f := NewFrame(&Signature{
		Declaring: tt.foo,
		Params:    []*types.Type{types.Int},
		Locals:    []*types.Type{types.Object, types.Int},
		Return:    types.Void,
	}, nil)

	if f.NumLocals() != 3 {
		t.Errorf("NumLocals() = %d, want 3", f.NumLocals())
	}
	if f.NumParams() != 2 {
		t.Errorf("NumParams() = %d, want 2", f.NumParams())
	}
	if got := f.Local(0); got.Type != types.Reference {
		t.Errorf("Local(0) = %s, want reference", got)
	}
	if got := f.Param(0); got.Kind != Plain || got.Type != tt.foo {
		t.Errorf("Param(0) = %s, want plain Foo receiver", got)
	}
}

func TestConstructorReceiverIsUninitialized(t *testing.T) {
	tt := newTestTypes(t)
	sig := &Signature{Declaring: tt.bar, Return: types.Void, Constructor: true}

	f := NewFrame(sig, nil)
	if got := f.Param(0); got.Kind != Uninitialized || !got.Receiver || got.Origin != EntryOrigin {
		t.Errorf("Param(0) = %s, want uninitialized receiver", got)
	}

	sig.AlreadyInitializing = true
	f = NewFrame(sig, nil)
	if got := f.Param(0); got.Kind != Plain {
		t.Errorf("Param(0) = %s, want plain receiver", got)
	}
}

// ---------------------------------------------------------------------------
// Push / pop
// ---------------------------------------------------------------------------

func TestPushPop(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))

	f.Push(tt.bar)
	got, err := f.Pop(tt.foo)
	must(t, err)
	if got != tt.bar {
		t.Errorf("Pop(Foo) = %s, want Bar", got)
	}

	f.Push(tt.foo)
	_, err = f.Pop(tt.bar)
	wantKind(t, err, TypeError)

	_, err = f.Pop(tt.foo)
	wantKind(t, err, StructuralError)
}

func TestPushRecordsOrigin(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	must(t, f.SetIP(4))
	f.PushConstantInt(9, types.Byte)

	top, err := f.Peek(0)
	must(t, err)
	if top.Origin != 4 || top.Kind != ConstantInt || top.Int != 9 {
		t.Errorf("top = %s, want byte(9)@4", top)
	}
	if _, err := f.Pop(types.Int); err != nil {
		t.Errorf("byte constant should be usable as int: %v", err)
	}
}

func TestPopRejectsUninitialized(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	f.PushUninitialized(tt.foo, false)

	_, err := f.Pop(types.Object)
	wantKind(t, err, InitializationError)
}

func TestStackShuffles(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(0))

	wantKind(t, f.Dup(), StructuralError)
	f.Push(types.Int)
	wantKind(t, f.Swap(), StructuralError)
	f.Push(tt.foo)
	must(t, f.Swap())
	must(t, f.Dup())

	stack := f.Stack()
	if len(stack) != 3 || stack[0].Type != tt.foo || stack[1].Type != types.Int || stack[2].Type != types.Int {
		t.Errorf("stack = %v, want [Foo int int]", stack)
	}
	must(t, f.Drop())
	if f.Depth() != 2 {
		t.Errorf("Depth() = %d, want 2", f.Depth())
	}
}

func TestResolvedMethod(t *testing.T) {
	tt := newTestTypes(t)
	m := &types.Method{Owner: tt.named, Name: "name", Return: tt.str}
	f := staticFrame(tt)
	must(t, f.SetIP(0))

	f.PushResolvedMethod(m)
	got, err := f.PopResolvedMethod()
	must(t, err)
	if got != m {
		t.Errorf("PopResolvedMethod() = %v, want %v", got, m)
	}

	f.Push(types.Int)
	_, err = f.PopResolvedMethod()
	wantKind(t, err, TypeError)

	// A resolved method is not an int, whatever its descriptor type.
	f.PushResolvedMethod(m)
	_, err = f.Pop(types.Int)
	wantKind(t, err, TypeError)

	f = staticFrame(tt, types.Int)
	must(t, f.SetIP(0))
	f.PushResolvedMethod(m)
	wantKind(t, f.Store(1), TypeError)
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

func TestPopForInitializationSweepsAliases(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt, tt.foo, types.Object)
	must(t, f.SetIP(0))
	f.PushUninitialized(tt.foo, false)
	must(t, f.SetIP(3))
	must(t, f.Dup())
	must(t, f.Store(1))
	must(t, f.SetIP(5))
	must(t, f.Dup())
	must(t, f.Store(2))
	must(t, f.SetIP(7))
	must(t, f.Dup())

	got, err := f.PopForInitialization(tt.foo)
	must(t, err)
	if got != tt.foo {
		t.Errorf("PopForInitialization = %s, want Foo", got)
	}

	for _, v := range append(f.Stack(), f.Local(1), f.Local(2)) {
		if v.Kind != Plain || v.Type != tt.foo || v.Origin != 0 {
			t.Errorf("alias %s not initialized", v)
		}
	}

	// The allocation is initialized; a second constructor call is rejected.
	_, err = f.PopForInitialization(tt.foo)
	wantKind(t, err, InitializationError)
}

func TestPopForInitializationLeavesOtherAllocations(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt, tt.foo)
	must(t, f.SetIP(0))
	f.PushUninitialized(tt.foo, false)
	must(t, f.Store(1))
	must(t, f.SetIP(2))
	f.PushUninitialized(tt.foo, false)

	_, err := f.PopForInitialization(tt.foo)
	must(t, err)
	if got := f.Local(1); got.Kind != Uninitialized {
		t.Errorf("Local(1) = %s, want still uninitialized", got)
	}
}

func TestPopForInitializationOwner(t *testing.T) {
	tt := newTestTypes(t)

	// A fresh allocation needs a constructor of its exact class.
	f := staticFrame(tt)
	must(t, f.SetIP(0))
	f.PushUninitialized(tt.bar, false)
	_, err := f.PopForInitialization(tt.foo)
	wantKind(t, err, InitializationError)

	// A constructor's receiver may be initialized by the superclass constructor.
	f = NewFrame(&Signature{Declaring: tt.bar, Return: types.Void, Constructor: true}, nil)
	must(t, f.SetIP(0))
	must(t, f.LoadParam(0))
	_, err = f.PopForInitialization(tt.foo)
	must(t, err)
	if got := f.Param(0); got.Kind != Plain || got.Type != tt.bar {
		t.Errorf("Param(0) = %s, want initialized Bar", got)
	}

	// ...but not by an unrelated one.
	f = NewFrame(&Signature{Declaring: tt.bar, Return: types.Void, Constructor: true}, nil)
	must(t, f.SetIP(0))
	must(t, f.LoadParam(0))
	_, err = f.PopForInitialization(tt.qux)
	wantKind(t, err, InitializationError)
}

// ---------------------------------------------------------------------------
// Slots
// ---------------------------------------------------------------------------

func TestStoreChecksDeclaredType(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt, tt.foo, types.Int)
	must(t, f.SetIP(0))

	f.Push(tt.bar)
	must(t, f.Store(1))
	if got := f.Local(1); got.Type != tt.bar {
		t.Errorf("Local(1) = %s, want narrowed to Bar", got)
	}

	// The declared type, not the recorded one, governs the next store.
	f.Push(tt.baz)
	must(t, f.Store(1))

	f.Push(tt.qux)
	wantKind(t, f.Store(1), TypeError)

	f.Push(tt.foo)
	wantKind(t, f.Store(2), TypeError)
}

func TestStoreSlotZeroRejected(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt, types.Object)
	must(t, f.SetIP(0))
	f.Push(types.Object)
	wantKind(t, f.Store(0), StructuralError)
}

func TestSlotRange(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt, types.Int)
	must(t, f.SetIP(0))
	wantKind(t, f.Load(5), StructuralError)
	wantKind(t, f.LoadParam(0), StructuralError)
	f.Push(types.Int)
	wantKind(t, f.Store(-1), StructuralError)
}

func TestParams(t *testing.T) {
	tt := newTestTypes(t)
	f := NewFrame(&Signature{
		Declaring: tt.foo,
		Params:    []*types.Type{tt.foo},
		Return:    types.Void,
		Static:    true,
	}, nil)
	must(t, f.SetIP(0))

	must(t, f.LoadParam(0))
	got, err := f.Pop(tt.foo)
	must(t, err)
	if got != tt.foo {
		t.Errorf("LoadParam(0) type = %s, want Foo", got)
	}

	f.Push(tt.bar)
	must(t, f.StoreParam(0))
	if p := f.Param(0); p.Type != tt.bar {
		t.Errorf("Param(0) = %s, want Bar", p)
	}
	f.Push(types.Int)
	wantKind(t, f.StoreParam(0), TypeError)
}

func TestErrorMatchesSentinel(t *testing.T) {
	tt := newTestTypes(t)
	f := staticFrame(tt)
	must(t, f.SetIP(12))
	err := f.Drop()
	if !errors.Is(err, ErrStructural) || errors.Is(err, ErrType) {
		t.Errorf("errors.Is mismatch for %v", err)
	}
	var verr *Error
	if !errors.As(err, &verr) || verr.Address != 12 {
		t.Errorf("Address = %+v, want 12", verr)
	}
}
