package verifier

import "github.com/chazu/bcverify/types"

// ---------------------------------------------------------------------------
// Merging descriptors at control-flow joins
// ---------------------------------------------------------------------------

// Merge combines two descriptors computed for the same stack or slot
// position along two converging paths. context is the declared type of the
// position; Object and Offset contexts merge to the nearest common ancestor,
// any other context requires one operand to subsume the other.
//
// The returned error is an *Error without an address; the frame fills it in.
func Merge(context *types.Type, a, b Value) (Value, error) {
	if a.Type == types.None || b.Type == types.None {
		return mergeNull(a, b)
	}

	if a.Kind == Uninitialized || b.Kind == Uninitialized {
		if a.Kind != b.Kind {
			return Value{}, mergeErrorf(InitializationError, a, b,
				"cannot merge %s with %s", a, b)
		}
		if a.Type != b.Type || a.Origin != b.Origin || a.Receiver != b.Receiver {
			return Value{}, mergeErrorf(AliasingError, a, b,
				"distinct uninitialized objects %s and %s meet", a, b)
		}
		return a, nil
	}

	origin := min(a.Origin, b.Origin)
	if a.Type == b.Type && a.SamePayload(b) {
		a.Origin = origin
		return a, nil
	}

	t, err := mergeTypes(context, a, b)
	if err != nil {
		return Value{}, err
	}
	return PlainValue(t, origin), nil
}

// mergeNull handles a join where at least one side is null. Null is the
// bottom of the reference lattice only; it never merges with a primitive or
// machine value.
func mergeNull(a, b Value) (Value, error) {
	other := b
	if b.Type == types.None {
		other = a
	}
	if other.Kind != Uninitialized && !other.Type.IsReference() {
		return Value{}, mergeErrorf(TypeError, a, b, "cannot merge %s with %s", a, b)
	}
	return other, nil
}

// mergeTypes applies the payload-free merge rules to the operand types.
func mergeTypes(context *types.Type, a, b Value) (*types.Type, error) {
	at, bt := a.Type, b.Type
	if at == bt {
		return at, nil
	}

	if context == types.Object || context == types.Offset {
		if at.IsPrimitive() || bt.IsPrimitive() || at.IsReference() != bt.IsReference() {
			return nil, mergeErrorf(TypeError, a, b,
				"cannot merge %s with %s in %s slot", at, bt, context)
		}
		if lca := commonAncestor(at, bt); lca != nil {
			return lca, nil
		}
		return nil, mergeErrorf(TypeError, a, b, "%s and %s share no ancestor", at, bt)
	}

	switch {
	case at.IsSmallInt() && bt.IsSmallInt():
		return types.Int, nil
	case at.IsPrimitive() || bt.IsPrimitive():
		return nil, mergeErrorf(TypeError, a, b, "cannot merge %s with %s", at, bt)
	case at.IsAssignableFrom(bt):
		return at, nil
	case bt.IsAssignableFrom(at):
		return bt, nil
	}
	return nil, mergeErrorf(TypeError, a, b, "%s and %s are unrelated", at, bt)
}

// commonAncestor computes the nearest common ancestor from both sides so
// the result does not depend on operand order when interfaces are involved.
func commonAncestor(a, b *types.Type) *types.Type {
	x, y := a.CommonAncestor(b), b.CommonAncestor(a)
	switch {
	case x == y:
		return x
	case x == nil:
		return y
	case y == nil:
		return x
	case x.IsAssignableFrom(y):
		return y
	case y.IsAssignableFrom(x):
		return x
	}
	return types.Object
}

// stackContext is the context used when merging an operand-stack entry:
// references widen freely, everything else must match.
func stackContext(v Value) *types.Type {
	if v.Type.IsReference() {
		return types.Object
	}
	return v.Type
}
