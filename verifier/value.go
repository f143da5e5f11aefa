package verifier

import (
	"fmt"

	"github.com/chazu/bcverify/types"
)

// EntryOrigin is the origin of values present at method entry: parameters,
// declared locals and a constructor's receiver.
const EntryOrigin = -1

// ValueKind tags the variant of a Value.
type ValueKind uint8

const (
	Plain          ValueKind = iota // no payload
	Uninitialized                   // allocated, constructor not yet run
	ConstantObject                  // known object identity
	ConstantInt                     // known 32-bit value
	ResolvedMethod                  // interface method looked up for an indirect invoke
)

var valueKindNames = [...]string{
	Plain:          "plain",
	Uninitialized:  "uninitialized",
	ConstantObject: "constant-object",
	ConstantInt:    "constant-int",
	ResolvedMethod: "resolved-method",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "unknown"
}

// Value describes what a stack entry or slot holds at one program point.
// It is a closed tagged union: only the payload field matching Kind is set.
type Value struct {
	Kind   ValueKind
	Type   *types.Type
	Origin int // address of the instruction that produced the value

	Receiver bool           // Uninitialized: the constructor's own receiver
	Object   *types.Literal // ConstantObject
	Int      int32          // ConstantInt
	Method   *types.Method  // ResolvedMethod
}

// PlainValue returns a payload-free descriptor.
func PlainValue(t *types.Type, origin int) Value {
	return Value{Kind: Plain, Type: t, Origin: origin}
}

// UninitializedValue returns the descriptor an allocation produces.
func UninitializedValue(t *types.Type, origin int, receiver bool) Value {
	return Value{Kind: Uninitialized, Type: t, Origin: origin, Receiver: receiver}
}

// ConstantObjectValue returns a descriptor for a known object.
func ConstantObjectValue(lit *types.Literal, origin int) Value {
	return Value{Kind: ConstantObject, Type: lit.Type(), Origin: origin, Object: lit}
}

// ConstantIntValue returns a descriptor for a known integer of a small-int type.
func ConstantIntValue(v int32, t *types.Type, origin int) Value {
	return Value{Kind: ConstantInt, Type: t, Origin: origin, Int: v}
}

// ResolvedMethodValue returns the descriptor a method lookup produces.
func ResolvedMethodValue(m *types.Method, origin int) Value {
	return Value{Kind: ResolvedMethod, Type: types.Int, Origin: origin, Method: m}
}

// SamePayload reports whether v and o are the same variant carrying the
// same payload.
func (v Value) SamePayload(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Uninitialized:
		return v.Origin == o.Origin && v.Receiver == o.Receiver
	case ConstantObject:
		return v.Object == o.Object
	case ConstantInt:
		return v.Int == o.Int
	case ResolvedMethod:
		return v.Method == o.Method
	}
	return true
}

// Equivalent reports whether v and o describe the same abstract value.
// Origins are ignored except where they form the identity of an
// uninitialized object.
func (v Value) Equivalent(o Value) bool {
	return v.Type == o.Type && v.SamePayload(o)
}

// IsUninitialized reports whether v is an object under construction.
func (v Value) IsUninitialized() bool {
	return v.Kind == Uninitialized
}

// sameAllocation reports whether v is the uninitialized object u.
func (v Value) sameAllocation(u Value) bool {
	return v.Kind == Uninitialized && v.Type == u.Type && v.Origin == u.Origin
}

func (v Value) String() string {
	at := originString(v.Origin)
	switch v.Kind {
	case Uninitialized:
		if v.Receiver {
			return fmt.Sprintf("uninit-this(%s)@%s", v.Type, at)
		}
		return fmt.Sprintf("uninit(%s)@%s", v.Type, at)
	case ConstantObject:
		return fmt.Sprintf("%s@%s", v.Object, at)
	case ConstantInt:
		return fmt.Sprintf("%s(%d)@%s", v.Type, v.Int, at)
	case ResolvedMethod:
		return fmt.Sprintf("slot(%s)@%s", v.Method, at)
	}
	return fmt.Sprintf("%s@%s", v.Type, at)
}
