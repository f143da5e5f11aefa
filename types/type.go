package types

// ---------------------------------------------------------------------------
// Type: a node in the verification type lattice
// ---------------------------------------------------------------------------

// Kind classifies a Type.
type Kind uint8

const (
	KindNone      Kind = iota // the type of null; bottom of the reference lattice
	KindClass                 // ordinary class (including Reference and Object)
	KindInterface             // interface type
	KindArray                 // array of Elem
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindVoid
	KindWord // raw machine word types (Word, Address, Offset, UWord)
)

var kindNames = [...]string{
	KindNone:      "none",
	KindClass:     "class",
	KindInterface: "interface",
	KindArray:     "array",
	KindBoolean:   "boolean",
	KindByte:      "byte",
	KindChar:      "char",
	KindShort:     "short",
	KindInt:       "int",
	KindLong:      "long",
	KindFloat:     "float",
	KindDouble:    "double",
	KindVoid:      "void",
	KindWord:      "word",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Type is a verification type. Types are compared by pointer identity and
// are immutable once published by a Hierarchy.
type Type struct {
	Name       string
	Kind       Kind
	Super      *Type   // superclass; nil for roots and primitives
	Interfaces []*Type // directly implemented (or extended) interfaces
	Elem       *Type   // element type for arrays
}

// Sentinel types shared by every hierarchy.
var (
	None      = &Type{Name: "-none-", Kind: KindNone}
	Reference = &Type{Name: "-reference-", Kind: KindClass}
	Object    = &Type{Name: "Object", Kind: KindClass, Super: Reference}

	Boolean = &Type{Name: "boolean", Kind: KindBoolean}
	Byte    = &Type{Name: "byte", Kind: KindByte}
	Char    = &Type{Name: "char", Kind: KindChar}
	Short   = &Type{Name: "short", Kind: KindShort}
	Int     = &Type{Name: "int", Kind: KindInt}
	Long    = &Type{Name: "long", Kind: KindLong}
	Float   = &Type{Name: "float", Kind: KindFloat}
	Double  = &Type{Name: "double", Kind: KindDouble}
	Void    = &Type{Name: "void", Kind: KindVoid}

	Word    = &Type{Name: "Word", Kind: KindWord}
	Address = &Type{Name: "Address", Kind: KindWord, Super: Word}
	Offset  = &Type{Name: "Offset", Kind: KindWord, Super: Word}
	UWord   = &Type{Name: "UWord", Kind: KindWord, Super: Word}
)

// sentinels lists the predefined types in registration order.
var sentinels = []*Type{
	None, Reference, Object,
	Boolean, Byte, Char, Short, Int, Long, Float, Double, Void,
	Word, Address, Offset, UWord,
}

// String returns the type name.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// Superclass returns the direct supertype used by the upward walk.
// Interfaces and arrays report Object.
func (t *Type) Superclass() *Type {
	switch t.Kind {
	case KindInterface, KindArray:
		return Object
	}
	return t.Super
}

// IsReference reports whether values of t are garbage-collected references.
func (t *Type) IsReference() bool {
	switch t.Kind {
	case KindNone, KindClass, KindInterface, KindArray:
		return true
	}
	return false
}

// IsPrimitive reports whether t is one of the Java-style primitive kinds.
func (t *Type) IsPrimitive() bool {
	return t.Kind >= KindBoolean && t.Kind <= KindVoid
}

// IsMachineWord reports whether t is a raw machine type.
func (t *Type) IsMachineWord() bool {
	return t.Kind == KindWord
}

// IsDoubleWord reports whether t occupies two slots on the real machine.
func (t *Type) IsDoubleWord() bool {
	return t.Kind == KindLong || t.Kind == KindDouble
}

// IsSmallInt reports whether t belongs to the interchangeable
// boolean/byte/char/short/int family.
func (t *Type) IsSmallInt() bool {
	return t.Kind >= KindBoolean && t.Kind <= KindInt
}

// IsInterface reports whether t is an interface.
func (t *Type) IsInterface() bool {
	return t.Kind == KindInterface
}

// IsArray reports whether t is an array type.
func (t *Type) IsArray() bool {
	return t.Kind == KindArray
}

// IsSubclassOf returns true if t is other or inherits from it through the
// superclass chain.
func (t *Type) IsSubclassOf(other *Type) bool {
	for current := t; current != nil; current = current.Super {
		if current == other {
			return true
		}
	}
	return false
}

// Implements returns true if t, one of its superclasses, or one of their
// interfaces extends iface.
func (t *Type) Implements(iface *Type) bool {
	for current := t; current != nil; current = current.Super {
		for _, i := range current.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableFrom reports whether a value of type from may be stored where
// t is required.
func (t *Type) IsAssignableFrom(from *Type) bool {
	if t == from {
		return true
	}
	if t == nil || from == nil {
		return false
	}
	switch {
	case from.Kind == KindNone:
		return t.IsReference()
	case t == Reference:
		return from.IsReference()
	case t == Object:
		return from.IsReference() && from != Reference
	case t.Kind == KindInt:
		return from.IsSmallInt()
	}

	switch t.Kind {
	case KindInterface:
		return from.IsReference() && from.Implements(t)
	case KindArray:
		if from.Kind != KindArray {
			return false
		}
		if t.Elem.IsReference() && from.Elem.IsReference() {
			return t.Elem.IsAssignableFrom(from.Elem)
		}
		return t.Elem == from.Elem
	case KindClass:
		return from.Kind == KindClass && from.IsSubclassOf(t)
	case KindWord:
		return from.Kind == KindWord && from.IsSubclassOf(t)
	}
	return false
}

// CommonAncestor walks t upward until it reaches a type assignable from
// other. Returns nil if the walk runs off the top of the lattice.
func (t *Type) CommonAncestor(other *Type) *Type {
	for current := t; current != nil; current = current.Superclass() {
		if current.IsAssignableFrom(other) {
			return current
		}
	}
	return nil
}
