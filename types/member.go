package types

import (
	"fmt"
	"strings"
)

// ConstructorName is the name every constructor method carries.
const ConstructorName = "<init>"

// Method is a resolved method reference.
type Method struct {
	Owner  *Type
	Name   string
	Params []*Type // excluding the receiver
	Return *Type
	Static bool
}

// IsConstructor reports whether m initializes a freshly allocated object.
func (m *Method) IsConstructor() bool {
	return m.Name == ConstructorName
}

// String renders the method as Owner.name(params)return.
func (m *Method) String() string {
	var sb strings.Builder
	sb.WriteString(m.Owner.String())
	sb.WriteByte('.')
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	sb.WriteString(m.Return.String())
	return sb.String()
}

// Field is a resolved field reference.
type Field struct {
	Owner  *Type
	Name   string
	Type   *Type
	Static bool
}

func (f *Field) String() string {
	return fmt.Sprintf("%s.%s:%s", f.Owner, f.Name, f.Type)
}

// Literal is a resolved constant object (a string or type literal).
// Two literals denote the same object only if they are the same pointer.
type Literal struct {
	typ  *Type
	Text string
}

// NewLiteral creates a constant object of type t.
func NewLiteral(t *Type, text string) *Literal {
	return &Literal{typ: t, Text: text}
}

// Type returns the literal's class.
func (l *Literal) Type() *Type {
	return l.typ
}

func (l *Literal) String() string {
	return fmt.Sprintf("%s%q", l.typ, l.Text)
}
