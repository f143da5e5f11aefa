package driver

import (
	"fmt"

	"github.com/chazu/bcverify/types"
	"github.com/chazu/bcverify/verifier"
)

// Method is a method body ready for verification. Pool holds the resolved
// operands that pool-indexed instructions refer to: *types.Type,
// *types.Method, *types.Field or *types.Literal.
type Method struct {
	Name      string
	Signature *verifier.Signature
	Code      []byte
	Pool      []any
	Handlers  []verifier.Handler
}

// Unit is a group of methods verified together, typically one class or
// suite file.
type Unit struct {
	Name    string
	Methods []*Method
}

// ---------------------------------------------------------------------------
// Pool access
// ---------------------------------------------------------------------------

func (m *Method) poolEntry(addr int, idx int64) (any, error) {
	if idx < 0 || idx >= int64(len(m.Pool)) {
		return nil, structural(addr, "pool index %d out of range (pool has %d entries)", idx, len(m.Pool))
	}
	return m.Pool[idx], nil
}

func (m *Method) poolType(addr int, idx int64) (*types.Type, error) {
	e, err := m.poolEntry(addr, idx)
	if err != nil {
		return nil, err
	}
	t, ok := e.(*types.Type)
	if !ok {
		return nil, structural(addr, "pool entry %d is %T, want a type", idx, e)
	}
	return t, nil
}

func (m *Method) poolMethod(addr int, idx int64) (*types.Method, error) {
	e, err := m.poolEntry(addr, idx)
	if err != nil {
		return nil, err
	}
	meth, ok := e.(*types.Method)
	if !ok {
		return nil, structural(addr, "pool entry %d is %T, want a method", idx, e)
	}
	return meth, nil
}

func (m *Method) poolField(addr int, idx int64) (*types.Field, error) {
	e, err := m.poolEntry(addr, idx)
	if err != nil {
		return nil, err
	}
	fld, ok := e.(*types.Field)
	if !ok {
		return nil, structural(addr, "pool entry %d is %T, want a field", idx, e)
	}
	return fld, nil
}

func (m *Method) poolLiteral(addr int, idx int64) (*types.Literal, error) {
	e, err := m.poolEntry(addr, idx)
	if err != nil {
		return nil, err
	}
	lit, ok := e.(*types.Literal)
	if !ok {
		return nil, structural(addr, "pool entry %d is %T, want a literal", idx, e)
	}
	return lit, nil
}

func structural(addr int, format string, args ...any) error {
	return &verifier.Error{Kind: verifier.StructuralError, Address: addr, Msg: fmt.Sprintf(format, args...)}
}

func typeError(addr int, format string, args ...any) error {
	return &verifier.Error{Kind: verifier.TypeError, Address: addr, Msg: fmt.Sprintf(format, args...)}
}
