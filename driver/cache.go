package driver

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bcverify/types"
)

// ---------------------------------------------------------------------------
// Content hash of a method, the key of the accepted-method cache
// ---------------------------------------------------------------------------

// methodKey is everything verification of a method depends on. Types are
// spelled out with their ancestry so that methods from different
// hierarchies never share a key.
type methodKey struct {
	Signature []string `cbor:"1,keyasint"`
	Code      []byte   `cbor:"2,keyasint"`
	Pool      []string `cbor:"3,keyasint"`
	Handlers  []string `cbor:"4,keyasint"`
}

var keyEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("driver: failed to create CBOR enc mode: %v", err))
	}
	keyEncMode = em
}

// Hash returns the content hash of a method.
func Hash(m *Method) ([32]byte, error) {
	k := methodKey{Code: m.Code}

	sig := m.Signature
	k.Signature = append(k.Signature,
		typeKey(sig.Declaring), typeKey(sig.Return),
		fmt.Sprintf("static=%t ctor=%t init=%t", sig.Static, sig.Constructor, sig.AlreadyInitializing),
		"params:"+typeList(sig.Params), "locals:"+typeList(sig.Locals))

	for _, e := range m.Pool {
		k.Pool = append(k.Pool, poolKey(e))
	}
	for _, h := range m.Handlers {
		k.Handlers = append(k.Handlers, fmt.Sprintf("%d:%d:%d:%s", h.Start, h.End, h.Entry, typeKey(h.Catch)))
	}

	data, err := keyEncMode.Marshal(k)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode method key: %w", err)
	}
	return sha256.Sum256(data), nil
}

func poolKey(e any) string {
	switch e := e.(type) {
	case *types.Type:
		return "T" + typeKey(e)
	case *types.Method:
		return fmt.Sprintf("M%s.%s(%s)%s static=%t", typeKey(e.Owner), e.Name, typeList(e.Params), typeKey(e.Return), e.Static)
	case *types.Field:
		return fmt.Sprintf("F%s.%s:%s static=%t", typeKey(e.Owner), e.Name, typeKey(e.Type), e.Static)
	case *types.Literal:
		return fmt.Sprintf("L%s:%q", typeKey(e.Type()), e.Text)
	}
	return fmt.Sprintf("?%T", e)
}

func typeList(ts []*types.Type) string {
	keys := make([]string, len(ts))
	for i, t := range ts {
		keys[i] = typeKey(t)
	}
	return strings.Join(keys, ",")
}

// typeKey spells out a type with its superclass chain and interfaces.
func typeKey(t *types.Type) string {
	if t == nil {
		return "-"
	}
	var sb strings.Builder
	writeTypeKey(&sb, t)
	return sb.String()
}

func writeTypeKey(sb *strings.Builder, t *types.Type) {
	sb.WriteString(t.Name)
	if t.Elem != nil {
		sb.WriteByte('{')
		writeTypeKey(sb, t.Elem)
		sb.WriteByte('}')
	}
	if len(t.Interfaces) > 0 {
		sb.WriteByte('[')
		for i, iface := range t.Interfaces {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeTypeKey(sb, iface)
		}
		sb.WriteByte(']')
	}
	if t.Super != nil && t.Kind != types.KindArray {
		sb.WriteByte('<')
		writeTypeKey(sb, t.Super)
	}
}
