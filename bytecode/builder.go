package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// Builder constructs bytecode sequences.
type Builder struct {
	bytes  []byte
	labels []*Label
	err    error
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is the address of the next
// instruction.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw appends raw bytes to the bytecode.
func (b *Builder) EmitRaw(data ...byte) {
	b.bytes = append(b.bytes, data...)
}

// EmitSlot appends an opcode with an unsigned 8-bit slot operand.
func (b *Builder) EmitSlot(op Opcode, slot uint8) {
	b.bytes = append(b.bytes, byte(op), slot)
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *Builder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *Builder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitInt32 appends an opcode with a 32-bit operand (little-endian).
func (b *Builder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(operand))
}

// EmitInt64 appends an opcode with a 64-bit operand (little-endian).
func (b *Builder) EmitInt64(op Opcode, operand int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
}

// EmitFloat64 appends an opcode with a 64-bit float operand.
func (b *Builder) EmitFloat64(op Opcode, operand float64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, math.Float64bits(operand))
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label is a branch destination that may be referenced before it is placed.
type Label struct {
	name     string
	resolved bool
	position int   // target address once resolved
	refs     []int // operand positions waiting for the target
}

// NewLabel creates an unresolved label. The name is only used in errors.
func (b *Builder) NewLabel(name string) *Label {
	l := &Label{name: name, refs: make([]int, 0, 2)}
	b.labels = append(b.labels, l)
	return l
}

// Position returns the label's address and whether it has been placed.
func (l *Label) Position() (int, bool) {
	return l.position, l.resolved
}

// Mark resolves a label to the current position.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic(fmt.Sprintf("label %q already resolved", label.name))
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		b.patch(ref, label.position-(ref+2))
	}
	label.refs = nil
}

// EmitJump emits a branch instruction with a label.
func (b *Builder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		ref := len(b.bytes)
		b.bytes = append(b.bytes, 0, 0)
		b.patch(ref, label.position-(ref+2))
	} else {
		label.refs = append(label.refs, len(b.bytes))
		b.bytes = append(b.bytes, 0, 0)
	}
}

func (b *Builder) patch(ref, offset int) {
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		if b.err == nil {
			b.err = fmt.Errorf("branch offset %d at %d does not fit in 16 bits", offset, ref-1)
		}
		return
	}
	binary.LittleEndian.PutUint16(b.bytes[ref:], uint16(int16(offset)))
}

// Finish returns the bytecode once every referenced label is placed and
// every branch offset fits its operand.
func (b *Builder) Finish() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, fmt.Errorf("label %q is referenced but never placed", l.name)
		}
	}
	return b.bytes, nil
}
