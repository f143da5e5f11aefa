package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decoding failures. Both are structural defects of the method body.
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated instruction")
)

// Instruction is one decoded instruction.
type Instruction struct {
	Addr  int     // address of the opcode byte
	Op    Opcode  // the opcode
	Arg   int64   // integer operand, slot, pool index or branch offset
	Float float64 // CONST_DOUBLE operand
	Next  int     // address of the following instruction
}

// Target returns the absolute destination of a branch instruction.
func (in Instruction) Target() int {
	return in.Next + int(in.Arg)
}

// Decode decodes the instruction starting at addr.
func Decode(code []byte, addr int) (Instruction, error) {
	if addr < 0 || addr >= len(code) {
		return Instruction{}, fmt.Errorf("%w: no instruction at %d", ErrTruncated, addr)
	}
	op := Opcode(code[addr])
	info, ok := opcodeTable[op]
	if !ok {
		return Instruction{}, fmt.Errorf("%w 0x%02X at %d", ErrUnknownOpcode, byte(op), addr)
	}

	in := Instruction{Addr: addr, Op: op, Next: addr + 1 + info.OperandBytes()}
	if in.Next > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at %d needs %d operand bytes", ErrTruncated, info.Name, addr, info.OperandBytes())
	}

	operand := code[addr+1 : in.Next]
	switch info.Operand {
	case OperandSlot:
		in.Arg = int64(operand[0])
	case OperandInt8:
		in.Arg = int64(int8(operand[0]))
	case OperandInt32:
		in.Arg = int64(int32(binary.LittleEndian.Uint32(operand)))
	case OperandInt64:
		in.Arg = int64(binary.LittleEndian.Uint64(operand))
	case OperandDouble:
		in.Float = math.Float64frombits(binary.LittleEndian.Uint64(operand))
	case OperandPool:
		in.Arg = int64(binary.LittleEndian.Uint16(operand))
	case OperandBranch:
		in.Arg = int64(int16(binary.LittleEndian.Uint16(operand)))
	}
	return in, nil
}

// Reader walks a method body instruction by instruction.
type Reader struct {
	code []byte
	pos  int
}

// NewReader creates a reader for bytecode.
func NewReader(code []byte) *Reader {
	return &Reader{code: code}
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *Reader) HasMore() bool {
	return r.pos < len(r.code)
}

// Next decodes the instruction at the current position and advances past
// it.
func (r *Reader) Next() (Instruction, error) {
	in, err := Decode(r.code, r.pos)
	if err != nil {
		return Instruction{}, err
	}
	r.pos = in.Next
	return in, nil
}

// Instructions decodes a whole method body.
func Instructions(code []byte) ([]Instruction, error) {
	r := NewReader(code)
	var out []Instruction
	for r.HasMore() {
		in, err := r.Next()
		if err != nil {
			return out, err
		}
		out = append(out, in)
	}
	return out, nil
}
