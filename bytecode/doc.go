// Package bytecode defines the instruction set checked by the reference
// driver: opcode metadata, a Builder with labels, a decoder and a
// disassembler. Multi-byte operands are little-endian and branch offsets
// are relative to the address after the operand.
package bytecode
