package bytecode

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Constants and stack
const (
	OpNOP         Opcode = 0x00 // no operation
	OpConstNull   Opcode = 0x01 // push null
	OpConstInt    Opcode = 0x02 // push 32-bit signed integer
	OpConstByte   Opcode = 0x03 // push 8-bit signed integer as byte
	OpConstLong   Opcode = 0x04 // push 64-bit integer
	OpConstDouble Opcode = 0x05 // push inline float64
	OpConstObject Opcode = 0x06 // push literal (16-bit pool index)
	OpPOP         Opcode = 0x08 // discard top of stack
	OpDUP         Opcode = 0x09 // duplicate top of stack
	OpSWAP        Opcode = 0x0A // exchange the two topmost entries
)

// Slots
const (
	OpLoad       Opcode = 0x10 // push local (8-bit slot)
	OpStore      Opcode = 0x11 // pop into local (8-bit slot)
	OpLoadParam  Opcode = 0x12 // push parameter (8-bit slot)
	OpStoreParam Opcode = 0x13 // pop into parameter (8-bit slot)
)

// Arithmetic
const (
	OpIAdd Opcode = 0x20
	OpISub Opcode = 0x21
	OpIMul Opcode = 0x22
	OpIDiv Opcode = 0x23 // may throw, so it is a collection point
	OpLAdd Opcode = 0x24
	OpI2L  Opcode = 0x25
)

// Control flow
const (
	OpIfEqz     Opcode = 0x30 // pop int, branch if zero (16-bit offset)
	OpIfNez     Opcode = 0x31 // pop int, branch if not zero (16-bit offset)
	OpIfNull    Opcode = 0x32 // pop reference, branch if null (16-bit offset)
	OpIfNonNull Opcode = 0x33 // pop reference, branch if not null (16-bit offset)
	OpIfICmpLT  Opcode = 0x34 // pop two ints, branch if less (16-bit offset)
	OpGoto      Opcode = 0x35 // unconditional branch (16-bit offset)
	OpBBTarget  Opcode = 0x36 // marks a basic block that backward branches may reach
)

// Objects and calls
const (
	OpNew        Opcode = 0x40 // allocate (16-bit class)
	OpInit       Opcode = 0x41 // run constructor (16-bit method)
	OpInvoke     Opcode = 0x42 // call method (16-bit method)
	OpFindSlot   Opcode = 0x43 // resolve interface method (16-bit method)
	OpInvokeSlot Opcode = 0x44 // call resolved interface method (16-bit method)
	OpGetField   Opcode = 0x45 // (16-bit field)
	OpPutField   Opcode = 0x46 // (16-bit field)
	OpGetStatic  Opcode = 0x47 // (16-bit field)
	OpPutStatic  Opcode = 0x48 // (16-bit field)
	OpNewArray   Opcode = 0x49 // allocate array (16-bit array type)
	OpArrayLen   Opcode = 0x4A
	OpALoad      Opcode = 0x4B
	OpAStore     Opcode = 0x4C
	OpCheckCast  Opcode = 0x4D // (16-bit class)
	OpInstanceOf Opcode = 0x4E // (16-bit class)
)

// Exceptions and returns
const (
	OpThrow       Opcode = 0x50
	OpCatch       Opcode = 0x51 // first instruction of a handler
	OpReturn      Opcode = 0x52
	OpReturnValue Opcode = 0x53
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes how an opcode's operand bytes are interpreted.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota
	OperandSlot               // unsigned 8-bit slot index
	OperandInt8               // signed 8-bit immediate
	OperandInt32              // signed 32-bit immediate
	OperandInt64              // signed 64-bit immediate
	OperandDouble             // float64 immediate
	OperandPool               // unsigned 16-bit constant pool index
	OperandBranch             // signed 16-bit offset from the next instruction
)

var operandSizes = [...]int{
	OperandNone:   0,
	OperandSlot:   1,
	OperandInt8:   1,
	OperandInt32:  4,
	OperandInt64:  8,
	OperandDouble: 8,
	OperandPool:   2,
	OperandBranch: 2,
}

// Size returns the number of operand bytes.
func (k OperandKind) Size() int {
	return operandSizes[k]
}

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string      // mnemonic
	Operand OperandKind // operand encoding
}

// OperandBytes returns the number of operand bytes.
func (i OpcodeInfo) OperandBytes() int {
	return i.Operand.Size()
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:         {"NOP", OperandNone},
	OpConstNull:   {"CONST_NULL", OperandNone},
	OpConstInt:    {"CONST_INT", OperandInt32},
	OpConstByte:   {"CONST_BYTE", OperandInt8},
	OpConstLong:   {"CONST_LONG", OperandInt64},
	OpConstDouble: {"CONST_DOUBLE", OperandDouble},
	OpConstObject: {"CONST_OBJECT", OperandPool},
	OpPOP:         {"POP", OperandNone},
	OpDUP:         {"DUP", OperandNone},
	OpSWAP:        {"SWAP", OperandNone},

	OpLoad:       {"LOAD", OperandSlot},
	OpStore:      {"STORE", OperandSlot},
	OpLoadParam:  {"LOAD_PARAM", OperandSlot},
	OpStoreParam: {"STORE_PARAM", OperandSlot},

	OpIAdd: {"IADD", OperandNone},
	OpISub: {"ISUB", OperandNone},
	OpIMul: {"IMUL", OperandNone},
	OpIDiv: {"IDIV", OperandNone},
	OpLAdd: {"LADD", OperandNone},
	OpI2L:  {"I2L", OperandNone},

	OpIfEqz:     {"IF_EQZ", OperandBranch},
	OpIfNez:     {"IF_NEZ", OperandBranch},
	OpIfNull:    {"IF_NULL", OperandBranch},
	OpIfNonNull: {"IF_NONNULL", OperandBranch},
	OpIfICmpLT:  {"IF_ICMPLT", OperandBranch},
	OpGoto:      {"GOTO", OperandBranch},
	OpBBTarget:  {"BBTARGET", OperandNone},

	OpNew:        {"NEW", OperandPool},
	OpInit:       {"INIT", OperandPool},
	OpInvoke:     {"INVOKE", OperandPool},
	OpFindSlot:   {"FINDSLOT", OperandPool},
	OpInvokeSlot: {"INVOKE_SLOT", OperandPool},
	OpGetField:   {"GETFIELD", OperandPool},
	OpPutField:   {"PUTFIELD", OperandPool},
	OpGetStatic:  {"GETSTATIC", OperandPool},
	OpPutStatic:  {"PUTSTATIC", OperandPool},
	OpNewArray:   {"NEWARRAY", OperandPool},
	OpArrayLen:   {"ARRAYLENGTH", OperandNone},
	OpALoad:      {"ALOAD", OperandNone},
	OpAStore:     {"ASTORE", OperandNone},
	OpCheckCast:  {"CHECKCAST", OperandPool},
	OpInstanceOf: {"INSTANCEOF", OperandPool},

	OpThrow:       {"THROW", OperandNone},
	OpCatch:       {"CATCH", OperandNone},
	OpReturn:      {"RETURN", OperandNone},
	OpReturnValue: {"RETURN_VALUE", OperandNone},
}

var opcodesByName map[string]Opcode

func init() {
	opcodesByName = make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		opcodesByName[info.Name] = op
	}
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes()
}

// IsBranch reports whether the operand is a branch offset.
func (op Opcode) IsBranch() bool {
	return op.Info().Operand == OperandBranch
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Lookup finds an opcode by mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// Mnemonics returns the names of all defined opcodes, sorted.
func Mnemonics() []string {
	names := make([]string, 0, len(opcodesByName))
	for name := range opcodesByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var operandNames = [...]string{
	OperandNone:   "none",
	OperandSlot:   "slot",
	OperandInt8:   "8-bit immediate",
	OperandInt32:  "32-bit immediate",
	OperandInt64:  "64-bit immediate",
	OperandDouble: "double immediate",
	OperandPool:   "pool index",
	OperandBranch: "branch offset",
}

// String describes the operand kind.
func (k OperandKind) String() string {
	if int(k) < len(operandNames) {
		return operandNames[k]
	}
	return fmt.Sprintf("OperandKind(%d)", uint8(k))
}
