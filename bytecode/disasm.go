package bytecode

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// FormatInstruction renders one instruction. Pool operands are shown with
// the pool entry they name when pool covers the index.
func FormatInstruction(in Instruction, pool []any) string {
	info := in.Op.Info()
	switch info.Operand {
	case OperandNone:
		return fmt.Sprintf("%04d  %s", in.Addr, info.Name)
	case OperandDouble:
		return fmt.Sprintf("%04d  %s %g", in.Addr, info.Name, in.Float)
	case OperandBranch:
		return fmt.Sprintf("%04d  %s %d (-> %04d)", in.Addr, info.Name, in.Arg, in.Target())
	case OperandPool:
		if in.Arg < int64(len(pool)) {
			return fmt.Sprintf("%04d  %s #%d <%v>", in.Addr, info.Name, in.Arg, pool[in.Arg])
		}
		return fmt.Sprintf("%04d  %s #%d", in.Addr, info.Name, in.Arg)
	}
	return fmt.Sprintf("%04d  %s %d", in.Addr, info.Name, in.Arg)
}

// Disassemble returns a full listing of a method body. On a decoding error
// the listing up to the bad instruction is returned with the error.
func Disassemble(code []byte, pool []any) (string, error) {
	var sb strings.Builder
	r := NewReader(code)
	for r.HasMore() {
		in, err := r.Next()
		if err != nil {
			return sb.String(), err
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(FormatInstruction(in, pool))
	}
	return sb.String(), nil
}
