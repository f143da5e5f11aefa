package driver

import (
	"github.com/chazu/bcverify/bytecode"
	"github.com/chazu/bcverify/types"
	"github.com/chazu/bcverify/verifier"
)

// ---------------------------------------------------------------------------
// One verification pass
// ---------------------------------------------------------------------------

// runPass steps the frame through every instruction once, in address
// order, and checks the end of the method.
func runPass(f *verifier.Frame, m *Method, code []bytecode.Instruction) error {
	for _, in := range code {
		if err := f.SetIP(in.Addr); err != nil {
			return err
		}
		if err := step(f, m, in); err != nil {
			return err
		}
	}
	return f.Finish(len(m.Code))
}

// step applies one instruction's stack and slot effect to the frame.
func step(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	switch in.Op {
	case bytecode.OpNOP:
		return nil

	// Constants and stack
	case bytecode.OpConstNull:
		f.Push(types.None)
	case bytecode.OpConstInt:
		f.PushConstantInt(int32(in.Arg), types.Int)
	case bytecode.OpConstByte:
		f.PushConstantInt(int32(in.Arg), types.Byte)
	case bytecode.OpConstLong:
		f.Push(types.Long)
	case bytecode.OpConstDouble:
		f.Push(types.Double)
	case bytecode.OpConstObject:
		lit, err := m.poolLiteral(in.Addr, in.Arg)
		if err != nil {
			return err
		}
		f.PushConstantObject(lit)
	case bytecode.OpPOP:
		return f.Drop()
	case bytecode.OpDUP:
		return f.Dup()
	case bytecode.OpSWAP:
		return f.Swap()

	// Slots
	case bytecode.OpLoad:
		return f.Load(int(in.Arg))
	case bytecode.OpStore:
		return f.Store(int(in.Arg))
	case bytecode.OpLoadParam:
		return f.LoadParam(int(in.Arg))
	case bytecode.OpStoreParam:
		return f.StoreParam(int(in.Arg))

	// Arithmetic
	case bytecode.OpIAdd, bytecode.OpISub, bytecode.OpIMul:
		return binary(f, types.Int)
	case bytecode.OpIDiv:
		if err := f.MayCauseGC(); err != nil {
			return err
		}
		return binary(f, types.Int)
	case bytecode.OpLAdd:
		return binary(f, types.Long)
	case bytecode.OpI2L:
		if _, err := f.Pop(types.Int); err != nil {
			return err
		}
		f.Push(types.Long)

	// Control flow
	case bytecode.OpIfEqz, bytecode.OpIfNez:
		if _, err := f.Pop(types.Int); err != nil {
			return err
		}
		return branch(f, in)
	case bytecode.OpIfNull, bytecode.OpIfNonNull:
		if _, err := f.Pop(types.Object); err != nil {
			return err
		}
		return branch(f, in)
	case bytecode.OpIfICmpLT:
		if err := popN(f, types.Int, types.Int); err != nil {
			return err
		}
		return branch(f, in)
	case bytecode.OpGoto:
		if err := branch(f, in); err != nil {
			return err
		}
		f.StopFlow()
	case bytecode.OpBBTarget:
		return f.MarkBasicBlockEntry()

	// Objects and calls
	case bytecode.OpNew:
		return newObject(f, m, in)
	case bytecode.OpInit:
		return initObject(f, m, in)
	case bytecode.OpInvoke:
		return invoke(f, m, in)
	case bytecode.OpFindSlot:
		return findSlot(f, m, in)
	case bytecode.OpInvokeSlot:
		return invokeSlot(f, m, in)
	case bytecode.OpGetField, bytecode.OpPutField, bytecode.OpGetStatic, bytecode.OpPutStatic:
		return accessField(f, m, in)
	case bytecode.OpNewArray:
		return newArray(f, m, in)
	case bytecode.OpArrayLen:
		if _, err := popArray(f, in.Addr); err != nil {
			return err
		}
		f.Push(types.Int)
	case bytecode.OpALoad:
		return arrayLoad(f, in)
	case bytecode.OpAStore:
		return arrayStore(f, in)
	case bytecode.OpCheckCast, bytecode.OpInstanceOf:
		cls, err := m.poolType(in.Addr, in.Arg)
		if err != nil {
			return err
		}
		if !cls.IsReference() {
			return typeError(in.Addr, "%s of non-reference type %s", in.Op, cls)
		}
		if _, err := f.Pop(types.Object); err != nil {
			return err
		}
		if in.Op == bytecode.OpCheckCast {
			f.Push(cls)
		} else {
			f.Push(types.Boolean)
		}

	// Exceptions and returns
	case bytecode.OpThrow:
		if err := f.MayCauseGC(); err != nil {
			return err
		}
		if _, err := f.Pop(types.Object); err != nil {
			return err
		}
		f.StopFlow()
	case bytecode.OpCatch:
		return f.PushHandlerException()
	case bytecode.OpReturn, bytecode.OpReturnValue:
		return doReturn(f, in)

	default:
		return structural(in.Addr, "opcode %s has no verification rule", in.Op)
	}
	return nil
}

// branch registers the destination of a branch instruction. Backward
// branches may only be taken with an empty operand stack.
func branch(f *verifier.Frame, in bytecode.Instruction) error {
	target := in.Target()
	if target > in.Addr {
		return f.AddTarget(target)
	}
	if f.Depth() != 0 {
		return structural(in.Addr, "backward branch to %d with %d operands on the stack", target, f.Depth())
	}
	return f.AddBackwardsTarget(target)
}

func binary(f *verifier.Frame, t *types.Type) error {
	if err := popN(f, t, t); err != nil {
		return err
	}
	f.Push(t)
	return nil
}

// popN pops values of the given types, last type first.
func popN(f *verifier.Frame, ts ...*types.Type) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if _, err := f.Pop(operand(ts[i])); err != nil {
			return err
		}
	}
	return nil
}

// operand is the type an instruction requires for a declared argument,
// field or return type. The small-int family travels on the stack as int.
func operand(t *types.Type) *types.Type {
	if t.IsSmallInt() {
		return types.Int
	}
	return t
}

func pushResult(f *verifier.Frame, t *types.Type) {
	if t != nil && t != types.Void {
		f.Push(t)
	}
}

// ---------------------------------------------------------------------------
// Objects and calls
// ---------------------------------------------------------------------------

func newObject(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	cls, err := m.poolType(in.Addr, in.Arg)
	if err != nil {
		return err
	}
	if cls.Kind != types.KindClass || cls == types.Reference {
		return typeError(in.Addr, "cannot instantiate %s", cls)
	}
	if err := f.MayCauseGC(); err != nil {
		return err
	}
	f.PushUninitialized(cls, false)
	return nil
}

// initObject runs a constructor on the object below its arguments and
// leaves the initialized object on the stack.
func initObject(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	ctor, err := m.poolMethod(in.Addr, in.Arg)
	if err != nil {
		return err
	}
	if !ctor.IsConstructor() {
		return typeError(in.Addr, "INIT of non-constructor %s", ctor)
	}
	if err := f.MayCauseGC(); err != nil {
		return err
	}
	if err := popN(f, ctor.Params...); err != nil {
		return err
	}
	t, err := f.PopForInitialization(ctor.Owner)
	if err != nil {
		return err
	}
	f.Push(t)
	return nil
}

func invoke(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	callee, err := m.poolMethod(in.Addr, in.Arg)
	if err != nil {
		return err
	}
	if callee.IsConstructor() {
		return typeError(in.Addr, "constructor %s must be called with INIT", callee)
	}
	if err := f.MayCauseGC(); err != nil {
		return err
	}
	if err := popN(f, callee.Params...); err != nil {
		return err
	}
	if !callee.Static {
		if _, err := f.Pop(callee.Owner); err != nil {
			return err
		}
	}
	pushResult(f, callee.Return)
	return nil
}

// findSlot resolves an interface method against the receiver on top of the
// stack. The receiver itself stays below for INVOKE_SLOT, so callers DUP it
// first.
func findSlot(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	callee, err := m.poolMethod(in.Addr, in.Arg)
	if err != nil {
		return err
	}
	if !callee.Owner.IsInterface() || callee.Static {
		return typeError(in.Addr, "FINDSLOT of non-interface method %s", callee)
	}
	if _, err := f.Pop(callee.Owner); err != nil {
		return err
	}
	f.PushResolvedMethod(callee)
	return nil
}

func invokeSlot(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	callee, err := m.poolMethod(in.Addr, in.Arg)
	if err != nil {
		return err
	}
	if err := f.MayCauseGC(); err != nil {
		return err
	}
	if err := popN(f, callee.Params...); err != nil {
		return err
	}
	resolved, err := f.PopResolvedMethod()
	if err != nil {
		return err
	}
	if resolved != callee {
		return typeError(in.Addr, "slot resolved for %s invoked as %s", resolved, callee)
	}
	if _, err := f.Pop(callee.Owner); err != nil {
		return err
	}
	pushResult(f, callee.Return)
	return nil
}

func accessField(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	fld, err := m.poolField(in.Addr, in.Arg)
	if err != nil {
		return err
	}
	static := in.Op == bytecode.OpGetStatic || in.Op == bytecode.OpPutStatic
	if fld.Static != static {
		return typeError(in.Addr, "%s on field %s", in.Op, fld)
	}

	if in.Op == bytecode.OpPutField || in.Op == bytecode.OpPutStatic {
		if _, err := f.Pop(operand(fld.Type)); err != nil {
			return err
		}
	}
	if !static {
		if _, err := f.Pop(fld.Owner); err != nil {
			return err
		}
	}
	if in.Op == bytecode.OpGetField || in.Op == bytecode.OpGetStatic {
		f.Push(fld.Type)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func newArray(f *verifier.Frame, m *Method, in bytecode.Instruction) error {
	at, err := m.poolType(in.Addr, in.Arg)
	if err != nil {
		return err
	}
	if !at.IsArray() {
		return typeError(in.Addr, "NEWARRAY of non-array type %s", at)
	}
	if _, err := f.Pop(types.Int); err != nil {
		return err
	}
	if err := f.MayCauseGC(); err != nil {
		return err
	}
	f.Push(at)
	return nil
}

// popArray pops an array reference. A null array yields None.
func popArray(f *verifier.Frame, addr int) (*types.Type, error) {
	t, err := f.Pop(types.Object)
	if err != nil {
		return nil, err
	}
	if t != types.None && !t.IsArray() {
		return nil, typeError(addr, "%s is not an array", t)
	}
	return t, nil
}

func arrayLoad(f *verifier.Frame, in bytecode.Instruction) error {
	if _, err := f.Pop(types.Int); err != nil {
		return err
	}
	at, err := popArray(f, in.Addr)
	if err != nil {
		return err
	}
	if at == types.None {
		f.Push(types.None)
		return nil
	}
	f.Push(at.Elem)
	return nil
}

// arrayStore checks value, index, array. Reference elements are only
// checked to be references; the precise element check happens at run time.
func arrayStore(f *verifier.Frame, in bytecode.Instruction) error {
	arr, err := f.Peek(2)
	if err != nil {
		return err
	}
	elem := types.Object
	if arr.Type.IsArray() && !arr.Type.Elem.IsReference() {
		elem = arr.Type.Elem
	}
	if _, err := f.Pop(operand(elem)); err != nil {
		return err
	}
	if _, err := f.Pop(types.Int); err != nil {
		return err
	}
	_, err = popArray(f, in.Addr)
	return err
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

func doReturn(f *verifier.Frame, in bytecode.Instruction) error {
	sig := f.Signature()
	if in.Op == bytecode.OpReturn {
		if sig.Return != types.Void {
			return typeError(in.Addr, "RETURN from method returning %s", sig.Return)
		}
	} else {
		if sig.Return == types.Void {
			return typeError(in.Addr, "RETURN_VALUE from void method")
		}
		if _, err := f.Pop(operand(sig.Return)); err != nil {
			return err
		}
	}
	if sig.Constructor && !sig.Static && f.Param(0).IsUninitialized() {
		return &verifier.Error{
			Kind:    verifier.InitializationError,
			Address: in.Addr,
			Origins: []int{f.Param(0).Origin},
			Msg:     "constructor returns before the receiver is initialized",
		}
	}
	f.StopFlow()
	return nil
}
