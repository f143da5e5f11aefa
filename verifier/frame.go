package verifier

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/chazu/bcverify/types"
)

// ---------------------------------------------------------------------------
// Frame: abstract machine state for one method
// ---------------------------------------------------------------------------

// Signature is the already-resolved method description a frame is built
// from.
type Signature struct {
	Declaring           *types.Type
	Params              []*types.Type // declared parameters, excluding the receiver
	Locals              []*types.Type // declared locals, excluding reserved slot 0
	Return              *types.Type
	Static              bool
	Constructor         bool
	AlreadyInitializing bool // receiver arrives initialized even though this is a constructor
}

// Handler is one exception table entry. [Start, End) is the protected
// region and Entry the first instruction of the handler.
type Handler struct {
	Start int
	End   int
	Entry int
	Catch *types.Type
}

// Frame simulates the operand stack and slots of one method. A driver
// calls SetIP before every instruction and then the operations matching
// the instruction's stack and slot effect. A frame is not safe for
// concurrent use; independent methods use independent frames.
type Frame struct {
	sig      *Signature
	handlers []Handler

	// live state
	stack  []Value
	locals []Value // slot 0 is the reserved method slot
	params []Value // slot 0 is the receiver for instance methods

	localTypes []*types.Type
	paramTypes []*types.Type
	written    []bool // per local: stored on every path reaching the current instruction

	// saved state per address
	stackSnaps   map[int][]Value
	localSnaps   map[int][]Value
	paramSnaps   map[int][]Value
	writtenSnaps map[int][]bool

	ledger  *Ledger
	entries mapset.Set[int]

	ip           int
	fallsThrough bool
	changed      bool
}

// NewFrame creates a frame for a method and prepares it for its first pass.
// The handler table is borrowed and must not be modified while the frame
// is in use.
func NewFrame(sig *Signature, handlers []Handler) *Frame {
	f := &Frame{
		sig:          sig,
		handlers:     handlers,
		stackSnaps:   make(map[int][]Value),
		localSnaps:   make(map[int][]Value),
		paramSnaps:   make(map[int][]Value),
		writtenSnaps: make(map[int][]bool),
		ledger:       NewLedger(),
		entries:      mapset.NewThreadUnsafeSet[int](),
	}

	f.localTypes = make([]*types.Type, 0, len(sig.Locals)+1)
	f.localTypes = append(f.localTypes, types.Reference)
	f.localTypes = append(f.localTypes, sig.Locals...)

	if !sig.Static {
		f.paramTypes = append(f.paramTypes, sig.Declaring)
	}
	f.paramTypes = append(f.paramTypes, sig.Params...)

	f.locals = make([]Value, len(f.localTypes))
	f.params = make([]Value, len(f.paramTypes))
	f.written = make([]bool, len(f.localTypes))

	f.Begin()
	return f
}

// Begin resets the live state to method entry for a new pass. Saved state
// is kept, so types recorded at an address only ever widen across passes.
func (f *Frame) Begin() {
	f.stack = f.stack[:0]
	f.resetSlots(EntryOrigin)
	if !f.sig.Static && f.sig.Constructor && !f.sig.AlreadyInitializing {
		f.params[0] = UninitializedValue(f.sig.Declaring, EntryOrigin, true)
	}

	f.resetWritten()

	f.ledger.Reset()
	for _, h := range f.handlers {
		f.ledger.Owe(h.Start)
		f.ledger.Owe(h.End)
		f.ledger.Owe(h.Entry)
	}
	f.entries.Clear()

	f.ip = EntryOrigin
	f.fallsThrough = true
}

// resetSlots gives every local and parameter its declared type.
func (f *Frame) resetSlots(origin int) {
	for i, t := range f.localTypes {
		f.locals[i] = PlainValue(t, origin)
	}
	for i, t := range f.paramTypes {
		f.params[i] = PlainValue(t, origin)
	}
}

// resetWritten marks every local but the reserved slot as never stored.
func (f *Frame) resetWritten() {
	for i := range f.written {
		f.written[i] = i == 0
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// IP returns the address of the instruction being verified.
func (f *Frame) IP() int {
	return f.ip
}

// Depth returns the operand stack depth.
func (f *Frame) Depth() int {
	return len(f.stack)
}

// Stack returns a copy of the operand stack, bottom first.
func (f *Frame) Stack() []Value {
	return cloneValues(f.stack)
}

// Local returns the descriptor in a local slot.
func (f *Frame) Local(slot int) Value {
	return f.locals[slot]
}

// Param returns the descriptor in a parameter slot.
func (f *Frame) Param(slot int) Value {
	return f.params[slot]
}

// NumLocals returns the number of local slots, reserved slot 0 included.
func (f *Frame) NumLocals() int {
	return len(f.locals)
}

// NumParams returns the number of parameter slots, receiver included.
func (f *Frame) NumParams() int {
	return len(f.params)
}

// Signature returns the signature the frame was built from.
func (f *Frame) Signature() *Signature {
	return f.sig
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (f *Frame) push(v Value) {
	f.stack = append(f.stack, v)
}

// Push pushes a plain value of type t.
func (f *Frame) Push(t *types.Type) {
	f.push(PlainValue(t, f.ip))
}

// PushUninitialized pushes a freshly allocated object. receiver marks the
// not-yet-initialized receiver of a constructor.
func (f *Frame) PushUninitialized(t *types.Type, receiver bool) {
	f.push(UninitializedValue(t, f.ip, receiver))
}

// PushConstantObject pushes a known object.
func (f *Frame) PushConstantObject(lit *types.Literal) {
	f.push(ConstantObjectValue(lit, f.ip))
}

// PushConstantInt pushes a known integer of small-int type t.
func (f *Frame) PushConstantInt(v int32, t *types.Type) {
	f.push(ConstantIntValue(v, t, f.ip))
}

// PushResolvedMethod pushes the result of an interface method lookup.
func (f *Frame) PushResolvedMethod(m *types.Method) {
	f.push(ResolvedMethodValue(m, f.ip))
}

func (f *Frame) popValue() (Value, error) {
	n := len(f.stack)
	if n == 0 {
		return Value{}, f.errorf(StructuralError, "pop from empty stack")
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v, nil
}

// Pop removes the top of stack, which must be an initialized value
// assignable to required, and returns its type. A resolved method is only
// consumed by PopResolvedMethod.
func (f *Frame) Pop(required *types.Type) (*types.Type, error) {
	v, err := f.popValue()
	if err != nil {
		return nil, err
	}
	if v.IsUninitialized() {
		return nil, f.originErrorf(InitializationError, v, "%s used before construction", v)
	}
	if v.Kind == ResolvedMethod {
		return nil, f.originErrorf(TypeError, v, "%s used as a value", v)
	}
	if !required.IsAssignableFrom(v.Type) {
		return nil, f.originErrorf(TypeError, v, "%s is not assignable to %s", v.Type, required)
	}
	return v.Type, nil
}

// PopForInitialization consumes the object a constructor of owner runs on.
// Every alias of that allocation on the stack or in a slot becomes an
// initialized value of its declared type.
func (f *Frame) PopForInitialization(owner *types.Type) (*types.Type, error) {
	v, err := f.popValue()
	if err != nil {
		return nil, err
	}
	if !v.IsUninitialized() {
		return nil, f.originErrorf(InitializationError, v, "%s is not an object under construction", v)
	}
	if owner != v.Type && !(v.Receiver && owner == v.Type.Super) {
		return nil, f.originErrorf(InitializationError, v, "constructor of %s cannot initialize %s", owner, v)
	}

	done := PlainValue(v.Type, v.Origin)
	for _, slots := range [][]Value{f.stack, f.locals, f.params} {
		for i := range slots {
			if slots[i].sameAllocation(v) {
				slots[i] = done
			}
		}
	}
	return v.Type, nil
}

// PopResolvedMethod consumes the result of an interface method lookup.
func (f *Frame) PopResolvedMethod() (*types.Method, error) {
	v, err := f.popValue()
	if err != nil {
		return nil, err
	}
	if v.Kind != ResolvedMethod {
		return nil, f.originErrorf(TypeError, v, "%s is not a resolved method", v)
	}
	return v.Method, nil
}

// Peek returns the descriptor depth entries below the top of stack.
func (f *Frame) Peek(depth int) (Value, error) {
	if depth < 0 || depth >= len(f.stack) {
		return Value{}, f.errorf(StructuralError, "peek at depth %d of %d", depth, len(f.stack))
	}
	return f.stack[len(f.stack)-1-depth], nil
}

// Drop discards the top of stack, whatever it holds.
func (f *Frame) Drop() error {
	_, err := f.popValue()
	return err
}

// Dup pushes a second reference to the top of stack.
func (f *Frame) Dup() error {
	v, err := f.Peek(0)
	if err != nil {
		return err
	}
	f.push(v)
	return nil
}

// Swap exchanges the two topmost entries.
func (f *Frame) Swap() error {
	n := len(f.stack)
	if n < 2 {
		return f.errorf(StructuralError, "swap needs two entries, have %d", n)
	}
	f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]
	return nil
}

// ---------------------------------------------------------------------------
// Locals and parameters
// ---------------------------------------------------------------------------

// Load pushes the value held in a local slot.
func (f *Frame) Load(slot int) error {
	if slot < 0 || slot >= len(f.locals) {
		return f.errorf(StructuralError, "local %d out of range", slot)
	}
	f.push(f.locals[slot])
	return nil
}

// Store pops a value into a local slot. The value is checked against the
// slot's declared type and then recorded with its own, narrower type.
func (f *Frame) Store(slot int) error {
	if slot == 0 {
		return f.errorf(StructuralError, "store to reserved slot 0")
	}
	if slot < 0 || slot >= len(f.locals) {
		return f.errorf(StructuralError, "local %d out of range", slot)
	}
	v, err := f.popValue()
	if err != nil {
		return err
	}
	if v.Kind == ResolvedMethod {
		return f.originErrorf(TypeError, v, "%s stored in local %d", v, slot)
	}
	if declared := f.localTypes[slot]; !declared.IsAssignableFrom(v.Type) {
		return f.originErrorf(TypeError, v, "%s does not fit local %d of type %s", v.Type, slot, declared)
	}
	f.locals[slot] = v
	f.written[slot] = true
	return nil
}

// LoadParam pushes the value held in a parameter slot.
func (f *Frame) LoadParam(slot int) error {
	if slot < 0 || slot >= len(f.params) {
		return f.errorf(StructuralError, "parameter %d out of range", slot)
	}
	f.push(f.params[slot])
	return nil
}

// StoreParam pops a value into a parameter slot, checked against the
// parameter's declared type.
func (f *Frame) StoreParam(slot int) error {
	if slot < 0 || slot >= len(f.params) {
		return f.errorf(StructuralError, "parameter %d out of range", slot)
	}
	v, err := f.popValue()
	if err != nil {
		return err
	}
	if v.Kind == ResolvedMethod {
		return f.originErrorf(TypeError, v, "%s stored in parameter %d", v, slot)
	}
	if declared := f.paramTypes[slot]; !declared.IsAssignableFrom(v.Type) {
		return f.originErrorf(TypeError, v, "%s does not fit parameter %d of type %s", v.Type, slot, declared)
	}
	f.params[slot] = v
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (f *Frame) errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Address: f.ip, Msg: fmt.Sprintf(format, args...)}
}

func (f *Frame) originErrorf(kind ErrorKind, v Value, format string, args ...interface{}) error {
	return &Error{Kind: kind, Address: f.ip, Origins: []int{v.Origin}, Msg: fmt.Sprintf(format, args...)}
}

// located stamps a merge failure with the current address.
func (f *Frame) located(err error) error {
	if e, ok := err.(*Error); ok {
		e.Address = f.ip
	}
	return err
}

// liveUninitialized finds an object under construction in the given areas.
func liveUninitialized(areas ...[]Value) (Value, bool) {
	for _, area := range areas {
		for _, v := range area {
			if v.IsUninitialized() {
				return v, true
			}
		}
	}
	return Value{}, false
}

func cloneValues(vs []Value) []Value {
	out := make([]Value, len(vs))
	copy(out, vs)
	return out
}
