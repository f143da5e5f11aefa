package suite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/bcverify/bytecode"
	"github.com/chazu/bcverify/driver"
	"github.com/chazu/bcverify/types"
	"github.com/chazu/bcverify/verifier"
)

// builder resolves declarations against a hierarchy and assembles method
// bodies. Literals are interned per suite so equal strings share one
// constant object.
type builder struct {
	h        *types.Hierarchy
	methods  map[string]*types.Method
	builtins map[string]bool
	fields   map[string]*types.Field
	literals map[string]*types.Literal
}

func qualified(m *types.Method) string {
	return m.Owner.Name + "." + m.Name
}

func (b *builder) builtin(m *types.Method) {
	if b.builtins == nil {
		b.builtins = make(map[string]bool)
	}
	b.methods[qualified(m)] = m
	b.builtins[qualified(m)] = true
}

func (b *builder) lookupType(name string) (*types.Type, error) {
	t, ok := b.h.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown type %s", name)
	}
	return t, nil
}

func (b *builder) lookupTypes(names []string) ([]*types.Type, error) {
	ts := make([]*types.Type, len(names))
	for i, n := range names {
		t, err := b.lookupType(n)
		if err != nil {
			return nil, err
		}
		ts[i] = t
	}
	return ts, nil
}

func (b *builder) declareFields(classes []ClassDecl) error {
	for _, c := range classes {
		owner, err := b.lookupType(c.Name)
		if err != nil {
			return err
		}
		for _, fd := range c.Fields {
			t, err := b.lookupType(fd.Type)
			if err != nil {
				return fmt.Errorf("field %s.%s: %w", c.Name, fd.Name, err)
			}
			key := c.Name + "." + fd.Name
			if _, dup := b.fields[key]; dup {
				return fmt.Errorf("field %s declared twice", key)
			}
			b.fields[key] = &types.Field{Owner: owner, Name: fd.Name, Type: t, Static: fd.Static}
		}
	}
	return nil
}

func (b *builder) declareMethod(md MethodDecl) (*types.Method, error) {
	name := md.Name
	if md.Constructor {
		if name == "" {
			name = types.ConstructorName
		} else if name != types.ConstructorName {
			return nil, fmt.Errorf("method %s.%s: constructors are named %s", md.Class, name, types.ConstructorName)
		}
	}
	if name == "" {
		return nil, fmt.Errorf("method in %s has no name", md.Class)
	}
	key := md.Class + "." + name

	owner, err := b.lookupType(md.Class)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", key, err)
	}
	params, err := b.lookupTypes(md.Params)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", key, err)
	}
	ret := types.Void
	if md.Returns != "" {
		if ret, err = b.lookupType(md.Returns); err != nil {
			return nil, fmt.Errorf("method %s: %w", key, err)
		}
	}
	if name == types.ConstructorName && (md.Static || ret != types.Void) {
		return nil, fmt.Errorf("method %s: constructors are instance methods returning void", key)
	}

	if _, dup := b.methods[key]; dup && !b.builtins[key] {
		return nil, fmt.Errorf("method %s declared twice", key)
	}
	delete(b.builtins, key)
	m := &types.Method{Owner: owner, Name: name, Params: params, Return: ret, Static: md.Static}
	b.methods[key] = m
	return m, nil
}

func (b *builder) literal(text string) (*types.Literal, error) {
	if lit, ok := b.literals[text]; ok {
		return lit, nil
	}
	str, err := b.lookupType("String")
	if err != nil {
		return nil, err
	}
	lit := types.NewLiteral(str, text)
	b.literals[text] = lit
	return lit, nil
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// LineError is an assembly error at a line of a method's code. Lines are
// counted from 1 at the start of the code string.
type LineError struct {
	Method string
	Line   int
	Err    error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("method %s: line %d: %v", e.Method, e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// assembler holds the state of one method body.
type assembler struct {
	*builder
	code    *bytecode.Builder
	labels  map[string]*bytecode.Label
	placed  map[string]bool
	pool    []any
	poolIdx map[any]int

	lineNo int
	lines  map[int]int // instruction address -> code line
}

func (b *builder) assembleMethod(decl *types.Method, md MethodDecl) (*driver.Method, map[int]int, error) {
	name := qualified(decl)
	locals, err := b.lookupTypes(md.Locals)
	if err != nil {
		return nil, nil, fmt.Errorf("method %s: %w", name, err)
	}
	sig := &verifier.Signature{
		Declaring:           decl.Owner,
		Params:              decl.Params,
		Locals:              locals,
		Return:              decl.Return,
		Static:              decl.Static,
		Constructor:         decl.IsConstructor(),
		AlreadyInitializing: md.AlreadyInitializing,
	}

	a := &assembler{
		builder: b,
		code:    bytecode.NewBuilder(),
		labels:  make(map[string]*bytecode.Label),
		placed:  make(map[string]bool),
		poolIdx: make(map[any]int),
		lines:   make(map[int]int),
	}
	for i, line := range strings.Split(md.Code, "\n") {
		a.lineNo = i + 1
		if err := a.line(line); err != nil {
			return nil, nil, &LineError{Method: name, Line: a.lineNo, Err: err}
		}
	}
	code, err := a.code.Finish()
	if err != nil {
		return nil, nil, fmt.Errorf("method %s: %w", name, err)
	}

	handlers := make([]verifier.Handler, len(md.Handlers))
	for i, hd := range md.Handlers {
		h, err := a.handler(hd)
		if err != nil {
			return nil, nil, fmt.Errorf("method %s: handler %d: %w", name, i, err)
		}
		handlers[i] = h
	}

	return &driver.Method{
		Name:      name,
		Signature: sig,
		Code:      code,
		Pool:      a.pool,
		Handlers:  handlers,
	}, a.lines, nil
}

func (a *assembler) label(name string) *bytecode.Label {
	l, ok := a.labels[name]
	if !ok {
		l = a.code.NewLabel(name)
		a.labels[name] = l
	}
	return l
}

func (a *assembler) position(name string) (int, error) {
	l, ok := a.labels[name]
	if !ok || !a.placed[name] {
		return 0, fmt.Errorf("unknown label %s", name)
	}
	pos, _ := l.Position()
	return pos, nil
}

func (a *assembler) handler(hd HandlerDecl) (verifier.Handler, error) {
	var h verifier.Handler
	var err error
	if h.Start, err = a.position(hd.Start); err != nil {
		return h, err
	}
	if h.End, err = a.position(hd.End); err != nil {
		return h, err
	}
	if h.Entry, err = a.position(hd.Entry); err != nil {
		return h, err
	}
	h.Catch = types.Object
	if hd.Catch != "" {
		if h.Catch, err = a.lookupType(hd.Catch); err != nil {
			return h, err
		}
	}
	return h, nil
}

// line assembles one source line: an optional "label:" followed by an
// optional instruction.
func (a *assembler) line(text string) error {
	text = strings.TrimSpace(stripComment(text))
	if text == "" {
		return nil
	}

	first, rest := cutField(text)
	if name, ok := strings.CutSuffix(first, ":"); ok {
		if name == "" {
			return fmt.Errorf("empty label")
		}
		if a.placed[name] {
			return fmt.Errorf("label %s defined twice", name)
		}
		a.placed[name] = true
		a.code.Mark(a.label(name))
		text = strings.TrimSpace(rest)
		if text == "" {
			return nil
		}
		first, rest = cutField(text)
	}

	op, ok := bytecode.Lookup(strings.ToUpper(first))
	if !ok {
		return fmt.Errorf("unknown instruction %s", first)
	}
	a.lines[a.code.Len()] = a.lineNo
	return a.instruction(op, strings.TrimSpace(rest))
}

func (a *assembler) instruction(op bytecode.Opcode, arg string) error {
	kind := op.Info().Operand
	if kind == bytecode.OperandNone {
		if arg != "" {
			return fmt.Errorf("%s takes no operand", op)
		}
		a.code.Emit(op)
		return nil
	}
	if arg == "" {
		return fmt.Errorf("%s needs an operand", op)
	}

	switch kind {
	case bytecode.OperandSlot:
		n, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return fmt.Errorf("%s: bad slot %q", op, arg)
		}
		a.code.EmitSlot(op, uint8(n))
	case bytecode.OperandInt8:
		n, err := strconv.ParseInt(arg, 0, 8)
		if err != nil {
			return fmt.Errorf("%s: bad 8-bit immediate %q", op, arg)
		}
		a.code.EmitInt8(op, int8(n))
	case bytecode.OperandInt32:
		n, err := strconv.ParseInt(arg, 0, 32)
		if err != nil {
			return fmt.Errorf("%s: bad 32-bit immediate %q", op, arg)
		}
		a.code.EmitInt32(op, int32(n))
	case bytecode.OperandInt64:
		n, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("%s: bad 64-bit immediate %q", op, arg)
		}
		a.code.EmitInt64(op, n)
	case bytecode.OperandDouble:
		x, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("%s: bad double %q", op, arg)
		}
		a.code.EmitFloat64(op, x)
	case bytecode.OperandBranch:
		if strings.ContainsAny(arg, " \t") {
			return fmt.Errorf("%s: bad label %q", op, arg)
		}
		a.code.EmitJump(op, a.label(arg))
	case bytecode.OperandPool:
		entry, err := a.resolve(op, arg)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		idx := a.intern(entry)
		if idx > 0xFFFF {
			return fmt.Errorf("%s: constant pool overflow", op)
		}
		a.code.EmitUint16(op, uint16(idx))
	default:
		return fmt.Errorf("%s: unsupported operand kind %d", op, kind)
	}
	return nil
}

// resolve maps a pool operand to the entry its opcode expects.
func (a *assembler) resolve(op bytecode.Opcode, arg string) (any, error) {
	switch op {
	case bytecode.OpNew, bytecode.OpNewArray, bytecode.OpCheckCast, bytecode.OpInstanceOf:
		return a.lookupType(arg)
	case bytecode.OpInit, bytecode.OpInvoke, bytecode.OpFindSlot, bytecode.OpInvokeSlot:
		m, ok := a.methods[arg]
		if !ok {
			return nil, fmt.Errorf("unknown method %s", arg)
		}
		return m, nil
	case bytecode.OpGetField, bytecode.OpPutField, bytecode.OpGetStatic, bytecode.OpPutStatic:
		f, ok := a.fields[arg]
		if !ok {
			return nil, fmt.Errorf("unknown field %s", arg)
		}
		return f, nil
	case bytecode.OpConstObject:
		text, err := strconv.Unquote(arg)
		if err != nil {
			return nil, fmt.Errorf("bad string literal %s", arg)
		}
		return a.literal(text)
	}
	return nil, fmt.Errorf("no pool operand form")
}

func (a *assembler) intern(entry any) int {
	if idx, ok := a.poolIdx[entry]; ok {
		return idx
	}
	idx := len(a.pool)
	a.pool = append(a.pool, entry)
	a.poolIdx[entry] = idx
	return idx
}

// cutField splits off the first whitespace-separated field.
func cutField(s string) (string, string) {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// stripComment removes a trailing ';' comment outside string literals.
func stripComment(line string) string {
	inQuote, escaped := false, false
	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case inQuote && r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case r == ';' && !inQuote:
			return line[:i]
		}
	}
	return line
}
