// Package suite loads verification suites: TOML files describing a class
// hierarchy and method bodies written in assembly text.
package suite

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/bcverify/driver"
	"github.com/chazu/bcverify/types"
	"github.com/chazu/bcverify/verifier"
)

var log = commonlog.GetLogger("bcverify.suite")

// ---------------------------------------------------------------------------
// File format
// ---------------------------------------------------------------------------

// File is the decoded form of a suite file.
type File struct {
	Classes    []ClassDecl     `toml:"class"`
	Interfaces []InterfaceDecl `toml:"interface"`
	Methods    []MethodDecl    `toml:"method"`
}

// ClassDecl declares a class. An empty Super means Object.
type ClassDecl struct {
	Name       string      `toml:"name"`
	Super      string      `toml:"super"`
	Interfaces []string    `toml:"interfaces"`
	Fields     []FieldDecl `toml:"field"`
}

// FieldDecl declares a field of the enclosing class.
type FieldDecl struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	Static bool   `toml:"static"`
}

// InterfaceDecl declares an interface and its methods.
type InterfaceDecl struct {
	Name    string       `toml:"name"`
	Extends []string     `toml:"extends"`
	Methods []MethodDecl `toml:"method"`
}

// MethodDecl declares a method. Methods without code are declarations
// only: they can be called but are not verified.
type MethodDecl struct {
	Class               string        `toml:"class"`
	Name                string        `toml:"name"`
	Params              []string      `toml:"params"`
	Locals              []string      `toml:"locals"`
	Returns             string        `toml:"returns"`
	Static              bool          `toml:"static"`
	Constructor         bool          `toml:"constructor"`
	AlreadyInitializing bool          `toml:"already-initializing"`
	Code                string        `toml:"code"`
	Handlers            []HandlerDecl `toml:"handler"`
	Expect              string        `toml:"expect"`
}

// HandlerDecl is an exception table entry given by label names.
type HandlerDecl struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
	Entry string `toml:"entry"`
	Catch string `toml:"catch"`
}

// ---------------------------------------------------------------------------
// Suite
// ---------------------------------------------------------------------------

// Suite is a loaded suite: the hierarchy and one unit per class holding the
// methods that have code.
type Suite struct {
	Path      string
	Hierarchy *types.Hierarchy
	Units     []*driver.Unit

	methods map[string]*driver.Method
	expect  map[string]string
	lines   map[string]map[int]int

	decls  map[string]*types.Method
	fields map[string]*types.Field
}

// Load reads and assembles a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	s, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// Parse decodes and assembles suite text.
func Parse(text string) (*Suite, error) {
	var f File
	md, err := toml.Decode(text, &f)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	return Build(&f)
}

// Build resolves a decoded suite.
func Build(f *File) (*Suite, error) {
	h := types.NewHierarchy()
	if err := defineTypes(h, f); err != nil {
		return nil, err
	}

	b := &builder{
		h:        h,
		methods:  make(map[string]*types.Method),
		fields:   make(map[string]*types.Field),
		literals: make(map[string]*types.Literal),
	}
	b.builtin(&types.Method{Owner: types.Object, Name: types.ConstructorName, Return: types.Void})

	if err := b.declareFields(f.Classes); err != nil {
		return nil, err
	}
	for _, iface := range f.Interfaces {
		for _, md := range iface.Methods {
			md.Class = iface.Name
			if _, err := b.declareMethod(md); err != nil {
				return nil, err
			}
		}
	}
	declared := make([]*types.Method, len(f.Methods))
	for i, md := range f.Methods {
		m, err := b.declareMethod(md)
		if err != nil {
			return nil, err
		}
		declared[i] = m
	}

	s := &Suite{
		Hierarchy: h,
		methods:   make(map[string]*driver.Method),
		expect:    make(map[string]string),
		lines:     make(map[string]map[int]int),
		decls:     b.methods,
		fields:    b.fields,
	}
	units := make(map[string]*driver.Unit)
	for i, md := range f.Methods {
		if strings.TrimSpace(md.Code) == "" {
			continue
		}
		m, lines, err := b.assembleMethod(declared[i], md)
		if err != nil {
			return nil, err
		}
		if _, dup := s.methods[m.Name]; dup {
			return nil, fmt.Errorf("method %s defined twice", m.Name)
		}
		expect, err := normalizeExpect(md.Expect)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name, err)
		}
		s.methods[m.Name] = m
		s.expect[m.Name] = expect
		s.lines[m.Name] = lines

		u, ok := units[md.Class]
		if !ok {
			u = &driver.Unit{Name: md.Class}
			units[md.Class] = u
			s.Units = append(s.Units, u)
		}
		u.Methods = append(u.Methods, m)
	}

	log.Debugf("suite: %d types, %d methods with code in %d units", h.Types(), len(s.methods), len(s.Units))
	return s, nil
}

// Method finds a method by its qualified name, Class.name.
func (s *Suite) Method(name string) (*driver.Method, bool) {
	m, ok := s.methods[name]
	return m, ok
}

// MethodNames returns the qualified names of all methods with code, sorted.
func (s *Suite) MethodNames() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceLine returns the code line, counted from 1, of the instruction at
// addr in the named method.
func (s *Suite) SourceLine(method string, addr int) (int, bool) {
	line, ok := s.lines[method][addr]
	return line, ok
}

// Declaration finds a declared method, with or without code.
func (s *Suite) Declaration(name string) (*types.Method, bool) {
	m, ok := s.decls[name]
	return m, ok
}

// Field finds a declared field by its qualified name.
func (s *Suite) Field(name string) (*types.Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Members returns the qualified names of all declared methods and fields,
// sorted.
func (s *Suite) Members() []string {
	names := make([]string, 0, len(s.decls)+len(s.fields))
	for name := range s.decls {
		names = append(names, name)
	}
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defineTypes registers interfaces, then classes, in dependency order.
func defineTypes(h *types.Hierarchy, f *File) error {
	pendingIfaces := append([]InterfaceDecl(nil), f.Interfaces...)
	for len(pendingIfaces) > 0 {
		var next []InterfaceDecl
		for _, d := range pendingIfaces {
			if !allDefined(h, d.Extends...) {
				next = append(next, d)
				continue
			}
			if _, err := h.DefineInterface(d.Name, d.Extends...); err != nil {
				return err
			}
		}
		if len(next) == len(pendingIfaces) {
			return fmt.Errorf("interface %s extends an unknown or cyclic interface", next[0].Name)
		}
		pendingIfaces = next
	}

	pending := append([]ClassDecl(nil), f.Classes...)
	for len(pending) > 0 {
		var next []ClassDecl
		for _, d := range pending {
			if d.Super != "" && !allDefined(h, d.Super) {
				next = append(next, d)
				continue
			}
			if _, err := h.DefineClass(d.Name, d.Super, d.Interfaces...); err != nil {
				return err
			}
		}
		if len(next) == len(pending) {
			return fmt.Errorf("class %s has an unknown or cyclic superclass %s", next[0].Name, next[0].Super)
		}
		pending = next
	}

	if _, ok := h.Lookup("String"); !ok {
		h.MustClass("String", "")
	}
	return nil
}

func allDefined(h *types.Hierarchy, names ...string) bool {
	for _, n := range names {
		if _, ok := h.Lookup(n); !ok {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Expectations
// ---------------------------------------------------------------------------

// Outcome names accepted in a method's expect key.
const (
	ExpectAccept         = "accept"
	ExpectNoConvergence  = "no-convergence"
	expectStructural     = "structural"
	expectType           = "type"
	expectInitialization = "initialization"
	expectAliasing       = "aliasing"
	expectInternal       = "internal"
)

var expectKinds = map[string]verifier.ErrorKind{
	expectStructural:     verifier.StructuralError,
	expectType:           verifier.TypeError,
	expectInitialization: verifier.InitializationError,
	expectAliasing:       verifier.AliasingError,
	expectInternal:       verifier.InternalError,
}

func normalizeExpect(e string) (string, error) {
	switch e {
	case "", ExpectAccept:
		return ExpectAccept, nil
	case ExpectNoConvergence:
		return e, nil
	}
	if _, ok := expectKinds[e]; ok {
		return e, nil
	}
	return "", fmt.Errorf("unknown expectation %q", e)
}

// Outcome names the outcome of a verification in the vocabulary of the
// expect key.
func Outcome(res driver.Result) string {
	if res.Err == nil {
		return ExpectAccept
	}
	if errors.Is(res.Err, driver.ErrNoConvergence) {
		return ExpectNoConvergence
	}
	kind := verifier.KindOf(res.Err)
	for name, k := range expectKinds {
		if k == kind {
			return name
		}
	}
	return "error"
}

// Expected returns the outcome a method is expected to have.
func (s *Suite) Expected(method string) string {
	if e, ok := s.expect[method]; ok {
		return e
	}
	return ExpectAccept
}

// Check compares a result against the method's expectation.
func (s *Suite) Check(res driver.Result) error {
	want := s.Expected(res.Method)
	if got := Outcome(res); got != want {
		if res.Err != nil {
			return fmt.Errorf("%s: expected %s, got %s: %w", res.Method, want, got, res.Err)
		}
		return fmt.Errorf("%s: expected %s, got %s", res.Method, want, got)
	}
	return nil
}
