package types

import (
	"sync"
	"testing"
)

func TestNewHierarchySentinels(t *testing.T) {
	h := NewHierarchy()
	for _, s := range sentinels {
		got, ok := h.Lookup(s.Name)
		if !ok || got != s {
			t.Errorf("Lookup(%q) = %v, %v; want sentinel", s.Name, got, ok)
		}
	}
}

func TestDefineClassErrors(t *testing.T) {
	h := NewHierarchy()
	if _, err := h.DefineClass("Foo", "Missing"); err == nil {
		t.Error("unknown superclass should fail")
	}
	if _, err := h.DefineClass("Foo", "int"); err == nil {
		t.Error("primitive superclass should fail")
	}
	h.MustClass("Foo", "")
	if _, err := h.DefineClass("Foo", ""); err == nil {
		t.Error("duplicate definition should fail")
	}
	if _, err := h.DefineClass("Bar", "", "Foo"); err == nil {
		t.Error("implementing a class should fail")
	}
}

func TestDefaultSuperclassIsObject(t *testing.T) {
	h := NewHierarchy()
	foo := h.MustClass("Foo", "")
	if foo.Super != Object {
		t.Errorf("Foo.Super = %v, want Object", foo.Super)
	}
}

func TestNames(t *testing.T) {
	h := NewHierarchy()
	if _, err := h.DefineInterface("Named"); err != nil {
		t.Fatal(err)
	}
	h.MustClass("Foo", "")
	h.MustClass("Bar", "Foo", "Named")
	h.ArrayOf(Int)

	got := h.Names()
	want := []string{"Bar", "Foo", "Named"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestArrayOfIsUnique(t *testing.T) {
	h := NewHierarchy()
	foo := h.MustClass("Foo", "")

	var wg sync.WaitGroup
	results := make([]*Type, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.ArrayOf(foo)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r != results[0] {
			t.Fatalf("ArrayOf result %d differs", i)
		}
	}
	if results[0].Name != "Foo[]" || results[0].Elem != foo {
		t.Errorf("ArrayOf(Foo) = %+v", results[0])
	}

	nested, ok := h.Lookup("Foo[][]")
	if !ok || nested.Elem != results[0] {
		t.Errorf("Lookup(Foo[][]) = %v, %v", nested, ok)
	}
	if _, ok := h.Lookup("void[]"); ok {
		t.Error("void[] should not resolve")
	}
}

func TestMethodString(t *testing.T) {
	h := NewHierarchy()
	foo := h.MustClass("Foo", "")
	m := &Method{Owner: foo, Name: ConstructorName, Params: []*Type{Int, foo}, Return: Void}

	if !m.IsConstructor() {
		t.Error("<init> should be a constructor")
	}
	if got := m.String(); got != "Foo.<init>(int,Foo)void" {
		t.Errorf("String() = %q", got)
	}
}

func TestLiteralIdentity(t *testing.T) {
	h := NewHierarchy()
	str := h.MustClass("String", "")
	a := NewLiteral(str, "x")
	b := NewLiteral(str, "x")
	if a == b {
		t.Error("distinct literals must not be identical")
	}
	if a.Type() != str {
		t.Errorf("Type() = %v, want String", a.Type())
	}
}
