package types

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Hierarchy: named registry of types
// ---------------------------------------------------------------------------

// Hierarchy is a registry of named types. Classes and interfaces are defined
// up front by the loader; array types are created on demand. Once loading
// is done a Hierarchy may be shared between concurrent verifications.
type Hierarchy struct {
	mu     sync.RWMutex
	byName map[string]*Type
	arrays map[*Type]*Type
}

// NewHierarchy creates a hierarchy holding only the sentinel types.
func NewHierarchy() *Hierarchy {
	h := &Hierarchy{
		byName: make(map[string]*Type),
		arrays: make(map[*Type]*Type),
	}
	for _, t := range sentinels {
		h.byName[t.Name] = t
	}
	return h
}

// DefineClass registers a class extending super (Object if empty).
func (h *Hierarchy) DefineClass(name, super string, interfaces ...string) (*Type, error) {
	if super == "" {
		super = Object.Name
	}
	parent, ok := h.Lookup(super)
	if !ok {
		return nil, fmt.Errorf("class %s: unknown superclass %s", name, super)
	}
	if parent.Kind != KindClass {
		return nil, fmt.Errorf("class %s: superclass %s is a %s", name, super, parent.Kind)
	}
	return h.define(&Type{Name: name, Kind: KindClass, Super: parent}, interfaces)
}

// DefineInterface registers an interface extending the given interfaces.
func (h *Hierarchy) DefineInterface(name string, extends ...string) (*Type, error) {
	return h.define(&Type{Name: name, Kind: KindInterface, Super: Object}, extends)
}

func (h *Hierarchy) define(t *Type, interfaces []string) (*Type, error) {
	for _, name := range interfaces {
		iface, ok := h.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s %s: unknown interface %s", t.Kind, t.Name, name)
		}
		if !iface.IsInterface() {
			return nil, fmt.Errorf("%s %s: %s is not an interface", t.Kind, t.Name, name)
		}
		t.Interfaces = append(t.Interfaces, iface)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byName[t.Name]; exists {
		return nil, fmt.Errorf("type %s already defined", t.Name)
	}
	h.byName[t.Name] = t
	return t, nil
}

// MustClass is DefineClass for fixtures; it panics on error.
func (h *Hierarchy) MustClass(name, super string, interfaces ...string) *Type {
	t, err := h.DefineClass(name, super, interfaces...)
	if err != nil {
		panic(err)
	}
	return t
}

// ArrayOf returns the (unique) array type with the given element type.
func (h *Hierarchy) ArrayOf(elem *Type) *Type {
	h.mu.RLock()
	t, ok := h.arrays[elem]
	h.mu.RUnlock()
	if ok {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.arrays[elem]; ok {
		return t
	}
	t = &Type{Name: elem.Name + "[]", Kind: KindArray, Super: Object, Elem: elem}
	h.arrays[elem] = t
	return t
}

// Lookup finds a type by name. Names ending in "[]" denote arrays.
func (h *Hierarchy) Lookup(name string) (*Type, bool) {
	if elemName, ok := strings.CutSuffix(name, "[]"); ok {
		elem, ok := h.Lookup(elemName)
		if !ok || elem.Kind == KindVoid || elem.Kind == KindNone {
			return nil, false
		}
		return h.ArrayOf(elem), true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.byName[name]
	return t, ok
}

// Types returns the number of named types (sentinels included).
func (h *Hierarchy) Types() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byName)
}

// Names returns the names of the classes and interfaces defined by the
// loader, sorted. Sentinels and arrays are left out.
func (h *Hierarchy) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var names []string
	for name, t := range h.byName {
		if t.Kind == KindClass || t.Kind == KindInterface {
			if t != Object && t != Reference {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
