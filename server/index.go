package server

import (
	"strconv"
	"strings"

	"github.com/chazu/bcverify/types"
)

// section is one [[class]], [[interface]] or [[method]] table of a suite
// document. Lines are 0-based document lines.
type section struct {
	kind        string
	line        int
	class       string
	name        string
	constructor bool
	codeLine    int // document line of the first code line; -1 without code
}

// qualified returns Class.name for methods.
func (s *section) qualified() string {
	name := s.name
	if name == "" && s.constructor {
		name = types.ConstructorName
	}
	return s.class + "." + name
}

// index locates declarations in suite text without decoding it, so that
// errors and definitions can be mapped back to lines.
type index struct {
	sections []*section
}

func indexDocument(text string) *index {
	ix := &index{}
	var cur, iface *section
	closing := ""

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if closing != "" {
			if strings.Contains(line, closing) {
				closing = ""
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[[") {
			header := strings.TrimSpace(strings.Trim(line, "[]"))
			switch header {
			case "class", "interface", "method":
				cur = &section{kind: header, line: i, codeLine: -1}
				ix.sections = append(ix.sections, cur)
				if header == "interface" {
					iface = cur
				} else {
					iface = nil
				}
			case "interface.method":
				cur = &section{kind: "method", line: i, codeLine: -1}
				if iface != nil {
					cur.class = iface.name
				}
				ix.sections = append(ix.sections, cur)
			default:
				// class.field, method.handler: keys belong to the sub-table.
				cur = nil
			}
			continue
		}
		if cur == nil {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "name":
			cur.name = unquote(value)
		case "class":
			cur.class = unquote(value)
		case "constructor":
			cur.constructor = value == "true"
		case "code":
			cur.codeLine = i
			for _, delim := range []string{`"""`, `'''`} {
				if rest, ok := strings.CutPrefix(value, delim); ok {
					if rest == "" {
						cur.codeLine = i + 1
					}
					if !strings.Contains(rest, delim) {
						closing = delim
					}
					break
				}
			}
		}
	}
	return ix
}

func unquote(v string) string {
	if s, err := strconv.Unquote(v); err == nil {
		return s
	}
	return strings.Trim(v, `'"`)
}

// method finds the section of a method by its qualified name.
func (ix *index) method(name string) *section {
	for _, s := range ix.sections {
		if s.kind == "method" && s.qualified() == name {
			return s
		}
	}
	return nil
}

// typeDecl finds the section declaring a class or interface.
func (ix *index) typeDecl(name string) *section {
	for _, s := range ix.sections {
		if (s.kind == "class" || s.kind == "interface") && s.name == name {
			return s
		}
	}
	return nil
}

// codeLine maps a 1-based line of a method's code to a document line.
func (ix *index) codeLine(method string, line int) (int, bool) {
	s := ix.method(method)
	if s == nil {
		return 0, false
	}
	if s.codeLine < 0 || line < 1 {
		return s.line, true
	}
	return s.codeLine + line - 1, true
}
