package server

import (
	"os"
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/bcverify/driver"
)

func readSuite(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile("../suite/testdata/" + name)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newTestServer(t *testing.T) *LspServer {
	t.Helper()
	s, err := NewLSP(driver.Options{Workers: 2, CacheSize: -1})
	if err != nil {
		t.Fatalf("NewLSP: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"mnemonic", "    IF_E", protocol.Position{Line: 0, Character: 8}, "IF_E"},
		{"member", "    INIT Foo.", protocol.Position{Line: 0, Character: 13}, "Foo."},
		{"constructor", "    INIT Foo.<in", protocol.Position{Line: 0, Character: 16}, "Foo.<in"},
		{"array type", `locals = ["int[]`, protocol.Position{Line: 0, Character: 16}, "int[]"},
		{"multi-line", "first\nsecond\n    NE", protocol.Position{Line: 2, Character: 6}, "NE"},
		{"after space", "    NOP ", protocol.Position{Line: 0, Character: 8}, ""},
		{"empty", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"past end", "NOP", protocol.Position{Line: 5, Character: 0}, ""},
		{"column clamped", "NOP", protocol.Position{Line: 0, Character: 40}, "NOP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"middle of mnemonic", "    INVOKE_SLOT Named.name", protocol.Position{Line: 0, Character: 7}, "INVOKE_SLOT"},
		{"qualified member", "    INVOKE_SLOT Named.name", protocol.Position{Line: 0, Character: 20}, "Named.name"},
		{"constructor", "    INIT Foo.<init>", protocol.Position{Line: 0, Character: 10}, "Foo.<init>"},
		{"quoted type", `super = "Foo"`, protocol.Position{Line: 0, Character: 10}, "Foo"},
		{"whitespace", "    NOP", protocol.Position{Line: 0, Character: 1}, ""},
		{"past end", "NOP", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Document index
// ---------------------------------------------------------------------------

func TestIndexDocument(t *testing.T) {
	ix := indexDocument(readSuite(t, "basic.toml"))

	methods := []struct {
		name string
		line int
	}{
		{"Named.name", 5},
		{"Foo.<init>", 29},
		{"Bar.<init>", 39},
		{"Foo.make", 51},
		{"Foo.guarded", 134},
	}
	for _, m := range methods {
		sec := ix.method(m.name)
		if sec == nil {
			t.Errorf("method %s not indexed", m.name)
			continue
		}
		if sec.line != m.line {
			t.Errorf("method %s at line %d, want %d", m.name, sec.line, m.line)
		}
	}

	if sec := ix.typeDecl("Bar"); sec == nil || sec.line != 21 {
		t.Errorf("typeDecl(Bar) = %+v, want line 21", sec)
	}
	if sec := ix.typeDecl("Named"); sec == nil || sec.line != 2 {
		t.Errorf("typeDecl(Named) = %+v, want line 2", sec)
	}
	if ix.typeDecl("count") != nil {
		t.Error("field tables should not be indexed as types")
	}

	// Code line 1 is the line after the opening quotes.
	if line, ok := ix.codeLine("Foo.make", 1); !ok || line != 58 {
		t.Errorf("codeLine(Foo.make, 1) = %d, %v, want 58", line, ok)
	}
	if line, ok := ix.codeLine("Foo.make", 7); !ok || line != 64 {
		t.Errorf("codeLine(Foo.make, 7) = %d, %v, want 64", line, ok)
	}
	// Methods without code map to their header.
	if line, ok := ix.codeLine("Named.name", 1); !ok || line != 5 {
		t.Errorf("codeLine(Named.name, 1) = %d, %v, want 5", line, ok)
	}
	if _, ok := ix.codeLine("Foo.nope", 1); ok {
		t.Error("codeLine of an unknown method should fail")
	}
}

func TestIndexSingleLineCode(t *testing.T) {
	ix := indexDocument(readSuite(t, "rejects.toml"))
	if line, ok := ix.codeLine("Foo.fallsOff", 1); !ok || line != 38 {
		t.Errorf("codeLine(Foo.fallsOff, 1) = %d, %v, want 38", line, ok)
	}
	// The method after a single-line code string is still found.
	if sec := ix.method("Foo.aliased"); sec == nil || sec.line != 40 {
		t.Errorf("method(Foo.aliased) = %+v, want line 40", sec)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestAnalyzeClean(t *testing.T) {
	s := newTestServer(t)
	for _, name := range []string{"basic.toml", "rejects.toml"} {
		doc := s.analyze(readSuite(t, name))
		if doc.suite == nil {
			t.Fatalf("%s did not load", name)
		}
		if len(doc.diagnostics) != 0 {
			t.Errorf("%s: unexpected diagnostics: %+v", name, doc.diagnostics)
		}
	}
}

func TestAnalyzeUnexpectedRejection(t *testing.T) {
	text := strings.Replace(readSuite(t, "rejects.toml"), "expect = \"type\"\n", "", 1)
	doc := newTestServer(t).analyze(text)

	if len(doc.diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v, want one", doc.diagnostics)
	}
	d := doc.diagnostics[0]
	if !strings.Contains(d.Message, "Foo.intIntoRef") {
		t.Errorf("message %q should name the method", d.Message)
	}
	if got := strings.TrimSpace(doc.lines[d.Range.Start.Line]); got != "STORE 1" {
		t.Errorf("diagnostic on %q, want the rejected instruction", got)
	}
	if *d.Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v", *d.Severity)
	}
}

func TestAnalyzeLoadErrors(t *testing.T) {
	const badInstruction = `[[class]]
name = "Foo"

[[method]]
class = "Foo"
name = "m"
static = true
code = """
    NOP
    FROB
"""
`
	doc := newTestServer(t).analyze(badInstruction)
	if doc.suite != nil {
		t.Fatal("suite with an unknown instruction should not load")
	}
	if len(doc.diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v, want one", doc.diagnostics)
	}
	if line := doc.diagnostics[0].Range.Start.Line; line != 9 {
		t.Errorf("diagnostic on line %d, want 9", line)
	}

	doc = newTestServer(t).analyze("[[class]]\nname = \n")
	if len(doc.diagnostics) != 1 || !strings.Contains(doc.diagnostics[0].Message, "parse error") {
		t.Errorf("diagnostics = %+v, want one parse error", doc.diagnostics)
	}
}

// ---------------------------------------------------------------------------
// Hover, definition and completion
// ---------------------------------------------------------------------------

func hoverText(t *testing.T, doc *document, word string) string {
	t.Helper()
	h := doc.hover(word)
	if h == nil {
		return ""
	}
	content, ok := h.Contents.(protocol.MarkupContent)
	if !ok {
		t.Fatalf("hover contents have type %T", h.Contents)
	}
	return content.Value
}

func TestHover(t *testing.T) {
	doc := newTestServer(t).analyze(readSuite(t, "basic.toml"))

	tests := []struct {
		word string
		want []string
	}{
		{"INIT", []string{"**INIT**", "pool index", "2 bytes"}},
		{"RETURN", []string{"**RETURN**", "No operand"}},
		{"Bar", []string{"class", "Implements: Named", "Bar < Foo < Object"}},
		{"Named", []string{"interface"}},
		{"Foo.count", []string{"int"}},
		{"Foo.instances", []string{"(static)"}},
		{"Foo.make", []string{"Foo.make()Object", "Verified: accept"}},
		{"Foo.loop", []string{"after 2 passes"}},
	}
	for _, tt := range tests {
		got := hoverText(t, doc, tt.word)
		for _, want := range tt.want {
			if !strings.Contains(got, want) {
				t.Errorf("hover(%s) = %q, missing %q", tt.word, got, want)
			}
		}
	}

	if doc.hover("nothing") != nil {
		t.Error("hover of an unknown word should be nil")
	}
}

func TestHoverWithoutSuite(t *testing.T) {
	doc := newTestServer(t).analyze("not toml ===")
	if hoverText(t, doc, "NOP") == "" {
		t.Error("opcodes should hover even when the document does not load")
	}
	if doc.hover("Foo") != nil {
		t.Error("types cannot hover without a suite")
	}
}

func TestDefinition(t *testing.T) {
	doc := newTestServer(t).analyze(readSuite(t, "basic.toml"))
	uri := protocol.DocumentUri("file:///basic.toml")

	tests := []struct {
		word string
		line protocol.UInteger
	}{
		{"Bar", 21},
		{"Exception", 26},
		{"Foo.loop", 69},
		{"Foo.<init>", 29},
	}
	for _, tt := range tests {
		loc := doc.definition(uri, tt.word)
		if loc == nil {
			t.Errorf("definition(%s) = nil", tt.word)
			continue
		}
		if loc.URI != uri || loc.Range.Start.Line != tt.line {
			t.Errorf("definition(%s) = %s:%d, want line %d", tt.word, loc.URI, loc.Range.Start.Line, tt.line)
		}
	}
	if doc.definition(uri, "NOP") != nil {
		t.Error("opcodes have no definition")
	}
}

func labels(items []protocol.CompletionItem) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it.Label] = true
	}
	return out
}

func TestComplete(t *testing.T) {
	doc := newTestServer(t).analyze(readSuite(t, "basic.toml"))

	got := labels(doc.complete("if_"))
	if !got["IF_EQZ"] {
		t.Errorf("complete(if_) = %v, want IF_EQZ", got)
	}

	got = labels(doc.complete("Foo."))
	for _, want := range []string{"Foo.count", "Foo.instances", "Foo.make", "Foo.<init>"} {
		if !got[want] {
			t.Errorf("complete(Foo.) missing %s", want)
		}
	}
	if got["Bar.<init>"] {
		t.Error("complete(Foo.) should only list Foo members")
	}

	got = labels(doc.complete("Ba"))
	if !got["Bar"] {
		t.Errorf("complete(Ba) = %v, want Bar", got)
	}

	if items := doc.complete("ZZZ"); len(items) != 0 {
		t.Errorf("complete(ZZZ) = %v, want none", labels(items))
	}
}
