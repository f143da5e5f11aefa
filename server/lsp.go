// Package server is a language server for suite files. It reports load
// errors and unexpected verification outcomes as diagnostics and answers
// hover, completion and definition requests from the loaded suite.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/bcverify/bytecode"
	"github.com/chazu/bcverify/driver"
	"github.com/chazu/bcverify/suite"
	"github.com/chazu/bcverify/types"
	"github.com/chazu/bcverify/verifier"
)

const lspName = "bcverify-lsp"

var log = commonlog.GetLogger("bcverify.server")

// LspServer verifies suite documents as they are edited.
type LspServer struct {
	verifier *driver.Verifier

	mu   sync.Mutex
	docs map[protocol.DocumentUri]*document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// document is the analysis of one open suite file.
type document struct {
	text        string
	lines       []string
	index       *index
	suite       *suite.Suite // nil while the text does not load
	outcomes    map[string]driver.Result
	diagnostics []protocol.Diagnostic
}

// NewLSP creates a language server verifying with the given options. Units
// are always verified to the end so every method gets a diagnostic.
func NewLSP(opts driver.Options) (*LspServer, error) {
	opts.RejectUnit = false
	v, err := driver.New(opts)
	if err != nil {
		return nil, err
	}
	s := &LspServer{
		verifier: v,
		docs:     make(map[protocol.DocumentUri]*document),
		version:  "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s, nil
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initializing", "server", lspName, "version", s.version)

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	doc := s.analyze(text)

	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: doc.diagnostics,
	})
}

func (s *LspServer) document(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[uri]
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return doc.complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return doc.hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc := s.document(uri)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	if loc := doc.definition(uri, word); loc != nil {
		return []protocol.Location{*loc}, nil
	}
	return nil, nil
}

// --- Analysis ---

// analyze loads and verifies a suite document.
func (s *LspServer) analyze(text string) *document {
	doc := &document{
		text:     text,
		lines:    strings.Split(text, "\n"),
		index:    indexDocument(text),
		outcomes: make(map[string]driver.Result),
	}

	st, err := suite.Parse(text)
	if err != nil {
		doc.report(doc.errorLine(err), protocol.DiagnosticSeverityError, err.Error())
		return doc
	}
	doc.suite = st

	for _, u := range st.Units {
		report, err := s.verifier.VerifyUnit(context.Background(), u)
		if err != nil {
			log.Warningf("unit %s: %s", u.Name, err)
		}
		for _, res := range report.Results {
			doc.outcomes[res.Method] = res
			if err := st.Check(res); err != nil {
				doc.report(doc.resultLine(res), protocol.DiagnosticSeverityError, err.Error())
			}
		}
	}
	log.Debugf("analyzed document: %d methods, %d diagnostics", len(doc.outcomes), len(doc.diagnostics))
	return doc
}

// errorLine finds the document line a load error refers to.
func (d *document) errorLine(err error) int {
	var perr toml.ParseError
	if errors.As(err, &perr) && perr.Position.Line > 0 {
		return perr.Position.Line - 1
	}
	var lerr *suite.LineError
	if errors.As(err, &lerr) {
		if line, ok := d.index.codeLine(lerr.Method, lerr.Line); ok {
			return line
		}
	}
	return 0
}

// resultLine finds the document line of the instruction a verification
// result refers to, or of the method header.
func (d *document) resultLine(res driver.Result) int {
	var verr *verifier.Error
	if errors.As(res.Err, &verr) {
		if line, ok := d.suite.SourceLine(res.Method, verr.Address); ok {
			if doc, ok := d.index.codeLine(res.Method, line); ok {
				return doc
			}
		}
	}
	if sec := d.index.method(res.Method); sec != nil {
		return sec.line
	}
	return 0
}

func (d *document) report(line int, severity protocol.DiagnosticSeverity, msg string) {
	source := lspName
	d.diagnostics = append(d.diagnostics, protocol.Diagnostic{
		Range:    d.lineRange(line),
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	})
}

func (d *document) lineRange(line int) protocol.Range {
	end := 0
	if line >= 0 && line < len(d.lines) {
		end = len(d.lines[line])
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
	}
}

func (d *document) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	if d.suite != nil && strings.Contains(prefix, ".") {
		for _, name := range d.suite.Members() {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			if m, ok := d.suite.Declaration(name); ok {
				add(name, protocol.CompletionItemKindMethod, m.String())
			} else if f, ok := d.suite.Field(name); ok {
				add(name, protocol.CompletionItemKindField, f.Type.String())
			}
		}
		return items
	}

	upper := strings.ToUpper(prefix)
	for _, name := range bytecode.Mnemonics() {
		if strings.HasPrefix(name, upper) {
			op, _ := bytecode.Lookup(name)
			add(name, protocol.CompletionItemKindKeyword, op.Info().Operand.String())
		}
	}
	if d.suite != nil {
		for _, name := range d.suite.Hierarchy.Names() {
			if strings.HasPrefix(name, prefix) {
				t, _ := d.suite.Hierarchy.Lookup(name)
				kind := protocol.CompletionItemKindClass
				if t.IsInterface() {
					kind = protocol.CompletionItemKindInterface
				}
				add(name, kind, t.Kind.String())
			}
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (d *document) hover(word string) *protocol.Hover {
	var b strings.Builder
	switch {
	case d.hoverOpcode(&b, word):
	case d.suite == nil:
		return nil
	case d.hoverType(&b, word):
	case d.hoverMember(&b, word):
	default:
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func (d *document) hoverOpcode(b *strings.Builder, word string) bool {
	op, ok := bytecode.Lookup(word)
	if !ok {
		return false
	}
	info := op.Info()
	fmt.Fprintf(b, "**%s** `0x%02X`\n\n", info.Name, byte(op))
	if info.Operand == bytecode.OperandNone {
		b.WriteString("No operand")
	} else {
		fmt.Fprintf(b, "Operand: %s (%d bytes)", info.Operand, info.OperandBytes())
	}
	return true
}

func (d *document) hoverType(b *strings.Builder, word string) bool {
	t, ok := d.suite.Hierarchy.Lookup(word)
	if !ok || (t.Kind != types.KindClass && t.Kind != types.KindInterface) {
		return false
	}
	fmt.Fprintf(b, "**%s** %s", t.Kind, t.Name)
	if len(t.Interfaces) > 0 {
		names := make([]string, len(t.Interfaces))
		for i, iface := range t.Interfaces {
			names[i] = iface.Name
		}
		fmt.Fprintf(b, "\n\nImplements: %s", strings.Join(names, ", "))
	}
	if t.Kind == types.KindClass {
		chain := []string{t.Name}
		for sup := t.Superclass(); sup != nil && sup != types.Reference; sup = sup.Superclass() {
			chain = append(chain, sup.Name)
		}
		fmt.Fprintf(b, "\n\n**Hierarchy:** %s", strings.Join(chain, " < "))
	}
	return true
}

func (d *document) hoverMember(b *strings.Builder, word string) bool {
	if f, ok := d.suite.Field(word); ok {
		fmt.Fprintf(b, "**%s** %s", word, f.Type)
		if f.Static {
			b.WriteString(" (static)")
		}
		return true
	}
	m, ok := d.suite.Declaration(word)
	if !ok {
		return false
	}
	fmt.Fprintf(b, "**%s**", m)
	if m.Static {
		b.WriteString(" (static)")
	}
	if res, ok := d.outcomes[word]; ok {
		fmt.Fprintf(b, "\n\nVerified: %s", suite.Outcome(res))
		if res.Passes > 0 {
			fmt.Fprintf(b, " after %d passes", res.Passes)
		}
	}
	return true
}

func (d *document) definition(uri protocol.DocumentUri, word string) *protocol.Location {
	sec := d.index.typeDecl(word)
	if sec == nil {
		sec = d.index.method(word)
	}
	if sec == nil {
		return nil
	}
	return &protocol.Location{URI: uri, Range: d.lineRange(sec.line)}
}

// --- Text extraction helpers ---

// isWordChar accepts the characters of type names, Class.member references
// and constructor names.
func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || strings.ContainsRune("_.<>[]", ch)
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
