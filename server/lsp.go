// Package server provides a language server for rvm assembly listings.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/rvm/compiler"
	"github.com/chazu/rvm/vm"
	"github.com/chazu/rvm/vm/object"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "rvm-lsp"

// LspServer answers editor requests for .rvm listings. Every request works
// from the last full text the client sent.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	builtins []string

	handler protocol.Handler
	server  *glspserver.Server
	version string
	log     commonlog.Logger
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:     make(map[string]string),
		builtins: object.Builtins().Keys(),
		version:  "0.1.0",
		log:      commonlog.GetLogger("rvm.lsp"),
	}
	sort.Strings(s.builtins)

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
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("rvm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", "@"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

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
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			text := whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) text(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.text(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.text(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.text(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	if locs := s.definition(uri, text, word); len(locs) > 0 {
		return locs, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.text(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.references(uri, text, word), nil
}

// --- Listing-backed logic ---

// directiveDocs documents each assembler directive.
var directiveDocs = map[string]string{
	".code":      "`.code name params...` starts a nested code unit, closed by `.end`.",
	".end":       "`.end` closes the innermost `.code` unit.",
	".arg":       "`.arg names...` declares more parameters. Must precede `.local`.",
	".local":     "`.local names...` declares locals up front, fixing their slot order.",
	".cell":      "`.cell names...` declares cell variables shared with closures.",
	".free":      "`.free names...` declares free variables captured from the enclosing unit.",
	".name":      "`.name names...` pre-populates the name pool.",
	".const":     "`.const values...` pre-populates the constant pool.",
	".line":      "`.line n` sets the source line of the following instructions.",
	".generator": "`.generator` marks the unit as generator code.",
}

// outline is the parse of one document: its units, label definitions and
// references.
type outline struct {
	units  map[string]*compiler.Unit
	labels map[string][]compiler.Position // label → definition sites
	uses   map[string][]compiler.Position // label or @unit → use sites
}

func parseOutline(text string) *outline {
	o := &outline{
		units:  make(map[string]*compiler.Unit),
		labels: make(map[string][]compiler.Position),
		uses:   make(map[string][]compiler.Position),
	}
	p := compiler.NewParser(text, "")
	o.walk(p.ParseProgram())
	return o
}

func (o *outline) walk(u *compiler.Unit) {
	for _, c := range u.Children {
		o.units[c.Name] = c
		o.walk(c)
	}
	for _, in := range u.Body {
		if in.Label != "" {
			o.labels[in.Label] = append(o.labels[in.Label], in.Pos)
			continue
		}
		jump := in.Op.Info().Jump != vm.JumpNone
		for _, opnd := range in.Operands {
			if opnd.Kind != compiler.OperandToken {
				continue
			}
			switch {
			case opnd.Tok.Type == compiler.TokenCodeRef:
				o.uses["@"+opnd.Tok.Literal] = append(o.uses["@"+opnd.Tok.Literal], opnd.Tok.Pos)
			case jump && opnd.Tok.Type == compiler.TokenIdentifier:
				o.uses[opnd.Tok.Literal] = append(o.uses[opnd.Tok.Literal], opnd.Tok.Pos)
			}
		}
	}
}

func (s *LspServer) complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if !strings.HasPrefix(strings.ToLower(label), strings.ToLower(prefix)) {
			return
		}
		k, d, insert := kind, detail, label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &k,
			Detail:     &d,
			InsertText: &insert,
		})
	}

	switch {
	case strings.HasPrefix(prefix, "."):
		names := make([]string, 0, len(directiveDocs))
		for name := range directiveDocs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			add(name, "directive", protocol.CompletionItemKindKeyword)
		}

	case strings.HasPrefix(prefix, "@"):
		o := parseOutline(text)
		for _, name := range sortedKeys(o.units) {
			add("@"+name, "code unit", protocol.CompletionItemKindModule)
		}

	default:
		for _, op := range vm.AllOpcodes() {
			if op == vm.OpExtendedArg {
				continue
			}
			add(op.String(), "instruction", protocol.CompletionItemKindFunction)
		}
		o := parseOutline(text)
		for _, name := range sortedKeys(o.labels) {
			add(name, "label", protocol.CompletionItemKindReference)
		}
		for _, kind := range vm.BuiltinKinds() {
			add(kind.Name, "exception kind", protocol.CompletionItemKindClass)
		}
		for _, name := range s.builtins {
			add(name, "builtin", protocol.CompletionItemKindVariable)
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func (s *LspServer) hover(text, word string) *protocol.Hover {
	var b strings.Builder

	if doc, ok := directiveDocs[word]; ok {
		b.WriteString(doc)
		return markdown(b.String())
	}

	if op, ok := vm.LookupOpcode(word); ok {
		fmt.Fprintf(&b, "**%s** (opcode %d)\n\n", op, uint8(op))
		form := "stack form"
		if op.IsRegister() {
			form = "register form"
		}
		b.WriteString(form)
		switch op.Info().Jump {
		case vm.JumpRelative:
			b.WriteString(", relative jump")
		case vm.JumpAbsolute:
			b.WriteString(", absolute jump")
		}
		if shape := compiler.OperandShape(op); shape != "" {
			fmt.Fprintf(&b, "\n\nOperands: %s", shape)
		}
		if !op.HasArg() {
			fmt.Fprintf(&b, "\n\nStack effect: %+d", vm.StackEffect(op, 0, false))
		}
		return markdown(b.String())
	}

	for _, kind := range vm.BuiltinKinds() {
		if kind.Name != word {
			continue
		}
		fmt.Fprintf(&b, "**%s** exception kind", kind.Name)
		if kind.Base != nil {
			var chain []string
			for k := kind.Base; k != nil; k = k.Base {
				chain = append(chain, k.Name)
			}
			fmt.Fprintf(&b, "\n\n**Hierarchy:** %s", strings.Join(chain, " → "))
		}
		return markdown(b.String())
	}

	o := parseOutline(text)
	if u, ok := o.units[strings.TrimPrefix(word, "@")]; ok {
		fmt.Fprintf(&b, "**.code %s**(%s)", u.Name, strings.Join(u.Params, ", "))
		if u.Generator {
			b.WriteString(" generator")
		}
		fmt.Fprintf(&b, "\n\nDefined on line %d", u.Pos.Line)
		return markdown(b.String())
	}
	if defs, ok := o.labels[word]; ok {
		fmt.Fprintf(&b, "**%s:** label on line %d, %d use(s)", word, defs[0].Line, len(o.uses[word]))
		return markdown(b.String())
	}
	return nil
}

func (s *LspServer) definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	o := parseOutline(text)
	if u, ok := o.units[strings.TrimPrefix(word, "@")]; ok {
		return []protocol.Location{location(uri, u.Pos, len(".code"))}
	}
	var locs []protocol.Location
	for _, pos := range o.labels[word] {
		locs = append(locs, location(uri, pos, len(word)))
	}
	return locs
}

func (s *LspServer) references(uri protocol.DocumentUri, text, word string) []protocol.Location {
	o := parseOutline(text)
	if _, ok := o.labels[word]; !ok {
		if _, ok := o.units[strings.TrimPrefix(word, "@")]; !ok || !strings.HasPrefix(word, "@") {
			return nil
		}
	}
	var locs []protocol.Location
	for _, pos := range o.uses[word] {
		locs = append(locs, location(uri, pos, len(word)))
	}
	return locs
}

// --- Diagnostics ---

// diagnose assembles text and reports every error at its position.
func (s *LspServer) diagnose(filename, text string) []protocol.Diagnostic {
	_, err := compiler.Assemble(text, filename)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	var diagnostics []protocol.Diagnostic
	for _, e := range errs {
		pos := compiler.Position{Line: 1, Column: 1}
		msg := e.Error()
		var ae *compiler.Error
		if errors.As(e, &ae) {
			pos, msg = ae.Pos, ae.Msg
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    lspRange(pos, 0),
			Severity: &severity,
			Source:   &source,
			Message:  msg,
		})
	}
	return diagnostics
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.diagnose(string(uri), text)
	s.log.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion,
// including a leading '.' or '@'.
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
	if start > 0 && (line[start-1] == '.' || line[start-1] == '@') {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor, including a
// leading '.' or '@'.
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

	// Find start
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}
	if start > 0 && (line[start-1] == '.' || line[start-1] == '@') {
		start--
	}

	return line[start:end]
}

// lspRange converts a 1-based listing position into a 0-based range of n
// characters.
func lspRange(pos compiler.Position, n int) protocol.Range {
	line := protocol.UInteger(max(pos.Line-1, 0))
	col := protocol.UInteger(max(pos.Column-1, 0))
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: col},
		End:   protocol.Position{Line: line, Character: col + protocol.UInteger(n)},
	}
}

func location(uri protocol.DocumentUri, pos compiler.Position, n int) protocol.Location {
	return protocol.Location{URI: uri, Range: lspRange(pos, n)}
}

func markdown(s string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: s,
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolPtr(b bool) *bool {
	return &b
}
