package analysis

import (
	"github.com/juan-carlos/juancarlos/markup"
	lsp "go.lsp.dev/protocol"
)

// Pass is the state of a single analysis run. It is created for every
// document and discarded afterwards.
type Pass struct {
	// Source labels the document the diagnostics belong to.
	Source string

	index       *LineIndex
	seenIDs     map[string]struct{}
	diagnostics []lsp.Diagnostic
}

func newPass(source string, index *LineIndex) *Pass {
	return &Pass{
		Source:      source,
		index:       index,
		seenIDs:     map[string]struct{}{},
		diagnostics: []lsp.Diagnostic{},
	}
}

// Range maps a span of the document to editor coordinates.
func (p *Pass) Range(span markup.Span) lsp.Range {
	return p.index.Range(span)
}

func (p *Pass) Report(diag lsp.Diagnostic) {
	p.diagnostics = append(p.diagnostics, diag)
}

// MarkID records an id value and reports whether it had already been seen.
func (p *Pass) MarkID(value string) bool {
	_, seen := p.seenIDs[value]
	p.seenIDs[value] = struct{}{}
	return seen
}

func (p *Pass) Diagnostics() []lsp.Diagnostic {
	return p.diagnostics
}

type visitor struct {
	pass  *Pass
	rules []Rule
}

// visit runs every rule over the attributes under n in document order.
func (v *visitor) visit(n markup.Node) {
	markup.Walk(n, func(n markup.Node) bool {
		if attr, ok := n.(*markup.Attribute); ok {
			for _, rule := range v.rules {
				rule.CheckAttribute(v.pass, attr)
			}
		}
		return true
	})
}
