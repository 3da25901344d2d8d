// Package analysis runs the lint rules over a parsed HTML document and turns
// rule findings, recovered syntax errors and fatal parse failures into LSP
// diagnostics.
package analysis

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/markup"
	lsp "go.lsp.dev/protocol"
)

// Parser produces a markup tree. A non-nil error means no tree could be
// built; if it wraps a *markup.ParseError its span locates the failure.
type Parser interface {
	Parse(text string) (*markup.Document, []*markup.ParseError, error)
}

// Analyzer is immutable once built and safe to share between goroutines.
type Analyzer struct {
	parser Parser
	rules  []Rule
}

type Option func(*Analyzer)

func WithParser(p Parser) Option {
	return func(a *Analyzer) {
		a.parser = p
	}
}

// WithRules replaces the built-in rule set. Rules run in the given order
// for every attribute.
func WithRules(rules ...Rule) Option {
	return func(a *Analyzer) {
		a.rules = append([]Rule(nil), rules...)
	}
}

func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		parser: markup.NewParser(),
		rules:  DefaultRules(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var defaultAnalyzer = New()

// Analyze lints text with the built-in rules and default parser settings.
func Analyze(source, text string) []lsp.Diagnostic {
	return defaultAnalyzer.Analyze(source, text)
}

func (a *Analyzer) Rules() []Rule {
	return append([]Rule(nil), a.rules...)
}

// Result is the outcome of a single run.
type Result struct {
	Diagnostics []lsp.Diagnostic
	// Fatal is set when the document could not be parsed at all. Diagnostics
	// then holds exactly one entry describing the failure.
	Fatal       bool
	RuleCount   int
	SyntaxCount int
}

func (a *Analyzer) Analyze(source, text string) []lsp.Diagnostic {
	return a.Run(source, text).Diagnostics
}

// Run parses text, applies the rules and returns rule diagnostics in
// document order followed by syntax error diagnostics in parser order.
func (a *Analyzer) Run(source, text string) Result {
	index := NewLineIndex(text)

	doc, syntaxErrors, err := a.parse(text)
	if err != nil {
		return Result{
			Diagnostics: []lsp.Diagnostic{errorDiagnostic(index, err)},
			Fatal:       true,
		}
	}

	pass := newPass(source, index)
	if doc != nil {
		v := &visitor{pass: pass, rules: a.rules}
		v.visit(doc)
	}

	result := Result{
		Diagnostics: pass.Diagnostics(),
		RuleCount:   len(pass.Diagnostics()),
	}

	for _, syntaxErr := range syntaxErrors {
		if syntaxErr == nil {
			continue
		}
		result.Diagnostics = append(result.Diagnostics, errorDiagnostic(index, syntaxErr))
		result.SyntaxCount++
	}

	return result
}

func (a *Analyzer) parse(text string) (doc *markup.Document, syntaxErrors []*markup.ParseError, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, syntaxErrors = nil, nil
			err = errors.Newf("internal parser error: %v", r)
		}
	}()

	return a.parser.Parse(text)
}

// errorDiagnostic locates err with its *markup.ParseError span if it has
// one and falls back to the empty range at the start of the document.
func errorDiagnostic(index *LineIndex, err error) lsp.Diagnostic {
	span := markup.Span{}
	message := err.Error()

	var pErr *markup.ParseError
	if errors.As(err, &pErr) {
		span = pErr.Span
		message = pErr.Message
	}

	if len(message) == 0 {
		message = fmt.Sprintf("syntax error at offset %d", span.Start)
	}

	return lsp.Diagnostic{
		Range:   index.Range(span),
		Message: message,
	}
}
