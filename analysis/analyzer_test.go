package analysis

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/juan-carlos/juancarlos/markup"
	lsp "go.lsp.dev/protocol"
)

const testSource = "index.html"

func strPtr(s string) *string {
	return &s
}

func lspRange(startLine, startChar, endLine, endChar uint32) lsp.Range {
	return lsp.Range{
		Start: lsp.Position{Line: startLine, Character: startChar},
		End:   lsp.Position{Line: endLine, Character: endChar},
	}
}

// stubParser returns a fixed tree, or fails with err.
type stubParser struct {
	doc    *markup.Document
	errs   []*markup.ParseError
	err    error
	panics bool
}

func (p *stubParser) Parse(text string) (*markup.Document, []*markup.ParseError, error) {
	if p.panics {
		panic("boom")
	}
	return p.doc, p.errs, p.err
}

func TestAnalyze_DuplicateID(t *testing.T) {
	diags := Analyze(testSource, `<div id="x"></div><div id="x"></div>`)

	expected := []lsp.Diagnostic{
		{
			Range:   lspRange(0, 23, 0, 29),
			Message: `duplicate id "x"`,
		},
	}

	if diff := cmp.Diff(expected, diags); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_ClassAttribute(t *testing.T) {
	diags := Analyze(testSource, `<button class="a b"/>`)

	expected := []lsp.Diagnostic{
		{
			Range:    lspRange(0, 8, 0, 19),
			Severity: lsp.DiagnosticSeverityError,
			Code:     ClassAttributeCode,
			Source:   testSource,
			Message:  DefaultClassAttributeMessage,
		},
	}

	if diff := cmp.Diff(expected, diags); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_AttributeNamesIgnoreCase(t *testing.T) {
	diags := Analyze(testSource, `<button CLASS="a"/><div ID="x"></div><div id="x"></div>`)

	expected := []lsp.Diagnostic{
		{
			Range:    lspRange(0, 8, 0, 17),
			Severity: lsp.DiagnosticSeverityError,
			Code:     ClassAttributeCode,
			Source:   testSource,
			Message:  DefaultClassAttributeMessage,
		},
		{
			Range:   lspRange(0, 42, 0, 48),
			Message: `duplicate id "x"`,
		},
	}

	if diff := cmp.Diff(expected, diags); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_DuplicateIDWithCharacterReference(t *testing.T) {
	diags := Analyze(testSource, `<div id="a&amp;b"></div><div id="a&b"></div>`)

	expected := []lsp.Diagnostic{
		{
			Range:   lspRange(0, 29, 0, 37),
			Message: `duplicate id "a&b"`,
		},
	}

	if diff := cmp.Diff(expected, diags); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_NestedDistinctIDs(t *testing.T) {
	diags := Analyze(testSource, `<div id="x"><div id="y"></div></div>`)
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
}

func TestAnalyze_EmptyDocument(t *testing.T) {
	diags := Analyze(testSource, "")
	if diags == nil || len(diags) != 0 {
		t.Errorf("expected an empty, non-nil list, got %#v", diags)
	}
}

func TestAnalyze_UnparseableDocument(t *testing.T) {
	result := New().Run(testSource, "<div>\n  <p>\xff</p>\n</div>")

	if !result.Fatal {
		t.Fatal("expected a fatal result")
	}

	expected := []lsp.Diagnostic{
		{
			Range:   lspRange(1, 5, 1, 6),
			Message: "document is not valid UTF-8",
		},
	}

	if diff := cmp.Diff(expected, result.Diagnostics); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_MultilineRanges(t *testing.T) {
	text := "<ul>\n  <li id=\"a\"></li>\n  <li id=\"a\" class=\"x\"></li>\n</ul>"
	diags := Analyze(testSource, text)

	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d: %v", len(diags), diags)
	}

	// attributes of the same element are visited in source order
	if diags[0].Message != `duplicate id "a"` {
		t.Errorf("expected duplicate id first, got %q", diags[0].Message)
	}

	if diff := cmp.Diff(lspRange(2, 6, 2, 12), diags[0].Range); diff != "" {
		t.Errorf("duplicate id range mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(lspRange(2, 13, 2, 22), diags[1].Range); diff != "" {
		t.Errorf("class range mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_EveryLaterDuplicateIsReported(t *testing.T) {
	doc := &markup.Document{Children: []markup.Node{
		&markup.Element{Name: "a", Attributes: []*markup.Attribute{
			{Span: markup.Span{Start: 0, End: 1}, Name: "id", Value: strPtr("v")},
		}},
		&markup.Element{Name: "b", Attributes: []*markup.Attribute{
			{Span: markup.Span{Start: 1, End: 2}, Name: "id", Value: strPtr("w")},
			// no value, never counted
			{Span: markup.Span{Start: 2, End: 3}, Name: "id"},
		}},
		&markup.Invalid{Children: []markup.Node{
			&markup.Element{Name: "c", Attributes: []*markup.Attribute{
				{Span: markup.Span{Start: 3, End: 4}, Name: "id", Value: strPtr("v")},
				{Span: markup.Span{Start: 4, End: 5}, Name: "id"},
			}},
		}},
		&markup.Element{Name: "d", Attributes: []*markup.Attribute{
			{Span: markup.Span{Start: 5, End: 6}, Name: "id", Value: strPtr("v")},
			{Span: markup.Span{Start: 6, End: 7}, Name: "id", Value: strPtr("")},
			{Span: markup.Span{Start: 7, End: 8}, Name: "id", Value: strPtr("")},
		}},
	}}

	a := New(WithParser(&stubParser{doc: doc}))
	diags := a.Analyze(testSource, "0123456789")

	var got []string
	for _, d := range diags {
		got = append(got, fmt.Sprintf("%d:%s", d.Range.Start.Character, d.Message))
	}

	expected := []string{
		`3:duplicate id "v"`,
		`5:duplicate id "v"`,
		`7:duplicate id ""`,
	}

	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("duplicates mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ClassOnEveryAttributeNamedClass(t *testing.T) {
	doc := &markup.Document{Children: []markup.Node{
		&markup.Element{Name: "div", Attributes: []*markup.Attribute{
			{Span: markup.Span{Start: 0, End: 5}, Name: "class"},
			{Span: markup.Span{Start: 6, End: 11}, Name: "Class", Value: strPtr("x")},
			{Span: markup.Span{Start: 12, End: 19}, Name: "classes", Value: strPtr("x")},
		}, Children: []markup.Node{
			&markup.Element{Name: "span", Attributes: []*markup.Attribute{
				{Span: markup.Span{Start: 20, End: 25}, Name: "class", Value: strPtr("")},
			}},
		}},
	}}

	result := New(WithParser(&stubParser{doc: doc})).Run(testSource, "")
	if result.RuleCount != 2 {
		t.Fatalf("expected 2 class diagnostics, got %d", result.RuleCount)
	}

	for _, d := range result.Diagnostics {
		if d.Severity != lsp.DiagnosticSeverityError || d.Code != ClassAttributeCode || d.Source != testSource {
			t.Errorf("unexpected class diagnostic %+v", d)
		}
	}
}

func TestRun_RuleDiagnosticsPrecedeSyntaxErrors(t *testing.T) {
	doc := &markup.Document{Children: []markup.Node{
		&markup.Element{Name: "div", Attributes: []*markup.Attribute{
			{Span: markup.Span{Start: 5, End: 11}, Name: "class", Value: strPtr("x")},
		}},
	}}

	parser := &stubParser{
		doc: doc,
		errs: []*markup.ParseError{
			{Span: markup.Span{Start: 0, End: 1}, Message: "first"},
			nil,
			{Span: markup.Span{Start: 1, End: 2}, Message: "second"},
		},
	}

	result := New(WithParser(parser)).Run(testSource, "<div class=x>")
	if result.Fatal {
		t.Fatal("expected a non-fatal result")
	}

	var messages []string
	for _, d := range result.Diagnostics {
		messages = append(messages, d.Message)
	}

	expected := []string{DefaultClassAttributeMessage, "first", "second"}
	if diff := cmp.Diff(expected, messages); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if result.RuleCount != 1 || result.SyntaxCount != 2 {
		t.Errorf("expected 1 rule and 2 syntax diagnostics, got %d and %d", result.RuleCount, result.SyntaxCount)
	}
}

func TestRun_FatalUsesErrorSpan(t *testing.T) {
	text := "line one\nline two"
	parser := &stubParser{
		err: errors.Wrap(&markup.ParseError{Span: markup.Span{Start: 9, End: 13}, Message: "bad line"}, "parsing"),
	}

	result := New(WithParser(parser)).Run(testSource, text)

	expected := []lsp.Diagnostic{
		{Range: lspRange(1, 0, 1, 4), Message: "bad line"},
	}

	if diff := cmp.Diff(expected, result.Diagnostics); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_FatalWithoutSpan(t *testing.T) {
	cases := []struct {
		name    string
		parser  *stubParser
		message string
	}{
		{"plain error", &stubParser{err: errors.New("no grammar")}, "no grammar"},
		{"panic", &stubParser{panics: true}, "internal parser error: boom"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result := New(WithParser(c.parser)).Run(testSource, "<div>\n</div>")
			if !result.Fatal || len(result.Diagnostics) != 1 {
				t.Fatalf("expected exactly one fatal diagnostic, got %+v", result)
			}

			expected := lsp.Diagnostic{Range: lspRange(0, 0, 0, 0), Message: c.message}
			if diff := cmp.Diff(expected, result.Diagnostics[0]); diff != "" {
				t.Errorf("diagnostic mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyze_CallsAreIndependent(t *testing.T) {
	a := New()
	text := `<div id="x"></div>`

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if diags := a.Analyze(testSource, text); len(diags) != 0 {
				t.Errorf("expected no diagnostics, got %v", diags)
			}
		}()
	}
	wg.Wait()
}

func TestWithRules_CustomSettings(t *testing.T) {
	class := NewClassAttributeRule()
	class.Severity = lsp.DiagnosticSeverityWarning
	class.Code = nil
	class.Message = "use a component instead"

	a := New(WithRules(class))
	diags := a.Analyze(testSource, `<p id="a" id="a" class="b"></p>`)

	expected := []lsp.Diagnostic{
		{
			Range:    lspRange(0, 17, 0, 26),
			Severity: lsp.DiagnosticSeverityWarning,
			Source:   testSource,
			Message:  "use a component instead",
		},
	}

	if diff := cmp.Diff(expected, diags); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
}
