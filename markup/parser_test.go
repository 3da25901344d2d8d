package markup

import (
	"strings"
	"testing"
)

func attributes(doc *Document) []*Attribute {
	var attrs []*Attribute
	Walk(doc, func(n Node) bool {
		if a, ok := n.(*Attribute); ok {
			attrs = append(attrs, a)
		}
		return true
	})
	return attrs
}

func TestParse_Attributes(t *testing.T) {
	doc, errs, err := Parse(`<div id="x" class="a b" hidden data-n=1 title=""></div>`)
	if err != nil {
		t.Fatal(err)
	}

	if len(errs) != 0 {
		t.Fatalf("expected no syntax errors, got %v", errs)
	}

	attrs := attributes(doc)
	if len(attrs) != 5 {
		t.Fatalf("expected 5 attributes, got %d", len(attrs))
	}

	cases := []struct {
		name     string
		hasValue bool
		value    string
		span     Span
	}{
		{"id", true, "x", Span{5, 11}},
		{"class", true, "a b", Span{12, 23}},
		{"hidden", false, "", Span{24, 30}},
		{"data-n", true, "1", Span{31, 39}},
		{"title", true, "", Span{40, 48}},
	}

	for i, c := range cases {
		attr := attrs[i]
		if attr.Name != c.name {
			t.Errorf("attribute %d: expected name %q, got %q", i, c.name, attr.Name)
		}

		if attr.HasValue() != c.hasValue {
			t.Errorf("attribute %q: expected hasValue %v", c.name, c.hasValue)
		} else if c.hasValue && *attr.Value != c.value {
			t.Errorf("attribute %q: expected value %q, got %q", c.name, c.value, *attr.Value)
		}

		if attr.Span != c.span {
			t.Errorf("attribute %q: expected span %v, got %v", c.name, c.span, attr.Span)
		}
	}
}

func TestParse_NormalizesNamesAndValues(t *testing.T) {
	doc, errs, err := Parse(`<DIV ID="a&amp;b" Class='x &lt;y&gt;' title=caf&eacute;></DIV>`)
	if err != nil {
		t.Fatal(err)
	}

	if len(errs) != 0 {
		t.Fatalf("expected no syntax errors, got %v", errs)
	}

	el, ok := doc.Children[0].(*Element)
	if !ok {
		t.Fatalf("expected *Element, got %T", doc.Children[0])
	}

	if el.Name != "div" {
		t.Errorf("expected div, got %s", el.Name)
	}

	expected := [][2]string{
		{"id", "a&b"},
		{"class", "x <y>"},
		{"title", "café"},
	}

	if len(el.Attributes) != len(expected) {
		t.Fatalf("expected %d attributes, got %d", len(expected), len(el.Attributes))
	}

	for i, want := range expected {
		attr := el.Attributes[i]
		if attr.Name != want[0] || !attr.HasValue() || *attr.Value != want[1] {
			t.Errorf("attribute %d: expected %s=%q, got %s=%v", i, want[0], want[1], attr.Name, attr.Value)
		}
	}

	// spans still cover the source text
	if el.Attributes[0].Span != (Span{5, 17}) {
		t.Errorf("expected span {5 17}, got %v", el.Attributes[0].Span)
	}
}

func TestParse_NestedElements(t *testing.T) {
	doc, errs, err := Parse("<div id=\"x\">\n  <div id=\"y\"></div>\n</div>")
	if err != nil {
		t.Fatal(err)
	}

	if len(errs) != 0 {
		t.Fatalf("expected no syntax errors, got %v", errs)
	}

	if len(doc.Children) != 1 {
		t.Fatalf("expected 1 top-level node, got %d", len(doc.Children))
	}

	outer, ok := doc.Children[0].(*Element)
	if !ok {
		t.Fatalf("expected *Element, got %T", doc.Children[0])
	}

	if outer.Name != "div" {
		t.Errorf("expected div, got %s", outer.Name)
	}

	var inner *Element
	for _, c := range outer.Children {
		if el, ok := c.(*Element); ok {
			inner = el
		}
	}

	if inner == nil {
		t.Fatal("expected a nested element")
	}

	if len(inner.Attributes) != 1 || *inner.Attributes[0].Value != "y" {
		t.Errorf("expected nested id=y, got %+v", inner.Attributes)
	}
}

func TestParse_SelfClosing(t *testing.T) {
	doc, errs, err := Parse(`<button class="a b"/>`)
	if err != nil {
		t.Fatal(err)
	}

	if len(errs) != 0 {
		t.Fatalf("expected no syntax errors, got %v", errs)
	}

	el, ok := doc.Children[0].(*Element)
	if !ok {
		t.Fatalf("expected *Element, got %T", doc.Children[0])
	}

	if !el.SelfClosing {
		t.Error("expected element to be self-closing")
	}

	if el.Attributes[0].Span != (Span{8, 19}) {
		t.Errorf("expected span {8 19}, got %v", el.Attributes[0].Span)
	}
}

func TestParse_CharacterOffsets(t *testing.T) {
	// "ñ" is two bytes but one character
	doc, _, err := Parse(`<p>ñ</p><a id="z"></a>`)
	if err != nil {
		t.Fatal(err)
	}

	attrs := attributes(doc)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}

	if attrs[0].Span != (Span{11, 17}) {
		t.Errorf("expected span {11 17}, got %v", attrs[0].Span)
	}
}

func TestParse_ErroneousEndTag(t *testing.T) {
	_, errs, err := Parse(`<div></span></div>`)
	if err != nil {
		t.Fatal(err)
	}

	if len(errs) == 0 {
		t.Fatal("expected at least one syntax error")
	}
}

func TestParse_InvalidUTF8(t *testing.T) {
	doc, errs, err := Parse("<p>ab\xffcd</p>")
	if err == nil {
		t.Fatal("expected a fatal error")
	}

	if doc != nil || errs != nil {
		t.Error("expected no tree and no syntax errors")
	}

	pErr, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}

	if pErr.Span != (Span{5, 6}) {
		t.Errorf("expected span {5 6}, got %v", pErr.Span)
	}
}

func TestParse_MaxSize(t *testing.T) {
	p := &Parser{MaxSize: 10}
	_, _, err := p.Parse(strings.Repeat("a", 11))
	if err == nil {
		t.Fatal("expected a fatal error")
	}

	pErr := err.(*ParseError)
	if pErr.Span != (Span{0, 11}) {
		t.Errorf("expected span {0 11}, got %v", pErr.Span)
	}
}

func TestParse_Empty(t *testing.T) {
	doc, errs, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}

	if doc == nil {
		t.Fatal("expected a document")
	}

	if len(errs) != 0 || len(doc.Children) != 0 {
		t.Errorf("expected an empty document, got %d children and %d errors", len(doc.Children), len(errs))
	}
}

func TestWalk_SkipChildren(t *testing.T) {
	doc := &Document{Children: []Node{
		&Element{
			Name:       "div",
			Attributes: []*Attribute{{Name: "id"}},
			Children:   []Node{&Text{Data: "hi"}},
		},
		&Comment{Data: "c"},
	}}

	var visited []string
	Walk(doc, func(n Node) bool {
		switch n := n.(type) {
		case *Element:
			visited = append(visited, "element")
			return false
		case *Comment:
			visited = append(visited, "comment:"+n.Data)
		}
		return true
	})

	if strings.Join(visited, ",") != "element,comment:c" {
		t.Errorf("unexpected visit order %v", visited)
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("  <div\n   id  "); got != "<div id" {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}

	long := strings.Repeat("x", 30)
	if got := snippet(long); got != strings.Repeat("x", 24)+"…" {
		t.Errorf("expected truncated snippet, got %q", got)
	}
}
