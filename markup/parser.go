package markup

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	tshtml "github.com/smacker/go-tree-sitter/html"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultMaxSize = 8 << 20

	snippetLength = 24
)

// ParseError is a syntax error anchored to a span of the document. It is
// returned as an error for fatal failures and listed alongside the tree for
// errors the parser recovered from.
type ParseError struct {
	Span    Span
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// Parser parses HTML with the tree-sitter HTML grammar. The zero value has
// no timeout and no size limit. A Parser holds no parse state and may be
// shared between goroutines.
type Parser struct {
	Timeout time.Duration
	MaxSize int
}

func NewParser() *Parser {
	return &Parser{
		Timeout: DefaultTimeout,
		MaxSize: DefaultMaxSize,
	}
}

// Parse parses text with the default parser settings.
func Parse(text string) (*Document, []*ParseError, error) {
	return NewParser().Parse(text)
}

func (p *Parser) Parse(text string) (*Document, []*ParseError, error) {
	return p.ParseContext(context.Background(), text)
}

// ParseContext returns the document tree and the recovered syntax errors in
// document order. A non-nil error is always a *ParseError and means no tree
// could be produced.
func (p *Parser) ParseContext(ctx context.Context, text string) (*Document, []*ParseError, error) {
	if p.MaxSize > 0 && len(text) > p.MaxSize {
		return nil, nil, &ParseError{
			Span:    Span{Start: 0, End: utf8.RuneCountInString(text)},
			Message: fmt.Sprintf("document is too large to analyze (%d bytes, limit is %d)", len(text), p.MaxSize),
		}
	}

	if offset := firstInvalidRune(text); offset >= 0 {
		return nil, nil, &ParseError{
			Span:    Span{Start: offset, End: offset + 1},
			Message: "document is not valid UTF-8",
		}
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	source := []byte(text)
	tsParser := sitter.NewParser()
	defer tsParser.Close()
	tsParser.SetLanguage(tshtml.GetLanguage())

	tree, err := tsParser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, nil, &ParseError{
			Span:    Span{Start: 0, End: utf8.RuneCount(source)},
			Message: "unable to parse document: " + err.Error(),
		}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, nil, &ParseError{
			Span:    Span{Start: 0, End: utf8.RuneCount(source)},
			Message: "unable to parse document",
		}
	}

	b := newBuilder(text, source)
	doc := b.document(root)

	var syntaxErrors []*ParseError
	b.collectErrors(root, &syntaxErrors)
	return doc, syntaxErrors, nil
}

// firstInvalidRune returns the character offset of the first byte that is
// not part of a valid UTF-8 sequence, or -1.
func firstInvalidRune(text string) int {
	if utf8.ValidString(text) {
		return -1
	}

	count := 0
	for i, r := range text {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(text[i:]); size == 1 {
				return count
			}
		}
		count++
	}
	return -1
}

type builder struct {
	source []byte
	// charAt maps a byte offset to a character offset. nil when the text
	// is pure ASCII and both are equal.
	charAt []int
}

func newBuilder(text string, source []byte) *builder {
	b := &builder{source: source}
	if utf8.RuneCountInString(text) == len(text) {
		return b
	}

	b.charAt = make([]int, len(text)+1)
	starts := 0
	for i := 0; i <= len(text); i++ {
		b.charAt[i] = starts
		if i < len(text) && utf8.RuneStart(text[i]) {
			starts++
		}
	}
	return b
}

func (b *builder) char(offset int) int {
	if offset < 0 {
		return 0
	}
	if b.charAt == nil {
		if offset > len(b.source) {
			return len(b.source)
		}
		return offset
	}
	if offset >= len(b.charAt) {
		return b.charAt[len(b.charAt)-1]
	}
	return b.charAt[offset]
}

func (b *builder) span(n *sitter.Node) Span {
	return Span{
		Start: b.char(int(n.StartByte())),
		End:   b.char(int(n.EndByte())),
	}
}

func (b *builder) document(root *sitter.Node) *Document {
	doc := &Document{Span: b.span(root)}
	if root.Type() == "ERROR" {
		doc.Children = []Node{b.invalid(root)}
	} else {
		doc.Children = b.children(root)
	}
	return doc
}

func (b *builder) children(n *sitter.Node) []Node {
	var nodes []Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		nodes = append(nodes, b.convert(n.NamedChild(i))...)
	}
	return nodes
}

func (b *builder) convert(n *sitter.Node) []Node {
	if n == nil || n.IsMissing() {
		return nil
	}

	switch n.Type() {
	case "element", "script_element", "style_element":
		return []Node{b.element(n)}
	case "start_tag", "self_closing_tag":
		// only reachable inside error regions
		el := &Element{Span: b.span(n), SelfClosing: n.Type() == "self_closing_tag"}
		b.tag(el, n)
		return []Node{el}
	case "attribute":
		return []Node{b.attribute(n)}
	case "text", "raw_text":
		return []Node{&Text{Span: b.span(n), Data: n.Content(b.source)}}
	case "comment":
		return []Node{&Comment{Span: b.span(n), Data: n.Content(b.source)}}
	case "doctype":
		return []Node{&Doctype{Span: b.span(n)}}
	case "ERROR":
		return []Node{b.invalid(n)}
	case "end_tag", "erroneous_end_tag":
		return nil
	default:
		return b.children(n)
	}
}

func (b *builder) element(n *sitter.Node) *Element {
	el := &Element{Span: b.span(n)}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "start_tag":
			b.tag(el, child)
		case "self_closing_tag":
			el.SelfClosing = true
			b.tag(el, child)
		case "end_tag":
		default:
			el.Children = append(el.Children, b.convert(child)...)
		}
	}
	return el
}

func (b *builder) tag(el *Element, n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.IsMissing() {
			continue
		}

		switch child.Type() {
		case "tag_name":
			el.Name = strings.ToLower(child.Content(b.source))
		case "attribute":
			el.Attributes = append(el.Attributes, b.attribute(child))
		case "ERROR":
			el.Children = append(el.Children, b.invalid(child))
		}
	}
}

func (b *builder) attribute(n *sitter.Node) *Attribute {
	attr := &Attribute{Span: b.span(n)}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "attribute_name":
			attr.Name = strings.ToLower(child.Content(b.source))
		case "attribute_value":
			value := html.UnescapeString(child.Content(b.source))
			attr.Value = &value
		case "quoted_attribute_value":
			value := ""
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if inner := child.NamedChild(j); inner.Type() == "attribute_value" {
					value = html.UnescapeString(inner.Content(b.source))
				}
			}
			attr.Value = &value
		}
	}
	return attr
}

func (b *builder) invalid(n *sitter.Node) *Invalid {
	return &Invalid{Span: b.span(n), Children: b.children(n)}
}

func (b *builder) collectErrors(n *sitter.Node, out *[]*ParseError) {
	if n == nil {
		return
	}

	switch {
	case n.IsMissing():
		*out = append(*out, &ParseError{
			Span:    b.span(n),
			Message: fmt.Sprintf("missing %q", n.Type()),
		})
		return
	case n.Type() == "ERROR":
		message := "unexpected syntax"
		if s := snippet(n.Content(b.source)); len(s) != 0 {
			message = fmt.Sprintf("unexpected %q", s)
		}
		*out = append(*out, &ParseError{Span: b.span(n), Message: message})
		return
	case n.Type() == "erroneous_end_tag":
		name := ""
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if child := n.NamedChild(i); child.Type() == "erroneous_end_tag_name" {
				name = child.Content(b.source)
			}
		}
		*out = append(*out, &ParseError{
			Span:    b.span(n),
			Message: fmt.Sprintf("unexpected closing tag </%s>", name),
		})
		return
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		b.collectErrors(n.Child(i), out)
	}
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= snippetLength {
		return s
	}
	return string([]rune(s)[:snippetLength]) + "…"
}
