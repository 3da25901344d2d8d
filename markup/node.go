// Package markup turns HTML source text into a small, closed tree of node
// values plus the syntax errors the parser recovered from.
package markup

// Span is a half-open range of character (code point) offsets into the
// document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Node is one of *Document, *Element, *Attribute, *Text, *Comment,
// *Doctype or *Invalid.
type Node interface {
	Bounds() Span
	isNode()
}

type Document struct {
	Span     Span
	Children []Node
}

// Element covers regular, script and style elements. Name is lowercased and
// attributes are kept in source order.
type Element struct {
	Span        Span
	Name        string
	Attributes  []*Attribute
	Children    []Node
	SelfClosing bool
}

// Attribute is a single name/value pair of a start tag. Name is lowercased
// and character references in Value are decoded. Value is nil when the
// attribute was written without `=`; quotes are not part of Value.
type Attribute struct {
	Span  Span
	Name  string
	Value *string
}

type Text struct {
	Span Span
	Data string
}

type Comment struct {
	Span Span
	Data string
}

type Doctype struct {
	Span Span
}

// Invalid is a region the parser could not make sense of. Whatever the
// parser still recognised inside it is kept as children.
type Invalid struct {
	Span     Span
	Children []Node
}

func (n *Document) Bounds() Span  { return n.Span }
func (n *Element) Bounds() Span   { return n.Span }
func (n *Attribute) Bounds() Span { return n.Span }
func (n *Text) Bounds() Span      { return n.Span }
func (n *Comment) Bounds() Span   { return n.Span }
func (n *Doctype) Bounds() Span   { return n.Span }
func (n *Invalid) Bounds() Span   { return n.Span }

func (*Document) isNode()  {}
func (*Element) isNode()   {}
func (*Attribute) isNode() {}
func (*Text) isNode()      {}
func (*Comment) isNode()   {}
func (*Doctype) isNode()   {}
func (*Invalid) isNode()   {}

// HasValue reports whether the attribute was written with a value. An empty
// value (`id=""`) still counts.
func (a *Attribute) HasValue() bool {
	return a.Value != nil
}

// Walk visits n and its descendants depth-first in document order. For
// elements the attributes are visited before the children. Returning false
// from fn skips the descendants of that node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}

	switch n := n.(type) {
	case *Document:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case *Element:
		for _, a := range n.Attributes {
			Walk(a, fn)
		}
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case *Invalid:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	}
}
