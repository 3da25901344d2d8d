package types

import (
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	lsp "go.lsp.dev/protocol"
)

var ErrInvalidRange = errors.New("invalid range")

// flatten the rope once it gets this deep
const maxDepth = 48

// Rope represents a text data structure. Offsets and lengths are counted in
// characters, not bytes. Subtrees are never modified after construction so
// edits only allocate along the affected path.
type Rope struct {
	left   *Rope
	right  *Rope
	text   string
	length int
	depth  int
}

// NewRope creates a new rope with the given text.
func NewRope(text string) *Rope {
	return &Rope{text: text, length: utf8.RuneCountInString(text)}
}

func (r *Rope) isLeaf() bool {
	return r.left == nil
}

// Len returns the number of characters in the rope.
func (r *Rope) Len() int {
	return r.length
}

func concat(left, right *Rope) *Rope {
	if left.length == 0 {
		return right
	} else if right.length == 0 {
		return left
	}

	node := &Rope{
		left:   left,
		right:  right,
		length: left.length + right.length,
		depth:  max(left.depth, right.depth) + 1,
	}

	if node.depth > maxDepth {
		return NewRope(node.String())
	}
	return node
}

func (r *Rope) split(at int) (*Rope, *Rope) {
	if r.isLeaf() {
		i := byteOffset(r.text, at)
		return NewRope(r.text[:i]), NewRope(r.text[i:])
	}

	if at <= r.left.length {
		left, rest := r.left.split(at)
		return left, concat(rest, r.right)
	}

	rest, right := r.right.split(at - r.left.length)
	return concat(r.left, rest), right
}

func byteOffset(s string, chars int) int {
	for i := range s {
		if chars == 0 {
			return i
		}
		chars--
	}
	return len(s)
}

// Insert inserts text at the specified position in the rope.
func (r *Rope) Insert(position int, text string) error {
	if position < 0 || position > r.length {
		return errors.Wrapf(ErrInvalidRange, "insert at %d (length %d)", position, r.length)
	}

	if len(text) == 0 {
		return nil
	}

	left, right := r.split(position)
	*r = *concat(concat(left, NewRope(text)), right)
	return nil
}

// Delete deletes length characters starting at position.
func (r *Rope) Delete(position, length int) error {
	if position < 0 || length < 0 || position+length > r.length {
		return errors.Wrapf(ErrInvalidRange, "delete %d characters at %d (length %d)", length, position, r.length)
	}

	if length == 0 {
		return nil
	}

	left, rest := r.split(position)
	_, right := rest.split(length)
	*r = *concat(left, right)
	return nil
}

// Replace swaps the characters between start and end with text.
func (r *Rope) Replace(start, end int, text string) error {
	if start < 0 || end < start || end > r.length {
		return errors.Wrapf(ErrInvalidRange, "replace %d:%d (length %d)", start, end, r.length)
	}

	if err := r.Delete(start, end-start); err != nil {
		return err
	}
	return r.Insert(start, text)
}

func (r *Rope) String() string {
	if r.isLeaf() {
		return r.text
	}

	var sb strings.Builder
	r.writeTo(&sb)
	return sb.String()
}

func (r *Rope) writeTo(sb *strings.Builder) {
	if r.isLeaf() {
		sb.WriteString(r.text)
		return
	}
	r.left.writeTo(sb)
	r.right.writeTo(sb)
}

// OffsetFromPosition converts an editor position into a character offset.
// A character past the end of its line resolves to the end of that line.
// Lines past the end of the text are an error.
func (r *Rope) OffsetFromPosition(pos lsp.Position) (int, error) {
	return r.offsetFromPosition(pos, func(rune) uint32 { return 1 })
}

// OffsetFromUTF16Position is OffsetFromPosition for columns counted in UTF-16
// code units, the unit editors use when no position encoding was negotiated.
// A column inside a surrogate pair resolves to the start of that character.
func (r *Rope) OffsetFromUTF16Position(pos lsp.Position) (int, error) {
	return r.offsetFromPosition(pos, func(c rune) uint32 {
		// characters outside the basic multilingual plane take a surrogate pair
		if c > 0xFFFF {
			return 2
		}
		return 1
	})
}

func (r *Rope) offsetFromPosition(pos lsp.Position, width func(rune) uint32) (int, error) {
	line, offset := uint32(0), 0
	text := r.String()

	for _, c := range text {
		if line == pos.Line {
			break
		}
		if c == '\n' {
			line++
		}
		offset++
	}

	if line != pos.Line {
		return 0, errors.Wrapf(ErrInvalidRange, "line %d is out of range", pos.Line)
	}

	column := uint32(0)
	for _, c := range text[byteOffset(text, offset):] {
		w := width(c)
		if column+w > pos.Character || c == '\n' {
			break
		}
		column += w
		offset++
	}

	return offset, nil
}

// PositionFromOffset converts a character offset into an editor position,
// clamping offsets past the end of the text.
func (r *Rope) PositionFromOffset(offset int) lsp.Position {
	pos := lsp.Position{}
	for _, c := range r.String() {
		if offset <= 0 {
			break
		}
		if c == '\n' {
			pos.Line++
			pos.Character = 0
		} else {
			pos.Character++
		}
		offset--
	}
	return pos
}
