package analysis

import (
	"sort"
	"unicode/utf8"

	"github.com/juan-carlos/juancarlos/markup"
	lsp "go.lsp.dev/protocol"
)

// OffsetToPosition converts a character offset into a zero-based line and
// column. Offsets past the end of text map to the end of text.
func OffsetToPosition(text string, offset int) lsp.Position {
	line, column := 0, 0
	index := 0
	for _, c := range text {
		if index >= offset {
			break
		}

		if c == '\n' {
			line++
			column = 0
		} else {
			column++
		}
		index++
	}

	return lsp.Position{Line: uint32(line), Character: uint32(column)}
}

// SpanToRange maps both ends of a span with OffsetToPosition.
func SpanToRange(text string, span markup.Span) lsp.Range {
	start, end := clampSpan(span, utf8.RuneCountInString(text))
	return lsp.Range{
		Start: OffsetToPosition(text, start),
		End:   OffsetToPosition(text, end),
	}
}

func clampSpan(span markup.Span, length int) (int, int) {
	start, end := clamp(span.Start, length), clamp(span.End, length)
	if end < start {
		end = start
	}
	return start, end
}

func clamp(offset, length int) int {
	if offset < 0 {
		return 0
	}
	if offset > length {
		return length
	}
	return offset
}

// LineIndex answers the same queries as OffsetToPosition in O(log lines)
// after a single pass over the text.
type LineIndex struct {
	// lineStarts holds the character offset at which every line begins.
	lineStarts []int
	length     int
}

func NewLineIndex(text string) *LineIndex {
	idx := &LineIndex{lineStarts: []int{0}}
	count := 0
	for _, c := range text {
		count++
		if c == '\n' {
			idx.lineStarts = append(idx.lineStarts, count)
		}
	}
	idx.length = count
	return idx
}

func (idx *LineIndex) Position(offset int) lsp.Position {
	offset = clamp(offset, idx.length)

	// last line starting at or before offset
	line := sort.Search(len(idx.lineStarts), func(i int) bool {
		return idx.lineStarts[i] > offset
	}) - 1

	return lsp.Position{
		Line:      uint32(line),
		Character: uint32(offset - idx.lineStarts[line]),
	}
}

func (idx *LineIndex) Range(span markup.Span) lsp.Range {
	start, end := clampSpan(span, idx.length)
	return lsp.Range{
		Start: idx.Position(start),
		End:   idx.Position(end),
	}
}
