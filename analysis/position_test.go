package analysis

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/juan-carlos/juancarlos/markup"
	lsp "go.lsp.dev/protocol"
)

func TestOffsetToPosition(t *testing.T) {
	text := "ab\ncd\n\nñe"

	cases := []struct {
		offset int
		want   lsp.Position
	}{
		{0, lsp.Position{Line: 0, Character: 0}},
		{2, lsp.Position{Line: 0, Character: 2}},
		{3, lsp.Position{Line: 1, Character: 0}},
		{5, lsp.Position{Line: 1, Character: 2}},
		{6, lsp.Position{Line: 2, Character: 0}},
		{7, lsp.Position{Line: 3, Character: 0}},
		{8, lsp.Position{Line: 3, Character: 1}},
		{9, lsp.Position{Line: 3, Character: 2}},
		// past the end
		{42, lsp.Position{Line: 3, Character: 2}},
	}

	for _, c := range cases {
		if got := OffsetToPosition(text, c.offset); got != c.want {
			t.Errorf("offset %d: expected %v, got %v", c.offset, c.want, got)
		}
	}
}

// expectedPosition counts newlines and trailing characters directly.
func expectedPosition(text string, offset int) lsp.Position {
	runes := []rune(text)[:offset]
	prefix := string(runes)
	line := strings.Count(prefix, "\n")
	column := utf8.RuneCountInString(prefix[strings.LastIndex(prefix, "\n")+1:])
	return lsp.Position{Line: uint32(line), Character: uint32(column)}
}

func TestLineIndex_MatchesOffsetToPosition(t *testing.T) {
	texts := []string{
		"",
		"\n",
		"\n\n\n",
		"<div>\n</div>\n",
		"héllo\nwörld\r\n<p id=\"ä\">",
		"no newline at all",
		"😀\n😀😀\nx",
	}

	for _, text := range texts {
		index := NewLineIndex(text)
		length := utf8.RuneCountInString(text)

		for offset := 0; offset <= length; offset++ {
			want := expectedPosition(text, offset)
			if got := OffsetToPosition(text, offset); got != want {
				t.Errorf("%q offset %d: OffsetToPosition returned %v, expected %v", text, offset, got, want)
			}
			if got := index.Position(offset); got != want {
				t.Errorf("%q offset %d: LineIndex returned %v, expected %v", text, offset, got, want)
			}
		}
	}
}

func FuzzLineIndex(f *testing.F) {
	f.Add("<div id=\"x\">\n</div>", 4)
	f.Add("a\nb\nc", 3)
	f.Add("", 0)

	f.Fuzz(func(t *testing.T, text string, offset int) {
		if !utf8.ValidString(text) {
			t.Skip()
		}

		length := utf8.RuneCountInString(text)
		if offset < 0 || offset > length {
			t.Skip()
		}

		want := expectedPosition(text, offset)
		if got := OffsetToPosition(text, offset); got != want {
			t.Fatalf("OffsetToPosition(%q, %d) = %v, expected %v", text, offset, got, want)
		}
		if got := NewLineIndex(text).Position(offset); got != want {
			t.Fatalf("LineIndex(%q).Position(%d) = %v, expected %v", text, offset, got, want)
		}
	})
}

func TestSpanToRange_Clamps(t *testing.T) {
	text := "ab\ncd"

	cases := []struct {
		span markup.Span
		want lsp.Range
	}{
		{
			markup.Span{Start: 1, End: 4},
			lsp.Range{Start: lsp.Position{Line: 0, Character: 1}, End: lsp.Position{Line: 1, Character: 1}},
		},
		{
			markup.Span{Start: -3, End: 100},
			lsp.Range{Start: lsp.Position{Line: 0, Character: 0}, End: lsp.Position{Line: 1, Character: 2}},
		},
		{
			// end before start collapses to start
			markup.Span{Start: 4, End: 2},
			lsp.Range{Start: lsp.Position{Line: 1, Character: 1}, End: lsp.Position{Line: 1, Character: 1}},
		},
	}

	index := NewLineIndex(text)
	for _, c := range cases {
		if diff := cmp.Diff(c.want, SpanToRange(text, c.span)); diff != "" {
			t.Errorf("SpanToRange(%v) mismatch (-want +got):\n%s", c.span, diff)
		}
		if diff := cmp.Diff(c.want, index.Range(c.span)); diff != "" {
			t.Errorf("LineIndex.Range(%v) mismatch (-want +got):\n%s", c.span, diff)
		}
	}
}
