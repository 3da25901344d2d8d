package report

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/logger"
	"github.com/mattn/go-isatty"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffStats counts the characters that changed between two snapshots.
type DiffStats struct {
	Inserted int `json:"inserted" yaml:"inserted"`
	Deleted  int `json:"deleted" yaml:"deleted"`
}

func (s DiffStats) Delta() int {
	return s.Inserted + s.Deleted
}

// Diff renders the change from oldText to newText. With color set the
// result is the whole text with insertions and deletions highlighted for a
// terminal, otherwise it is a patch in the unidiff-like format of
// diffmatchpatch.
func Diff(oldText, newText string, color bool) (string, DiffStats) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var stats DiffStats
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			stats.Inserted += len([]rune(diff.Text))
		case diffmatchpatch.DiffDelete:
			stats.Deleted += len([]rune(diff.Text))
		}
	}

	if color {
		return dmp.DiffPrettyText(diffs), stats
	}
	return dmp.PatchToText(dmp.PatchMake(oldText, diffs)), stats
}

// IsTerminal reports whether w is a terminal that can show colors.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WriteSnapshotDiff writes the difference between two stored versions of
// document to w, colored when w is a terminal.
func WriteSnapshotDiff(w io.Writer, log *logger.Logger, document string, from, to int32) (DiffStats, error) {
	oldContent, err := log.OpenSnapshot(document, from)
	if err != nil {
		return DiffStats{}, err
	}

	newContent, err := log.OpenSnapshot(document, to)
	if err != nil {
		return DiffStats{}, err
	}

	out, stats := Diff(string(oldContent), string(newContent), IsTerminal(w))
	if _, err := io.WriteString(w, out); err != nil {
		return stats, errors.Wrap(err, "writing diff")
	}
	return stats, nil
}
