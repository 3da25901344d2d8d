package report_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/juan-carlos/juancarlos/logger"
	"github.com/juan-carlos/juancarlos/report"
	"github.com/tealeg/xlsx"
	lsp "go.lsp.dev/protocol"
)

func sampleRuns() []logger.Run {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []logger.Run{
		{
			ID:              "run-1",
			Document:        "file:///index.html",
			DocumentVersion: 1,
			DiagnosticCount: 2,
			ErrorCount:      1,
			CreatedAt:       logger.NullTime{Time: start, Valid: true},
			Diagnostics: []lsp.Diagnostic{
				{
					Range:    lsp.Range{Start: lsp.Position{Line: 0, Character: 5}, End: lsp.Position{Line: 0, Character: 16}},
					Severity: lsp.DiagnosticSeverityError,
					Code:     analysis.ClassAttributeCode,
					Source:   "index.html",
					Message:  analysis.DefaultClassAttributeMessage,
				},
				{
					Range:   lsp.Range{Start: lsp.Position{Line: 2, Character: 8}, End: lsp.Position{Line: 2, Character: 14}},
					Message: `duplicate id "x"`,
				},
			},
		},
		{
			ID:              "run-2",
			Document:        "file:///index.html",
			DocumentVersion: 2,
			CreatedAt:       logger.NullTime{Time: start.Add(time.Minute), Valid: true},
		},
	}
}

func TestWorkbook(t *testing.T) {
	wb, err := report.Workbook(sampleRuns())
	if err != nil {
		t.Fatal(err)
	}

	runs := wb.Sheet[report.RunsSheet]
	if runs == nil || len(runs.Rows) != 3 {
		t.Fatalf("Expected a header and 2 run rows")
	}

	if got := runs.Rows[1].Cells[0].Value; got != "run-1" {
		t.Errorf("Expected run-1, got %q", got)
	}

	diagnostics := wb.Sheet[report.DiagnosticsSheet]
	if diagnostics == nil || len(diagnostics.Rows) != 3 {
		t.Fatalf("Expected a header and 2 diagnostic rows")
	}

	first := diagnostics.Rows[1].Cells
	expected := []string{"run-1", "file:///index.html", "1", "6", "1", "17", "error", "12", "index.html", analysis.DefaultClassAttributeMessage}
	for i, value := range expected {
		if first[i].Value != value {
			t.Errorf("Cell %d: expected %q, got %q", i, value, first[i].Value)
		}
	}

	if sev := diagnostics.Rows[2].Cells[6].Value; sev != "none" {
		t.Errorf("Expected an unset severity to read none, got %q", sev)
	}

	documents := wb.Sheet[report.DocumentsSheet]
	if documents == nil || len(documents.Rows) != 2 {
		t.Fatalf("Expected a header and 1 document row")
	}

	if got := documents.Rows[1].Cells[4].Value; got != "1m0s" {
		t.Errorf("Expected time to clean 1m0s, got %q", got)
	}
}

func TestExportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.xlsx")
	if err := report.ExportXLSX(path, sampleRuns()); err != nil {
		t.Fatal(err)
	}

	wb, err := xlsx.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(wb.Sheets) != 3 {
		t.Errorf("Expected 3 sheets, got %d", len(wb.Sheets))
	}
}

func TestDiff(t *testing.T) {
	oldText := "<div class=\"a\">\n  <p id=\"x\"></p>\n</div>\n"
	newText := "<div>\n  <p id=\"x\"></p>\n</div>\n"

	patch, stats := report.Diff(oldText, newText, false)
	if stats.Inserted != 0 || stats.Deleted != len(` class="a"`) {
		t.Errorf("Unexpected stats %+v", stats)
	}

	if !strings.HasPrefix(patch, "@@ ") {
		t.Errorf("Expected a patch, got %q", patch)
	}

	pretty, _ := report.Diff(oldText, newText, true)
	if !strings.Contains(pretty, "\x1b[31m") {
		t.Errorf("Expected colored deletions, got %q", pretty)
	}

	if same, stats := report.Diff(oldText, oldText, false); len(same) != 0 || stats.Delta() != 0 {
		t.Errorf("Expected no patch for equal texts, got %q %+v", same, stats)
	}
}

func TestWriteSnapshotDiff(t *testing.T) {
	log, err := logger.NewMemoryLogger()
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	doc := "file:///index.html"
	if _, err := log.WriteSnapshot(doc, []byte("<p>hello</p>"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := log.WriteSnapshot(doc, []byte("<p>hello world</p>"), 2); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	stats, err := report.WriteSnapshotDiff(&buf, log, doc, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Inserted != len(" world") {
		t.Errorf("Expected 6 inserted characters, got %+v", stats)
	}

	if !strings.Contains(buf.String(), "+ world") {
		t.Errorf("Expected the insertion in the patch, got %q", buf.String())
	}

	if _, err := report.WriteSnapshotDiff(&buf, log, doc, 1, 7); !errors.Is(err, logger.ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}
}
