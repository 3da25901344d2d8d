// Package report exports the lint history for people who are not looking
// at an editor: spreadsheets and snapshot diffs.
package report

import (
	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/config"
	"github.com/juan-carlos/juancarlos/logger"
	"github.com/juan-carlos/juancarlos/logger/stats"
	"github.com/tealeg/xlsx"
)

const (
	RunsSheet        = "Runs"
	DiagnosticsSheet = "Diagnostics"
	DocumentsSheet   = "Documents"

	timeLayout = "2006-01-02 15:04:05"
)

func addHeader(sheet *xlsx.Sheet, titles ...string) {
	row := sheet.AddRow()
	for _, title := range titles {
		row.AddCell().SetValue(title)
	}
}

// Workbook lays runs out in three sheets: one row per run, one row per
// diagnostic and one row per document with its stats. Runs should have
// their diagnostics loaded.
func Workbook(runs []logger.Run) (*xlsx.File, error) {
	wb := xlsx.NewFile()

	runSheet, err := wb.AddSheet(RunsSheet)
	if err != nil {
		return nil, errors.Wrap(err, "adding runs sheet")
	}

	addHeader(runSheet, "Run", "Session", "Document", "Version", "Origin",
		"Diagnostics", "Errors", "Syntax Errors", "Fatal", "Duration (ms)", "Created At")

	for _, run := range runs {
		row := runSheet.AddRow()
		row.AddCell().SetValue(run.ID)
		row.AddCell().SetValue(run.SessionID)
		row.AddCell().SetValue(run.Document)
		row.AddCell().SetValue(int(run.DocumentVersion))
		row.AddCell().SetValue(run.Origin)
		row.AddCell().SetValue(run.DiagnosticCount)
		row.AddCell().SetValue(run.ErrorCount)
		row.AddCell().SetValue(run.SyntaxCount)
		row.AddCell().SetValue(run.Fatal)
		row.AddCell().SetValue(run.DurationMs)
		row.AddCell().SetValue(run.CreatedAt.Time.Format(timeLayout))
	}

	diagSheet, err := wb.AddSheet(DiagnosticsSheet)
	if err != nil {
		return nil, errors.Wrap(err, "adding diagnostics sheet")
	}

	addHeader(diagSheet, "Run", "Document", "Line", "Column", "End Line", "End Column",
		"Severity", "Code", "Source", "Message")

	for _, run := range runs {
		for _, diag := range run.Diagnostics {
			row := diagSheet.AddRow()
			row.AddCell().SetValue(run.ID)
			row.AddCell().SetValue(run.Document)
			// one-based like an editor's status bar
			row.AddCell().SetValue(int(diag.Range.Start.Line) + 1)
			row.AddCell().SetValue(int(diag.Range.Start.Character) + 1)
			row.AddCell().SetValue(int(diag.Range.End.Line) + 1)
			row.AddCell().SetValue(int(diag.Range.End.Character) + 1)
			row.AddCell().SetValue(config.SeverityName(diag.Severity))

			code := row.AddCell()
			if diag.Code != nil {
				code.SetValue(diag.Code)
			}

			row.AddCell().SetValue(diag.Source)
			row.AddCell().SetValue(diag.Message)
		}
	}

	docSheet, err := wb.AddSheet(DocumentsSheet)
	if err != nil {
		return nil, errors.Wrap(err, "adding documents sheet")
	}

	addHeader(docSheet, "Document", "Runs", "Failing Runs", "Clean", "Time To Clean", "Repeated Density")

	for _, doc := range stats.Compute(runs) {
		row := docSheet.AddRow()
		row.AddCell().SetValue(doc.Document)
		row.AddCell().SetValue(doc.Runs)
		row.AddCell().SetValue(doc.FailingRuns)
		row.AddCell().SetValue(doc.Clean)
		row.AddCell().SetValue(doc.TimeToClean.String())
		row.AddCell().SetValue(doc.RepeatedDensity)
	}

	return wb, nil
}

// ExportXLSX writes the workbook for runs to path.
func ExportXLSX(path string, runs []logger.Run) error {
	wb, err := Workbook(runs)
	if err != nil {
		return err
	}

	if err := wb.Save(path); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	return nil
}
