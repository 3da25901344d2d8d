package logger

import (
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/juan-carlos/juancarlos/analysis"
	lsp "go.lsp.dev/protocol"
)

const (
	OriginServer = "server"
	OriginCLI    = "cli"
)

type Run struct {
	ID              string   `db:"id" json:"id" yaml:"id"`
	SessionID       string   `db:"session_id" json:"session_id" yaml:"session_id"`
	Document        string   `db:"document" json:"document" yaml:"document"`
	DocumentVersion int32    `db:"document_version" json:"document_version" yaml:"document_version"`
	Origin          string   `db:"origin" json:"origin" yaml:"origin"`
	DiagnosticCount int      `db:"diagnostic_count" json:"diagnostic_count" yaml:"diagnostic_count"`
	ErrorCount      int      `db:"error_count" json:"error_count" yaml:"error_count"`
	SyntaxCount     int      `db:"syntax_count" json:"syntax_count" yaml:"syntax_count"`
	Fatal           bool     `db:"fatal" json:"fatal" yaml:"fatal"`
	DurationMs      int64    `db:"duration_ms" json:"duration_ms" yaml:"duration_ms"`
	CreatedAt       NullTime `db:"created_at" json:"created_at" yaml:"created_at"`

	// Diagnostics is only filled when requested.
	Diagnostics []lsp.Diagnostic `db:"-" json:"diagnostics,omitempty" yaml:"-"`
}

func (r Run) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// NewRun describes one analysis of document.
func NewRun(document string, version int32, origin string, result analysis.Result, took time.Duration) Run {
	run := Run{
		Document:        document,
		DocumentVersion: version,
		Origin:          origin,
		DiagnosticCount: len(result.Diagnostics),
		SyntaxCount:     result.SyntaxCount,
		Fatal:           result.Fatal,
		DurationMs:      took.Milliseconds(),
		Diagnostics:     result.Diagnostics,
	}

	for _, diag := range result.Diagnostics {
		if diag.Severity == lsp.DiagnosticSeverityError {
			run.ErrorCount++
		}
	}
	return run
}

type diagnosticRow struct {
	ID             int64         `db:"id"`
	RunID          string        `db:"run_id"`
	StartLine      uint32        `db:"start_line"`
	StartCharacter uint32        `db:"start_character"`
	EndLine        uint32        `db:"end_line"`
	EndCharacter   uint32        `db:"end_character"`
	Severity       int           `db:"severity"`
	Code           sql.NullInt64 `db:"code"`
	Source         string        `db:"source"`
	Message        string        `db:"message"`
}

func newDiagnosticRow(runID string, diag lsp.Diagnostic) diagnosticRow {
	row := diagnosticRow{
		RunID:          runID,
		StartLine:      diag.Range.Start.Line,
		StartCharacter: diag.Range.Start.Character,
		EndLine:        diag.Range.End.Line,
		EndCharacter:   diag.Range.End.Character,
		Severity:       int(diag.Severity),
		Source:         diag.Source,
		Message:        diag.Message,
	}

	switch code := diag.Code.(type) {
	case int:
		row.Code = sql.NullInt64{Int64: int64(code), Valid: true}
	case int32:
		row.Code = sql.NullInt64{Int64: int64(code), Valid: true}
	case int64:
		row.Code = sql.NullInt64{Int64: code, Valid: true}
	case float64:
		// codes decoded from JSON
		row.Code = sql.NullInt64{Int64: int64(code), Valid: true}
	}
	return row
}

func (row diagnosticRow) diagnostic() lsp.Diagnostic {
	diag := lsp.Diagnostic{
		Range: lsp.Range{
			Start: lsp.Position{Line: row.StartLine, Character: row.StartCharacter},
			End:   lsp.Position{Line: row.EndLine, Character: row.EndCharacter},
		},
		Severity: lsp.DiagnosticSeverity(row.Severity),
		Source:   row.Source,
		Message:  row.Message,
	}

	if row.Code.Valid {
		diag.Code = int(row.Code.Int64)
	}
	return diag
}

// Record stores run and its diagnostics in one transaction. Missing ids,
// session and time are filled in; the stored run is returned.
func (log *Logger) Record(run Run) (Run, error) {
	if len(run.ID) == 0 {
		run.ID = uuid.NewString()
	}

	if len(run.SessionID) == 0 {
		run.SessionID = log.SessionID()
	}

	if !run.CreatedAt.Valid || run.CreatedAt.Time.IsZero() {
		run.CreatedAt = NullTime{Time: time.Now(), Valid: true}
	}

	tx, err := log.db.Beginx()
	if err != nil {
		return run, errors.Wrap(err, "starting run record")
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`INSERT INTO runs (
	id, session_id, document, document_version, origin,
	diagnostic_count, error_count, syntax_count, fatal,
	duration_ms, created_at
) VALUES (
	:id, :session_id, :document, :document_version, :origin,
	:diagnostic_count, :error_count, :syntax_count, :fatal,
	:duration_ms, :created_at
)`, &run); err != nil {
		return run, errors.Wrapf(err, "recording run for %s", run.Document)
	}

	for _, diag := range run.Diagnostics {
		row := newDiagnosticRow(run.ID, diag)
		if _, err := tx.NamedExec(`INSERT INTO diagnostics (
	run_id, start_line, start_character, end_line, end_character,
	severity, code, source, message
) VALUES (
	:run_id, :start_line, :start_character, :end_line, :end_character,
	:severity, :code, :source, :message
)`, &row); err != nil {
			return run, errors.Wrapf(err, "recording diagnostics for %s", run.Document)
		}
	}

	if err := tx.Commit(); err != nil {
		return run, errors.Wrap(err, "committing run record")
	}
	return run, nil
}

// RunFilter narrows Runs. Zero fields match everything.
type RunFilter struct {
	SessionID string
	Document  string
	Origin    string
	Since     time.Time
	// OnlyFailing keeps runs with at least one diagnostic.
	OnlyFailing bool
	Limit       uint64
}

func (f RunFilter) query() (string, []any, error) {
	q := sq.Select("*").From("runs")

	if len(f.SessionID) != 0 {
		q = q.Where(sq.Eq{"session_id": f.SessionID})
	}

	if len(f.Document) != 0 {
		q = q.Where(sq.Eq{"document": f.Document})
	}

	if len(f.Origin) != 0 {
		q = q.Where(sq.Eq{"origin": f.Origin})
	}

	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": formatTime(f.Since)})
	}

	if f.OnlyFailing {
		q = q.Where(sq.Gt{"diagnostic_count": 0})
	}

	q = q.OrderBy("created_at ASC", "rowid ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	return q.ToSql()
}

// RunIterator streams runs without loading all of them into memory.
type RunIterator struct {
	rows *sqlx.Rows
}

func (it *RunIterator) Next() bool {
	res := it.rows.Next()
	if !res {
		it.rows.Close()
	}
	return res
}

func (it *RunIterator) Value() (Run, error) {
	var run Run
	if err := it.rows.StructScan(&run); err != nil {
		it.rows.Close()
		return Run{}, errors.Wrap(err, "scanning run")
	}
	return run, nil
}

func (it *RunIterator) Close() error {
	return it.rows.Close()
}

func (it *RunIterator) List() ([]Run, error) {
	var runs []Run
	for it.Next() {
		run, err := it.Value()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(it.rows.Err(), "listing runs")
}

// Runs returns the runs matching filter, oldest first. The iterator must
// be drained or closed before the logger is used again.
func (log *Logger) Runs(filter RunFilter) (*RunIterator, error) {
	query, args, err := filter.query()
	if err != nil {
		return nil, errors.Wrap(err, "building run query")
	}

	rows, err := log.db.Queryx(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying runs")
	}
	return &RunIterator{rows: rows}, nil
}

// RunsWithDiagnostics is Runs with every run's diagnostics loaded.
func (log *Logger) RunsWithDiagnostics(filter RunFilter) ([]Run, error) {
	iter, err := log.Runs(filter)
	if err != nil {
		return nil, err
	}

	runs, err := iter.List()
	if err != nil {
		return nil, err
	}

	for i := range runs {
		diagnostics, err := log.Diagnostics(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Diagnostics = diagnostics
	}
	return runs, nil
}

// Diagnostics returns the diagnostics recorded for a run in their original
// order.
func (log *Logger) Diagnostics(runID string) ([]lsp.Diagnostic, error) {
	var rows []diagnosticRow
	if err := log.db.Select(&rows, "SELECT * FROM diagnostics WHERE run_id = ? ORDER BY id ASC", runID); err != nil {
		return nil, errors.Wrapf(err, "loading diagnostics of run %s", runID)
	}

	diagnostics := make([]lsp.Diagnostic, 0, len(rows))
	for _, row := range rows {
		diagnostics = append(diagnostics, row.diagnostic())
	}
	return diagnostics, nil
}

// Sessions lists every session with recorded runs, oldest first.
func (log *Logger) Sessions() ([]string, error) {
	var sessions []string
	err := log.db.Select(&sessions, "SELECT session_id FROM runs GROUP BY session_id ORDER BY MIN(created_at) ASC")
	return sessions, errors.Wrap(err, "listing sessions")
}
