package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/juan-carlos/juancarlos/config"
	"github.com/juan-carlos/juancarlos/logger"
	"github.com/spf13/cobra"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const stdinPath = "-"

var htmlExtensions = []string{".html", ".htm", ".xhtml"}

type lintedFile struct {
	Path   string
	Result analysis.Result
	Took   time.Duration
}

type reportDiagnostic struct {
	Range    lsp.Range `json:"range" yaml:"range"`
	Severity string    `json:"severity,omitempty" yaml:"severity,omitempty"`
	Code     any       `json:"code,omitempty" yaml:"code,omitempty"`
	Source   string    `json:"source,omitempty" yaml:"source,omitempty"`
	Message  string    `json:"message" yaml:"message"`
}

type fileReport struct {
	Path        string             `json:"path" yaml:"path"`
	Fatal       bool               `json:"fatal" yaml:"fatal"`
	Diagnostics []reportDiagnostic `json:"diagnostics" yaml:"diagnostics"`
}

func newFileReport(file lintedFile) fileReport {
	report := fileReport{
		Path:        file.Path,
		Fatal:       file.Result.Fatal,
		Diagnostics: make([]reportDiagnostic, 0, len(file.Result.Diagnostics)),
	}

	for _, diag := range file.Result.Diagnostics {
		rd := reportDiagnostic{
			Range:   diag.Range,
			Code:    diag.Code,
			Source:  diag.Source,
			Message: diag.Message,
		}

		if diag.Severity != 0 {
			rd.Severity = config.SeverityName(diag.Severity)
		}
		report.Diagnostics = append(report.Diagnostics, rd)
	}
	return report
}

// expandPaths resolves globs and walks directories for HTML files. The
// result keeps the order of the arguments.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	seen := map[string]struct{}{}

	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}

	for _, arg := range args {
		if arg == stdinPath {
			add(arg)
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %s", arg)
		} else if len(matches) == 0 {
			return nil, errors.Newf("%s: no such file", arg)
		}

		for _, match := range matches {
			fi, err := os.Stat(match)
			if err != nil {
				return nil, errors.Wrapf(err, "%s", match)
			}

			if !fi.IsDir() {
				add(match)
				continue
			}

			err = filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}

				if !d.IsDir() && isHTML(path) {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, errors.Wrapf(err, "walking %s", match)
			}
		}
	}
	return paths, nil
}

func isHTML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, htmlExt := range htmlExtensions {
		if ext == htmlExt {
			return true
		}
	}
	return false
}

func readSource(path string, stdin io.Reader) (string, error) {
	if path == stdinPath {
		content, err := io.ReadAll(stdin)
		return string(content), errors.Wrap(err, "reading stdin")
	}

	content, err := os.ReadFile(path)
	return string(content), errors.Wrapf(err, "reading %s", path)
}

// lintFiles analyzes paths with up to jobs files in flight. Results are in
// the order of paths.
func lintFiles(ctx context.Context, analyzer *analysis.Analyzer, paths []string, jobs int, stdin io.Reader) ([]lintedFile, error) {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	results := make([]lintedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, max(len(paths), 1)))

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			text, err := readSource(path, stdin)
			if err != nil {
				return err
			}

			source := filepath.Base(path)
			if path == stdinPath {
				source = "stdin"
			}

			start := time.Now()
			result := analyzer.Run(source, text)
			results[i] = lintedFile{Path: path, Result: result, Took: time.Since(start)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// hasErrors reports whether any file failed to parse or has an error-level
// diagnostic.
func hasErrors(files []lintedFile) bool {
	for _, file := range files {
		if file.Result.Fatal {
			return true
		}

		for _, diag := range file.Result.Diagnostics {
			if diag.Severity == lsp.DiagnosticSeverityError {
				return true
			}
		}
	}
	return false
}

func severityLabel(severity lsp.DiagnosticSeverity) string {
	switch severity {
	case lsp.DiagnosticSeverityError:
		return color.RedString("error")
	case lsp.DiagnosticSeverityWarning:
		return color.YellowString("warning")
	case lsp.DiagnosticSeverityInformation:
		return color.BlueString("info")
	case lsp.DiagnosticSeverityHint:
		return color.CyanString("hint")
	default:
		return color.HiBlackString("note")
	}
}

// writeText prints one line per diagnostic with one-based positions, the
// way compilers do.
func writeText(w io.Writer, files []lintedFile) {
	problems, withProblems := 0, 0
	for _, file := range files {
		if len(file.Result.Diagnostics) == 0 {
			continue
		}

		withProblems++
		for _, diag := range file.Result.Diagnostics {
			problems++
			fmt.Fprintf(w, "%s:%d:%d: %s: %s",
				color.New(color.Bold).Sprint(file.Path),
				diag.Range.Start.Line+1,
				diag.Range.Start.Character+1,
				severityLabel(diag.Severity),
				diag.Message,
			)

			if diag.Code != nil {
				fmt.Fprintf(w, " [%v]", diag.Code)
			}
			fmt.Fprintln(w)
		}
	}

	if problems == 0 {
		fmt.Fprintln(w, color.GreenString("no problems found"), fmt.Sprintf("in %d file(s)", len(files)))
		return
	}
	fmt.Fprintf(w, "\n%d problem(s) in %d of %d file(s)\n", problems, withProblems, len(files))
}

func writeReports(w io.Writer, format string, files []lintedFile) error {
	switch format {
	case "text", "":
		writeText(w, files)
		return nil
	}

	reports := make([]fileReport, 0, len(files))
	for _, file := range files {
		reports = append(reports, newFileReport(file))
	}
	return encode(w, format, reports)
}

// encode writes v as json or yaml.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "encoding json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "encoding yaml")
		}
		return errors.Wrap(enc.Close(), "encoding yaml")
	default:
		return errors.WithHint(
			errors.Newf("unknown format %q", format),
			"use one of text, json or yaml",
		)
	}
}

// recordRuns stores every linted file in the history, one after the other
// since sqlite has a single writer.
func recordRuns(log *logger.Logger, files []lintedFile) error {
	for _, file := range files {
		document := file.Path
		if file.Path != stdinPath {
			abs, err := filepath.Abs(file.Path)
			if err != nil {
				return errors.Wrapf(err, "resolving %s", file.Path)
			}
			document = string(uri.File(abs))
		}

		run := logger.NewRun(document, 0, logger.OriginCLI, file.Result, file.Took)
		if _, err := log.Record(run); err != nil {
			return err
		}
	}
	return nil
}

var lintCmd = &cobra.Command{
	Use:   "lint <files...>",
	Short: "Lints HTML files, directories or globs. Use - to read from stdin.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		analyzer, err := cfg.BuildAnalyzer()
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format != "text" {
			if err := encode(io.Discard, format, nil); err != nil {
				return err
			}
		}

		paths, err := expandPaths(args)
		if err != nil {
			return err
		}

		jobs, _ := cmd.Flags().GetInt("jobs")
		files, err := lintFiles(cmd.Context(), analyzer, paths, jobs, cmd.InOrStdin())
		if err != nil {
			return err
		}

		if record, _ := cmd.Flags().GetBool("record"); record {
			history, err := openHistory(cmd, cfg)
			if err != nil {
				return err
			}
			defer history.Close()

			if err := recordRuns(history, files); err != nil {
				return err
			}
		}

		if err := writeReports(cmd.OutOrStdout(), format, files); err != nil {
			return err
		}

		if hasErrors(files) {
			return &exitError{code: 1}
		}
		return nil
	},
}
