package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/juan-carlos/juancarlos/config"
	"github.com/juan-carlos/juancarlos/logger"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestExpandPaths(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"index.html":       "<p></p>",
		"about.htm":        "<p></p>",
		"notes.txt":        "not html",
		"nested/page.html": "<p></p>",
	})

	paths, err := expandPaths([]string{
		filepath.Join(dir, "index.html"),
		dir,
		stdinPath,
	})
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{
		filepath.Join(dir, "index.html"),
		filepath.Join(dir, "about.htm"),
		filepath.Join(dir, "nested", "page.html"),
		stdinPath,
	}

	if diff := cmp.Diff(expected, paths); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}

	if _, err := expandPaths([]string{filepath.Join(dir, "missing.html")}); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestLintFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.html": `<p class="x"></p>`,
		"b.html": `<div id="x"></div><div id="x"></div>`,
		"c.html": `<p></p>`,
	})

	paths := []string{
		filepath.Join(dir, "a.html"),
		filepath.Join(dir, "b.html"),
		filepath.Join(dir, "c.html"),
		stdinPath,
	}

	files, err := lintFiles(context.Background(), analysis.New(), paths, 2, strings.NewReader(`<i class="y"></i>`))
	if err != nil {
		t.Fatal(err)
	}

	counts := make([]int, len(files))
	for i, file := range files {
		if file.Path != paths[i] {
			t.Errorf("Expected results in argument order, got %s at %d", file.Path, i)
		}
		counts[i] = len(file.Result.Diagnostics)
	}

	if diff := cmp.Diff([]int{1, 1, 0, 1}, counts); diff != "" {
		t.Errorf("Diagnostic counts mismatch (-want +got):\n%s", diff)
	}

	if source := files[0].Result.Diagnostics[0].Source; source != "a.html" {
		t.Errorf("Expected the file name as source, got %q", source)
	}

	if source := files[3].Result.Diagnostics[0].Source; source != "stdin" {
		t.Errorf("Expected stdin as source, got %q", source)
	}

	if !hasErrors(files) {
		t.Error("Expected the class diagnostics to count as errors")
	}

	// duplicate ids carry no severity
	if hasErrors(files[1:3]) {
		t.Error("Expected no errors without the class rule")
	}
}

func TestWriteReports_JSON(t *testing.T) {
	files := []lintedFile{
		{
			Path:   "index.html",
			Result: analysis.New().Run("index.html", `<p class="x"></p>`),
		},
	}

	var buf bytes.Buffer
	if err := writeReports(&buf, "json", files); err != nil {
		t.Fatal(err)
	}

	var reports []fileReport
	if err := json.Unmarshal(buf.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}

	if len(reports) != 1 || len(reports[0].Diagnostics) != 1 {
		t.Fatalf("Unexpected reports %+v", reports)
	}

	diag := reports[0].Diagnostics[0]
	if diag.Severity != "error" || diag.Code != float64(analysis.ClassAttributeCode) || diag.Range.Start.Character != 3 {
		t.Errorf("Unexpected diagnostic %+v", diag)
	}
}

func TestWriteReports_Text(t *testing.T) {
	color.NoColor = true

	files := []lintedFile{
		{Path: "index.html", Result: analysis.New().Run("index.html", "<div>\n  <p class=\"x\"></p>\n</div>")},
		{Path: "clean.html", Result: analysis.New().Run("clean.html", "<p></p>")},
	}

	var buf bytes.Buffer
	if err := writeReports(&buf, "text", files); err != nil {
		t.Fatal(err)
	}

	expected := "index.html:2:6: error: " + analysis.DefaultClassAttributeMessage + " [12]\n\n1 problem(s) in 1 of 2 file(s)\n"
	if diff := cmp.Diff(expected, buf.String()); diff != "" {
		t.Errorf("Output mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_UnknownFormat(t *testing.T) {
	err := encode(&bytes.Buffer{}, "xml", nil)
	if err == nil {
		t.Fatal("Expected an error")
	}

	if hints := errors.GetAllHints(err); len(hints) == 0 {
		t.Error("Expected a hint listing the formats")
	}
}

func TestRecordRuns(t *testing.T) {
	log, err := logger.NewMemoryLogger()
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	files := []lintedFile{
		{Path: "index.html", Result: analysis.New().Run("index.html", `<p class="x"></p>`)},
		{Path: stdinPath, Result: analysis.New().Run("stdin", `<p></p>`)},
	}

	if err := recordRuns(log, files); err != nil {
		t.Fatal(err)
	}

	runs, err := log.RunsWithDiagnostics(logger.RunFilter{Origin: logger.OriginCLI})
	if err != nil {
		t.Fatal(err)
	}

	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}

	if !strings.HasPrefix(runs[0].Document, "file://") || !strings.HasSuffix(runs[0].Document, "/index.html") {
		t.Errorf("Expected a file URI, got %s", runs[0].Document)
	}

	if runs[1].Document != stdinPath || len(runs[1].Diagnostics) != 0 {
		t.Errorf("Unexpected stdin run %+v", runs[1])
	}
}

func TestSearchRules(t *testing.T) {
	statuses := config.Default().RuleInfos()

	found := searchRules("dupid", statuses)
	if len(found) != 1 || found[0].Name != analysis.DuplicateIDRuleName {
		t.Errorf("Expected %s, got %+v", analysis.DuplicateIDRuleName, found)
	}

	if found := searchRules("zzz", statuses); len(found) != 0 {
		t.Errorf("Expected no match, got %+v", found)
	}
}

func TestLintCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{"index.html": `<p class="x"></p>`})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"lint",
		"--data-dir", t.TempDir(),
		"--format", "yaml",
		filepath.Join(dir, "index.html"),
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()

	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 1 {
		t.Fatalf("Expected exit status 1, got %v", err)
	}

	for _, want := range []string{"severity: error", "code: 12", "message: " + analysis.DefaultClassAttributeMessage} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output:\n%s", want, out.String())
		}
	}
}
