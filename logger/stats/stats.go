// Package stats summarizes the lint history of each document.
package stats

import (
	"strconv"
	"strings"
	"time"

	"github.com/juan-carlos/juancarlos/logger"
	"golang.org/x/exp/slices"
)

type DocumentStats struct {
	Document    string `json:"document" yaml:"document"`
	Runs        int    `json:"runs" yaml:"runs"`
	FailingRuns int    `json:"failing_runs" yaml:"failing_runs"`
	// TimeToClean adds up, for every streak of failing runs, the time from
	// its first run to the clean run that ended it.
	TimeToClean time.Duration `json:"time_to_clean" yaml:"time_to_clean"`
	// Clean is set when the latest run had no diagnostics.
	Clean bool `json:"clean" yaml:"clean"`
	// RepeatedDensity grows with consecutive runs that report the same
	// diagnostics.
	RepeatedDensity float64 `json:"repeated_density" yaml:"repeated_density"`
}

// Compute groups runs by document. runs must be ordered oldest first, as
// returned by the logger. The result is sorted by document.
func Compute(runs []logger.Run) []DocumentStats {
	byDocument := map[string][]logger.Run{}
	var documents []string

	for _, run := range runs {
		if _, ok := byDocument[run.Document]; !ok {
			documents = append(documents, run.Document)
		}
		byDocument[run.Document] = append(byDocument[run.Document], run)
	}

	slices.Sort(documents)

	result := make([]DocumentStats, 0, len(documents))
	for _, document := range documents {
		docRuns := byDocument[document]
		stats := DocumentStats{
			Document:        document,
			Runs:            len(docRuns),
			TimeToClean:     TimeToClean(docRuns),
			RepeatedDensity: RepeatedDensity(docRuns),
			Clean:           docRuns[len(docRuns)-1].DiagnosticCount == 0,
		}

		for _, run := range docRuns {
			if run.DiagnosticCount > 0 {
				stats.FailingRuns++
			}
		}
		result = append(result, stats)
	}
	return result
}

func TimeToClean(runs []logger.Run) time.Duration {
	var total time.Duration
	var start time.Time

	for _, run := range runs {
		if run.DiagnosticCount > 0 {
			if start.IsZero() {
				start = run.CreatedAt.Time
			}
			continue
		}

		if !start.IsZero() {
			total += run.CreatedAt.Time.Sub(start)
			start = time.Time{}
		}
	}
	return total
}

// RepeatedDensity adds n²/(n+1) for every streak of n repeats of the same
// failing signature. A clean run or a different signature ends a streak.
func RepeatedDensity(runs []logger.Run) float64 {
	current := ""
	repeated := 0
	density := 0.0

	flush := func() {
		if repeated > 0 {
			density += float64(repeated*repeated) / float64(repeated+1)
		}
		repeated = 0
	}

	for _, run := range runs {
		sig := Signature(run)
		if len(sig) != 0 && sig == current {
			repeated++
			continue
		}

		flush()
		current = sig
	}

	flush()
	return density
}

// Signature identifies what a run complained about: its sorted diagnostic
// messages, or only their count when the diagnostics were not loaded. A
// clean run has an empty signature.
func Signature(run logger.Run) string {
	if run.DiagnosticCount == 0 {
		return ""
	}

	if len(run.Diagnostics) == 0 {
		return strconv.Itoa(run.DiagnosticCount) + " diagnostics"
	}

	messages := make([]string, 0, len(run.Diagnostics))
	for _, diag := range run.Diagnostics {
		messages = append(messages, diag.Message)
	}
	slices.Sort(messages)
	return strings.Join(messages, "\n")
}
