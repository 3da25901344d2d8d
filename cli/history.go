package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/juan-carlos/juancarlos/config"
	"github.com/juan-carlos/juancarlos/logger"
	"github.com/juan-carlos/juancarlos/logger/stats"
	"github.com/juan-carlos/juancarlos/report"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"
	"go.lsp.dev/uri"
)

const allSessions = "all"

func addRunFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("session", "", "only runs of this session, \"all\" for every session (defaults to the current one)")
	cmd.Flags().String("document", "", "only runs of this document (a path or a URI)")
	cmd.Flags().String("origin", "", "only runs recorded by the server or the cli")
	cmd.Flags().Duration("since", 0, "only runs recorded within this duration")
	cmd.Flags().Bool("failing", false, "only runs with diagnostics")
	cmd.Flags().Uint64("limit", 0, "at most this many runs")
}

// documentURI turns a path into a file URI and leaves URIs alone.
func documentURI(document string) (string, error) {
	if len(document) == 0 || strings.Contains(document, "://") {
		return document, nil
	}

	abs, err := filepath.Abs(document)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", document)
	}
	return string(uri.File(abs)), nil
}

func runFilter(cmd *cobra.Command, log *logger.Logger) (logger.RunFilter, error) {
	var filter logger.RunFilter

	session, _ := cmd.Flags().GetString("session")
	switch session {
	case "":
		filter.SessionID = log.SessionID()
	case allSessions:
	default:
		filter.SessionID = session
	}

	document, _ := cmd.Flags().GetString("document")
	doc, err := documentURI(document)
	if err != nil {
		return filter, err
	}
	filter.Document = doc

	filter.Origin, _ = cmd.Flags().GetString("origin")
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	filter.OnlyFailing, _ = cmd.Flags().GetBool("failing")
	filter.Limit, _ = cmd.Flags().GetUint64("limit")
	return filter, nil
}

func withHistory(cmd *cobra.Command, fn func(log *logger.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := openHistory(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	return fn(log)
}

func writeRuns(w io.Writer, runs []logger.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tDOCUMENT\tVERSION\tORIGIN\tDIAGNOSTICS\tERRORS\tTOOK")
	for _, run := range runs {
		diagnostics := strconv.Itoa(run.DiagnosticCount)
		if run.Fatal {
			diagnostics += " (fatal)"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			run.CreatedAt.Time.Local().Format(time.DateTime),
			run.SessionID,
			run.Document,
			run.DocumentVersion,
			run.Origin,
			diagnostics,
			run.ErrorCount,
			run.Duration(),
		)
	}
	return tw.Flush()
}

func writeStats(w io.Writer, documents []stats.DocumentStats) error {
	if len(documents) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tRUNS\tFAILING\tTIME TO CLEAN\tREPEATED DENSITY\tSTATUS")
	for _, doc := range documents {
		status := color.RedString("failing")
		if doc.Clean {
			status = color.GreenString("clean")
		}

		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%.2f\t%s\n",
			doc.Document,
			doc.Runs,
			doc.FailingRuns,
			doc.TimeToClean,
			doc.RepeatedDensity,
			status,
		)
	}
	return tw.Flush()
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists the recorded lint runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd, func(log *logger.Logger) error {
			filter, err := runFilter(cmd, log)
			if err != nil {
				return err
			}

			iter, err := log.Runs(filter)
			if err != nil {
				return err
			}

			runs, err := iter.List()
			if err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("format")
			if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
				documents := stats.Compute(runs)
				if format == "text" {
					return writeStats(cmd.OutOrStdout(), documents)
				}
				return encode(cmd.OutOrStdout(), format, documents)
			}

			if format == "text" {
				return writeRuns(cmd.OutOrStdout(), runs)
			}
			return encode(cmd.OutOrStdout(), format, runs)
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <out.xlsx>",
	Short: "Exports the recorded runs and their diagnostics to an excel file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd, func(log *logger.Logger) error {
			filter, err := runFilter(cmd, log)
			if err != nil {
				return err
			}

			runs, err := log.RunsWithDiagnostics(filter)
			if err != nil {
				return err
			}

			if err := report.ExportXLSX(args[0], runs); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %d run(s) to %s\n", len(runs), args[0])
			return nil
		})
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <document> <from-version> <to-version>",
	Short: "Shows what changed between two saved snapshots of a document",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		document, err := documentURI(args[0])
		if err != nil {
			return err
		}

		versions := make([]int32, 2)
		for i, raw := range args[1:] {
			version, err := strconv.ParseInt(raw, 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid version %q", raw)
			}
			versions[i] = int32(version)
		}

		return withHistory(cmd, func(log *logger.Logger) error {
			diffStats, err := report.WriteSnapshotDiff(cmd.OutOrStdout(), log, document, versions[0], versions[1])
			if errors.Is(err, logger.ErrSnapshotNotFound) {
				available, _ := log.SnapshotVersions(document)
				return errors.WithHintf(err, "available versions: %v", available)
			} else if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "\n%s, %s\n",
				color.GreenString("+%d", diffStats.Inserted),
				color.RedString("-%d", diffStats.Deleted),
			)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Deletes the runs and snapshots of the current session and starts a new one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd, func(log *logger.Logger) error {
			if err := log.Reset(); err != nil {
				return err
			}

			if err := log.GenerateSessionID(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		})
	},
}

var sessionIdCmd = &cobra.Command{
	Use:   "session-id",
	Short: "Returns the ID of the current history session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd, func(log *logger.Logger) error {
			if isGenerate, _ := cmd.Flags().GetBool("generate"); isGenerate {
				if err := log.GenerateSessionID(); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), log.SessionID())
			return nil
		})
	},
}

// searchRules keeps the rules whose name fuzzily matches query, best match
// first.
func searchRules(query string, statuses []config.RuleStatus) []config.RuleStatus {
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = status.Name
	}

	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Sort(ranks)

	found := make([]config.RuleStatus, 0, len(ranks))
	for _, rank := range ranks {
		found = append(found, statuses[rank.OriginalIndex])
	}
	return found
}

func writeRules(w io.Writer, format string, statuses []config.RuleStatus) error {
	if format != "text" {
		return encode(w, format, statuses)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tSTATUS\tSEVERITY\tCODE\tDESCRIPTION")
	for _, status := range statuses {
		enabled := color.RedString("disabled")
		if status.Enabled {
			enabled = color.GreenString("enabled")
		}

		code := "-"
		if status.Code != nil {
			code = strconv.Itoa(*status.Code)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			status.Name,
			enabled,
			config.SeverityName(status.Severity),
			code,
			status.Description,
		)
	}
	return tw.Flush()
}
