package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/blockbench/pkg/benchmark"
	"github.com/odvcencio/blockbench/pkg/browser"
	"github.com/odvcencio/blockbench/pkg/config"
	"github.com/odvcencio/blockbench/pkg/logging"
	"github.com/odvcencio/blockbench/pkg/storage"
	"github.com/odvcencio/blockbench/pkg/terminal"
)

// openLedgerFn allows tests to point the runs commands at a temp ledger.
var openLedgerFn = storage.New

func newRunsCmd(root *rootOptions, out *terminal.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs from the sample ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				out.Dim("No runs recorded.")
				return nil
			}
			return out.Markdown(runsMarkdown(runs))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Number of runs to list (0 for all)")

	var events int
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Summarize one run's samples per site and tail its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runID := strings.TrimSpace(args[0])
			samples, err := store.ListSamples(cmd.Context(), runID)
			if err != nil {
				return err
			}
			abandoned, err := store.ListAbandoned(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(samples) == 0 && len(abandoned) == 0 {
				return withExitCode(fmt.Errorf("no samples recorded for run %s", runID), exitRunFailed)
			}
			out.Header(fmt.Sprintf("Run %s", runID))
			if err := out.Markdown(runDetailMarkdown(samples, abandoned)); err != nil {
				return err
			}
			if events > 0 {
				printRecentEvents(out, logging.RunLogPath(cfg.LogDir(), runID), events)
			}
			return nil
		},
	}
	show.Flags().IntVar(&events, "events", 10, "Number of trailing run log events to print (0 to skip)")
	cmd.AddCommand(show)
	return cmd
}

func openLedger(cfg *config.Config) (*storage.Store, error) {
	store, err := openLedgerFn(cfg.LedgerPath())
	if err != nil {
		return nil, withExitCode(err, exitRunFailed)
	}
	return store, nil
}

func runsMarkdown(runs []storage.RunRecord) string {
	var b strings.Builder
	b.WriteString("| Run | Started | Status | Sites | Trials/site | Samples | Abandoned | Output |\n")
	b.WriteString("|-----|---------|--------|-------|-------------|---------|-----------|--------|\n")
	for _, run := range runs {
		status := run.Status
		if run.Error != "" {
			status += ": " + run.Error
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %d | %d | %s |\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			escapeCell(status),
			run.SiteCount,
			run.NumTests,
			run.Samples,
			run.Abandoned,
			escapeCell(run.OutputPath),
		)
	}
	return b.String()
}

// printRecentEvents prints the tail of a run log. A missing log is not an
// error; logs live on the machine that ran the benchmark.
func printRecentEvents(out *terminal.Writer, path string, count int) {
	events, err := logging.ReadRecentEvents(path, count)
	if err != nil {
		out.Dim("No run log at %s", path)
		return
	}
	out.Divider()
	out.Header("Recent log events")
	for _, e := range events {
		line := formatEvent(e)
		switch e.Level {
		case logging.LevelError:
			out.Failure("%s", line)
		case logging.LevelWarn:
			out.Warn("%s", line)
		default:
			out.Dim("%s", line)
		}
	}
}

func formatEvent(e logging.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s/%s", e.Timestamp.Local().Format(time.TimeOnly), strings.ToUpper(string(e.Level)), e.Category, e.EventType)
	if e.Site != "" {
		fmt.Fprintf(&b, " [%s]", e.Site)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

type siteStats struct {
	domain    string
	trials    int
	wins      int
	sum       map[browser.Role]float64
	penalties map[browser.Role]int
	abandoned int
}

// runDetailMarkdown rebuilds per-site verdicts from ledger samples. Samples
// are paired by iteration, which is unique per trial.
func runDetailMarkdown(samples []benchmark.Sample, abandoned []benchmark.Abandonment) string {
	bySite := make(map[benchmark.Site]*siteStats)
	var order []benchmark.Site
	stats := func(site benchmark.Site) *siteStats {
		s, ok := bySite[site]
		if !ok {
			s = &siteStats{
				domain:    site.Domain(),
				sum:       make(map[browser.Role]float64, 2),
				penalties: make(map[browser.Role]int, 2),
			}
			bySite[site] = s
			order = append(order, site)
		}
		return s
	}

	trials := make(map[int]map[browser.Role]benchmark.Sample)
	var iterations []int
	for _, sample := range samples {
		pair, ok := trials[sample.Iteration]
		if !ok {
			pair = make(map[browser.Role]benchmark.Sample, 2)
			trials[sample.Iteration] = pair
			iterations = append(iterations, sample.Iteration)
		}
		pair[sample.Role] = sample
	}
	sort.Ints(iterations)

	for _, it := range iterations {
		pair := trials[it]
		t, tok := pair[browser.RoleTreatment]
		bl, bok := pair[browser.RoleBaseline]
		if !tok || !bok {
			continue
		}
		s := stats(t.Site)
		s.trials++
		s.sum[browser.RoleTreatment] += t.Millis
		s.sum[browser.RoleBaseline] += bl.Millis
		if t.Penalty {
			s.penalties[browser.RoleTreatment]++
		}
		if bl.Penalty {
			s.penalties[browser.RoleBaseline]++
		}
		if benchmark.Compare(t.Millis, bl.Millis) == benchmark.VerdictTreatmentFaster {
			s.wins++
		}
	}
	for _, a := range abandoned {
		stats(a.Site).abandoned++
	}

	var b strings.Builder
	b.WriteString("| Site | Trials | Treatment faster | Mean T (ms) | Mean B (ms) | Penalties (T/B) | Abandoned |\n")
	b.WriteString("|------|--------|------------------|-------------|-------------|-----------------|-----------|\n")
	for _, site := range order {
		s := bySite[site]
		meanT, meanB := 0.0, 0.0
		if s.trials > 0 {
			meanT = s.sum[browser.RoleTreatment] / float64(s.trials)
			meanB = s.sum[browser.RoleBaseline] / float64(s.trials)
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %.0f | %.0f | %d/%d | %d |\n",
			escapeCell(s.domain), s.trials, s.wins, meanT, meanB,
			s.penalties[browser.RoleTreatment], s.penalties[browser.RoleBaseline], s.abandoned)
	}
	return b.String()
}
