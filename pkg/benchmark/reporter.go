package benchmark

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/blockbench/pkg/browser"
	"github.com/odvcencio/blockbench/pkg/terminal"
)

// Observer receives progress notifications from the Runner. Notifications
// are informational; nothing an Observer does changes the run.
type Observer interface {
	TrialCompleted(outcome TrialOutcome)
	SessionRestarted(event RestartEvent)
	TrialAbandoned(abandonment Abandonment)
	SiteSaved(site Site, path string)
	SiteFlushFailed(site Site, err error)
}

// Reporter writes run progress to a terminal.
type Reporter struct {
	out       *terminal.Writer
	numTests  int
	treatment string
	baseline  string
}

// ReporterOption customizes a Reporter.
type ReporterOption func(*Reporter)

// WithRoleNames sets how the two sessions are named in console lines.
func WithRoleNames(treatment, baseline string) ReporterOption {
	return func(r *Reporter) {
		if strings.TrimSpace(treatment) != "" {
			r.treatment = treatment
		}
		if strings.TrimSpace(baseline) != "" {
			r.baseline = baseline
		}
	}
}

// NewReporter creates a Reporter for runs of numTests trials per site.
func NewReporter(out *terminal.Writer, numTests int, opts ...ReporterOption) *Reporter {
	if out == nil {
		out = terminal.New()
	}
	r := &Reporter{
		out:       out,
		numTests:  numTests,
		treatment: "uBlock client",
		baseline:  "Non-uBlock client",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) roleName(role browser.Role) string {
	if role == browser.RoleTreatment {
		return r.treatment
	}
	return r.baseline
}

// TrialCompleted prints the trial verdict, green when the treatment won.
func (r *Reporter) TrialCompleted(o TrialOutcome) {
	if o.Verdict == VerdictTreatmentFaster {
		r.out.Success("%d/%d: %s was faster on %s", o.Trial, r.numTests, r.treatment, o.Site)
		return
	}
	r.out.Failure("%d/%d: %s was faster on %s", o.Trial, r.numTests, r.baseline, o.Site)
}

// SessionRestarted prints a warning naming the site and iteration.
func (r *Reporter) SessionRestarted(e RestartEvent) {
	switch e.Reason {
	case RestartTimeout:
		r.out.Warn("Iteration %d: %s timeout on %s. Restarting session.", e.Iteration, r.roleName(e.Role), e.Site)
	case RestartPeriodic:
		r.out.Warn("Iteration %d: periodic restart of both sessions before %s.", e.Iteration, e.Site)
	default:
		r.out.Warn("Iteration %d: restarting both sessions on %s.", e.Iteration, e.Site)
	}
}

// TrialAbandoned prints the catch-all failure.
func (r *Reporter) TrialAbandoned(a Abandonment) {
	r.out.Failure("Iteration %d on %s encountered an error: %s. Trial dropped.", a.Trial, a.Site, a.Reason)
}

// SiteSaved confirms a flushed site.
func (r *Reporter) SiteSaved(site Site, path string) {
	r.out.Println("Data for %s has been saved to %s", site, path)
}

// SiteFlushFailed reports a site whose results could not be written.
func (r *Reporter) SiteFlushFailed(site Site, err error) {
	r.out.Error("could not save %s: %v", site, err)
}

// Summary prints the end-of-run table.
func (r *Reporter) Summary(s *Summary) error {
	if s == nil {
		return nil
	}
	r.out.Header(fmt.Sprintf("Run %s", s.RunID))
	return r.out.Markdown(SummaryMarkdown(s, r.treatment))
}

// SummaryMarkdown renders a markdown table of per-site counts followed by
// the run's restart and failure totals.
func SummaryMarkdown(s *Summary, treatmentName string) string {
	if s == nil {
		return ""
	}
	if treatmentName == "" {
		treatmentName = "treatment"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "| Site | Trials | %s faster | Penalties (T/B) | Abandoned |\n", treatmentName)
	b.WriteString("|------|--------|--------|-----------------|-----------|\n")
	for _, site := range s.Sites {
		fmt.Fprintf(&b, "| %s | %d | %d (%.0f%%) | %d/%d | %d |\n",
			site.Domain,
			site.Len(),
			site.Verdicts[VerdictTreatmentFaster],
			site.WinRate()*100,
			site.Penalties[browser.RoleTreatment],
			site.Penalties[browser.RoleBaseline],
			site.Abandoned,
		)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "- **Iterations:** %d\n", s.Iterations)
	fmt.Fprintf(&b, "- **Restarts:** %d timeout, %d periodic, %d recovery\n",
		s.TimeoutRestarts, s.PeriodicRestarts, s.RecoveryRestarts)
	if s.ResetFailures > 0 {
		fmt.Fprintf(&b, "- **Reset failures:** %d\n", s.ResetFailures)
	}
	if s.LedgerFailures > 0 {
		fmt.Fprintf(&b, "- **Ledger failures:** %d\n", s.LedgerFailures)
	}
	if s.FlushFailures > 0 {
		fmt.Fprintf(&b, "- **Flush failures:** %d\n", s.FlushFailures)
	}
	if s.OutputPath != "" {
		fmt.Fprintf(&b, "- **Output:** %s\n", s.OutputPath)
	}
	if d := s.Duration(); d > 0 {
		fmt.Fprintf(&b, "- **Duration:** %s\n", formatDuration(d))
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
