package benchmark

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/odvcencio/blockbench/pkg/browser"
)

// Site identifies a page to benchmark: a host plus optional path and query,
// without a scheme (e.g. "bing.com/search?q=tacos").
type Site string

// URL returns the address visited for the site.
func (s Site) URL() string {
	return "https://" + string(s)
}

// Domain returns the host the site's results are grouped under.
func (s Site) Domain() string {
	raw := strings.TrimSpace(string(s))
	if u, err := url.Parse("http://" + raw); err == nil && u.Host != "" {
		return u.Host
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func (s Site) String() string {
	return string(s)
}

// Config controls a benchmark run.
type Config struct {
	Sites []Site
	// NumTests is the number of trials per site.
	NumTests int
	// RestartInterval restarts both sessions before every trial whose global
	// ordinal is a multiple of it. Zero disables periodic restarts.
	RestartInterval int
	// ResetTimeout bounds each state reset.
	ResetTimeout time.Duration
}

// Validate checks that the run is well-formed.
func (c Config) Validate() error {
	if len(c.Sites) == 0 {
		return errors.New("no sites configured")
	}
	for i, site := range c.Sites {
		if strings.TrimSpace(string(site)) == "" {
			return fmt.Errorf("site %d is empty", i)
		}
	}
	if c.NumTests < 1 {
		return fmt.Errorf("num_tests must be at least 1, got %d", c.NumTests)
	}
	if c.RestartInterval < 0 {
		return fmt.Errorf("restart_interval must not be negative, got %d", c.RestartInterval)
	}
	return nil
}

// Sample is one committed latency measurement.
type Sample struct {
	RunID     string
	Site      Site
	Domain    string
	Trial     int
	Iteration int
	Role      browser.Role
	Millis    float64
	Penalty   bool
	At        time.Time
}

// Abandonment records a trial dropped by the catch-all recovery path.
type Abandonment struct {
	RunID     string
	Site      Site
	Trial     int
	Iteration int
	Reason    string
	At        time.Time
}

// RestartReason says why a session was relaunched.
type RestartReason string

const (
	RestartTimeout  RestartReason = "timeout"
	RestartPeriodic RestartReason = "periodic"
	RestartRecovery RestartReason = "recovery"
)

// RestartEvent describes a session restart. Role is empty when both
// sessions restart.
type RestartEvent struct {
	Site      Site
	Trial     int
	Iteration int
	Role      browser.Role
	Reason    RestartReason
}

// TrialOutcome is the committed result of one trial.
type TrialOutcome struct {
	Site             Site
	Trial            int
	Iteration        int
	TreatmentMillis  float64
	BaselineMillis   float64
	TreatmentPenalty bool
	BaselinePenalty  bool
	Verdict          Verdict
}

// SiteResult accumulates a site's samples. Both series grow together, one
// entry per committed trial.
type SiteResult struct {
	Site      Site
	Domain    string
	Treatment []float64
	Baseline  []float64
	Penalties map[browser.Role]int
	Verdicts  map[Verdict]int
	Abandoned int
}

// NewSiteResult creates an empty result for site.
func NewSiteResult(site Site) *SiteResult {
	return &SiteResult{
		Site:      site,
		Domain:    site.Domain(),
		Penalties: make(map[browser.Role]int),
		Verdicts:  make(map[Verdict]int),
	}
}

// Len returns the number of committed trials.
func (r *SiteResult) Len() int {
	return len(r.Treatment)
}

func (r *SiteResult) commit(o TrialOutcome) {
	r.Treatment = append(r.Treatment, o.TreatmentMillis)
	r.Baseline = append(r.Baseline, o.BaselineMillis)
	if o.TreatmentPenalty {
		r.Penalties[browser.RoleTreatment]++
	}
	if o.BaselinePenalty {
		r.Penalties[browser.RoleBaseline]++
	}
	r.Verdicts[o.Verdict]++
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	OutputPath       string
	Sites            []*SiteResult
	Iterations       int
	TimeoutRestarts  int
	PeriodicRestarts int
	RecoveryRestarts int
	AbandonedTrials  int
	ResetFailures    int
	LedgerFailures   int
	FlushFailures    int
}

// Duration returns the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s == nil || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
