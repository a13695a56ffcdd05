// Package benchmark drives paired treatment/baseline page-load trials across
// a list of sites and hands each site's samples to a result sink.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/blockbench/pkg/browser"
	bberrors "github.com/odvcencio/blockbench/pkg/errors"
	"github.com/odvcencio/blockbench/pkg/logging"
	"github.com/odvcencio/blockbench/pkg/telemetry"
)

// DefaultResetTimeout bounds a state reset when Config.ResetTimeout is unset.
const DefaultResetTimeout = 30 * time.Second

// SessionPair is the session lifecycle the Runner drives.
type SessionPair interface {
	Session(role browser.Role) *browser.Session
	Restart(ctx context.Context, role browser.Role) error
	RestartBoth(ctx context.Context) error
}

// PageVisitor performs one timed visit.
type PageVisitor interface {
	Visit(ctx context.Context, sess *browser.Session, url string) (browser.VisitResult, error)
	PenaltyMillis() float64
}

// ResultSink persists a finished site.
type ResultSink interface {
	Flush(result *SiteResult) error
	Path() string
}

// SampleRecorder mirrors committed samples and abandoned trials.
type SampleRecorder interface {
	RecordSample(ctx context.Context, sample Sample) error
	RecordAbandoned(ctx context.Context, abandonment Abandonment) error
}

// Dependencies bundles the collaborators of a Runner. Pair, Visitor and Sink
// are required.
type Dependencies struct {
	Pair     SessionPair
	Visitor  PageVisitor
	Sink     ResultSink
	Recorder SampleRecorder
	Observer Observer
	Logger   *logging.Logger
	// Metrics counts state resets. Optional.
	Metrics *browser.Metrics
	// Reset clears a session's state. Defaults to browser.Reset.
	Reset func(ctx context.Context, sess *browser.Session) error
	// RunID identifies the run in logs and the ledger. Generated when empty.
	RunID string
}

// Runner executes the benchmark loop on a single goroutine.
type Runner struct {
	cfg      Config
	pair     SessionPair
	visitor  PageVisitor
	sink     ResultSink
	recorder SampleRecorder
	observer Observer
	logger   *logging.Logger
	metrics  *browser.Metrics
	reset    func(ctx context.Context, sess *browser.Session) error
	counter  RestartCounter
	runID    string
	now      func() time.Time
}

// NewRunner validates cfg and constructs a Runner.
func NewRunner(cfg Config, deps Dependencies) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeConfigInvalid, "invalid benchmark config")
	}
	if deps.Pair == nil {
		return nil, errors.New("session pair is required")
	}
	if deps.Visitor == nil {
		return nil, errors.New("visitor is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("result sink is required")
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	reset := deps.Reset
	if reset == nil {
		reset = browser.Reset
	}
	runID := deps.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}
	return &Runner{
		cfg:      cfg,
		pair:     deps.Pair,
		visitor:  deps.Visitor,
		sink:     deps.Sink,
		recorder: deps.Recorder,
		observer: deps.Observer,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		reset:    reset,
		runID:    runID,
		now:      time.Now,
	}, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string {
	return r.runID
}

// Run benchmarks every configured site in order. Each site is flushed as
// soon as its trials finish, including a site interrupted by cancellation.
// The returned Summary is non-nil even when Run fails.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	ctx, span := telemetry.StartSpan(ctx, "benchmark.run", telemetry.AttrRunID.String(r.runID))
	defer span.End()

	summary := &Summary{
		RunID:      r.runID,
		StartedAt:  r.now(),
		OutputPath: r.sink.Path(),
	}
	_ = r.logger.Info(logging.CategoryTrial, "run_start", "", map[string]any{
		"sites":            len(r.cfg.Sites),
		"num_tests":        r.cfg.NumTests,
		"restart_interval": r.cfg.RestartInterval,
		"output":           summary.OutputPath,
	})

	var runErr error
	for _, site := range r.cfg.Sites {
		result, err := r.RunSite(ctx, site, summary)
		summary.Sites = append(summary.Sites, result)
		r.flush(result, summary)
		if err != nil {
			runErr = err
			break
		}
	}

	summary.Iterations = r.counter.Count()
	summary.FinishedAt = r.now()
	r.logger.SetSite("")
	fields := map[string]any{
		"iterations": summary.Iterations,
		"abandoned":  summary.AbandonedTrials,
		"duration":   summary.Duration().String(),
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		failSpan(span, runErr)
		_ = r.logger.Error(logging.CategoryTrial, "run_aborted", runErr.Error(), fields)
		return summary, runErr
	}
	_ = r.logger.Info(logging.CategoryTrial, "run_complete", "", fields)
	return summary, nil
}

// RunSite runs NumTests trials of site without flushing. The partial result
// is returned alongside any error that stopped the site.
func (r *Runner) RunSite(ctx context.Context, site Site, summary *Summary) (*SiteResult, error) {
	if summary == nil {
		summary = &Summary{RunID: r.runID}
	}
	result := NewSiteResult(site)
	r.logger.SetSite(string(site))

	ctx, span := telemetry.StartSpan(ctx, "benchmark.site", telemetry.AttrSite.String(string(site)))
	defer span.End()

	for trial := 1; trial <= r.cfg.NumTests; trial++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		iteration := r.counter.Next()

		trialCtx, trialSpan := telemetry.StartSpan(ctx, "benchmark.trial",
			telemetry.AttrTrial.Int(trial),
			telemetry.AttrIteration.Int(iteration),
		)
		outcome, err := r.runTrial(trialCtx, site, trial, iteration, summary)
		if err == nil {
			trialSpan.SetAttributes(telemetry.AttrVerdict.String(outcome.Verdict.String()))
			trialSpan.End()
			r.commit(ctx, result, outcome, summary)
			continue
		}
		failSpan(trialSpan, err)
		if ctx.Err() != nil {
			trialSpan.End()
			failSpan(span, ctx.Err())
			return result, ctx.Err()
		}
		rerr := r.abandon(trialCtx, site, trial, iteration, err, result, summary)
		trialSpan.End()
		if rerr != nil {
			failSpan(span, rerr)
			return result, rerr
		}
	}
	return result, nil
}

// runTrial measures both sessions once. Any error it returns, including a
// recovered panic, sends the trial to the catch-all path.
func (r *Runner) runTrial(ctx context.Context, site Site, trial, iteration int, summary *Summary) (outcome TrialOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = bberrors.New(bberrors.ErrCodeInternal, fmt.Sprintf("panic during trial: %v", p))
		}
	}()

	if r.counter.Due(r.cfg.RestartInterval) {
		r.notifyRestart(ctx, RestartEvent{Site: site, Trial: trial, Iteration: iteration, Reason: RestartPeriodic})
		if err := r.pair.RestartBoth(ctx); err != nil {
			return TrialOutcome{}, fmt.Errorf("periodic restart: %w", err)
		}
		summary.PeriodicRestarts++
	}

	outcome = TrialOutcome{Site: site, Trial: trial, Iteration: iteration}

	outcome.TreatmentMillis, outcome.TreatmentPenalty, err = r.measure(ctx, browser.RoleTreatment, site, trial, iteration, summary)
	if err != nil {
		return TrialOutcome{}, err
	}
	outcome.BaselineMillis, outcome.BaselinePenalty, err = r.measure(ctx, browser.RoleBaseline, site, trial, iteration, summary)
	if err != nil {
		return TrialOutcome{}, err
	}

	for _, role := range browser.Roles {
		r.resetSession(ctx, role, summary)
	}

	outcome.Verdict = Compare(outcome.TreatmentMillis, outcome.BaselineMillis)
	return outcome, nil
}

// measure visits site with role's session. A transient failure yields the
// penalty value and restarts that session only.
func (r *Runner) measure(ctx context.Context, role browser.Role, site Site, trial, iteration int, summary *Summary) (float64, bool, error) {
	visitCtx, span := telemetry.StartSpan(ctx, "benchmark.visit", telemetry.AttrRole.String(string(role)))
	result, err := r.visitor.Visit(visitCtx, r.pair.Session(role), site.URL())
	if err != nil {
		failSpan(span, err)
		span.End()
		return 0, false, fmt.Errorf("%s visit: %w", role, err)
	}
	recordVisit(role, result)
	if !result.Failed() {
		span.SetAttributes(telemetry.AttrMillis.Float64(result.Milliseconds()))
		span.End()
		return result.Milliseconds(), false, nil
	}
	failSpan(span, result.Err)
	span.End()

	r.notifyRestart(ctx, RestartEvent{Site: site, Trial: trial, Iteration: iteration, Role: role, Reason: RestartTimeout})
	_ = r.logger.Warn(logging.CategoryRestart, "session_restart", result.Err.Error(), map[string]any{
		"role":      string(role),
		"reason":    string(RestartTimeout),
		"trial":     trial,
		"iteration": iteration,
	})
	if err := r.pair.Restart(ctx, role); err != nil {
		return 0, false, fmt.Errorf("restart %s: %w", role, err)
	}
	summary.TimeoutRestarts++
	return r.visitor.PenaltyMillis(), true, nil
}

// resetSession clears role's state. Failures are reported, never fatal.
func (r *Runner) resetSession(ctx context.Context, role browser.Role, summary *Summary) {
	resetCtx, cancel := context.WithTimeout(ctx, r.cfg.ResetTimeout)
	defer cancel()

	err := r.reset(resetCtx, r.pair.Session(role))
	r.metrics.RecordReset(err)
	if err == nil {
		return
	}
	summary.ResetFailures++
	recordResetFailure()
	_ = r.logger.Warn(logging.CategorySession, "reset_failed", err.Error(), map[string]any{
		"role": string(role),
	})
}

func (r *Runner) commit(ctx context.Context, result *SiteResult, o TrialOutcome, summary *Summary) {
	result.commit(o)
	recordVerdict(o.Verdict)
	_ = r.logger.Info(logging.CategoryTrial, "trial_complete", "", map[string]any{
		"trial":     o.Trial,
		"iteration": o.Iteration,
		"treatment": o.TreatmentMillis,
		"baseline":  o.BaselineMillis,
		"verdict":   o.Verdict.String(),
	})
	if r.observer != nil {
		r.observer.TrialCompleted(o)
	}
	if r.recorder == nil {
		return
	}

	at := r.now()
	samples := []Sample{
		{Role: browser.RoleTreatment, Millis: o.TreatmentMillis, Penalty: o.TreatmentPenalty},
		{Role: browser.RoleBaseline, Millis: o.BaselineMillis, Penalty: o.BaselinePenalty},
	}
	for _, s := range samples {
		s.RunID = r.runID
		s.Site = o.Site
		s.Domain = result.Domain
		s.Trial = o.Trial
		s.Iteration = o.Iteration
		s.At = at
		if err := r.recorder.RecordSample(ctx, s); err != nil {
			summary.LedgerFailures++
			_ = r.logger.Error(logging.CategoryStore, "ledger_write_failed", err.Error(), map[string]any{
				"role":  string(s.Role),
				"trial": o.Trial,
			})
		}
	}
}

// abandon is the catch-all path: drop the trial, restart both sessions and
// move on. Only a failed restart stops the run.
func (r *Runner) abandon(ctx context.Context, site Site, trial, iteration int, cause error, result *SiteResult, summary *Summary) error {
	result.Abandoned++
	summary.AbandonedTrials++
	recordAbandoned()

	dropped := bberrors.Wrap(cause, bberrors.ErrCodeTrialAbandoned, "trial abandoned")
	abandonment := Abandonment{
		RunID:     r.runID,
		Site:      site,
		Trial:     trial,
		Iteration: iteration,
		Reason:    dropped.Error(),
		At:        r.now(),
	}
	fields := map[string]any{
		"trial":      trial,
		"iteration":  iteration,
		"code":       string(dropped.Code),
		"cause_code": string(bberrors.GetCode(cause)),
	}
	var coded *bberrors.Error
	if errors.As(cause, &coded) && coded.Code == bberrors.ErrCodeInternal {
		fields["stack"] = coded.StackTrace()
	}
	_ = r.logger.Error(logging.CategoryTrial, "trial_abandoned", dropped.Error(), fields)
	if r.observer != nil {
		r.observer.TrialAbandoned(abandonment)
	}
	if r.recorder != nil {
		if err := r.recorder.RecordAbandoned(ctx, abandonment); err != nil {
			summary.LedgerFailures++
			_ = r.logger.Error(logging.CategoryStore, "ledger_write_failed", err.Error(), nil)
		}
	}

	r.notifyRestart(ctx, RestartEvent{Site: site, Trial: trial, Iteration: iteration, Reason: RestartRecovery})
	if err := r.pair.RestartBoth(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return bberrors.Wrap(err, bberrors.GetCode(err), "recover from abandoned trial").
			WithContext("site", string(site)).
			WithContext("trial", trial)
	}
	summary.RecoveryRestarts++
	return nil
}

func (r *Runner) flush(result *SiteResult, summary *Summary) {
	if err := r.sink.Flush(result); err != nil {
		summary.FlushFailures++
		recordFlushFailure()
		_ = r.logger.Error(logging.CategoryStore, "flush_failed", err.Error(), map[string]any{
			"site":   string(result.Site),
			"domain": result.Domain,
		})
		if r.observer != nil {
			r.observer.SiteFlushFailed(result.Site, err)
		}
		return
	}
	_ = r.logger.Info(logging.CategoryStore, "site_flushed", "", map[string]any{
		"site":   string(result.Site),
		"domain": result.Domain,
		"rows":   result.Len(),
	})
	if r.observer != nil {
		r.observer.SiteSaved(result.Site, r.sink.Path())
	}
}

func (r *Runner) notifyRestart(ctx context.Context, e RestartEvent) {
	recordRestart(e.Reason)
	attrs := []attribute.KeyValue{telemetry.AttrReason.String(string(e.Reason))}
	if e.Role != "" {
		attrs = append(attrs, telemetry.AttrRole.String(string(e.Role)))
	}
	telemetry.AddEvent(ctx, "session_restart", attrs...)
	if r.observer != nil {
		r.observer.SessionRestarted(e)
	}
}

func failSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
