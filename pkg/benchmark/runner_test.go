package benchmark

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/blockbench/pkg/browser"
	"github.com/odvcencio/blockbench/pkg/browser/browsertest"
	bberrors "github.com/odvcencio/blockbench/pkg/errors"
	"github.com/odvcencio/blockbench/pkg/logging"
)

type memorySink struct {
	path    string
	errs    map[Site]error
	flushed []*SiteResult
}

func (s *memorySink) Flush(r *SiteResult) error {
	if err := s.errs[r.Site]; err != nil {
		return err
	}
	s.flushed = append(s.flushed, r)
	return nil
}

func (s *memorySink) Path() string { return s.path }

type memoryRecorder struct {
	samples   []Sample
	abandoned []Abandonment
	err       error
}

func (m *memoryRecorder) RecordSample(_ context.Context, s Sample) error {
	if m.err != nil {
		return m.err
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *memoryRecorder) RecordAbandoned(_ context.Context, a Abandonment) error {
	m.abandoned = append(m.abandoned, a)
	return nil
}

type recordingObserver struct {
	outcomes  []TrialOutcome
	restarts  []RestartEvent
	abandoned []Abandonment
	saved     []Site
	failed    []Site
	onTrial   func(TrialOutcome)
}

func (o *recordingObserver) TrialCompleted(t TrialOutcome) {
	o.outcomes = append(o.outcomes, t)
	if o.onTrial != nil {
		o.onTrial(t)
	}
}
func (o *recordingObserver) SessionRestarted(e RestartEvent) { o.restarts = append(o.restarts, e) }
func (o *recordingObserver) TrialAbandoned(a Abandonment) { o.abandoned = append(o.abandoned, a) }
func (o *recordingObserver) SiteSaved(s Site, _ string) { o.saved = append(o.saved, s) }
func (o *recordingObserver) SiteFlushFailed(s Site, _ error) { o.failed = append(o.failed, s) }

type harness struct {
	clock    *browsertest.Clock
	launcher *browsertest.Launcher
	pair     *browser.Pair
	sink     *memorySink
	recorder *memoryRecorder
	observer *recordingObserver
	metrics  *browser.Metrics
	logger   *logging.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := browsertest.NewClock()
	launcher := browsertest.NewLauncher(clock)
	pair, err := browser.NewPair(launcher, browser.PairConfig{LaunchAttempts: 1})
	require.NoError(t, err)
	return &harness{
		clock:    clock,
		launcher: launcher,
		pair:     pair,
		sink:     &memorySink{path: "out.xlsx", errs: map[Site]error{}},
		recorder: &memoryRecorder{},
		observer: &recordingObserver{},
		metrics:  browser.NewMetrics(),
	}
}

// runner starts the pair and returns a Runner wired to the harness fakes.
func (h *harness) runner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	require.NoError(t, h.pair.Start(context.Background()))
	t.Cleanup(func() { _ = h.pair.Close() })

	r, err := NewRunner(cfg, Dependencies{
		Pair:     h.pair,
		Visitor:  browser.NewVisitor(0, browser.WithClock(h.clock.Now)),
		Sink:     h.sink,
		Recorder: h.recorder,
		Observer: h.observer,
		Metrics:  h.metrics,
		Logger:   h.logger,
		RunID:    "run-test",
	})
	require.NoError(t, err)
	return r
}

func totalResets(handles []*browsertest.Handle) int {
	n := 0
	for _, h := range handles {
		n += h.Resets()
	}
	return n
}

func TestRunConcreteScenario(t *testing.T) {
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Load(100), browsertest.Load(200), browsertest.Timeout())
	h.launcher.Script(browser.RoleBaseline, browsertest.Load(150), browsertest.Load(120), browsertest.Load(130))

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 3, RestartInterval: 2})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.sink.flushed, 1)
	got := h.sink.flushed[0]
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, []float64{100, 200, 60000}, got.Treatment)
	assert.Equal(t, []float64{150, 120, 130}, got.Baseline)

	var verdicts []Verdict
	for _, o := range h.observer.outcomes {
		verdicts = append(verdicts, o.Verdict)
	}
	assert.Equal(t, []Verdict{VerdictTreatmentFaster, VerdictBaselineFaster, VerdictBaselineFaster}, verdicts)

	assert.Equal(t, []RestartEvent{
		{Site: "example.com", Trial: 2, Iteration: 2, Reason: RestartPeriodic},
		{Site: "example.com", Trial: 3, Iteration: 3, Role: browser.RoleTreatment, Reason: RestartTimeout},
	}, h.observer.restarts)

	// initial + periodic + timeout for treatment, initial + periodic for baseline
	assert.Len(t, h.launcher.Handles(browser.RoleTreatment), 3)
	assert.Len(t, h.launcher.Handles(browser.RoleBaseline), 2)

	assert.Equal(t, 3, totalResets(h.launcher.Handles(browser.RoleTreatment)))
	assert.Equal(t, 3, totalResets(h.launcher.Handles(browser.RoleBaseline)))

	assert.Equal(t, 3, summary.Iterations)
	assert.Equal(t, 1, summary.PeriodicRestarts)
	assert.Equal(t, 1, summary.TimeoutRestarts)
	assert.Equal(t, 0, summary.AbandonedTrials)
	assert.Equal(t, 1, got.Penalties[browser.RoleTreatment])
	assert.Equal(t, []Site{"example.com"}, h.observer.saved)
	assert.Len(t, h.recorder.samples, 6)
}

func TestPeriodicRestartCounterSpansSites(t *testing.T) {
	h := newHarness(t)
	r := h.runner(t, Config{Sites: []Site{"a.com", "b.com"}, NumTests: 2, RestartInterval: 3})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.observer.restarts, 1)
	assert.Equal(t, RestartEvent{Site: "b.com", Trial: 1, Iteration: 3, Reason: RestartPeriodic}, h.observer.restarts[0])
	assert.Equal(t, 4, summary.Iterations)
	assert.Len(t, h.sink.flushed, 2)
}

func TestTimeoutsAreIndependentPerRole(t *testing.T) {
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Load(300))
	h.launcher.Script(browser.RoleBaseline, browsertest.Timeout())

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 1})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	got := h.sink.flushed[0]
	assert.Equal(t, []float64{300}, got.Treatment)
	assert.Equal(t, []float64{60000}, got.Baseline)
	assert.Len(t, h.launcher.Handles(browser.RoleTreatment), 1)
	assert.Len(t, h.launcher.Handles(browser.RoleBaseline), 2)
	assert.Equal(t, VerdictTreatmentFaster, h.observer.outcomes[0].Verdict)
}

func TestBothTimeoutsTieToBaseline(t *testing.T) {
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Timeout())
	h.launcher.Script(browser.RoleBaseline, browsertest.Timeout())

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 1})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, VerdictBaselineFaster, h.observer.outcomes[0].Verdict)
	assert.Equal(t, 2, summary.TimeoutRestarts)
}

func TestCatchAllAbandonsTrialAndRestartsBoth(t *testing.T) {
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Load(100), browsertest.Load(110), browsertest.Load(120))
	h.launcher.Script(browser.RoleBaseline, browsertest.Load(150), browsertest.Fail(errors.New("driver lost")), browsertest.Load(170))

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 3})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	got := h.sink.flushed[0]
	assert.Equal(t, []float64{100, 120}, got.Treatment)
	assert.Equal(t, []float64{150, 170}, got.Baseline)
	assert.Equal(t, 1, got.Abandoned)
	assert.Equal(t, 1, summary.AbandonedTrials)
	assert.Equal(t, 1, summary.RecoveryRestarts)

	require.Len(t, h.observer.abandoned, 1)
	assert.Equal(t, 2, h.observer.abandoned[0].Trial)
	assert.Contains(t, h.observer.abandoned[0].Reason, "driver lost")
	assert.True(t, strings.HasPrefix(h.observer.abandoned[0].Reason, "[TRIAL_ABANDONED] trial abandoned"), h.observer.abandoned[0].Reason)
	require.Len(t, h.recorder.abandoned, 1)
	assert.Len(t, h.recorder.samples, 4)

	assert.Len(t, h.launcher.Handles(browser.RoleTreatment), 2)
	assert.Len(t, h.launcher.Handles(browser.RoleBaseline), 2)
	assert.Equal(t, RestartRecovery, h.observer.restarts[0].Reason)
}

func TestCatchAllRecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Step{Panic: "renderer crashed"})

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 2})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AbandonedTrials)
	assert.Equal(t, 1, h.sink.flushed[0].Len())
	assert.Contains(t, h.observer.abandoned[0].Reason, "renderer crashed")
}

func TestAbandonedPanicLogsStack(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	logger, err := logging.NewLogger(dir, "run-test")
	require.NoError(t, err)
	h.logger = logger
	h.launcher.Script(browser.RoleTreatment, browsertest.Step{Panic: "renderer crashed"})

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 1})
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	events, err := logging.ReadRecentEvents(logging.RunLogPath(dir, "run-test"), 0)
	require.NoError(t, err)
	var found *logging.Event
	for i := range events {
		if events[i].EventType == "trial_abandoned" {
			found = &events[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "TRIAL_ABANDONED", found.Details["code"])
	assert.Equal(t, "INTERNAL", found.Details["cause_code"])
	stack, _ := found.Details["stack"].(string)
	assert.True(t, strings.HasPrefix(stack, "Stack trace:"), stack)
}

func TestFailedRecoveryAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.launcher.Script(browser.RoleBaseline, browsertest.Fail(errors.New("driver lost")))
	r := h.runner(t, Config{Sites: []Site{"a.com", "b.com"}, NumTests: 3})
	h.launcher.FailLaunch(browser.RoleTreatment, errors.New("no chromium"))

	summary, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, bberrors.IsCode(err, bberrors.ErrCodeLaunchFailed))
	require.NotNil(t, summary)

	// the interrupted site is still flushed, the next one never starts
	require.Len(t, h.sink.flushed, 1)
	assert.Equal(t, Site("a.com"), h.sink.flushed[0].Site)
	assert.Equal(t, 0, h.sink.flushed[0].Len())
	assert.Equal(t, 1, summary.Iterations)
}

func TestResetFailureIsReportedNotFatal(t *testing.T) {
	h := newHarness(t)
	h.launcher.FailReset(browser.RoleBaseline, errors.New("storage locked"))

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 2})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ResetFailures)
	assert.Equal(t, 0, summary.AbandonedTrials)
	assert.Equal(t, 2, h.sink.flushed[0].Len())
}

func TestResetsAreCountedPerSessionPerTrial(t *testing.T) {
	h := newHarness(t)
	h.launcher.FailReset(browser.RoleBaseline, errors.New("storage locked"))

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 2})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(4), snap.ResetCount)
	assert.Equal(t, int64(1), snap.ResetFailureCount)
	assert.Equal(t, int64(summary.ResetFailures), snap.ResetFailureCount)
}

func TestCancellationFlushesInProgressSite(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.observer.onTrial = func(TrialOutcome) { cancel() }

	r := h.runner(t, Config{Sites: []Site{"a.com", "b.com"}, NumTests: 5})
	summary, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, h.sink.flushed, 1)
	assert.Equal(t, 1, h.sink.flushed[0].Len())
	assert.Equal(t, 0, summary.AbandonedTrials)
}

func TestFlushFailureDoesNotStopRun(t *testing.T) {
	h := newHarness(t)
	h.sink.errs["a.com"] = errors.New("disk full")

	r := h.runner(t, Config{Sites: []Site{"a.com", "b.com"}, NumTests: 1})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FlushFailures)
	assert.Equal(t, []Site{"a.com"}, h.observer.failed)
	assert.Equal(t, []Site{"b.com"}, h.observer.saved)
	assert.Len(t, summary.Sites, 2)
}

func TestLedgerFailureIsCounted(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errors.New("database is locked")

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 1})
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.LedgerFailures)
	assert.Equal(t, 1, h.sink.flushed[0].Len())
}

func TestSamplesCarryRunAndTrial(t *testing.T) {
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Timeout())

	r := h.runner(t, Config{Sites: []Site{"bing.com/search?q=tacos"}, NumTests: 1})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.recorder.samples, 2)
	treatment := h.recorder.samples[0]
	assert.Equal(t, "run-test", treatment.RunID)
	assert.Equal(t, browser.RoleTreatment, treatment.Role)
	assert.Equal(t, "bing.com", treatment.Domain)
	assert.Equal(t, 1, treatment.Trial)
	assert.True(t, treatment.Penalty)
	assert.Equal(t, 60000.0, treatment.Millis)
	assert.False(t, h.recorder.samples[1].Penalty)
}

func TestVisitsUseHTTPSURL(t *testing.T) {
	h := newHarness(t)
	r := h.runner(t, Config{Sites: []Site{"bing.com/search?q=tacos"}, NumTests: 1})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	handle := h.launcher.Handles(browser.RoleBaseline)[0]
	assert.Equal(t, []string{"https://bing.com/search?q=tacos"}, handle.Visited)
}

func TestNewRunnerValidation(t *testing.T) {
	h := newHarness(t)
	deps := Dependencies{Pair: h.pair, Visitor: browser.NewVisitor(0), Sink: h.sink}

	tests := []struct {
		name string
		cfg  Config
		deps Dependencies
	}{
		{name: "no sites", cfg: Config{NumTests: 1}, deps: deps},
		{name: "zero trials", cfg: Config{Sites: []Site{"a.com"}}, deps: deps},
		{name: "negative interval", cfg: Config{Sites: []Site{"a.com"}, NumTests: 1, RestartInterval: -1}, deps: deps},
		{name: "blank site", cfg: Config{Sites: []Site{" "}, NumTests: 1}, deps: deps},
		{name: "missing sink", cfg: Config{Sites: []Site{"a.com"}, NumTests: 1}, deps: Dependencies{Pair: h.pair, Visitor: browser.NewVisitor(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.cfg, tt.deps)
			assert.Error(t, err)
		})
	}

	r, err := NewRunner(Config{Sites: []Site{"a.com"}, NumTests: 1}, deps)
	require.NoError(t, err)
	assert.NotEmpty(t, r.RunID())
}
