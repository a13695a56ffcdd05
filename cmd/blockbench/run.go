package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/odvcencio/blockbench/pkg/benchmark"
	"github.com/odvcencio/blockbench/pkg/browser"
	"github.com/odvcencio/blockbench/pkg/browser/adapters/chromium"
	"github.com/odvcencio/blockbench/pkg/config"
	"github.com/odvcencio/blockbench/pkg/logging"
	"github.com/odvcencio/blockbench/pkg/results"
	"github.com/odvcencio/blockbench/pkg/storage"
	"github.com/odvcencio/blockbench/pkg/telemetry"
	"github.com/odvcencio/blockbench/pkg/terminal"
)

// newLauncherFn allows tests to run the full pipeline against a scripted browser.
var newLauncherFn = func(cfg *config.Config) (browser.Launcher, error) {
	return chromium.NewLauncher(chromium.Config{
		Bin:          cfg.Browser.Bin,
		Headless:     cfg.Browser.Headless,
		UserDataRoot: cfg.UserDataRoot(),
		Leakless:     cfg.Browser.Leakless,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
	})
}

// visitClock is the time source for load measurements.
var visitClock = time.Now

type runFlags struct {
	sites           []string
	numTests        int
	restartInterval int
	extension       string
	headless        bool
	outputDir       string
	outputFile      string
	metricsAddr     string
	traceFile       string
	noLedger        bool
	logLevel        string
	skipPreflight   bool
}

func newRunCmd(root *rootOptions, out *terminal.Writer) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [site...]",
		Short: "Run the paired benchmark and write the results workbook",
		Long: "Visit every site num_tests times in a browser with the content blocker and one without,\n" +
			"then save one sheet of load times per site to the results workbook.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				flags.sites = append(append([]string(nil), args...), flags.sites...)
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return withExitCode(err, exitConfig)
			}
			root.warn(out, cfg)
			if !flags.skipPreflight {
				if err := preflight(cfg, out); err != nil {
					return withExitCode(err, exitConfig)
				}
			}

			_, err = runBenchmark(cmd.Context(), cfg, out)
			return err
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&flags.sites, "site", nil, "Site to benchmark, without scheme (repeatable; replaces the configured list)")
	f.IntVarP(&flags.numTests, "num-tests", "n", 0, "Trials per site")
	f.IntVar(&flags.restartInterval, "restart-interval", 0, "Restart both browsers every N trials (0 disables)")
	f.StringVarP(&flags.extension, "extension", "e", "", "Unpacked content blocker extension directory")
	f.BoolVar(&flags.headless, "headless", false, "Run both browsers headless")
	f.StringVar(&flags.outputDir, "output-dir", "", "Directory for the results workbook")
	f.StringVarP(&flags.outputFile, "output", "o", "", "Workbook file name (default load_times_details_iteration_<n>.xlsx)")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on host:port during the run")
	f.StringVar(&flags.traceFile, "trace-file", "", "Append OpenTelemetry spans for the run to this file")
	f.BoolVar(&flags.noLedger, "no-ledger", false, "Do not record samples in the sqlite ledger")
	f.StringVar(&flags.logLevel, "log-level", "", "Run log level (debug, info, warn, error)")
	f.BoolVar(&flags.skipPreflight, "skip-preflight", false, "Do not check for chromium and the extension before starting")
	return cmd
}

// apply copies explicitly set flags over cfg and revalidates it.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if len(f.sites) > 0 {
		cfg.Sites = f.sites
	}
	if changed("num-tests") {
		cfg.Benchmark.NumTests = f.numTests
	}
	if changed("restart-interval") {
		cfg.Benchmark.RestartInterval = f.restartInterval
	}
	if changed("extension") {
		cfg.Browser.ExtensionPath = f.extension
	}
	if changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	if changed("output-dir") {
		cfg.Output.Dir = f.outputDir
	}
	if changed("output") {
		cfg.Output.File = f.outputFile
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if changed("trace-file") {
		cfg.Tracing.File = f.traceFile
	}
	if f.noLedger {
		cfg.Ledger.Enabled = false
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	return cfg.Validate()
}

// runBenchmark wires the browser pair, the workbook, the ledger and the
// console reporter into a Runner and executes it.
func runBenchmark(ctx context.Context, cfg *config.Config, out *terminal.Writer) (*benchmark.Summary, error) {
	runID := ulid.Make().String()

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	logger, err := logging.NewLogger(cfg.LogDir(), runID)
	if err != nil {
		return nil, withExitCode(fmt.Errorf("open run log: %w", err), exitRunFailed)
	}
	defer logger.Close()
	logger.SetMinLevel(level)
	for _, w := range cfg.ValidationWarnings() {
		_ = logger.Warn(logging.CategoryConfig, "config_warning", w, nil)
	}

	if addr := strings.TrimSpace(cfg.Metrics.Addr); addr != "" {
		ms, err := startMetricsServer(addr, logger)
		if err != nil {
			return nil, withExitCode(err, exitRunFailed)
		}
		defer ms.Close()
		out.Dim("Metrics on http://%s/metrics", ms.Addr())
	}

	if path := cfg.TraceFile(); path != "" {
		stop, err := startTracing(path)
		if err != nil {
			return nil, withExitCode(err, exitRunFailed)
		}
		defer stop(ctx, logger)
	}

	launcher, err := newLauncherFn(cfg)
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}

	browserMetrics := browser.NewMetrics()
	pair, err := browser.NewPair(launcher, browser.PairConfig{
		ExtensionPath:  cfg.ExtensionPath(),
		PlaceWindows:   cfg.Browser.PlaceWindows,
		LaunchAttempts: cfg.Browser.LaunchAttempts,
		LaunchBackoff:  cfg.Browser.LaunchBackoff,
	}, browser.WithMetrics(browserMetrics), browser.WithLogger(logger))
	if err != nil {
		return nil, withExitCode(err, exitRunFailed)
	}
	defer func() {
		if err := pair.Close(); err != nil {
			_ = logger.Warn(logging.CategorySession, "pair_close_failed", err.Error(), nil)
		}
	}()

	visitor := browser.NewVisitor(cfg.Benchmark.PageLoadTimeout,
		browser.WithClock(visitClock),
		browser.WithVisitMetrics(browserMetrics),
		browser.WithVisitLogger(logger),
	)

	outputPath := cfg.OutputPath(results.FileName(cfg.Benchmark.NumTests))
	workbook := results.NewWorkbook(outputPath, results.Labels{
		Treatment: cfg.Output.TreatmentLabel,
		Baseline:  cfg.Output.BaselineLabel,
	})

	sites := make([]benchmark.Site, 0, len(cfg.Sites))
	for _, s := range cfg.Sites {
		sites = append(sites, benchmark.Site(strings.TrimSpace(s)))
	}
	benchCfg := benchmark.Config{
		Sites:           sites,
		NumTests:        cfg.Benchmark.NumTests,
		RestartInterval: cfg.Benchmark.RestartInterval,
		ResetTimeout:    cfg.Benchmark.ResetTimeout,
	}

	var (
		store    *storage.Store
		recorder benchmark.SampleRecorder
	)
	if cfg.Ledger.Enabled {
		store, err = storage.New(cfg.LedgerPath())
		if err != nil {
			return nil, withExitCode(err, exitRunFailed)
		}
		defer store.Close()
		err = store.BeginRun(ctx, storage.RunRecord{
			ID:              runID,
			StartedAt:       time.Now(),
			NumTests:        benchCfg.NumTests,
			RestartInterval: benchCfg.RestartInterval,
			SiteCount:       len(sites),
			OutputPath:      outputPath,
		})
		if err != nil {
			return nil, withExitCode(err, exitRunFailed)
		}
		recorder = store
	}

	reporter := benchmark.NewReporter(out, benchCfg.NumTests,
		benchmark.WithRoleNames(cfg.Output.TreatmentName, cfg.Output.BaselineName))
	runner, err := benchmark.NewRunner(benchCfg, benchmark.Dependencies{
		Pair:     pair,
		Visitor:  visitor,
		Sink:     workbook,
		Recorder: recorder,
		Observer: reporter,
		Logger:   logger,
		Metrics:  browserMetrics,
		RunID:    runID,
	})
	if err != nil {
		finishLedger(ctx, store, runID, err, logger)
		return nil, withExitCode(err, exitConfig)
	}

	out.Info("Run %s: %d sites x %d trials -> %s", runID, len(sites), benchCfg.NumTests, outputPath)

	if err := pair.Start(ctx); err != nil {
		finishLedger(ctx, store, runID, err, logger)
		return nil, withExitCode(err, exitCodeFor(err))
	}

	summary, runErr := runner.Run(ctx)
	finishLedger(ctx, store, runID, runErr, logger)

	if err := reporter.Summary(summary); err != nil {
		_ = logger.Warn(logging.CategoryTrial, "summary_render_failed", err.Error(), nil)
	}
	snap := browserMetrics.Snapshot()
	out.Dim("Browsers launched %d, visits %d (%d failed, avg %s), resets %d (%d failed)",
		snap.SessionsLaunched, snap.VisitCount, snap.VisitFailureCount,
		snap.AverageVisit.Round(time.Millisecond), snap.ResetCount, snap.ResetFailureCount)
	out.Dim("Run log: %s", logging.RunLogPath(cfg.LogDir(), runID))

	if runErr != nil {
		return summary, withExitCode(runErr, exitCodeFor(runErr))
	}
	return summary, nil
}

func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitRunFailed
}

// finishLedger closes out the run row even when ctx was cancelled.
func finishLedger(ctx context.Context, store *storage.Store, runID string, runErr error, logger *logging.Logger) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := store.FinishRun(ctx, runID, time.Now(), runErr); err != nil {
		_ = logger.Error(logging.CategoryStore, "finish_run_failed", err.Error(), nil)
	}
}

// startTracing appends the run's spans to path. The returned stop flushes
// them, even after ctx was cancelled.
func startTracing(path string) (func(context.Context, *logging.Logger), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tp, err := telemetry.NewTracerProvider("blockbench", version, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return func(ctx context.Context, logger *logging.Logger) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			_ = logger.Warn(logging.CategoryMetrics, "trace_flush_failed", err.Error(), nil)
		}
		f.Close()
	}, nil
}
