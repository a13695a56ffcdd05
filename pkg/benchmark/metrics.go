package benchmark

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/blockbench/pkg/browser"
)

var (
	metricVisits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockbench",
		Name:      "visits_total",
		Help:      "Page visits by session role and outcome.",
	}, []string{"role", "outcome"})
	metricVisitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockbench",
		Name:      "visit_latency_seconds",
		Help:      "Successful page load latency by session role.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"role"})
	metricRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockbench",
		Name:      "restarts_total",
		Help:      "Session restarts by reason.",
	}, []string{"reason"})
	metricVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockbench",
		Name:      "trials_total",
		Help:      "Committed trials by verdict.",
	}, []string{"verdict"})
	metricAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockbench",
		Name:      "trials_abandoned_total",
		Help:      "Trials dropped by catch-all recovery.",
	})
	metricResetFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockbench",
		Name:      "reset_failures_total",
		Help:      "State resets that did not complete.",
	})
	metricFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockbench",
		Name:      "flush_failures_total",
		Help:      "Site results that could not be written to the workbook.",
	})
)

func recordVisit(role browser.Role, result browser.VisitResult) {
	metricVisits.WithLabelValues(string(role), result.Outcome.String()).Inc()
	if !result.Failed() {
		metricVisitLatency.WithLabelValues(string(role)).Observe(result.Duration.Seconds())
	}
}

func recordRestart(reason RestartReason) {
	metricRestarts.WithLabelValues(string(reason)).Inc()
}

func recordVerdict(v Verdict) {
	metricVerdicts.WithLabelValues(v.String()).Inc()
}

func recordAbandoned() {
	metricAbandoned.Inc()
}

func recordResetFailure() {
	metricResetFailures.Inc()
}

func recordFlushFailure() {
	metricFlushFailures.Inc()
}
