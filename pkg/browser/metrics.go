package browser

import (
	"sync/atomic"
	"time"
)

// Metrics tracks browser session counters for one run.
type Metrics struct {
	// Session counts
	SessionsLaunched atomic.Int64
	SessionsClosed   atomic.Int64
	LaunchFailures   atomic.Int64
	CloseFailures    atomic.Int64

	// Visit outcomes
	VisitCount        atomic.Int64
	VisitFailureCount atomic.Int64
	VisitLatencySum   atomic.Int64 // nanoseconds, successful visits only

	// State reset
	ResetCount        atomic.Int64
	ResetFailureCount atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordLaunch records a launch attempt outcome.
func (m *Metrics) RecordLaunch(success bool) {
	if m == nil {
		return
	}
	if success {
		m.SessionsLaunched.Add(1)
		return
	}
	m.LaunchFailures.Add(1)
}

// RecordClose records a session teardown.
func (m *Metrics) RecordClose(err error) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(1)
	if err != nil {
		m.CloseFailures.Add(1)
	}
}

// RecordVisit records a visit result.
func (m *Metrics) RecordVisit(result VisitResult) {
	if m == nil {
		return
	}
	m.VisitCount.Add(1)
	if result.Failed() {
		m.VisitFailureCount.Add(1)
		return
	}
	m.VisitLatencySum.Add(result.Duration.Nanoseconds())
}

// RecordReset records a state reset outcome.
func (m *Metrics) RecordReset(err error) {
	if m == nil {
		return
	}
	m.ResetCount.Add(1)
	if err != nil {
		m.ResetFailureCount.Add(1)
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	visits := m.VisitCount.Load()
	failures := m.VisitFailureCount.Load()
	avg := time.Duration(0)
	if ok := visits - failures; ok > 0 {
		avg = time.Duration(m.VisitLatencySum.Load() / ok)
	}
	return MetricsSnapshot{
		SessionsLaunched:  m.SessionsLaunched.Load(),
		SessionsClosed:    m.SessionsClosed.Load(),
		ActiveSessions:    m.SessionsLaunched.Load() - m.SessionsClosed.Load(),
		LaunchFailures:    m.LaunchFailures.Load(),
		CloseFailures:     m.CloseFailures.Load(),
		VisitCount:        visits,
		VisitFailureCount: failures,
		AverageVisit:      avg,
		ResetCount:        m.ResetCount.Load(),
		ResetFailureCount: m.ResetFailureCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	SessionsLaunched  int64
	SessionsClosed    int64
	ActiveSessions    int64
	LaunchFailures    int64
	CloseFailures     int64
	VisitCount        int64
	VisitFailureCount int64
	AverageVisit      time.Duration
	ResetCount        int64
	ResetFailureCount int64
}
