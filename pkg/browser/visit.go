package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/blockbench/pkg/logging"
)

// DefaultPageLoadTimeout bounds navigation plus the readiness wait.
const DefaultPageLoadTimeout = 60 * time.Second

// Outcome classifies a visit.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeFailure {
		return "failure"
	}
	return "success"
}

// VisitResult is the typed result of one timed page visit. A failure carries
// no duration; the caller decides what to record in its place.
type VisitResult struct {
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// Success returns a measured visit result.
func Success(d time.Duration) VisitResult {
	return VisitResult{Outcome: OutcomeSuccess, Duration: d}
}

// Failure returns a transient-failure visit result.
func Failure(err error) VisitResult {
	return VisitResult{Outcome: OutcomeFailure, Err: err}
}

// Failed reports whether the owning session must be restarted before reuse.
func (r VisitResult) Failed() bool {
	return r.Outcome == OutcomeFailure
}

// Milliseconds returns the measured duration in fractional milliseconds.
func (r VisitResult) Milliseconds() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

// VisitorOption customizes a Visitor.
type VisitorOption func(*Visitor)

// WithClock replaces time.Now, for deterministic timing in tests.
func WithClock(now func() time.Time) VisitorOption {
	return func(v *Visitor) { v.now = now }
}

// WithVisitMetrics records visit outcomes into m.
func WithVisitMetrics(m *Metrics) VisitorOption {
	return func(v *Visitor) { v.metrics = m }
}

// WithVisitLogger sends visit events to l.
func WithVisitLogger(l *logging.Logger) VisitorOption {
	return func(v *Visitor) { v.logger = l }
}

// Visitor performs timed page visits.
type Visitor struct {
	timeout time.Duration
	now     func() time.Time
	metrics *Metrics
	logger  *logging.Logger
}

// NewVisitor creates a Visitor. A non-positive timeout uses
// DefaultPageLoadTimeout.
func NewVisitor(timeout time.Duration, opts ...VisitorOption) *Visitor {
	if timeout <= 0 {
		timeout = DefaultPageLoadTimeout
	}
	v := &Visitor{timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Timeout returns the page load ceiling.
func (v *Visitor) Timeout() time.Duration {
	return v.timeout
}

// PenaltyMillis is the value substituted for a failed visit: the timeout
// ceiling in milliseconds.
func (v *Visitor) PenaltyMillis() float64 {
	return float64(v.timeout.Milliseconds())
}

// Visit navigates sess to url and waits for the document body. Transient
// driver failures produce a Failure result and a nil error. Anything else,
// including cancellation of ctx, is returned as an error.
func (v *Visitor) Visit(ctx context.Context, sess *Session, url string) (VisitResult, error) {
	if !sess.Alive() {
		return VisitResult{}, ErrSessionClosed
	}

	start := v.now()
	visitCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	err := sess.handle.Navigate(visitCtx, url)
	if err == nil {
		err = sess.handle.WaitReady(visitCtx)
	}
	if err == nil {
		result := Success(v.now().Sub(start))
		v.metrics.RecordVisit(result)
		_ = v.logger.Debug(logging.CategoryVisit, "visit_ok", "", map[string]any{
			"role":       string(sess.role),
			"session_id": sess.id,
			"url":        url,
			"ms":         result.Milliseconds(),
		})
		return result, nil
	}

	if ctx.Err() != nil {
		return VisitResult{}, ctx.Err()
	}
	if errors.Is(visitCtx.Err(), context.DeadlineExceeded) && !IsTransient(err) {
		err = Transient("wait_ready", fmt.Errorf("%w after %s: %w", ErrPageTimeout, v.timeout, err))
	}
	if !IsTransient(err) {
		return VisitResult{}, fmt.Errorf("visit %s: %w", url, err)
	}

	result := Failure(err)
	v.metrics.RecordVisit(result)
	_ = v.logger.Warn(logging.CategoryVisit, "visit_failed", err.Error(), map[string]any{
		"role":       string(sess.role),
		"session_id": sess.id,
		"url":        url,
	})
	return result, nil
}
