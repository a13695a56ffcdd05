package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/odvcencio/blockbench/pkg/benchmark"
	"github.com/odvcencio/blockbench/pkg/browser"
	bberrors "github.com/odvcencio/blockbench/pkg/errors"
)

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

const busyRetries = 3

// RunRecord is one benchmark run in the ledger.
type RunRecord struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      *time.Time
	NumTests        int
	RestartInterval int
	SiteCount       int
	OutputPath      string
	Status          string
	Error           string
	Samples         int
	Abandoned       int
}

// BeginRun inserts a run in the running state.
func (s *Store) BeginRun(ctx context.Context, run RunRecord) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	err := s.exec(ctx, `
		INSERT INTO runs (id, started_at, num_tests, restart_interval, site_count, output_path, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.NumTests, run.RestartInterval, run.SiteCount, run.OutputPath, RunRunning,
	)
	if err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "insert run").WithContext("run_id", run.ID)
	}
	return nil
}

// FinishRun marks a run completed, or failed when runErr is set.
func (s *Store) FinishRun(ctx context.Context, id string, finishedAt time.Time, runErr error) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	status, message := RunCompleted, ""
	if runErr != nil {
		status, message = RunFailed, runErr.Error()
	}
	err := s.exec(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error = NULLIF(?, '') WHERE id = ?`,
		status, finishedAt.UTC(), message, id,
	)
	if err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "finish run").WithContext("run_id", id)
	}
	return nil
}

// RecordSample stores one committed sample.
func (s *Store) RecordSample(ctx context.Context, sample benchmark.Sample) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	err := s.exec(ctx, `
		INSERT INTO samples (run_id, site, domain, trial, iteration, role, millis, penalty, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.RunID, string(sample.Site), sample.Domain, sample.Trial, sample.Iteration,
		string(sample.Role), sample.Millis, sample.Penalty, sample.At.UTC(),
	)
	if err != nil {
		wrapped := bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "insert sample").
			WithContext("run_id", sample.RunID).
			WithContext("iteration", sample.Iteration).
			WithContext("role", string(sample.Role))
		if isConstraintError(err) {
			wrapped = wrapped.WithUserMessage("sample already recorded or run unknown")
		}
		return wrapped
	}
	return nil
}

// RecordAbandoned stores a trial dropped by recovery.
func (s *Store) RecordAbandoned(ctx context.Context, a benchmark.Abandonment) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	err := s.exec(ctx, `
		INSERT INTO abandoned_trials (run_id, site, trial, iteration, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.RunID, string(a.Site), a.Trial, a.Iteration, a.Reason, a.At.UTC(),
	)
	if err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeStoreWrite, "insert abandoned trial").
			WithContext("run_id", a.RunID).
			WithContext("iteration", a.Iteration)
	}
	return nil
}

// ListSamples returns a run's samples ordered by iteration, treatment first.
func (s *Store) ListSamples(ctx context.Context, runID string) ([]benchmark.Sample, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, site, domain, trial, iteration, role, millis, penalty, recorded_at
		FROM samples
		WHERE run_id = ?
		ORDER BY iteration, CASE role WHEN 'treatment' THEN 0 ELSE 1 END`, runID)
	if err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "query samples").WithContext("run_id", runID)
	}
	defer rows.Close()

	var samples []benchmark.Sample
	for rows.Next() {
		var (
			sample benchmark.Sample
			site   string
			role   string
		)
		if err := rows.Scan(&sample.RunID, &site, &sample.Domain, &sample.Trial, &sample.Iteration,
			&role, &sample.Millis, &sample.Penalty, &sample.At); err != nil {
			return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "scan sample")
		}
		sample.Site = benchmark.Site(site)
		sample.Role = browser.Role(role)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "iterate samples")
	}
	return samples, nil
}

// ListAbandoned returns a run's abandoned trials in order.
func (s *Store) ListAbandoned(ctx context.Context, runID string) ([]benchmark.Abandonment, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, site, trial, iteration, reason, recorded_at
		FROM abandoned_trials
		WHERE run_id = ?
		ORDER BY iteration`, runID)
	if err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "query abandoned trials").WithContext("run_id", runID)
	}
	defer rows.Close()

	var out []benchmark.Abandonment
	for rows.Next() {
		var (
			a    benchmark.Abandonment
			site string
		)
		if err := rows.Scan(&a.RunID, &site, &a.Trial, &a.Iteration, &a.Reason, &a.At); err != nil {
			return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "scan abandoned trial")
		}
		a.Site = benchmark.Site(site)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "iterate abandoned trials")
	}
	return out, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.finished_at, r.num_tests, r.restart_interval, r.site_count,
		       r.output_path, r.status, COALESCE(r.error, ''),
		       (SELECT COUNT(*) FROM samples WHERE run_id = r.id),
		       (SELECT COUNT(*) FROM abandoned_trials WHERE run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "query runs")
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run      RunRecord
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &run.NumTests, &run.RestartInterval,
			&run.SiteCount, &run.OutputPath, &run.Status, &run.Error, &run.Samples, &run.Abandoned); err != nil {
			return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "scan run")
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeStoreRead, "iterate runs")
	}
	return runs, nil
}

// exec runs a write, retrying briefly while another connection holds the lock.
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

var _ benchmark.SampleRecorder = (*Store)(nil)
