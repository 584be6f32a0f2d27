package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"polymercado/pkg/types"
)

// RecordJobStart stamps a job's last_started_at.
func (s *Store) RecordJobStart(ctx context.Context, jobName string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_name, last_started_at)
		VALUES ($1, $2)
		ON CONFLICT (job_name) DO UPDATE SET last_started_at = EXCLUDED.last_started_at`,
		jobName, startedAt,
	)
	if err != nil {
		return fmt.Errorf("record job start %s: %w", jobName, err)
	}
	return nil
}

// RecordJobSuccess stamps a successful run and clears nothing: the last
// error is kept for inspection until the next failure overwrites it.
func (s *Store) RecordJobSuccess(ctx context.Context, jobName string, finishedAt time.Time, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_name, last_success_at, last_duration_ms)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_name) DO UPDATE SET
			last_success_at  = EXCLUDED.last_success_at,
			last_duration_ms = EXCLUDED.last_duration_ms`,
		jobName, finishedAt, float64(duration.Milliseconds()),
	)
	if err != nil {
		return fmt.Errorf("record job success %s: %w", jobName, err)
	}
	return nil
}

// RecordJobFailure stamps a failed run with its error text.
func (s *Store) RecordJobFailure(ctx context.Context, jobName string, failedAt time.Time, duration time.Duration, jobErr error) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_name, last_error_at, last_error, last_duration_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_name) DO UPDATE SET
			last_error_at    = EXCLUDED.last_error_at,
			last_error       = EXCLUDED.last_error,
			last_duration_ms = EXCLUDED.last_duration_ms`,
		jobName, failedAt, jobErr.Error(), float64(duration.Milliseconds()),
	)
	if err != nil {
		return fmt.Errorf("record job failure %s: %w", jobName, err)
	}
	return nil
}

// JobStatuses returns the persisted bookkeeping for every known job.
func (s *Store) JobStatuses(ctx context.Context) ([]types.JobStatus, error) {
	var rows []struct {
		JobName        string          `db:"job_name"`
		LastStartedAt  *time.Time      `db:"last_started_at"`
		LastSuccessAt  *time.Time      `db:"last_success_at"`
		LastErrorAt    *time.Time      `db:"last_error_at"`
		LastError      sql.NullString  `db:"last_error"`
		LastDurationMS sql.NullFloat64 `db:"last_duration_ms"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM job_runs ORDER BY job_name`)
	if err != nil {
		return nil, fmt.Errorf("job statuses: %w", err)
	}
	out := make([]types.JobStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.JobStatus{
			JobName:        r.JobName,
			LastStartedAt:  r.LastStartedAt,
			LastSuccessAt:  r.LastSuccessAt,
			LastErrorAt:    r.LastErrorAt,
			LastError:      r.LastError.String,
			LastDurationMS: r.LastDurationMS.Float64,
		})
	}
	return out, nil
}
