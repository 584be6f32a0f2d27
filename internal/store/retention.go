package store

import (
	"context"
	"fmt"
	"time"
)

// PruneMetrics enforces the two-stage metrics retention: rows older than
// the minute horizon are thinned to one representative per market per
// hour, and rows older than the hourly horizon are dropped entirely.
// Returns the number of deleted rows.
func (s *Store) PruneMetrics(ctx context.Context, now time.Time, minuteDays, hourlyDays int) (int64, error) {
	minuteHorizon := now.Add(-time.Duration(minuteDays) * 24 * time.Hour)
	hourlyHorizon := now.Add(-time.Duration(hourlyDays) * 24 * time.Hour)

	var deleted int64

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM market_metrics
		WHERE ts < $1 AND ts >= $2
		  AND id NOT IN (
			SELECT DISTINCT ON (condition_id, date_trunc('hour', ts)) id
			FROM market_metrics
			WHERE ts < $1 AND ts >= $2
			ORDER BY condition_id, date_trunc('hour', ts), ts ASC
		  )`, minuteHorizon, hourlyHorizon)
	if err != nil {
		return deleted, fmt.Errorf("thin metrics to hourly: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM market_metrics WHERE ts < $1`, hourlyHorizon)
	if err != nil {
		return deleted, fmt.Errorf("drop expired metrics: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}
	return deleted, nil
}

// PruneQualityIssues drops quality findings older than the horizon.
func (s *Store) PruneQualityIssues(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM data_quality_issues WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune quality issues: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
