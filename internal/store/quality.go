package store

import (
	"context"
	"fmt"
	"time"

	"polymercado/pkg/types"
)

// InsertQualityIssue records one finding of the data quality job.
func (s *Store) InsertQualityIssue(ctx context.Context, issue types.DataQualityIssue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data_quality_issues (check_name, severity, message, created_at)
		VALUES ($1, $2, $3, $4)`,
		issue.CheckName, issue.Severity, issue.Message, issue.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quality issue %s: %w", issue.CheckName, err)
	}
	return nil
}

// MarketsMissingTokens counts open markets that do not carry the two
// token IDs the book pipeline needs.
func (s *Store) MarketsMissingTokens(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM markets
		WHERE active AND NOT closed
		  AND (token_ids IS NULL OR cardinality(token_ids) < 2)`)
	if err != nil {
		return 0, fmt.Errorf("markets missing tokens: %w", err)
	}
	return n, nil
}

// MetricsOutOfBounds counts metric rows since the horizon with a best
// price outside [0, 1].
func (s *Store) MetricsOutOfBounds(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM market_metrics
		WHERE ts >= $1 AND (
			best_bid_yes NOT BETWEEN 0 AND 1 OR
			best_ask_yes NOT BETWEEN 0 AND 1 OR
			best_bid_no  NOT BETWEEN 0 AND 1 OR
			best_ask_no  NOT BETWEEN 0 AND 1
		)`, since)
	if err != nil {
		return 0, fmt.Errorf("metrics out of bounds: %w", err)
	}
	return n, nil
}

// TradeNotionalMismatches counts trades since the horizon whose stored
// notional drifts from price times size by more than a cent.
func (s *Store) TradeNotionalMismatches(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM trades
		WHERE trade_ts >= $1
		  AND abs(price * size - notional_usd) > 0.01`, since)
	if err != nil {
		return 0, fmt.Errorf("trade notional mismatches: %w", err)
	}
	return n, nil
}

// WalletRates returns how many distinct wallets traded since the horizon
// and how many of them were first seen in that window. The quality job
// flags an implausibly high new-wallet share.
func (s *Store) WalletRates(ctx context.Context, since time.Time) (traded, firstSeen int, err error) {
	err = s.db.GetContext(ctx, &traded, `
		SELECT COUNT(DISTINCT wallet) FROM trades
		WHERE trade_ts >= $1 AND wallet IS NOT NULL`, since)
	if err != nil {
		return 0, 0, fmt.Errorf("traded wallet count: %w", err)
	}
	err = s.db.GetContext(ctx, &firstSeen, `
		SELECT COUNT(*) FROM wallets WHERE first_seen_at >= $1`, since)
	if err != nil {
		return 0, 0, fmt.Errorf("new wallet count: %w", err)
	}
	return traded, firstSeen, nil
}

// StaleBookCount counts persisted books whose as_of is older than the
// horizon for tokens of open markets.
func (s *Store) StaleBookCount(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM orderbook_latest ob
		JOIN markets m ON m.condition_id = ob.condition_id
		WHERE m.active AND NOT m.closed AND ob.as_of < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("stale book count: %w", err)
	}
	return n, nil
}
