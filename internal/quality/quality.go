// Package quality runs periodic sanity checks over the ingested data and
// records findings for the status page.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polymercado/internal/config"
	"polymercado/pkg/types"
)

// Store is the persistence surface the checker needs.
type Store interface {
	InsertQualityIssue(ctx context.Context, issue types.DataQualityIssue) error
	MarketsMissingTokens(ctx context.Context) (int, error)
	MetricsOutOfBounds(ctx context.Context, since time.Time) (int, error)
	TradeNotionalMismatches(ctx context.Context, since time.Time) (int, error)
	WalletRates(ctx context.Context, since time.Time) (traded, firstSeen int, err error)
	StaleBookCount(ctx context.Context, olderThan time.Time) (int, error)
}

// BookSource reports which tokens currently have a cached book.
type BookSource interface {
	Tokens() []string
}

// UniverseSource lists the token IDs the book pipeline should cover.
type UniverseSource interface {
	TokenIDs() []string
}

// Checker runs the data quality checks on a schedule.
type Checker struct {
	store    Store
	books    BookSource
	universe UniverseSource
	cfg      *config.Settings
	logger   *slog.Logger
}

// NewChecker creates the data quality checker.
func NewChecker(store Store, books BookSource, universe UniverseSource, cfg *config.Settings, logger *slog.Logger) *Checker {
	return &Checker{
		store:    store,
		books:    books,
		universe: universe,
		cfg:      cfg,
		logger:   logger.With("component", "data_quality"),
	}
}

// Run executes every check and persists the findings. A failing check
// produces an issue row; a failing query fails the job.
func (c *Checker) Run(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	window := time.Duration(c.cfg.DataQualityIntervalSeconds) * time.Second
	since := now.Add(-window)

	issues := 0
	record := func(check string, severity int, message string) error {
		issues++
		c.logger.Warn("data quality issue", "check", check, "severity", severity, "message", message)
		return c.store.InsertQualityIssue(ctx, types.DataQualityIssue{
			CheckName: check,
			Severity:  severity,
			Message:   message,
			CreatedAt: now,
		})
	}

	if n, err := c.store.MarketsMissingTokens(ctx); err != nil {
		return issues, fmt.Errorf("missing tokens check: %w", err)
	} else if n > 0 {
		if err := record("markets_missing_tokens", 2,
			fmt.Sprintf("%d open markets lack the two token IDs", n)); err != nil {
			return issues, err
		}
	}

	if n := c.missingBooks(); n > 0 {
		if err := record("tokens_missing_books", 2,
			fmt.Sprintf("%d tracked tokens have no cached orderbook", n)); err != nil {
			return issues, err
		}
	}

	if n, err := c.store.MetricsOutOfBounds(ctx, since); err != nil {
		return issues, fmt.Errorf("price bounds check: %w", err)
	} else if n > 0 {
		if err := record("price_out_of_bounds", 3,
			fmt.Sprintf("%d metric rows carry a best price outside [0, 1]", n)); err != nil {
			return issues, err
		}
	}

	if n, err := c.store.TradeNotionalMismatches(ctx, since); err != nil {
		return issues, fmt.Errorf("notional check: %w", err)
	} else if n > 0 {
		if err := record("trade_notional_mismatch", 3,
			fmt.Sprintf("%d trades drift more than $0.01 from price*size", n)); err != nil {
			return issues, err
		}
	}

	traded, firstSeen, err := c.store.WalletRates(ctx, now.Add(-time.Hour))
	if err != nil {
		return issues, fmt.Errorf("wallet rate check: %w", err)
	}
	if max := c.cfg.DataQualityMaxNewWalletsPerHour; max > 0 && firstSeen > max {
		if err := record("new_wallet_rate", 2,
			fmt.Sprintf("%d wallets first seen in the last hour (%d traded total), above the %d threshold; possible wallet resolution regression",
				firstSeen, traded, max)); err != nil {
			return issues, err
		}
	}

	if n, err := c.store.StaleBookCount(ctx, now.Add(-2*time.Duration(c.cfg.OrderbookSnapshotIntervalSeconds)*time.Second)); err != nil {
		return issues, fmt.Errorf("stale book check: %w", err)
	} else if n > 0 {
		if err := record("stale_persisted_books", 1,
			fmt.Sprintf("%d persisted books older than two snapshot intervals", n)); err != nil {
			return issues, err
		}
	}

	return issues, nil
}

// missingBooks counts tracked tokens absent from the in-memory cache.
func (c *Checker) missingBooks() int {
	cached := make(map[string]bool)
	for _, tokenID := range c.books.Tokens() {
		cached[tokenID] = true
	}
	missing := 0
	for _, tokenID := range c.universe.TokenIDs() {
		if !cached[tokenID] {
			missing++
		}
	}
	return missing
}
