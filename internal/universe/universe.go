// Package universe maintains the tracked market set: the subset of active
// markets worth spending request budget and subscriptions on.
package universe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"polymercado/internal/config"
	"polymercado/pkg/types"
)

// Store supplies the inputs of universe selection.
type Store interface {
	ActiveMarkets(ctx context.Context) ([]types.Market, error)
	LatestMetricsByMarket(ctx context.Context) (map[string]types.MetricSnapshot, error)
}

// Universe is the shared tracked-market set. Refresh recomputes it on the
// scheduler's cadence; the websocket consumer, the book poller, the open
// interest sync and the arb engine all read the same instance.
type Universe struct {
	store  Store
	cfg    *config.Settings
	logger *slog.Logger

	mu      sync.RWMutex
	markets []types.Market
	tokens  []string
}

// New creates an empty universe; call Refresh before first use.
func New(store Store, cfg *config.Settings, logger *slog.Logger) *Universe {
	return &Universe{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "universe"),
	}
}

// Refresh recomputes the tracked set from the latest metric snapshot per
// market. A market qualifies when any of volume, liquidity or open interest
// clears its floor, or when it has no metrics yet (newly discovered markets
// stay tracked until the first snapshot says otherwise). The set is capped
// at MAX_TRACKED_MARKETS by volume, manual includes always ride along.
func (u *Universe) Refresh(ctx context.Context) (int, error) {
	markets, err := u.store.ActiveMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("load markets: %w", err)
	}
	latest, err := u.store.LatestMetricsByMarket(ctx)
	if err != nil {
		return 0, fmt.Errorf("load metrics: %w", err)
	}

	include := make(map[string]bool, len(u.cfg.UniverseIncludeIDs))
	for _, id := range u.cfg.UniverseIncludeIDs {
		include[id] = true
	}

	minVolume := decimal.NewFromFloat(u.cfg.MinGammaVolume)
	minLiquidity := decimal.NewFromFloat(u.cfg.MinGammaLiquidity)
	minOI := decimal.NewFromFloat(u.cfg.MinOpenInterest)

	var selected, manual []types.Market
	volumes := make(map[string]decimal.Decimal)
	for _, m := range markets {
		if include[m.ConditionID] {
			manual = append(manual, m)
			continue
		}
		snap, ok := latest[m.ConditionID]
		if !ok {
			selected = append(selected, m)
			continue
		}
		if snap.GammaVolume != nil {
			volumes[m.ConditionID] = *snap.GammaVolume
		}
		qualifies := (snap.GammaVolume != nil && snap.GammaVolume.GreaterThanOrEqual(minVolume)) ||
			(snap.GammaLiquidity != nil && snap.GammaLiquidity.GreaterThanOrEqual(minLiquidity)) ||
			(snap.OpenInterest != nil && snap.OpenInterest.GreaterThanOrEqual(minOI))
		if qualifies {
			selected = append(selected, m)
		}
	}

	// Highest volume first so the cap drops the quietest markets;
	// condition ID breaks ties to keep the set stable between runs.
	sort.Slice(selected, func(i, j int) bool {
		vi, vj := volumes[selected[i].ConditionID], volumes[selected[j].ConditionID]
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return selected[i].ConditionID < selected[j].ConditionID
	})
	if len(selected) > u.cfg.MaxTrackedMarkets {
		selected = selected[:u.cfg.MaxTrackedMarkets]
	}
	selected = append(selected, manual...)

	var tokens []string
	for _, m := range selected {
		tokens = append(tokens, m.TokenIDs...)
	}

	u.mu.Lock()
	u.markets = selected
	u.tokens = tokens
	u.mu.Unlock()

	u.logger.Info("universe refreshed", "markets", len(selected), "tokens", len(tokens))
	return len(selected), nil
}

// Markets returns the tracked markets.
func (u *Universe) Markets() []types.Market {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]types.Market(nil), u.markets...)
}

// ConditionIDs returns the tracked condition IDs.
func (u *Universe) ConditionIDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.markets))
	for _, m := range u.markets {
		out = append(out, m.ConditionID)
	}
	return out
}

// TokenIDs returns every token ID of the tracked markets.
func (u *Universe) TokenIDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]string(nil), u.tokens...)
}
