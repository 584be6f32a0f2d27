package signals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/internal/config"
	"polymercado/internal/metrics"
	"polymercado/pkg/types"
)

// MarketSource supplies the current tracked universe.
type MarketSource interface {
	Markets() []types.Market
}

// BookSource reads the latest cached book per token.
type BookSource interface {
	Get(tokenID string) (types.OrderbookSnapshot, bool)
}

// ArbEngine scans tracked binary markets for buy-both-sides arbitrage:
// filling q shares of YES and q shares of NO for a total average cost below
// one dollar after fees, with enough depth to matter.
type ArbEngine struct {
	store    Store
	books    BookSource
	universe MarketSource
	cfg      *config.Settings
	logger   *slog.Logger
}

// NewArbEngine creates the arbitrage signal engine.
func NewArbEngine(store Store, books BookSource, universe MarketSource, cfg *config.Settings, logger *slog.Logger) *ArbEngine {
	return &ArbEngine{
		store:    store,
		books:    books,
		universe: universe,
		cfg:      cfg,
		logger:   logger.With("component", "signal_engine_arb"),
	}
}

// Run evaluates every tracked binary market once. Returns the number of
// signals emitted.
func (e *ArbEngine) Run(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	maxAge := time.Duration(e.cfg.ArbMaxBookAgeSeconds) * time.Second
	params := ArbParams{
		MinExecutableShares: decimal.NewFromFloat(e.cfg.ArbMinExecutableShares),
		MaxSharesToEvaluate: decimal.NewFromFloat(e.cfg.ArbMaxSharesToEvaluate),
		EdgeMin:             decimal.NewFromFloat(e.cfg.ArbEdgeMin),
		TakerFeeBps:         decimal.NewFromInt(int64(e.cfg.TakerFeeBps)),
	}
	one := decimal.NewFromInt(1)

	emitted := 0
	for _, market := range e.universe.Markets() {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		yesToken, noToken, ok := market.BinaryTokens()
		if !ok {
			continue
		}
		bookYes, ok := e.books.Get(yesToken)
		if !ok {
			continue
		}
		bookNo, ok := e.books.Get(noToken)
		if !ok {
			continue
		}
		ageYes := now.Sub(bookYes.AsOf)
		ageNo := now.Sub(bookNo.AsOf)
		if ageYes > maxAge || ageNo > maxAge {
			continue
		}
		if len(bookYes.Asks) == 0 || len(bookNo.Asks) == 0 {
			continue
		}

		// Top-of-book screen. Average cost only rises with depth, so a
		// market with no edge at the touch has no edge at any size.
		topSum := bookYes.Asks[0].Price.Add(bookNo.Asks[0].Price)
		if topSum.GreaterThan(one.Sub(params.EdgeMin)) {
			continue
		}

		result := ComputeArb(bookYes.Asks, bookNo.Asks, params)
		if !result.Found {
			continue
		}

		cooldownStart := now.Add(-time.Duration(e.cfg.ArbMarketCooldownSeconds) * time.Second)
		recent, err := e.store.HasRecentSignal(ctx, types.SignalArbBuyBoth, market.ConditionID, cooldownStart)
		if err != nil {
			return emitted, fmt.Errorf("cooldown check %s: %w", market.ConditionID, err)
		}
		if recent {
			continue
		}

		bookAge := ageYes
		if ageNo > bookAge {
			bookAge = ageNo
		}
		severity := ArbSeverity(result.EdgeAtQMax, result.QMax, bookAge)

		edgeF := result.EdgeAtQMax.InexactFloat64()
		qF := result.QMax.InexactFloat64()
		ev := types.SignalEvent{
			Type:        types.SignalArbBuyBoth,
			DedupeKey:   fmt.Sprintf("%s:%s:%.4f:%.2f", types.SignalArbBuyBoth, market.ConditionID, edgeF, qF),
			CreatedAt:   now,
			Severity:    severity,
			ConditionID: market.ConditionID,
			Payload:     e.arbPayload(market, yesToken, noToken, bookYes, bookNo, result),
		}
		inserted, err := e.store.InsertSignal(ctx, ev)
		if err != nil {
			return emitted, fmt.Errorf("insert arb signal %s: %w", market.ConditionID, err)
		}
		if !inserted {
			continue
		}
		metrics.SignalsEmitted.WithLabelValues(string(types.SignalArbBuyBoth)).Inc()
		e.logger.Info("signal emitted",
			"type", types.SignalArbBuyBoth,
			"severity", severity,
			"condition_id", market.ConditionID,
			"edge_at_q_max", edgeF,
			"q_max", qF,
		)
		emitted++
	}
	return emitted, nil
}

func (e *ArbEngine) arbPayload(
	market types.Market,
	yesToken, noToken string,
	bookYes, bookNo types.OrderbookSnapshot,
	result ArbResult,
) map[string]any {
	bestYes := bookYes.Asks[0].Price
	bestNo := bookNo.Asks[0].Price

	payload := map[string]any{
		"condition_id":          market.ConditionID,
		"yes_token_id":          yesToken,
		"no_token_id":           noToken,
		"neg_risk":              market.NegRisk,
		"as_of_yes":             bookYes.AsOf.Format(time.RFC3339),
		"as_of_no":              bookNo.AsOf.Format(time.RFC3339),
		"best_ask_yes":          bestYes.String(),
		"best_ask_no":           bestNo.String(),
		"top_of_book_sum":       bestYes.Add(bestNo).String(),
		"edge_min":              e.cfg.ArbEdgeMin,
		"min_executable_shares": e.cfg.ArbMinExecutableShares,
		"q_max":                 result.QMax.String(),
		"edge_at_q_max":         result.EdgeAtQMax.String(),
		"avg_ask_yes_at_q_max":  result.AvgYesAtQMax.String(),
		"avg_ask_no_at_q_max":   result.AvgNoAtQMax.String(),
		"asks_yes_levels":       levelMaps(FillLevels(bookYes.Asks, result.QMax)),
		"asks_no_levels":        levelMaps(FillLevels(bookNo.Asks, result.QMax)),
		"config_snapshot": e.cfg.Snapshot(
			"ARB_EDGE_MIN",
			"ARB_MIN_EXECUTABLE_SHARES",
			"ARB_MAX_SHARES_TO_EVALUATE",
			"ARB_MAX_BOOK_AGE_SECONDS",
			"TAKER_FEE_BPS",
		),
	}
	if result.EdgeAtMinQ != nil {
		payload["edge_at_min_q"] = result.EdgeAtMinQ.String()
	} else {
		payload["edge_at_min_q"] = nil
	}
	return payload
}

func levelMaps(levels []types.Level) []map[string]string {
	out := make([]map[string]string, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, map[string]string{
			"price": lvl.Price.String(),
			"size":  lvl.Size.String(),
		})
	}
	return out
}
