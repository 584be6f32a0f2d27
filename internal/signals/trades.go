package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/internal/config"
	"polymercado/internal/metrics"
	"polymercado/pkg/types"
)

// Store is the persistence surface the signal engines need.
type Store interface {
	TradesSince(ctx context.Context, since time.Time) ([]types.Trade, error)
	GetWallet(ctx context.Context, address string) (*types.Wallet, error)
	UpsertWallet(ctx context.Context, w types.Wallet) error
	InsertSignal(ctx context.Context, ev types.SignalEvent) (bool, error)
	LatestMetrics(ctx context.Context, conditionID string) (*types.MetricSnapshot, error)
	HasRecentSignal(ctx context.Context, signalType types.SignalType, conditionID string, since time.Time) (bool, error)
}

// TradeEngine classifies newly persisted taker trades into
// LARGE_TAKER_TRADE, LARGE_NEW_WALLET_TRADE and DORMANT_WALLET_REACTIVATION
// events, and maintains per-wallet state as a side effect.
//
// Each run reads trades from a trade_ts watermark minus the safety window,
// in ascending trade_ts order, so dormancy and newness are judged against
// the wallet state as it stood before each trade. Reprocessing is harmless:
// the LARGE_TAKER_TRADE dedupe key doubles as the processed marker, and a
// conflict on it skips the wallet mutation too.
type TradeEngine struct {
	store  Store
	cfg    *config.Settings
	logger *slog.Logger

	watermark time.Time
	seen      map[string]time.Time // trade PK -> trade_ts, pruned below the watermark
}

// NewTradeEngine creates the trade signal engine.
func NewTradeEngine(store Store, cfg *config.Settings, logger *slog.Logger) *TradeEngine {
	return &TradeEngine{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "signal_engine_trades"),
		seen:   make(map[string]time.Time),
	}
}

// Run processes trades newer than the watermark. Returns the number of
// trades evaluated.
func (e *TradeEngine) Run(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	since := e.watermark.Add(-time.Duration(e.cfg.TradeSafetyWindowSeconds) * time.Second)
	if e.watermark.IsZero() {
		since = now.Add(-time.Duration(e.cfg.TradesInitialLookbackHours) * time.Hour)
	}

	for pk, ts := range e.seen {
		if ts.Before(since) {
			delete(e.seen, pk)
		}
	}

	trades, err := e.store.TradesSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("load trades: %w", err)
	}

	processed := 0
	maxTS := e.watermark
	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, ok := e.seen[trade.PK]; ok {
			continue
		}
		if err := e.process(ctx, trade, now); err != nil {
			return processed, err
		}
		e.seen[trade.PK] = trade.TradeTS
		if trade.TradeTS.After(maxTS) {
			maxTS = trade.TradeTS
		}
		processed++
	}
	e.watermark = maxTS
	return processed, nil
}

func (e *TradeEngine) process(ctx context.Context, trade types.Trade, now time.Time) error {
	threshold := decimal.NewFromFloat(e.cfg.LargeTradeUSDThreshold)
	large := trade.NotionalUSD.GreaterThanOrEqual(threshold)

	var (
		wallet     *types.Wallet
		fresh      bool
		wasDormant bool
		isNew      bool
	)
	if trade.Wallet != "" {
		existing, err := e.store.GetWallet(ctx, trade.Wallet)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", trade.Wallet, err)
		}
		if existing == nil {
			fresh = true
			firstTrade := trade.TradeTS
			wallet = &types.Wallet{
				Address:             trade.Wallet,
				FirstSeenAt:         now,
				LastSeenAt:          now,
				FirstTradeTS:        &firstTrade,
				LifetimeNotionalUSD: trade.NotionalUSD,
			}
		} else {
			wasDormant = IsDormant(*existing, trade.TradeTS, e.cfg.DormantWindowDays)
			wallet = existing
		}
		isNew = IsNewWallet(*wallet, trade.TradeTS, e.cfg.NewWalletWindowDays)
	}

	latest, err := e.store.LatestMetrics(ctx, trade.ConditionID)
	if err != nil {
		return fmt.Errorf("load metrics %s: %w", trade.ConditionID, err)
	}
	lowLiquidity := latest != nil && latest.GammaLiquidity != nil &&
		latest.GammaLiquidity.LessThan(decimal.NewFromFloat(e.cfg.MinGammaLiquidity))

	severity := TradeSeverity(trade.NotionalUSD, isNew, lowLiquidity)
	payload := e.tradePayload(trade, wallet, latest)

	if large {
		emitted, err := e.emit(ctx, types.SignalLargeTakerTrade, trade, payload, severity, now)
		if err != nil {
			return err
		}
		// A dedupe conflict means a previous run already handled this
		// trade end to end, wallet update included.
		if !emitted {
			return nil
		}
	}

	if wallet != nil {
		e.touchWallet(wallet, trade, now, fresh, large)
		if err := e.store.UpsertWallet(ctx, *wallet); err != nil {
			return fmt.Errorf("upsert wallet %s: %w", wallet.Address, err)
		}
	}

	if large && isNew {
		if _, err := e.emit(ctx, types.SignalLargeNewWallet, trade, payload, severity, now); err != nil {
			return err
		}
	}
	if large && wasDormant {
		if _, err := e.emit(ctx, types.SignalDormantReactivated, trade, payload, severity, now); err != nil {
			return err
		}
	}
	return nil
}

// touchWallet applies one trade's effect to the wallet row: bump last_seen
// and lifetime notional, and extend the positions tracking window after a
// large trade.
func (e *TradeEngine) touchWallet(wallet *types.Wallet, trade types.Trade, now time.Time, fresh, large bool) {
	wallet.LastSeenAt = now
	if !fresh {
		if wallet.FirstTradeTS == nil {
			firstTrade := trade.TradeTS
			wallet.FirstTradeTS = &firstTrade
		}
		wallet.LifetimeNotionalUSD = wallet.LifetimeNotionalUSD.Add(trade.NotionalUSD)
	}

	if large && e.cfg.TrackWalletDaysAfterLargeTrade > 0 {
		until := now.Add(time.Duration(e.cfg.TrackWalletDaysAfterLargeTrade) * 24 * time.Hour)
		if wallet.TrackedUntil == nil || wallet.TrackedUntil.Before(until) {
			wallet.TrackedUntil = &until
		}
	}
}

func (e *TradeEngine) emit(
	ctx context.Context,
	signalType types.SignalType,
	trade types.Trade,
	payload map[string]any,
	severity int,
	now time.Time,
) (bool, error) {
	ev := types.SignalEvent{
		Type:        signalType,
		DedupeKey:   fmt.Sprintf("%s:%s", signalType, trade.PK),
		CreatedAt:   now,
		Severity:    severity,
		Wallet:      trade.Wallet,
		ConditionID: trade.ConditionID,
		Payload:     payload,
	}
	emitted, err := e.store.InsertSignal(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", signalType, err)
	}
	if emitted {
		metrics.SignalsEmitted.WithLabelValues(string(signalType)).Inc()
		e.logger.Info("signal emitted",
			"type", signalType,
			"severity", severity,
			"wallet", trade.Wallet,
			"condition_id", trade.ConditionID,
			"notional_usd", trade.NotionalUSD,
		)
	}
	return emitted, nil
}

// tradePayload is the evidence object attached to trade signals. Market
// context fields come straight from the raw upstream record.
func (e *TradeEngine) tradePayload(trade types.Trade, wallet *types.Wallet, latest *types.MetricSnapshot) map[string]any {
	payload := map[string]any{
		"wallet":       trade.Wallet,
		"trade_ts":     trade.TradeTS.Format(time.RFC3339),
		"condition_id": trade.ConditionID,
		"token_id":     trade.TokenID,
		"side":         string(trade.Side),
		"size_shares":  trade.Size.String(),
		"price":        trade.Price.String(),
		"notional_usd": trade.NotionalUSD.InexactFloat64(),
		"tx_hash":      trade.TransactionHash,
		"config_snapshot": e.cfg.Snapshot(
			"LARGE_TRADE_USD_THRESHOLD",
			"NEW_WALLET_WINDOW_DAYS",
			"DORMANT_WINDOW_DAYS",
		),
	}

	var raw map[string]any
	if len(trade.Raw) > 0 && json.Unmarshal(trade.Raw, &raw) == nil {
		for from, to := range map[string]string{
			"slug":      "market_slug",
			"title":     "market_title",
			"eventSlug": "event_slug",
			"outcome":   "outcome",
		} {
			if v, ok := raw[from]; ok {
				payload[to] = v
			}
		}
	}

	if wallet != nil {
		payload["wallet_first_seen_at"] = wallet.FirstSeenAt.Format(time.RFC3339)
		payload["wallet_age_days"] = int(wallet.LastSeenAt.Sub(wallet.FirstSeenAt).Hours() / 24)
	}
	if latest != nil {
		if latest.GammaLiquidity != nil {
			payload["market_liquidity"] = latest.GammaLiquidity.InexactFloat64()
		}
		if latest.GammaVolume != nil {
			payload["market_volume"] = latest.GammaVolume.InexactFloat64()
		}
		if latest.OpenInterest != nil {
			payload["market_open_interest"] = latest.OpenInterest.InexactFloat64()
		}
	}
	return payload
}
