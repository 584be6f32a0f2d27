package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/internal/config"
	"polymercado/internal/httpx"
	"polymercado/internal/metrics"
	"polymercado/internal/parse"
	"polymercado/pkg/types"
)

// Store is the persistence surface of the data API sync jobs.
type Store interface {
	LatestTradeTS(ctx context.Context) (*time.Time, error)
	InsertTrade(ctx context.Context, t types.Trade) (bool, error)
	TrackedWallets(ctx context.Context, now time.Time) ([]types.Wallet, error)
	ReplaceWalletExposures(ctx context.Context, wallet string, exposures []types.WalletExposure) error
	InsertMetricSnapshot(ctx context.Context, snap types.MetricSnapshot) error
}

// UniverseSource supplies the tracked condition IDs for batched lookups.
type UniverseSource interface {
	ConditionIDs() []string
}

// Syncer runs the data API ingestion jobs.
type Syncer struct {
	client   *httpx.Client
	store    Store
	universe UniverseSource
	cfg      *config.Settings
	logger   *slog.Logger
}

// NewSyncer creates the data API syncer on the shared request pool.
func NewSyncer(client *httpx.Client, store Store, universe UniverseSource, cfg *config.Settings, logger *slog.Logger) *Syncer {
	return &Syncer{
		client:   client,
		store:    store,
		universe: universe,
		cfg:      cfg,
		logger:   logger.With("component", "dataapi_sync"),
	}
}

// SyncTrades pages through recent taker trades above the cash-notional
// filter, newest first, until it reaches already-seen territory: the latest
// stored trade_ts minus the safety window, or the initial lookback on a
// cold start. Inserts are idempotent on the trade PK. An upstream throttle
// ends the run early with partial progress kept.
func (s *Syncer) SyncTrades(ctx context.Context) (int, error) {
	lastTS, err := s.store.LatestTradeTS(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest trade ts: %w", err)
	}
	var stopTS time.Time
	if lastTS != nil {
		stopTS = lastTS.Add(-time.Duration(s.cfg.TradeSafetyWindowSeconds) * time.Second)
	} else {
		stopTS = time.Now().UTC().Add(-time.Duration(s.cfg.TradesInitialLookbackHours) * time.Hour)
	}

	inserted := 0
	offset := 0
	for page := 0; page < s.cfg.TradesMaxPages; page++ {
		var raws []json.RawMessage
		err := s.client.GetJSON(ctx, "/trades", map[string]string{
			"limit":        strconv.Itoa(s.cfg.TradesPageLimit),
			"offset":       strconv.Itoa(offset),
			"takerOnly":    strconv.FormatBool(s.cfg.TakerOnly),
			"filterType":   "CASH",
			"filterAmount": strconv.FormatFloat(s.cfg.LargeTradeUSDThreshold, 'f', -1, 64),
		}, &raws)
		if errors.Is(err, httpx.ErrThrottled) {
			s.logger.Warn("trades sync throttled, keeping partial progress", "pages", page, "inserted", inserted)
			return inserted, nil
		}
		if err != nil {
			return inserted, fmt.Errorf("fetch trades page %d: %w", page, err)
		}
		if len(raws) == 0 {
			break
		}

		stopReached := false
		for _, raw := range raws {
			trade, ok := ParseTrade(raw)
			if !ok {
				metrics.ParseDropped.WithLabelValues("data_api").Inc()
				continue
			}
			if trade.TradeTS.Before(stopTS) {
				stopReached = true
				break
			}
			fresh, err := s.store.InsertTrade(ctx, trade)
			if err != nil {
				return inserted, fmt.Errorf("insert trade %s: %w", trade.PK, err)
			}
			if fresh {
				inserted++
			}
		}

		if stopReached || len(raws) < s.cfg.TradesPageLimit {
			break
		}
		offset += s.cfg.TradesPageLimit
	}

	if inserted > 0 {
		s.logger.Info("trades synced", "inserted", inserted)
	}
	return inserted, nil
}

const oiBatchSize = 50

// SyncOpenInterest fetches open interest for the tracked markets in
// batches and appends one metric snapshot per answer.
func (s *Syncer) SyncOpenInterest(ctx context.Context) (int, error) {
	conditionIDs := s.universe.ConditionIDs()
	if len(conditionIDs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	processed := 0
	for start := 0; start < len(conditionIDs); start += oiBatchSize {
		end := start + oiBatchSize
		if end > len(conditionIDs) {
			end = len(conditionIDs)
		}

		var rows []OpenInterest
		err := s.client.GetJSONValues(ctx, "/oi", url.Values{"market": conditionIDs[start:end]}, &rows)
		if errors.Is(err, httpx.ErrThrottled) {
			s.logger.Warn("open interest sync throttled, keeping partial progress", "processed", processed)
			return processed, nil
		}
		if err != nil {
			return processed, fmt.Errorf("fetch open interest: %w", err)
		}

		for _, row := range rows {
			if row.Market == "" {
				continue
			}
			value, ok := parse.Decimal(row.Value)
			if !ok {
				metrics.ParseDropped.WithLabelValues("data_api").Inc()
				continue
			}
			snap := types.MetricSnapshot{
				ConditionID:  row.Market,
				TS:           now,
				OpenInterest: &value,
			}
			if err := s.store.InsertMetricSnapshot(ctx, snap); err != nil {
				return processed, fmt.Errorf("insert oi snapshot %s: %w", row.Market, err)
			}
			processed++
		}
	}
	return processed, nil
}

// SyncPositions reconciles per-market exposure for every wallet inside its
// tracking window. Each wallet's rows are replaced wholesale: positions the
// endpoint no longer reports are deleted.
func (s *Syncer) SyncPositions(ctx context.Context) (int, error) {
	if !s.cfg.WalletPositionsEnabled {
		return 0, nil
	}

	now := time.Now().UTC()
	wallets, err := s.store.TrackedWallets(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("tracked wallets: %w", err)
	}

	processed := 0
	for _, wallet := range wallets {
		var positions []Position
		err := s.client.GetJSON(ctx, "/positions", map[string]string{
			"user":          wallet.Address,
			"limit":         strconv.Itoa(s.cfg.PositionsPageLimit),
			"offset":        "0",
			"sizeThreshold": strconv.FormatFloat(s.cfg.PositionsSizeThreshold, 'f', -1, 64),
		}, &positions)
		if errors.Is(err, httpx.ErrThrottled) {
			s.logger.Warn("positions sync throttled, keeping partial progress", "processed", processed)
			return processed, nil
		}
		if err != nil {
			return processed, fmt.Errorf("fetch positions %s: %w", wallet.Address, err)
		}

		exposures := AggregatePositions(wallet.Address, positions, now)
		if err := s.store.ReplaceWalletExposures(ctx, wallet.Address, exposures); err != nil {
			return processed, fmt.Errorf("replace exposures %s: %w", wallet.Address, err)
		}
		processed += len(positions)
	}
	return processed, nil
}

// AggregatePositions nets a wallet's raw positions per market. NO outcomes
// count negative; the average entry price is notional-weighted across both
// outcomes.
func AggregatePositions(wallet string, positions []Position, now time.Time) []types.WalletExposure {
	type bucket struct {
		net   decimal.Decimal
		cost  decimal.Decimal
		total decimal.Decimal
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, pos := range positions {
		if pos.ConditionID == "" {
			continue
		}
		size, ok := parse.Decimal(pos.Size)
		if !ok {
			continue
		}
		sign := decimal.NewFromInt(1)
		if strings.EqualFold(pos.Outcome, "no") {
			sign = decimal.NewFromInt(-1)
		}

		b, exists := buckets[pos.ConditionID]
		if !exists {
			b = &bucket{}
			buckets[pos.ConditionID] = b
			order = append(order, pos.ConditionID)
		}
		b.net = b.net.Add(size.Mul(sign))
		if avgPrice, ok := parse.Decimal(pos.AvgPrice); ok {
			b.cost = b.cost.Add(size.Abs().Mul(avgPrice))
		}
		b.total = b.total.Add(size.Abs())
	}

	out := make([]types.WalletExposure, 0, len(order))
	for _, conditionID := range order {
		b := buckets[conditionID]
		exposure := types.WalletExposure{
			Wallet:        wallet,
			ConditionID:   conditionID,
			NetShares:     b.net,
			LastUpdatedAt: now,
		}
		if b.total.Sign() > 0 {
			avg := b.cost.Div(b.total)
			exposure.AvgEntryPrice = &avg
		}
		out = append(out, exposure)
	}
	return out
}
