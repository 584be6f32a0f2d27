package gamma

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"polymercado/internal/config"
	"polymercado/internal/httpx"
	"polymercado/internal/metrics"
	"polymercado/pkg/types"
)

// Store is the persistence surface of the Gamma sync jobs.
type Store interface {
	MarketExists(ctx context.Context, conditionID string) (bool, error)
	UpsertMarket(ctx context.Context, m types.Market) error
	InsertMetricSnapshot(ctx context.Context, snap types.MetricSnapshot) error
	InsertSignal(ctx context.Context, ev types.SignalEvent) (bool, error)
	UpsertTags(ctx context.Context, tags []types.Tag) error
	SetSportTags(ctx context.Context, ids []int64) error
}

// Syncer runs the Gamma ingestion jobs: the paginated events feed that
// masters the market table, and the tag dictionary.
type Syncer struct {
	client *httpx.Client
	store  Store
	cfg    *config.Settings
	logger *slog.Logger
}

// NewSyncer creates the Gamma syncer on the shared request pool.
func NewSyncer(client *httpx.Client, store Store, cfg *config.Settings, logger *slog.Logger) *Syncer {
	return &Syncer{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "gamma_sync"),
	}
}

// SyncEvents walks the active events pages newest-first, upserting every
// nested market, recording an indexed-metrics snapshot, and emitting
// NEW_MARKET for condition IDs observed for the first time. Returns the
// number of markets processed.
func (s *Syncer) SyncEvents(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	processed := 0

	offset := 0
	for page := 0; page < s.cfg.GammaEventsMaxPages; page++ {
		var events []Event
		err := s.client.GetJSON(ctx, "/events", map[string]string{
			"active":    "true",
			"closed":    "false",
			"limit":     strconv.Itoa(s.cfg.GammaEventsPageLimit),
			"offset":    strconv.Itoa(offset),
			"order":     "id",
			"ascending": "false",
		}, &events)
		if err != nil {
			return processed, fmt.Errorf("fetch events page %d: %w", page, err)
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			for _, market := range event.Markets {
				parsed, ok := ParseMarket(market, event, now)
				if !ok {
					metrics.ParseDropped.WithLabelValues("gamma").Inc()
					continue
				}
				if err := s.ingestMarket(ctx, parsed, now); err != nil {
					return processed, err
				}
				processed++
			}
		}
		offset += s.cfg.GammaEventsPageLimit
	}

	s.logger.Info("gamma events synced", "markets", processed)
	return processed, nil
}

func (s *Syncer) ingestMarket(ctx context.Context, parsed Parsed, now time.Time) error {
	conditionID := parsed.Market.ConditionID

	known, err := s.store.MarketExists(ctx, conditionID)
	if err != nil {
		return fmt.Errorf("check market %s: %w", conditionID, err)
	}
	if !known {
		if err := s.emitNewMarket(ctx, parsed.Market, now); err != nil {
			return err
		}
	}

	if err := s.store.UpsertMarket(ctx, parsed.Market); err != nil {
		return fmt.Errorf("upsert market %s: %w", conditionID, err)
	}

	if parsed.Volume != nil || parsed.Liquidity != nil {
		snap := types.MetricSnapshot{
			ConditionID:    conditionID,
			TS:             now,
			GammaVolume:    parsed.Volume,
			GammaLiquidity: parsed.Liquidity,
		}
		if err := s.store.InsertMetricSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("insert metrics %s: %w", conditionID, err)
		}
	}
	return nil
}

func (s *Syncer) emitNewMarket(ctx context.Context, m types.Market, now time.Time) error {
	payload := map[string]any{
		"condition_id": m.ConditionID,
		"slug":         m.Slug,
		"title":        m.Title,
		"tags":         m.TagIDs,
		"token_ids":    m.TokenIDs,
	}
	if m.StartTime != nil {
		payload["start_time"] = m.StartTime.Format(time.RFC3339)
	}
	if m.EndTime != nil {
		payload["end_time"] = m.EndTime.Format(time.RFC3339)
	}

	ev := types.SignalEvent{
		Type:        types.SignalNewMarket,
		DedupeKey:   fmt.Sprintf("%s:%s", types.SignalNewMarket, m.ConditionID),
		CreatedAt:   now,
		Severity:    1,
		ConditionID: m.ConditionID,
		Payload:     payload,
	}
	emitted, err := s.store.InsertSignal(ctx, ev)
	if err != nil {
		return fmt.Errorf("insert NEW_MARKET %s: %w", m.ConditionID, err)
	}
	if emitted {
		metrics.SignalsEmitted.WithLabelValues(string(types.SignalNewMarket)).Inc()
		s.logger.Info("new market discovered", "condition_id", m.ConditionID, "slug", m.Slug)
	}
	return nil
}

// SyncTags refreshes the tag dictionary and the sports flag. A sports
// endpoint failure is tolerated: the dictionary still updates, the flags
// keep their previous values.
func (s *Syncer) SyncTags(ctx context.Context) (int, error) {
	processed := 0

	offset := 0
	for page := 0; page < s.cfg.TagsMaxPages; page++ {
		var tags []Tag
		err := s.client.GetJSON(ctx, "/tags", map[string]string{
			"limit":  strconv.Itoa(s.cfg.TagsPageLimit),
			"offset": strconv.Itoa(offset),
		}, &tags)
		if err != nil {
			return processed, fmt.Errorf("fetch tags page %d: %w", page, err)
		}
		if len(tags) == 0 {
			break
		}

		batch := make([]types.Tag, 0, len(tags))
		for _, tag := range tags {
			id, ok := ParseTagID(tag.ID)
			if !ok {
				metrics.ParseDropped.WithLabelValues("gamma").Inc()
				continue
			}
			batch = append(batch, types.Tag{ID: id, Label: tag.Label, Slug: tag.Slug})
		}
		if err := s.store.UpsertTags(ctx, batch); err != nil {
			return processed, fmt.Errorf("upsert tags: %w", err)
		}
		processed += len(batch)

		if len(tags) < s.cfg.TagsPageLimit {
			break
		}
		offset += s.cfg.TagsPageLimit
	}

	var sports []Sport
	if err := s.client.GetJSON(ctx, "/sports", nil, &sports); err != nil {
		s.logger.Warn("sports fetch failed, keeping previous flags", "error", err)
		return processed, nil
	}
	if err := s.store.SetSportTags(ctx, SportTagIDs(sports)); err != nil {
		return processed, fmt.Errorf("set sport tags: %w", err)
	}

	s.logger.Info("tags synced", "tags", processed)
	return processed, nil
}
