package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"polymercado/pkg/types"
)

type marketRow struct {
	ConditionID string         `db:"condition_id"`
	MarketID    sql.NullString `db:"market_id"`
	EventID     sql.NullString `db:"event_id"`
	Slug        sql.NullString `db:"slug"`
	Question    sql.NullString `db:"question"`
	Title       sql.NullString `db:"title"`
	TagIDs      pq.Int64Array  `db:"tag_ids"`
	NegRisk     bool           `db:"neg_risk"`
	Active      bool           `db:"active"`
	Closed      bool           `db:"closed"`
	Outcomes    pq.StringArray `db:"outcomes"`
	TokenIDs    pq.StringArray `db:"token_ids"`
	StartTime   *time.Time     `db:"start_time"`
	EndTime     *time.Time     `db:"end_time"`
	CreatedAt   *time.Time     `db:"created_at"`
	UpdatedAt   *time.Time     `db:"updated_at"`
	LastSeenAt  time.Time      `db:"last_seen_at"`
}

func (r marketRow) toMarket() types.Market {
	return types.Market{
		ConditionID: r.ConditionID,
		MarketID:    r.MarketID.String,
		EventID:     r.EventID.String,
		Slug:        r.Slug.String,
		Question:    r.Question.String,
		Title:       r.Title.String,
		TagIDs:      r.TagIDs,
		NegRisk:     r.NegRisk,
		Active:      r.Active,
		Closed:      r.Closed,
		Outcomes:    r.Outcomes,
		TokenIDs:    r.TokenIDs,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		LastSeenAt:  r.LastSeenAt,
	}
}

// MarketExists reports whether a condition ID has been observed before.
func (s *Store) MarketExists(ctx context.Context, conditionID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM markets WHERE condition_id = $1)`, conditionID)
	if err != nil {
		return false, fmt.Errorf("market exists: %w", err)
	}
	return exists, nil
}

// UpsertMarket inserts or refreshes a market. created_at is kept from the
// first observation; everything else reflects the latest sync.
func (s *Store) UpsertMarket(ctx context.Context, m types.Market) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (
			condition_id, market_id, event_id, slug, question, title,
			tag_ids, neg_risk, active, closed, outcomes, token_ids,
			start_time, end_time, created_at, updated_at, last_seen_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (condition_id) DO UPDATE SET
			market_id    = EXCLUDED.market_id,
			event_id     = EXCLUDED.event_id,
			slug         = EXCLUDED.slug,
			question     = EXCLUDED.question,
			title        = EXCLUDED.title,
			tag_ids      = EXCLUDED.tag_ids,
			neg_risk     = EXCLUDED.neg_risk,
			active       = EXCLUDED.active,
			closed       = EXCLUDED.closed,
			outcomes     = EXCLUDED.outcomes,
			token_ids    = EXCLUDED.token_ids,
			start_time   = EXCLUDED.start_time,
			end_time     = EXCLUDED.end_time,
			updated_at   = EXCLUDED.updated_at,
			last_seen_at = EXCLUDED.last_seen_at`,
		m.ConditionID, m.MarketID, m.EventID, m.Slug, m.Question, m.Title,
		pq.Int64Array(m.TagIDs), m.NegRisk, m.Active, m.Closed,
		pq.StringArray(m.Outcomes), pq.StringArray(m.TokenIDs),
		m.StartTime, m.EndTime, m.CreatedAt, m.UpdatedAt, m.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.ConditionID, err)
	}
	return nil
}

// ActiveMarkets returns every open market.
func (s *Store) ActiveMarkets(ctx context.Context) ([]types.Market, error) {
	var rows []marketRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM markets WHERE active AND NOT closed`)
	if err != nil {
		return nil, fmt.Errorf("active markets: %w", err)
	}
	out := make([]types.Market, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMarket())
	}
	return out, nil
}

type metricRow struct {
	ConditionID    string              `db:"condition_id"`
	TS             time.Time           `db:"ts"`
	GammaVolume    decimal.NullDecimal `db:"gamma_volume"`
	GammaLiquidity decimal.NullDecimal `db:"gamma_liquidity"`
	OpenInterest   decimal.NullDecimal `db:"open_interest"`
	BestBidYes     decimal.NullDecimal `db:"best_bid_yes"`
	BestAskYes     decimal.NullDecimal `db:"best_ask_yes"`
	BestBidNo      decimal.NullDecimal `db:"best_bid_no"`
	BestAskNo      decimal.NullDecimal `db:"best_ask_no"`
	SpreadYes      decimal.NullDecimal `db:"spread_yes"`
	SpreadNo       decimal.NullDecimal `db:"spread_no"`
}

func nullToPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func (r metricRow) toSnapshot() types.MetricSnapshot {
	return types.MetricSnapshot{
		ConditionID:    r.ConditionID,
		TS:             r.TS,
		GammaVolume:    nullToPtr(r.GammaVolume),
		GammaLiquidity: nullToPtr(r.GammaLiquidity),
		OpenInterest:   nullToPtr(r.OpenInterest),
		BestBidYes:     nullToPtr(r.BestBidYes),
		BestAskYes:     nullToPtr(r.BestAskYes),
		BestBidNo:      nullToPtr(r.BestBidNo),
		BestAskNo:      nullToPtr(r.BestAskNo),
		SpreadYes:      nullToPtr(r.SpreadYes),
		SpreadNo:       nullToPtr(r.SpreadNo),
	}
}

func ptrToNull(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

// InsertMetricSnapshot appends one row of the metrics time series.
func (s *Store) InsertMetricSnapshot(ctx context.Context, snap types.MetricSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_metrics (
			condition_id, ts, gamma_volume, gamma_liquidity, open_interest,
			best_bid_yes, best_ask_yes, best_bid_no, best_ask_no,
			spread_yes, spread_no
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		snap.ConditionID, snap.TS,
		ptrToNull(snap.GammaVolume), ptrToNull(snap.GammaLiquidity), ptrToNull(snap.OpenInterest),
		ptrToNull(snap.BestBidYes), ptrToNull(snap.BestAskYes),
		ptrToNull(snap.BestBidNo), ptrToNull(snap.BestAskNo),
		ptrToNull(snap.SpreadYes), ptrToNull(snap.SpreadNo),
	)
	if err != nil {
		return fmt.Errorf("insert metric snapshot %s: %w", snap.ConditionID, err)
	}
	return nil
}

// LatestMetrics returns the newest metric snapshot for one market, nil
// when none exists.
func (s *Store) LatestMetrics(ctx context.Context, conditionID string) (*types.MetricSnapshot, error) {
	var row metricRow
	err := s.db.GetContext(ctx, &row, `
		SELECT condition_id, ts, gamma_volume, gamma_liquidity, open_interest,
		       best_bid_yes, best_ask_yes, best_bid_no, best_ask_no,
		       spread_yes, spread_no
		FROM market_metrics
		WHERE condition_id = $1
		ORDER BY ts DESC
		LIMIT 1`, conditionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest metrics %s: %w", conditionID, err)
	}
	snap := row.toSnapshot()
	return &snap, nil
}

// LatestMetricsByMarket returns the newest snapshot per market, for
// universe selection.
func (s *Store) LatestMetricsByMarket(ctx context.Context) (map[string]types.MetricSnapshot, error) {
	var rows []metricRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (condition_id)
		       condition_id, ts, gamma_volume, gamma_liquidity, open_interest,
		       best_bid_yes, best_ask_yes, best_bid_no, best_ask_no,
		       spread_yes, spread_no
		FROM market_metrics
		ORDER BY condition_id, ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest metrics by market: %w", err)
	}
	out := make(map[string]types.MetricSnapshot, len(rows))
	for _, r := range rows {
		out[r.ConditionID] = r.toSnapshot()
	}
	return out, nil
}
