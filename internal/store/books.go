package store

import (
	"context"
	"encoding/json"
	"fmt"

	"polymercado/pkg/types"
)

type storedLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func levelsJSON(levels []types.Level) ([]byte, error) {
	out := make([]storedLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, storedLevel{Price: l.Price.String(), Size: l.Size.String()})
	}
	return json.Marshal(out)
}

// UpsertOrderbook stores the latest flushed book for a token. Only the
// newest snapshot is kept; history lives in the in-memory cache and the
// metrics series.
func (s *Store) UpsertOrderbook(ctx context.Context, snap types.OrderbookSnapshot) error {
	bids, err := levelsJSON(snap.Bids)
	if err != nil {
		return fmt.Errorf("encode bids %s: %w", snap.TokenID, err)
	}
	asks, err := levelsJSON(snap.Asks)
	if err != nil {
		return fmt.Errorf("encode asks %s: %w", snap.TokenID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orderbook_latest (
			token_id, condition_id, bids, asks, tick_size, min_order_size,
			neg_risk, as_of, hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''))
		ON CONFLICT (token_id) DO UPDATE SET
			condition_id   = EXCLUDED.condition_id,
			bids           = EXCLUDED.bids,
			asks           = EXCLUDED.asks,
			tick_size      = EXCLUDED.tick_size,
			min_order_size = EXCLUDED.min_order_size,
			neg_risk       = EXCLUDED.neg_risk,
			as_of          = EXCLUDED.as_of,
			hash           = EXCLUDED.hash
		WHERE orderbook_latest.as_of <= EXCLUDED.as_of`,
		snap.TokenID, snap.ConditionID, bids, asks,
		snap.TickSize, snap.MinOrderSize, snap.NegRisk, snap.AsOf, snap.Hash,
	)
	if err != nil {
		return fmt.Errorf("upsert orderbook %s: %w", snap.TokenID, err)
	}
	return nil
}
