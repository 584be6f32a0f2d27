package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/pkg/types"
)

type tradeRow struct {
	PK              string          `db:"trade_pk"`
	TransactionHash sql.NullString  `db:"transaction_hash"`
	Wallet          sql.NullString  `db:"wallet"`
	ConditionID     string          `db:"condition_id"`
	TokenID         string          `db:"token_id"`
	Side            string          `db:"side"`
	Price           decimal.Decimal `db:"price"`
	Size            decimal.Decimal `db:"size"`
	NotionalUSD     decimal.Decimal `db:"notional_usd"`
	TradeTS         time.Time       `db:"trade_ts"`
	Raw             []byte          `db:"raw"`
}

func (r tradeRow) toTrade() types.Trade {
	return types.Trade{
		PK:              r.PK,
		TransactionHash: r.TransactionHash.String,
		Wallet:          r.Wallet.String,
		ConditionID:     r.ConditionID,
		TokenID:         r.TokenID,
		Side:            types.Side(r.Side),
		Price:           r.Price,
		Size:            r.Size,
		NotionalUSD:     r.NotionalUSD,
		TradeTS:         r.TradeTS,
		Raw:             json.RawMessage(r.Raw),
	}
}

// InsertTrade appends one trade. Returns false when the PK already exists;
// existing rows are never updated.
func (s *Store) InsertTrade(ctx context.Context, t types.Trade) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			trade_pk, transaction_hash, wallet, condition_id, token_id,
			side, price, size, notional_usd, trade_ts, raw
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (trade_pk) DO NOTHING`,
		t.PK, t.TransactionHash, t.Wallet, t.ConditionID, t.TokenID,
		string(t.Side), t.Price, t.Size, t.NotionalUSD, t.TradeTS, []byte(t.Raw),
	)
	if err != nil {
		return false, fmt.Errorf("insert trade %s: %w", t.PK, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert trade %s: %w", t.PK, err)
	}
	return n > 0, nil
}

// LatestTradeTS returns the newest persisted trade timestamp, nil on an
// empty table. The trade sync uses it as its pagination stop.
func (s *Store) LatestTradeTS(ctx context.Context) (*time.Time, error) {
	var ts sql.NullTime
	err := s.db.GetContext(ctx, &ts, `SELECT MAX(trade_ts) FROM trades`)
	if err != nil {
		return nil, fmt.Errorf("latest trade ts: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}

// TradesSince returns trades at or after since, oldest first. The signal
// engine depends on the ascending order.
func (s *Store) TradesSince(ctx context.Context, since time.Time) ([]types.Trade, error) {
	var rows []tradeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT trade_pk, transaction_hash, wallet, condition_id, token_id,
		       side, price, size, notional_usd, trade_ts, raw
		FROM trades
		WHERE trade_ts >= $1
		ORDER BY trade_ts ASC, trade_pk ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("trades since %s: %w", since.Format(time.RFC3339), err)
	}
	out := make([]types.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTrade())
	}
	return out, nil
}
