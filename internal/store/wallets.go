package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/pkg/types"
)

type walletRow struct {
	Address             string              `db:"wallet"`
	FirstSeenAt         time.Time           `db:"first_seen_at"`
	LastSeenAt          time.Time           `db:"last_seen_at"`
	FirstTradeTS        *time.Time          `db:"first_trade_ts"`
	TrackedUntil        *time.Time          `db:"tracked_until"`
	LifetimeNotionalUSD decimal.Decimal     `db:"lifetime_notional_usd"`
	Last7dNotionalUSD   decimal.NullDecimal `db:"last_7d_notional_usd"`
}

func (r walletRow) toWallet() types.Wallet {
	return types.Wallet{
		Address:             r.Address,
		FirstSeenAt:         r.FirstSeenAt,
		LastSeenAt:          r.LastSeenAt,
		FirstTradeTS:        r.FirstTradeTS,
		TrackedUntil:        r.TrackedUntil,
		LifetimeNotionalUSD: r.LifetimeNotionalUSD,
		Last7dNotionalUSD:   nullToPtr(r.Last7dNotionalUSD),
	}
}

// GetWallet returns one wallet row, nil when unknown.
func (s *Store) GetWallet(ctx context.Context, address string) (*types.Wallet, error) {
	var row walletRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM wallets WHERE wallet = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}
	w := row.toWallet()
	return &w, nil
}

// UpsertWallet writes the wallet state computed by the signal engine.
// first_seen_at is kept from the first observation.
func (s *Store) UpsertWallet(ctx context.Context, w types.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (
			wallet, first_seen_at, last_seen_at, first_trade_ts,
			tracked_until, lifetime_notional_usd, last_7d_notional_usd
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (wallet) DO UPDATE SET
			last_seen_at          = EXCLUDED.last_seen_at,
			first_trade_ts        = COALESCE(wallets.first_trade_ts, EXCLUDED.first_trade_ts),
			tracked_until         = EXCLUDED.tracked_until,
			lifetime_notional_usd = EXCLUDED.lifetime_notional_usd,
			last_7d_notional_usd  = EXCLUDED.last_7d_notional_usd`,
		w.Address, w.FirstSeenAt, w.LastSeenAt, w.FirstTradeTS,
		w.TrackedUntil, w.LifetimeNotionalUSD, ptrToNull(w.Last7dNotionalUSD),
	)
	if err != nil {
		return fmt.Errorf("upsert wallet %s: %w", w.Address, err)
	}
	return nil
}

// TrackedWallets returns wallets whose positions tracking window is still
// open at now.
func (s *Store) TrackedWallets(ctx context.Context, now time.Time) ([]types.Wallet, error) {
	var rows []walletRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM wallets WHERE tracked_until >= $1 ORDER BY wallet`, now)
	if err != nil {
		return nil, fmt.Errorf("tracked wallets: %w", err)
	}
	out := make([]types.Wallet, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toWallet())
	}
	return out, nil
}

// ReplaceWalletExposures swaps one wallet's exposure rows for the set just
// fetched from the positions endpoint, in a single transaction so readers
// never see a partial reconcile.
func (s *Store) ReplaceWalletExposures(ctx context.Context, wallet string, exposures []types.WalletExposure) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exposure replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wallet_market_exposure WHERE wallet = $1`, wallet); err != nil {
		return fmt.Errorf("clear exposures %s: %w", wallet, err)
	}
	for _, e := range exposures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_market_exposure (
				wallet, condition_id, net_shares, avg_entry_price, last_updated_at
			) VALUES ($1,$2,$3,$4,$5)`,
			e.Wallet, e.ConditionID, e.NetShares, ptrToNull(e.AvgEntryPrice), e.LastUpdatedAt,
		); err != nil {
			return fmt.Errorf("insert exposure %s/%s: %w", e.Wallet, e.ConditionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exposure replace %s: %w", wallet, err)
	}
	return nil
}
