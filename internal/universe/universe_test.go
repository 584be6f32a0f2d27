package universe

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/internal/config"
	"polymercado/pkg/types"
)

type fakeStore struct {
	markets []types.Market
	metrics map[string]types.MetricSnapshot
}

func (s *fakeStore) ActiveMarkets(context.Context) ([]types.Market, error) {
	return s.markets, nil
}

func (s *fakeStore) LatestMetricsByMarket(context.Context) (map[string]types.MetricSnapshot, error) {
	return s.metrics, nil
}

func dp(s string) *decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &v
}

func market(cid string, tokens ...string) types.Market {
	return types.Market{ConditionID: cid, TokenIDs: tokens, Active: true}
}

func snap(volume, liquidity, oi string) types.MetricSnapshot {
	out := types.MetricSnapshot{TS: time.Now()}
	if volume != "" {
		out.GammaVolume = dp(volume)
	}
	if liquidity != "" {
		out.GammaLiquidity = dp(liquidity)
	}
	if oi != "" {
		out.OpenInterest = dp(oi)
	}
	return out
}

func settings(t *testing.T) *config.Settings {
	t.Helper()
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	return cfg
}

func contains(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestRefreshThresholdsAreOred(t *testing.T) {
	t.Parallel()

	// Defaults: volume >= 50000, liquidity >= 10000, OI >= 5000.
	store := &fakeStore{
		markets: []types.Market{
			market("vol", "t1", "t2"),
			market("liq", "t3", "t4"),
			market("oi", "t5", "t6"),
			market("quiet", "t7", "t8"),
			market("unseen", "t9", "t10"),
		},
		metrics: map[string]types.MetricSnapshot{
			"vol":   snap("60000", "100", "100"),
			"liq":   snap("100", "15000", "100"),
			"oi":    snap("100", "100", "6000"),
			"quiet": snap("100", "100", "100"),
		},
	}

	u := New(store, settings(t), slog.Default())
	n, err := u.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 4 {
		t.Fatalf("tracked = %d, want 4", n)
	}

	ids := u.ConditionIDs()
	for _, want := range []string{"vol", "liq", "oi", "unseen"} {
		if !contains(ids, want) {
			t.Errorf("missing %q in %v", want, ids)
		}
	}
	if contains(ids, "quiet") {
		t.Error("market below every floor was tracked")
	}
	if len(u.TokenIDs()) != 8 {
		t.Errorf("tokens = %d, want 8", len(u.TokenIDs()))
	}
}

func TestRefreshCapKeepsHighestVolume(t *testing.T) {
	t.Parallel()

	cfg := settings(t)
	cfg.MaxTrackedMarkets = 2

	store := &fakeStore{
		markets: []types.Market{
			market("small", "t1"),
			market("big", "t2"),
			market("mid", "t3"),
		},
		metrics: map[string]types.MetricSnapshot{
			"small": snap("60000", "", ""),
			"big":   snap("900000", "", ""),
			"mid":   snap("200000", "", ""),
		},
	}

	u := New(store, cfg, slog.Default())
	if _, err := u.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ids := u.ConditionIDs()
	if len(ids) != 2 || !contains(ids, "big") || !contains(ids, "mid") {
		t.Errorf("capped set = %v, want [big mid]", ids)
	}
}

func TestRefreshManualIncludesBypassCapAndFloors(t *testing.T) {
	t.Parallel()

	cfg := settings(t)
	cfg.MaxTrackedMarkets = 1
	cfg.UniverseIncludeIDs = []string{"pinned"}

	store := &fakeStore{
		markets: []types.Market{
			market("big", "t1"),
			market("pinned", "t2"),
		},
		metrics: map[string]types.MetricSnapshot{
			"big":    snap("900000", "", ""),
			"pinned": snap("1", "1", "1"),
		},
	}

	u := New(store, cfg, slog.Default())
	if _, err := u.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ids := u.ConditionIDs()
	if len(ids) != 2 || !contains(ids, "pinned") {
		t.Errorf("tracked = %v, want big plus pinned override", ids)
	}
}
