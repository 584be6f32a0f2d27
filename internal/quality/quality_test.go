package quality

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"polymercado/internal/config"
	"polymercado/pkg/types"
)

type fakeQualityStore struct {
	missingTokens int
	outOfBounds   int
	mismatches    int
	tradedWallets int
	newWallets    int
	staleBooks    int
	recorded      []types.DataQualityIssue
}

func (s *fakeQualityStore) InsertQualityIssue(_ context.Context, issue types.DataQualityIssue) error {
	s.recorded = append(s.recorded, issue)
	return nil
}

func (s *fakeQualityStore) MarketsMissingTokens(context.Context) (int, error) {
	return s.missingTokens, nil
}

func (s *fakeQualityStore) MetricsOutOfBounds(context.Context, time.Time) (int, error) {
	return s.outOfBounds, nil
}

func (s *fakeQualityStore) TradeNotionalMismatches(context.Context, time.Time) (int, error) {
	return s.mismatches, nil
}

func (s *fakeQualityStore) WalletRates(context.Context, time.Time) (int, int, error) {
	return s.tradedWallets, s.newWallets, nil
}

func (s *fakeQualityStore) StaleBookCount(context.Context, time.Time) (int, error) {
	return s.staleBooks, nil
}

type staticTokens []string

func (s staticTokens) Tokens() []string   { return s }
func (s staticTokens) TokenIDs() []string { return s }

func testChecker(t *testing.T, store *fakeQualityStore, cached, tracked []string) *Checker {
	t.Helper()
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	return NewChecker(store, staticTokens(cached), staticTokens(tracked), cfg, slog.Default())
}

func checkNames(issues []types.DataQualityIssue) []string {
	var out []string
	for _, issue := range issues {
		out = append(out, issue.CheckName)
	}
	return out
}

func TestRunCleanData(t *testing.T) {
	t.Parallel()

	store := &fakeQualityStore{}
	c := testChecker(t, store, []string{"111", "222"}, []string{"111", "222"})

	n, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 0 || len(store.recorded) != 0 {
		t.Errorf("issues = %d (%v), want none", n, checkNames(store.recorded))
	}
}

func TestRunFlagsProblems(t *testing.T) {
	t.Parallel()

	store := &fakeQualityStore{
		missingTokens: 3,
		outOfBounds:   1,
		mismatches:    2,
	}
	c := testChecker(t, store, []string{"111"}, []string{"111", "222", "333"})

	n, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]bool{
		"markets_missing_tokens":  true,
		"tokens_missing_books":    true,
		"price_out_of_bounds":     true,
		"trade_notional_mismatch": true,
	}
	if n != len(want) {
		t.Errorf("issues = %d (%v), want %d", n, checkNames(store.recorded), len(want))
	}
	for _, issue := range store.recorded {
		if !want[issue.CheckName] {
			t.Errorf("unexpected check %s", issue.CheckName)
		}
	}
}

func TestRunFlagsNewWalletSpike(t *testing.T) {
	t.Parallel()

	store := &fakeQualityStore{tradedWallets: 900, newWallets: 800}
	c := testChecker(t, store, nil, nil)
	c.cfg.DataQualityMaxNewWalletsPerHour = 500

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	names := checkNames(store.recorded)
	if len(names) != 1 || names[0] != "new_wallet_rate" {
		t.Errorf("issues = %v, want [new_wallet_rate]", names)
	}
}
