package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func lvl(price, size string) types.Level {
	return types.Level{Price: d(price), Size: d(size)}
}

func snapAt(tokenID string, asOf time.Time) types.OrderbookSnapshot {
	return types.OrderbookSnapshot{
		TokenID: tokenID,
		Bids:    []types.Level{lvl("0.54", "100"), lvl("0.53", "200")},
		Asks:    []types.Level{lvl("0.56", "150"), lvl("0.57", "300")},
		AsOf:    asOf,
	}
}

func TestApplySnapshotSortsSides(t *testing.T) {
	t.Parallel()

	c := NewCache()
	now := time.Now()

	ok := c.ApplySnapshot(types.OrderbookSnapshot{
		TokenID: "tok",
		Bids:    []types.Level{lvl("0.51", "5"), lvl("0.54", "100")},
		Asks:    []types.Level{lvl("0.60", "7"), lvl("0.56", "150")},
		AsOf:    now,
	})
	if !ok {
		t.Fatal("snapshot rejected")
	}

	snap, ok := c.Get("tok")
	if !ok {
		t.Fatal("book missing after snapshot")
	}
	if !snap.Bids[0].Price.Equal(d("0.54")) {
		t.Errorf("best bid = %s, want 0.54", snap.Bids[0].Price)
	}
	if !snap.Asks[0].Price.Equal(d("0.56")) {
		t.Errorf("best ask = %s, want 0.56", snap.Asks[0].Price)
	}
}

func TestApplySnapshotDropsStale(t *testing.T) {
	t.Parallel()

	c := NewCache()
	now := time.Now()

	c.ApplySnapshot(snapAt("tok", now))
	if c.ApplySnapshot(snapAt("tok", now.Add(-time.Second))) {
		t.Error("stale snapshot accepted")
	}
	if c.ApplySnapshot(snapAt("tok", now)) {
		t.Error("equal-timestamp snapshot accepted")
	}

	snap, _ := c.Get("tok")
	if !snap.AsOf.Equal(now) {
		t.Errorf("as_of = %v, want %v", snap.AsOf, now)
	}
}

func TestApplyPriceChange(t *testing.T) {
	t.Parallel()

	c := NewCache()
	now := time.Now()
	c.ApplySnapshot(snapAt("tok", now))

	later := now.Add(time.Second)
	ok := c.ApplyPriceChange("tok", []Change{
		{Price: d("0.55"), Size: d("50"), Side: types.BUY},   // new best bid
		{Price: d("0.56"), Size: d("0"), Side: types.SELL},   // removes best ask
		{Price: d("0.57"), Size: d("400"), Side: types.SELL}, // resize
	}, later)
	if !ok {
		t.Fatal("delta rejected")
	}

	snap, _ := c.Get("tok")
	if !snap.AsOf.Equal(later) {
		t.Errorf("as_of = %v, want %v", snap.AsOf, later)
	}
	best, _ := snap.BestBid()
	if !best.Price.Equal(d("0.55")) || !best.Size.Equal(d("50")) {
		t.Errorf("best bid = %s @ %s, want 50 @ 0.55", best.Size, best.Price)
	}
	ask, _ := snap.BestAsk()
	if !ask.Price.Equal(d("0.57")) || !ask.Size.Equal(d("400")) {
		t.Errorf("best ask = %s @ %s, want 400 @ 0.57", ask.Size, ask.Price)
	}
}

func TestApplyPriceChangeStaleOrUnknown(t *testing.T) {
	t.Parallel()

	c := NewCache()
	now := time.Now()
	c.ApplySnapshot(snapAt("tok", now))

	if c.ApplyPriceChange("other", nil, now) {
		t.Error("delta for unseen token accepted")
	}
	if c.ApplyPriceChange("tok", []Change{{Price: d("0.50"), Size: d("1"), Side: types.BUY}}, now.Add(-time.Second)) {
		t.Error("stale delta accepted")
	}

	snap, _ := c.Get("tok")
	if len(snap.Bids) != 2 {
		t.Errorf("bids mutated by stale delta: %d levels", len(snap.Bids))
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	c := NewCache()
	now := time.Now()
	c.ApplySnapshot(snapAt("tok", now))

	snap, _ := c.Get("tok")
	snap.Bids[0].Size = d("999999")

	again, _ := c.Get("tok")
	if !again.Bids[0].Size.Equal(d("100")) {
		t.Errorf("cache mutated through Get copy: size = %s", again.Bids[0].Size)
	}
}

func TestAgeAndTokens(t *testing.T) {
	t.Parallel()

	c := NewCache()
	now := time.Now()
	c.ApplySnapshot(snapAt("a", now.Add(-10*time.Second)))
	c.ApplySnapshot(snapAt("b", now))

	age, ok := c.Age("a", now)
	if !ok || age != 10*time.Second {
		t.Errorf("age = %v ok=%v, want 10s true", age, ok)
	}
	if _, ok := c.Age("missing", now); ok {
		t.Error("age reported for unseen token")
	}

	toks := c.Tokens()
	if len(toks) != 2 {
		t.Errorf("tokens = %v, want 2 entries", toks)
	}

	c.Drop([]string{"a"})
	if _, ok := c.Get("a"); ok {
		t.Error("dropped token still readable")
	}
}

func TestNormalizeLevels(t *testing.T) {
	t.Parallel()

	raw := []types.PriceLevel{
		{Price: "0.60", Size: "10"},
		{Price: "0.55", Size: "20"},
		{Price: "1.20", Size: "5"},  // out of range
		{Price: "0.50", Size: "0"},  // empty level
		{Price: "abc", Size: "1"},   // unparseable
		{Price: "0.58", Size: "-3"}, // negative size
	}

	asks, dropped := NormalizeLevels(raw, true)
	if dropped != 4 {
		t.Errorf("dropped = %d, want 4", dropped)
	}
	if len(asks) != 2 || !asks[0].Price.Equal(d("0.55")) || !asks[1].Price.Equal(d("0.60")) {
		t.Errorf("asks = %v, want ascending [0.55 0.60]", asks)
	}

	bids, _ := NormalizeLevels(raw, false)
	if len(bids) != 2 || !bids[0].Price.Equal(d("0.60")) {
		t.Errorf("bids = %v, want descending from 0.60", bids)
	}
}
