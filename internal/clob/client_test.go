package clob

import (
	"log/slog"
	"testing"
	"time"

	"polymercado/internal/book"
	"polymercado/internal/config"
	"polymercado/pkg/types"
)

func TestNormalizeBook(t *testing.T) {
	t.Parallel()

	raw := types.BookResponse{
		Market:       "0xC1",
		AssetID:      "111",
		Timestamp:    "1700000000123",
		Hash:         "abc",
		TickSize:     "0.01",
		MinOrderSize: "5",
		NegRisk:      true,
		Bids: []types.PriceLevel{
			{Price: "0.52", Size: "10"},
			{Price: "0.54", Size: "100"}, // wire order is worst-first
		},
		Asks: []types.PriceLevel{
			{Price: "0.58", Size: "20"},
			{Price: "0.56", Size: "150"},
		},
	}

	snap, ok := normalizeBook(raw)
	if !ok {
		t.Fatal("valid book rejected")
	}
	if snap.TokenID != "111" || snap.ConditionID != "0xC1" {
		t.Errorf("keys = %s/%s", snap.TokenID, snap.ConditionID)
	}
	want := time.UnixMilli(1700000000123).UTC()
	if !snap.AsOf.Equal(want) {
		t.Errorf("as_of = %v, want %v", snap.AsOf, want)
	}
	if !snap.Bids[0].Price.GreaterThan(snap.Bids[1].Price) {
		t.Error("bids not sorted best-first")
	}
	if !snap.Asks[0].Price.LessThan(snap.Asks[1].Price) {
		t.Error("asks not sorted best-first")
	}
	if !snap.NegRisk || snap.TickSize.String() != "0.01" || snap.MinOrderSize.String() != "5" {
		t.Errorf("meta = negRisk=%v tick=%s min=%s", snap.NegRisk, snap.TickSize, snap.MinOrderSize)
	}
}

func TestNormalizeBookRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	if _, ok := normalizeBook(types.BookResponse{AssetID: "111", Timestamp: "1700000000123"}); ok {
		t.Error("book without market accepted")
	}
	if _, ok := normalizeBook(types.BookResponse{Market: "0xC1", AssetID: "111", Timestamp: "nope"}); ok {
		t.Error("book with bad timestamp accepted")
	}
}

func testConsumer(t *testing.T) (*Consumer, *book.Cache) {
	t.Helper()
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cache := book.NewCache()
	return NewConsumer(nil, cache, nil, cfg, slog.Default()), cache
}

func TestDispatchBookEvent(t *testing.T) {
	t.Parallel()

	consumer, cache := testConsumer(t)
	consumer.dispatch([]byte(`{
		"event_type": "book",
		"asset_id": "111",
		"market": "0xC1",
		"timestamp": "1700000000123",
		"buys": [{"price": "0.54", "size": "100"}],
		"sells": [{"price": "0.56", "size": "150"}]
	}`))

	snap, ok := cache.Get("111")
	if !ok {
		t.Fatal("book event not applied")
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price.String() != "0.54" {
		t.Errorf("bids = %v, want the buys-labelled side", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Price.String() != "0.56" {
		t.Errorf("asks = %v, want the sells-labelled side", snap.Asks)
	}
}

func TestDispatchPriceChange(t *testing.T) {
	t.Parallel()

	consumer, cache := testConsumer(t)
	consumer.dispatch([]byte(`{
		"event_type": "book",
		"asset_id": "111",
		"market": "0xC1",
		"timestamp": "1700000000000",
		"bids": [{"price": "0.54", "size": "100"}],
		"asks": [{"price": "0.56", "size": "150"}]
	}`))
	consumer.dispatch([]byte(`{
		"event_type": "price_change",
		"asset_id": "111",
		"market": "0xC1",
		"timestamp": "1700000001000",
		"price_changes": [
			{"asset_id": "111", "price": "0.56", "size": "0", "side": "SELL"},
			{"asset_id": "111", "price": "0.55", "size": "40", "side": "BUY"}
		]
	}`))

	snap, _ := cache.Get("111")
	if len(snap.Asks) != 0 {
		t.Errorf("asks = %v, want removal via size 0", snap.Asks)
	}
	best, _ := snap.BestBid()
	if best.Price.String() != "0.55" {
		t.Errorf("best bid = %s, want 0.55", best.Price)
	}
}

func TestDispatchIgnoresGarbage(t *testing.T) {
	t.Parallel()

	consumer, cache := testConsumer(t)
	consumer.dispatch([]byte(`PONG`))
	consumer.dispatch([]byte(`{"event_type": "last_trade_price"}`))
	consumer.dispatch([]byte(`{"event_type": "book", "asset_id": "111", "timestamp": "junk"}`))

	if got := cache.Tokens(); len(got) != 0 {
		t.Errorf("cache populated from garbage: %v", got)
	}
}

func TestDispatchTickSizeChange(t *testing.T) {
	t.Parallel()

	consumer, cache := testConsumer(t)
	consumer.dispatch([]byte(`{
		"event_type": "book",
		"asset_id": "111",
		"market": "0xC1",
		"timestamp": "1700000000000",
		"bids": [{"price": "0.54", "size": "100"}]
	}`))
	consumer.dispatch([]byte(`{
		"event_type": "tick_size_change",
		"asset_id": "111",
		"old_tick_size": "0.01",
		"new_tick_size": "0.001"
	}`))

	snap, _ := cache.Get("111")
	if snap.TickSize.String() != "0.001" {
		t.Errorf("tick size = %s, want 0.001", snap.TickSize)
	}
}
