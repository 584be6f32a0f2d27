package dataapi

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"polymercado/pkg/types"
)

func TestDedupeKeyPrefersTransactionHash(t *testing.T) {
	t.Parallel()

	key := DedupeKey(Trade{TransactionHash: "0xabc", ProxyWallet: "0xW"})
	if key != "tx:0xabc" {
		t.Errorf("key = %q, want tx:0xabc", key)
	}
}

func TestDedupeKeyCompositeIsStable(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"proxyWallet": "0xW",
		"conditionId": "0xC1",
		"asset": "111",
		"side": "BUY",
		"timestamp": 1700000000,
		"size": 100.5,
		"price": 0.55
	}`)

	a, _ := decodeTrade(raw)
	b, _ := decodeTrade(raw)

	keyA, keyB := DedupeKey(a), DedupeKey(b)
	if keyA != keyB {
		t.Errorf("same record produced different keys: %q vs %q", keyA, keyB)
	}
	if !strings.HasPrefix(keyA, "hash:") || len(keyA) != len("hash:")+64 {
		t.Errorf("key = %q, want hash: plus sha256 hex", keyA)
	}

	// Any identifying field change must change the key.
	c := a
	c.Side = "SELL"
	if DedupeKey(c) == keyA {
		t.Error("side change did not change the composite key")
	}
}

func TestParseTrade(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"proxyWallet": "0xW",
		"conditionId": "0xC1",
		"asset": "111",
		"side": "BUY",
		"timestamp": 1700000000,
		"size": "20000",
		"price": "0.60",
		"transactionHash": "0xT",
		"slug": "fed-cuts-march"
	}`)

	trade, ok := ParseTrade(raw)
	if !ok {
		t.Fatal("valid trade rejected")
	}
	if trade.PK != "tx:0xT" {
		t.Errorf("pk = %q", trade.PK)
	}
	if !trade.NotionalUSD.Equal(trade.Price.Mul(trade.Size)) {
		t.Errorf("notional = %s, want price*size", trade.NotionalUSD)
	}
	if trade.NotionalUSD.String() != "12000" {
		t.Errorf("notional = %s, want 12000", trade.NotionalUSD)
	}
	want := time.Unix(1700000000, 0).UTC()
	if !trade.TradeTS.Equal(want) {
		t.Errorf("trade_ts = %v, want %v", trade.TradeTS, want)
	}
	if len(trade.Raw) == 0 {
		t.Error("raw record not preserved")
	}
}

func TestParseTradeRejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"bad side", `{"side":"HOLD","conditionId":"c","asset":"a","price":"0.5","size":"1","timestamp":1700000000}`},
		{"missing condition", `{"side":"BUY","asset":"a","price":"0.5","size":"1","timestamp":1700000000}`},
		{"missing asset", `{"side":"BUY","conditionId":"c","price":"0.5","size":"1","timestamp":1700000000}`},
		{"bad price", `{"side":"BUY","conditionId":"c","asset":"a","price":"zzz","size":"1","timestamp":1700000000}`},
		{"bad timestamp", `{"side":"BUY","conditionId":"c","asset":"a","price":"0.5","size":"1","timestamp":"not-a-time"}`},
		{"not json", `[`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, ok := ParseTrade(json.RawMessage(tt.raw)); ok {
				t.Error("malformed trade accepted")
			}
		})
	}
}

func TestAggregatePositions(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	positions := []Position{
		{ConditionID: "0xC1", Size: "100", AvgPrice: "0.40", Outcome: "Yes"},
		{ConditionID: "0xC1", Size: "30", AvgPrice: "0.50", Outcome: "No"},
		{ConditionID: "0xC2", Size: "10", AvgPrice: "0.20", Outcome: "Yes"},
		{ConditionID: "", Size: "5"},
		{ConditionID: "0xC3", Size: "junk"},
	}

	exposures := AggregatePositions("0xW", positions, now)
	if len(exposures) != 2 {
		t.Fatalf("exposures = %d, want 2", len(exposures))
	}

	byMarket := make(map[string]types.WalletExposure)
	for _, e := range exposures {
		byMarket[e.ConditionID] = e
	}

	c1 := byMarket["0xC1"]
	if c1.NetShares.String() != "70" {
		t.Errorf("net shares = %s, want 70 (100 yes - 30 no)", c1.NetShares)
	}
	// (100*0.40 + 30*0.50) / 130
	if c1.AvgEntryPrice == nil || c1.AvgEntryPrice.StringFixed(4) != "0.4231" {
		t.Errorf("avg entry = %v, want 0.4231", c1.AvgEntryPrice)
	}

	c2 := byMarket["0xC2"]
	if c2.NetShares.String() != "10" || c2.AvgEntryPrice == nil || c2.AvgEntryPrice.String() != "0.2" {
		t.Errorf("c2 = %+v", c2)
	}
}
