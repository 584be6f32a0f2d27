// Package dataapi ingests the data API: taker trades, open interest, and
// wallet positions.
package dataapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"polymercado/internal/parse"
	"polymercado/pkg/types"
)

// Trade is one record of the /trades response. Numeric fields are decoded
// with json.Number so the composite dedupe hash sees the exact wire text.
type Trade struct {
	ProxyWallet     string `json:"proxyWallet"`
	Side            string `json:"side"`
	Asset           string `json:"asset"`
	ConditionID     string `json:"conditionId"`
	Size            any    `json:"size"`
	Price           any    `json:"price"`
	Timestamp       any    `json:"timestamp"`
	TransactionHash string `json:"transactionHash"`
}

// Position is one record of the /positions response.
type Position struct {
	ConditionID string `json:"conditionId"`
	Size        any    `json:"size"`
	AvgPrice    any    `json:"avgPrice"`
	Outcome     string `json:"outcome"`
}

// OpenInterest is one record of the /oi response.
type OpenInterest struct {
	Market string `json:"market"`
	Value  any    `json:"value"`
}

// DedupeKey is the trade's stable identity: the transaction hash when the
// upstream provides one, else a digest of the identifying fields.
func DedupeKey(t Trade) string {
	if t.TransactionHash != "" {
		return "tx:" + t.TransactionHash
	}
	parts := []any{t.ProxyWallet, t.ConditionID, t.Asset, t.Side, t.Timestamp, t.Size, t.Price}
	buf := make([]byte, 0, 128)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '|')
		}
		buf = append(buf, wireString(part)...)
	}
	digest := sha256.Sum256(buf)
	return "hash:" + hex.EncodeToString(digest[:])
}

func wireString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}

// decodeTrade parses one raw trade record, preserving number text for the
// dedupe hash.
func decodeTrade(raw json.RawMessage) (Trade, error) {
	var t Trade
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&t); err != nil {
		return Trade{}, err
	}
	return t, nil
}

// ParseTrade normalizes one raw trade into the canonical row. ok=false on
// records missing any identifying field or with unparseable numerics.
func ParseTrade(raw json.RawMessage) (types.Trade, bool) {
	t, err := decodeTrade(raw)
	if err != nil {
		return types.Trade{}, false
	}

	side := types.Side(t.Side)
	if !side.Valid() || t.ConditionID == "" || t.Asset == "" {
		return types.Trade{}, false
	}

	price, okP := parse.Decimal(t.Price)
	size, okS := parse.Decimal(t.Size)
	ts, okT := parse.Timestamp(t.Timestamp)
	if !okP || !okS || !okT {
		return types.Trade{}, false
	}

	return types.Trade{
		PK:              DedupeKey(t),
		TransactionHash: t.TransactionHash,
		Wallet:          t.ProxyWallet,
		ConditionID:     t.ConditionID,
		TokenID:         t.Asset,
		Side:            side,
		Price:           price,
		Size:            size,
		NotionalUSD:     price.Mul(size),
		TradeTS:         ts,
		Raw:             raw,
	}, true
}
