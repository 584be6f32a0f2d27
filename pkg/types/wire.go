// wire.go maps 1:1 to the JSON payloads of the CLOB REST book endpoint and
// the market WebSocket channel. Price and size arrive as strings to preserve
// decimal precision; timestamps are RFC3339 on REST and millisecond epoch
// strings on the WebSocket.
package types

// PriceLevel is a single raw bid or ask level as it appears on the wire.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book (and each element of the
// batched POST /books response).
type BookResponse struct {
	Market       string       `json:"market"` // condition ID
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// WSBookEvent is a full order book snapshot from the market WS channel.
// Depending on server version the sides are labelled bids/asks or
// buys/sells; both are accepted.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Buys      []PriceLevel `json:"buys"`
	Sells     []PriceLevel `json:"sells"`
}

// BidLevels returns whichever bid-side field the server populated.
func (e WSBookEvent) BidLevels() []PriceLevel {
	if len(e.Bids) > 0 {
		return e.Bids
	}
	return e.Buys
}

// AskLevels returns whichever ask-side field the server populated.
func (e WSBookEvent) AskLevels() []PriceLevel {
	if len(e.Asks) > 0 {
		return e.Asks
	}
	return e.Sells
}

// WSPriceChange is a single price level update within a price_change event.
// Size is the new aggregated size at that level; "0" removes the level.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "BUY" or "SELL"
	Hash    string `json:"hash"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	AssetID      string          `json:"asset_id"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSTickSizeChangeEvent signals a change of a market's price granularity.
type WSTickSizeChangeEvent struct {
	EventType   string `json:"event_type"` // always "tick_size_change"
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	Timestamp   string `json:"timestamp"`
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to the market channel.
type WSSubscribeMsg struct {
	Type     string   `json:"type"` // always "market"
	AssetIDs []string `json:"assets_ids"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from assets
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}
