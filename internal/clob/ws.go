package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"polymercado/internal/book"
	"polymercado/internal/config"
	"polymercado/internal/metrics"
	"polymercado/internal/parse"
	"polymercado/pkg/types"
)

// WSState is the consumer's connection state, exported on the
// pm_ws_connection_state gauge.
type WSState int

const (
	StateDisconnected WSState = iota
	StateConnecting
	StateSubscribing
	StateLive
	StateDraining
)

const (
	wsReadTimeout      = 90 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsMaxReconnectWait = 30 * time.Second
)

// Consumer maintains one logical connection to the market channel and
// feeds the book cache: full snapshots on "book", deltas on
// "price_change", tick updates on "tick_size_change".
//
// The REST client covers the gaps: a forced snapshot refresh after every
// reconnect, and a periodic heal (the Poller) recovers missed deltas.
// Connection attempts rotate through the configured URL and its fallbacks
// with exponential backoff.
type Consumer struct {
	urls     []string
	cache    *book.Cache
	client   *Client
	universe UniverseSource
	cfg      *config.Settings
	logger   *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu      sync.RWMutex
	subscribed map[string]bool
}

// NewConsumer creates the websocket consumer. The REST client is used for
// post-reconnect healing.
func NewConsumer(client *Client, cache *book.Cache, universe UniverseSource, cfg *config.Settings, logger *slog.Logger) *Consumer {
	urls := append([]string{cfg.CLOBWSURL}, cfg.CLOBWSFallbackURLs...)
	return &Consumer{
		urls:       urls,
		cache:      cache,
		client:     client,
		universe:   universe,
		cfg:        cfg,
		logger:     logger.With("component", "clob_ws"),
		subscribed: make(map[string]bool),
	}
}

func (c *Consumer) setState(s WSState) {
	metrics.WSConnectionState.Set(float64(s))
}

// Run connects and keeps the stream alive until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	reconnect := backoff.NewExponentialBackOff()
	reconnect.MaxInterval = wsMaxReconnectWait

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDraining)
			return ctx.Err()
		}

		url := c.urls[attempt%len(c.urls)]
		attempt++

		err := c.connectAndStream(ctx, url)
		if ctx.Err() != nil {
			c.setState(StateDraining)
			return ctx.Err()
		}

		c.setState(StateDisconnected)
		sleep := reconnect.NextBackOff()
		if sleep == backoff.Stop {
			sleep = wsMaxReconnectWait
		}
		c.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"url", url,
			"backoff", sleep,
		)
		select {
		case <-ctx.Done():
			c.setState(StateDraining)
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (c *Consumer) connectAndStream(ctx context.Context, url string) error {
	c.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	c.setState(StateSubscribing)

	tokens := c.targetTokens()
	c.subMu.Lock()
	c.subscribed = make(map[string]bool, len(tokens))
	for _, tokenID := range tokens {
		c.subscribed[tokenID] = true
	}
	c.subMu.Unlock()
	metrics.WSSubscriptions.Set(float64(len(tokens)))

	if err := c.writeJSON(types.WSSubscribeMsg{Type: "market", AssetIDs: tokens}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Deltas sent between the snapshot fetch and now lose against the
	// fresher cache as_of, so healing after subscribing is safe.
	c.heal(ctx, tokens)

	c.setState(StateLive)
	c.logger.Info("websocket live", "url", url, "subscriptions", len(tokens))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(msg)
	}
}

// targetTokens is the tracked universe's token set, clamped to the
// subscription limit.
func (c *Consumer) targetTokens() []string {
	tokens := c.universe.TokenIDs()
	if max := c.cfg.CLOBWSMaxAssets; max > 0 && len(tokens) > max {
		tokens = tokens[:max]
	}
	return tokens
}

// Reconcile aligns the live subscription set with the current universe:
// subscribe to new tokens, unsubscribe from dropped ones. Unrelated
// subscriptions are untouched. Called on the universe refresh cadence.
func (c *Consumer) Reconcile(ctx context.Context) error {
	c.connMu.Lock()
	connected := c.conn != nil
	c.connMu.Unlock()
	if !connected {
		return nil
	}

	target := make(map[string]bool)
	for _, tokenID := range c.targetTokens() {
		target[tokenID] = true
	}

	var add, remove []string
	c.subMu.Lock()
	for tokenID := range target {
		if !c.subscribed[tokenID] {
			add = append(add, tokenID)
			c.subscribed[tokenID] = true
		}
	}
	for tokenID := range c.subscribed {
		if !target[tokenID] {
			remove = append(remove, tokenID)
			delete(c.subscribed, tokenID)
		}
	}
	total := len(c.subscribed)
	c.subMu.Unlock()

	if len(add) > 0 {
		if err := c.writeJSON(types.WSUpdateMsg{Operation: "subscribe", AssetIDs: add}); err != nil {
			return fmt.Errorf("subscribe %d tokens: %w", len(add), err)
		}
		c.heal(ctx, add)
	}
	if len(remove) > 0 {
		if err := c.writeJSON(types.WSUpdateMsg{Operation: "unsubscribe", AssetIDs: remove}); err != nil {
			return fmt.Errorf("unsubscribe %d tokens: %w", len(remove), err)
		}
		c.cache.Drop(remove)
	}

	metrics.WSSubscriptions.Set(float64(total))
	if len(add) > 0 || len(remove) > 0 {
		c.logger.Info("subscriptions reconciled", "added", len(add), "removed", len(remove), "total", total)
	}
	return nil
}

// heal force-refreshes REST snapshots for the given tokens to recover
// missed deltas. Failures only log: the stream keeps running and the
// periodic poller covers the gap.
func (c *Consumer) heal(ctx context.Context, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	snaps, err := c.client.FetchBooks(ctx, tokens)
	if err != nil {
		c.logger.Warn("snapshot heal failed", "error", err, "tokens", len(tokens))
	}
	for _, snap := range snaps {
		c.cache.ApplySnapshot(snap)
	}
}

func (c *Consumer) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		// PONG and other non-JSON frames.
		return
	}

	switch envelope.EventType {
	case "book":
		var ev types.WSBookEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Error("unmarshal book event", "error", err)
			return
		}
		c.handleBook(ev)

	case "price_change":
		var ev types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		c.handlePriceChange(ev)

	case "tick_size_change":
		var ev types.WSTickSizeChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Error("unmarshal tick_size_change event", "error", err)
			return
		}
		if tick, ok := parse.DecimalString(ev.NewTickSize); ok {
			c.cache.SetTickSize(ev.AssetID, tick)
		}

	case "last_trade_price", "best_bid_ask", "new_market", "market_resolved":
		// Covered by the REST syncs.

	default:
		c.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (c *Consumer) handleBook(ev types.WSBookEvent) {
	asOf, ok := parse.Timestamp(ev.Timestamp)
	if !ok {
		metrics.ParseDropped.WithLabelValues("clob_ws").Inc()
		return
	}
	bids, _ := book.NormalizeLevels(ev.BidLevels(), false)
	asks, _ := book.NormalizeLevels(ev.AskLevels(), true)

	c.cache.ApplySnapshot(types.OrderbookSnapshot{
		TokenID:     ev.AssetID,
		ConditionID: ev.Market,
		Bids:        bids,
		Asks:        asks,
		AsOf:        asOf,
		Hash:        ev.Hash,
	})
}

func (c *Consumer) handlePriceChange(ev types.WSPriceChangeEvent) {
	asOf, ok := parse.Timestamp(ev.Timestamp)
	if !ok {
		metrics.ParseDropped.WithLabelValues("clob_ws").Inc()
		return
	}

	// Changes may target several assets in one event; group before applying.
	byAsset := make(map[string][]book.Change)
	for _, pc := range ev.PriceChanges {
		assetID := pc.AssetID
		if assetID == "" {
			assetID = ev.AssetID
		}
		price, okP := parse.DecimalString(pc.Price)
		size, okS := parse.DecimalString(pc.Size)
		side := types.Side(pc.Side)
		if !okP || !okS || !side.Valid() {
			metrics.ParseDropped.WithLabelValues("clob_ws").Inc()
			continue
		}
		byAsset[assetID] = append(byAsset[assetID], book.Change{Price: price, Size: size, Side: side})
	}
	for assetID, changes := range byAsset {
		c.cache.ApplyPriceChange(assetID, changes, asOf)
	}
}

func (c *Consumer) pingLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.CLOBWSPingSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Consumer) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeMessage(websocket.TextMessage, data)
}

func (c *Consumer) writeMessage(messageType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}
