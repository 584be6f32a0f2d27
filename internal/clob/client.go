// Package clob consumes CLOB order books, over REST (batched snapshots,
// used for initial load, healing, and the polling fallback) and over the
// market WebSocket channel.
package clob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"polymercado/internal/book"
	"polymercado/internal/config"
	"polymercado/internal/httpx"
	"polymercado/internal/metrics"
	"polymercado/internal/parse"
	"polymercado/pkg/types"
)

// Store is the persistence surface of the book flush.
type Store interface {
	UpsertOrderbook(ctx context.Context, snap types.OrderbookSnapshot) error
	InsertMetricSnapshot(ctx context.Context, snap types.MetricSnapshot) error
}

// UniverseSource supplies the tracked token set and markets.
type UniverseSource interface {
	Markets() []types.Market
	TokenIDs() []string
}

const booksBatchSize = 500

// Client fetches book snapshots from the CLOB REST API.
type Client struct {
	http   *httpx.Client
	logger *slog.Logger
}

// NewClient creates a CLOB REST client on the shared request pool.
func NewClient(http *httpx.Client, logger *slog.Logger) *Client {
	return &Client{http: http, logger: logger.With("component", "clob_client")}
}

// FetchBooks retrieves current books for the given tokens via the batched
// endpoint. Books that fail validation are dropped, not errors.
func (c *Client) FetchBooks(ctx context.Context, tokenIDs []string) ([]types.OrderbookSnapshot, error) {
	var out []types.OrderbookSnapshot
	for start := 0; start < len(tokenIDs); start += booksBatchSize {
		end := start + booksBatchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}

		payload := make([]map[string]string, 0, end-start)
		for _, tokenID := range tokenIDs[start:end] {
			payload = append(payload, map[string]string{"token_id": tokenID})
		}

		var books []types.BookResponse
		if err := c.http.PostJSON(ctx, "/books", payload, &books); err != nil {
			return out, fmt.Errorf("fetch books: %w", err)
		}

		for _, raw := range books {
			snap, ok := normalizeBook(raw)
			if !ok {
				metrics.ParseDropped.WithLabelValues("clob").Inc()
				continue
			}
			out = append(out, snap)
		}
	}
	return out, nil
}

// normalizeBook converts one wire book into a validated snapshot: decimal
// levels with in-range prices, sides sorted best-first.
func normalizeBook(raw types.BookResponse) (types.OrderbookSnapshot, bool) {
	if raw.AssetID == "" || raw.Market == "" {
		return types.OrderbookSnapshot{}, false
	}
	asOf, ok := parse.Timestamp(raw.Timestamp)
	if !ok {
		return types.OrderbookSnapshot{}, false
	}

	bids, _ := book.NormalizeLevels(raw.Bids, false)
	asks, _ := book.NormalizeLevels(raw.Asks, true)

	snap := types.OrderbookSnapshot{
		TokenID:     raw.AssetID,
		ConditionID: raw.Market,
		Bids:        bids,
		Asks:        asks,
		NegRisk:     raw.NegRisk,
		AsOf:        asOf,
		Hash:        raw.Hash,
	}
	if tick, ok := parse.DecimalString(raw.TickSize); ok {
		snap.TickSize = tick
	}
	if minSize, ok := parse.DecimalString(raw.MinOrderSize); ok {
		snap.MinOrderSize = minSize
	}
	return snap, true
}

// Poller is the REST book job: refresh the cache for every tracked token,
// flush the refreshed books to storage, and append a best-price metric
// snapshot per binary market. It doubles as the fallback when the
// websocket consumer is disabled and as the periodic heal when it is not.
type Poller struct {
	client   *Client
	cache    *book.Cache
	store    Store
	universe UniverseSource
	cfg      *config.Settings
	logger   *slog.Logger
}

// NewPoller creates the book polling job.
func NewPoller(client *Client, cache *book.Cache, store Store, universe UniverseSource, cfg *config.Settings, logger *slog.Logger) *Poller {
	return &Poller{
		client:   client,
		cache:    cache,
		store:    store,
		universe: universe,
		cfg:      cfg,
		logger:   logger.With("component", "book_poller"),
	}
}

// Run fetches and flushes one round of books. Returns the number of books
// refreshed.
func (p *Poller) Run(ctx context.Context) (int, error) {
	tokenIDs := p.universe.TokenIDs()
	if len(tokenIDs) == 0 {
		return 0, nil
	}

	snaps, err := p.client.FetchBooks(ctx, tokenIDs)
	if errors.Is(err, httpx.ErrThrottled) {
		p.logger.Warn("book poll throttled, keeping partial progress", "books", len(snaps))
		err = nil
	}
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, snap := range snaps {
		p.cache.ApplySnapshot(snap)
		if err := p.store.UpsertOrderbook(ctx, snap); err != nil {
			return processed, fmt.Errorf("flush book %s: %w", snap.TokenID, err)
		}
		processed++
	}

	if err := p.flushBestPrices(ctx); err != nil {
		return processed, err
	}
	return processed, nil
}

// flushBestPrices appends one metric snapshot per binary market with the
// current top of book on both outcomes.
func (p *Poller) flushBestPrices(ctx context.Context) error {
	now := time.Now().UTC()
	for _, market := range p.universe.Markets() {
		yesToken, noToken, ok := market.BinaryTokens()
		if !ok {
			continue
		}

		snap := types.MetricSnapshot{ConditionID: market.ConditionID, TS: now}
		populated := false
		if b, ok := p.cache.Get(yesToken); ok {
			if bid, ok := b.BestBid(); ok {
				v := bid.Price
				snap.BestBidYes = &v
				populated = true
			}
			if ask, ok := b.BestAsk(); ok {
				v := ask.Price
				snap.BestAskYes = &v
				populated = true
			}
		}
		if b, ok := p.cache.Get(noToken); ok {
			if bid, ok := b.BestBid(); ok {
				v := bid.Price
				snap.BestBidNo = &v
				populated = true
			}
			if ask, ok := b.BestAsk(); ok {
				v := ask.Price
				snap.BestAskNo = &v
				populated = true
			}
		}
		if !populated {
			continue
		}

		if snap.BestBidYes != nil && snap.BestAskYes != nil {
			v := snap.BestAskYes.Sub(*snap.BestBidYes)
			snap.SpreadYes = &v
		}
		if snap.BestBidNo != nil && snap.BestAskNo != nil {
			v := snap.BestAskNo.Sub(*snap.BestBidNo)
			snap.SpreadNo = &v
		}

		if err := p.store.InsertMetricSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("insert best-price snapshot %s: %w", market.ConditionID, err)
		}
	}
	return nil
}
