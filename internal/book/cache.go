// Package book maintains the in-memory latest-book-per-token cache.
//
// The cache is mastered here and fed from two sources: REST snapshots
// (initial load and periodic heals) and WebSocket deltas. Each token's
// entry is guarded by its own mutex, so the websocket consumer and the
// polling snapshot job can mutate different tokens concurrently; readers
// always see a consistent before- or after-write state. The store
// periodically flushes the cache for audit and the UI.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/internal/parse"
	"polymercado/pkg/types"
)

// Change is one price_change delta: the new aggregated size at a price
// level. Size zero removes the level.
type Change struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  types.Side // BUY mutates bids, SELL mutates asks
}

type entry struct {
	mu   sync.Mutex
	snap types.OrderbookSnapshot
}

// Cache is the latest aggregated book per token ID.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

func (c *Cache) entryFor(tokenID string) *entry {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if ok {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[tokenID]; ok {
		return e
	}
	e = &entry{}
	c.entries[tokenID] = e
	return e
}

// ApplySnapshot replaces the stored levels for a token. Snapshots older
// than the current as_of are dropped; levels are re-sorted so each side
// stays strictly monotonic.
func (c *Cache) ApplySnapshot(snap types.OrderbookSnapshot) bool {
	sortSide(snap.Bids, false)
	sortSide(snap.Asks, true)

	e := c.entryFor(snap.TokenID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.snap.AsOf.IsZero() && !snap.AsOf.After(e.snap.AsOf) {
		return false
	}
	e.snap = snap
	return true
}

// ApplyPriceChange sets the aggregated size at each changed price level,
// removing levels whose new size is zero. Deltas with a stale as_of are
// dropped. Unknown tokens are ignored — a delta without a prior snapshot
// has nothing to patch.
func (c *Cache) ApplyPriceChange(tokenID string, changes []Change, asOf time.Time) bool {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap.AsOf.IsZero() || asOf.Before(e.snap.AsOf) {
		return false
	}

	for _, ch := range changes {
		if ch.Price.Sign() <= 0 || ch.Size.Sign() < 0 {
			continue
		}
		switch ch.Side {
		case types.BUY:
			e.snap.Bids = setLevel(e.snap.Bids, ch.Price, ch.Size, false)
		case types.SELL:
			e.snap.Asks = setLevel(e.snap.Asks, ch.Price, ch.Size, true)
		}
	}
	e.snap.AsOf = asOf
	return true
}

// SetTickSize updates the tick size recorded for a token, if present.
func (c *Cache) SetTickSize(tokenID string, tick decimal.Decimal) {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.snap.TickSize = tick
	e.mu.Unlock()
}

// Get returns a copy of the latest book for a token.
func (c *Cache) Get(tokenID string) (types.OrderbookSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()
	if !ok {
		return types.OrderbookSnapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap.AsOf.IsZero() {
		return types.OrderbookSnapshot{}, false
	}
	snap := e.snap
	snap.Bids = append([]types.Level(nil), e.snap.Bids...)
	snap.Asks = append([]types.Level(nil), e.snap.Asks...)
	return snap, true
}

// Age returns the time elapsed since the token's book as_of.
func (c *Cache) Age(tokenID string, now time.Time) (time.Duration, bool) {
	snap, ok := c.Get(tokenID)
	if !ok {
		return 0, false
	}
	return now.Sub(snap.AsOf), true
}

// Tokens lists the token IDs with a populated book.
func (c *Cache) Tokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for tokenID, e := range c.entries {
		e.mu.Lock()
		populated := !e.snap.AsOf.IsZero()
		e.mu.Unlock()
		if populated {
			out = append(out, tokenID)
		}
	}
	return out
}

// Drop removes tokens that left the tracked universe.
func (c *Cache) Drop(tokenIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tokenID := range tokenIDs {
		delete(c.entries, tokenID)
	}
}

// setLevel replaces the size at price, inserting or removing as needed and
// preserving the side's sort order (asks ascending, bids descending).
func setLevel(levels []types.Level, price, size decimal.Decimal, ascending bool) []types.Level {
	idx := -1
	for i, lvl := range levels {
		if lvl.Price.Equal(price) {
			idx = i
			break
		}
	}

	if size.Sign() == 0 {
		if idx >= 0 {
			return append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}

	if idx >= 0 {
		levels[idx].Size = size
		return levels
	}

	levels = append(levels, types.Level{Price: price, Size: size})
	sortSide(levels, ascending)
	return levels
}

func sortSide(levels []types.Level, ascending bool) {
	sort.Slice(levels, func(i, j int) bool {
		if ascending {
			return levels[i].Price.LessThan(levels[j].Price)
		}
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
}

// NormalizeLevels converts raw wire levels into validated decimals: prices
// in (0, 1], positive sizes, sorted ascending or descending. The dropped
// count feeds the validation-warning counter.
func NormalizeLevels(raw []types.PriceLevel, ascending bool) (levels []types.Level, dropped int) {
	one := decimal.NewFromInt(1)
	for _, lvl := range raw {
		price, okP := parse.DecimalString(lvl.Price)
		size, okS := parse.DecimalString(lvl.Size)
		if !okP || !okS || price.Sign() <= 0 || price.GreaterThan(one) || size.Sign() <= 0 {
			dropped++
			continue
		}
		levels = append(levels, types.Level{Price: price, Size: size})
	}
	sortSide(levels, ascending)
	return levels, dropped
}
