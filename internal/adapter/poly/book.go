package poly

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// Book is the state of one asset's order book (C2): two Ladders, the last
// computed digest, and tick metadata. Exactly one Book Updater task ever
// mutates a given Book (spec §5's single-writer discipline); readers take
// the shared RLock for inspection and must never perform I/O while
// holding it.
type Book struct {
	Asset  adapter.AssetId
	Market string

	mu         sync.RWMutex
	bids       *Ladder
	asks       *Ladder
	lastDigest string // empty means absent (post-Clear)
	tickSize   *adapter.FixedDecimal
	init       bool // true once at least one snapshot has been applied
}

// Initialized reports whether the book has ever received a snapshot. A
// delta arriving before initialization is a Resync Coordinator trigger
// (spec §4.9b).
func (b *Book) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.init
}

// NewBook creates an empty Book for the given asset.
func NewBook(asset adapter.AssetId, market string) *Book {
	return &Book{
		Asset:  asset,
		Market: market,
		bids:   NewLadder(adapter.Bid),
		asks:   NewLadder(adapter.Ask),
	}
}

// BestBid returns the highest bid level, if any.
func (b *Book) BestBid() (adapter.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Best()
}

// BestAsk returns the lowest ask level, if any.
func (b *Book) BestAsk() (adapter.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Best()
}

// Spread returns BestAsk - BestBid, and false if either side is empty.
// Named per SPEC_FULL.md's supplemented Spread()/Mid() operations (derived
// from original_source's SpreadInfo).
func (b *Book) Spread() (adapter.FixedDecimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ok := b.bids.Best()
	if !ok {
		return adapter.FixedDecimal{}, false
	}
	ask, ok := b.asks.Best()
	if !ok {
		return adapter.FixedDecimal{}, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Mid returns the midpoint of the best bid and best ask, and false if
// either side is empty.
func (b *Book) Mid() (adapter.FixedDecimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ok := b.bids.Best()
	if !ok {
		return adapter.FixedDecimal{}, false
	}
	ask, ok := b.asks.Best()
	if !ok {
		return adapter.FixedDecimal{}, false
	}
	sum := bid.Price.Add(ask.Price)
	return sum.Div(twoDec), true
}

var twoDec = decimal.NewFromInt(2)

// Snapshot returns a defensive copy of both ladders in best-first order.
func (b *Book) Snapshot() (bids, asks []adapter.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Levels(), b.asks.Levels()
}

// LastDigest returns the most recently computed digest, or "" if absent
// (never snapshotted, or most recently Cleared).
func (b *Book) LastDigest() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastDigest
}

// TickSize returns the book's configured tick size, if known.
func (b *Book) TickSize() (adapter.FixedDecimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.tickSize == nil {
		return adapter.FixedDecimal{}, false
	}
	return *b.tickSize, true
}

// DepthSummary reports the number of distinct price levels on each side —
// a cheap health/observability signal that avoids copying full ladders.
func (b *Book) DepthSummary() (bidLevels, askLevels int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}
