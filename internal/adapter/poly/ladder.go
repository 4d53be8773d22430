package poly

import (
	"github.com/huandu/skiplist"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// Ladder is an ordered price-level index (C1): one side of a book, kept in
// best-first order by an underlying skiplist keyed on price. Bids are
// ordered highest-first, asks lowest-first — the comparator supplied at
// construction encodes which.
//
// Grounded on the matching engine's depth list (0x5487-matching-engine's
// queue.go): a skiplist keyed by price gives O(log n) insert/remove/lookup
// and O(1) best-of-side access via Front, without the matching engine's
// per-order linked-list bookkeeping — a ladder only ever stores one
// aggregate size per price.
type Ladder struct {
	side adapter.Side
	list *skiplist.SkipList
}

func ladderComparator(side adapter.Side) skiplist.GreaterThanFunc {
	if side == adapter.Bid {
		// Highest price first.
		return func(lhs, rhs any) int {
			l, r := lhs.(adapter.FixedDecimal), rhs.(adapter.FixedDecimal)
			switch {
			case l.GreaterThan(r):
				return -1
			case l.LessThan(r):
				return 1
			default:
				return 0
			}
		}
	}
	// Lowest price first.
	return func(lhs, rhs any) int {
		l, r := lhs.(adapter.FixedDecimal), rhs.(adapter.FixedDecimal)
		switch {
		case l.LessThan(r):
			return -1
		case l.GreaterThan(r):
			return 1
		default:
			return 0
		}
	}
}

// NewLadder creates an empty Ladder for the given side.
func NewLadder(side adapter.Side) *Ladder {
	return &Ladder{side: side, list: skiplist.New(ladderComparator(side))}
}

// Put sets the size at price. A zero or negative size removes the level
// (spec §4.4: "size 0 deletes").
func (l *Ladder) Put(price, size adapter.FixedDecimal) {
	if size.Sign() <= 0 {
		l.list.Remove(price)
		return
	}
	l.list.Set(price, size)
}

// Get returns the size at price and whether the level exists.
func (l *Ladder) Get(price adapter.FixedDecimal) (adapter.FixedDecimal, bool) {
	el := l.list.Get(price)
	if el == nil {
		return adapter.FixedDecimal{}, false
	}
	return el.Value.(adapter.FixedDecimal), true
}

// Remove deletes the level at price, if present.
func (l *Ladder) Remove(price adapter.FixedDecimal) {
	l.list.Remove(price)
}

// Best returns the best (highest bid / lowest ask) level, or false if the
// ladder is empty.
func (l *Ladder) Best() (adapter.PriceLevel, bool) {
	el := l.list.Front()
	if el == nil {
		return adapter.PriceLevel{}, false
	}
	return adapter.PriceLevel{Price: el.Key().(adapter.FixedDecimal), Size: el.Value.(adapter.FixedDecimal)}, true
}

// Len returns the number of distinct price levels.
func (l *Ladder) Len() int { return l.list.Len() }

// Levels returns every level in best-first (ladder iteration) order. The
// returned slice is a fresh copy safe to retain.
func (l *Ladder) Levels() []adapter.PriceLevel {
	out := make([]adapter.PriceLevel, 0, l.list.Len())
	for el := l.list.Front(); el != nil; el = el.Next() {
		out = append(out, adapter.PriceLevel{
			Price: el.Key().(adapter.FixedDecimal),
			Size:  el.Value.(adapter.FixedDecimal),
		})
	}
	return out
}

// Clear removes every level.
func (l *Ladder) Clear() {
	l.list = skiplist.New(ladderComparator(l.side))
}

// Replace discards the current contents and inserts levels, deduplicating
// by price (spec §4.4: "second occurrence overrides first") and rejecting
// non-positive sizes.
func (l *Ladder) Replace(levels []adapter.PriceLevel) {
	l.Clear()
	for _, lvl := range levels {
		l.Put(lvl.Price, lvl.Size)
	}
}
