package poly

import (
	"log"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// UpdaterConfig configures a Updater's mismatch-handling policy.
type UpdaterConfig struct {
	// AutoSyncOnHashMismatch instructs the Resync Coordinator (via
	// OnResyncNeeded) to force a fresh snapshot whenever a computed digest
	// disagrees with the payload's expected digest (spec §4.4 step 3).
	AutoSyncOnHashMismatch bool
}

// Updater is the Book Updater (C4): it takes a PolyEvent targeted at a
// given Book and advances that Book's state, applying the algorithms
// described in spec §4.4 (snapshot application, incremental price change,
// tick-size rebasing, crossed-market sanitization). Exactly one Updater
// call is ever in flight for a given Book at a time — the caller (the
// per-asset Manager) enforces the single-writer discipline; Updater itself
// does not lock across calls, only Book's own RWMutex guards concurrent
// readers.
type Updater struct {
	cfg UpdaterConfig

	// OnResyncNeeded is called synchronously whenever a trigger condition
	// occurs: hash mismatch with auto-sync on, or a delta on an
	// uninitialized book. Wired to the Resync Coordinator's RequestSync.
	OnResyncNeeded func(asset adapter.AssetId)

	// SanitizationCount is the total number of crossing levels removed by
	// sanitization, for metrics (spec §4.4: "counted in metrics").
	SanitizationCount int64
}

// NewUpdater creates an Updater with the given mismatch-handling policy.
func NewUpdater(cfg UpdaterConfig) *Updater {
	return &Updater{cfg: cfg}
}

// Apply advances book's state per ev.Kind and returns the events to
// broadcast: normally just ev itself (possibly annotated), but a hash
// mismatch or crossed-market sanitization appends an additional
// observational event.
func (u *Updater) Apply(book *Book, ev adapter.PolyEvent) []adapter.PolyEvent {
	switch ev.Kind {
	case adapter.EventBookSnapshot:
		return u.applySnapshot(book, ev)
	case adapter.EventPriceChange:
		return u.applyPriceChange(book, ev)
	case adapter.EventTrade:
		// Trades never mutate ladder state (spec §4.4): the corresponding
		// level reduction arrives as a separate PriceChange.
		return []adapter.PolyEvent{ev}
	case adapter.EventTickSizeChange:
		return u.applyTickSizeChange(book, ev)
	default:
		return []adapter.PolyEvent{ev}
	}
}

// ApplyClear empties both ladders and sets last_digest to absent.
func (u *Updater) ApplyClear(book *Book) {
	book.mu.Lock()
	book.bids.Clear()
	book.asks.Clear()
	book.lastDigest = ""
	book.mu.Unlock()
}

func (u *Updater) applySnapshot(book *Book, ev adapter.PolyEvent) []adapter.PolyEvent {
	bids := NewLadder(adapter.Bid)
	bids.Replace(rejectNonPositive(ev.Bids))
	asks := NewLadder(adapter.Ask)
	asks.Replace(rejectNonPositive(ev.Asks))

	computed := Digest(bids.Levels(), asks.Levels())

	out := []adapter.PolyEvent{ev}
	mismatched := ev.Digest != "" && ev.Digest != computed

	book.mu.Lock()
	book.bids = bids
	book.asks = asks
	book.lastDigest = computed
	book.init = true
	book.mu.Unlock()

	if mismatched {
		log.Printf("poly: hash mismatch for asset %s: expected %s, computed %s", ev.Asset, ev.Digest, computed)
		out = append(out, adapter.PolyEvent{
			Kind:      adapter.EventHashMismatch,
			Asset:     ev.Asset,
			Digest:    computed,
			Timestamp: ev.Timestamp,
			Detail:    "expected=" + ev.Digest,
		})
		if u.cfg.AutoSyncOnHashMismatch && u.OnResyncNeeded != nil {
			u.OnResyncNeeded(ev.Asset)
		}
	}

	if sanitized := u.sanitize(book); sanitized != nil {
		out = append(out, *sanitized)
	}

	return out
}

func (u *Updater) applyPriceChange(book *Book, ev adapter.PolyEvent) []adapter.PolyEvent {
	if !book.Initialized() {
		if u.OnResyncNeeded != nil {
			u.OnResyncNeeded(ev.Asset)
		}
		log.Printf("poly: price_change on uninitialized book for asset %s, requesting resync", ev.Asset)
	}

	book.mu.Lock()
	if ev.Side == adapter.Bid {
		book.bids.Put(ev.Price, ev.Size)
	} else {
		book.asks.Put(ev.Price, ev.Size)
	}
	computed := Digest(book.bids.Levels(), book.asks.Levels())
	book.lastDigest = computed
	book.mu.Unlock()

	out := []adapter.PolyEvent{ev}

	if ev.Digest != "" && ev.Digest != computed {
		if u.cfg.AutoSyncOnHashMismatch {
			log.Printf("poly: hash mismatch after price_change for asset %s, scheduling resync (edit retained)", ev.Asset)
			if u.OnResyncNeeded != nil {
				u.OnResyncNeeded(ev.Asset)
			}
		} else {
			log.Printf("poly: hash mismatch after price_change for asset %s (auto-sync disabled, edit retained)", ev.Asset)
		}
		out = append(out, adapter.PolyEvent{
			Kind:      adapter.EventHashMismatch,
			Asset:     ev.Asset,
			Digest:    computed,
			Timestamp: ev.Timestamp,
			Detail:    "expected=" + ev.Digest,
		})
	}

	if sanitized := u.sanitize(book); sanitized != nil {
		out = append(out, *sanitized)
	}

	return out
}

// applyTickSizeChange rounds existing ladder entries that are no longer
// tick-aligned by truncation toward zero, merging sizes on collision
// (spec §4.4).
func (u *Updater) applyTickSizeChange(book *Book, ev adapter.PolyEvent) []adapter.PolyEvent {
	book.mu.Lock()
	tick := ev.Tick
	book.tickSize = &tick

	rebase := func(l *Ladder) {
		levels := l.Levels()
		l.Clear()
		for _, lvl := range levels {
			aligned := truncateToTick(lvl.Price, tick)
			existing, ok := l.Get(aligned)
			if ok {
				l.Put(aligned, existing.Add(lvl.Size))
			} else {
				l.Put(aligned, lvl.Size)
			}
		}
	}
	rebase(book.bids)
	rebase(book.asks)
	book.lastDigest = Digest(book.bids.Levels(), book.asks.Levels())
	book.mu.Unlock()

	out := []adapter.PolyEvent{ev}
	if sanitized := u.sanitize(book); sanitized != nil {
		out = append(out, *sanitized)
	}
	return out
}

// truncateToTick rounds price down toward zero to the nearest multiple of
// tick.
func truncateToTick(price, tick adapter.FixedDecimal) adapter.FixedDecimal {
	if tick.Sign() <= 0 {
		return price
	}
	quotient := price.Div(tick).Truncate(0)
	return quotient.Mul(tick)
}

// sanitize implements crossed-market recovery (spec §4.4): while both
// sides are non-empty and best_bid >= best_ask, remove the crossing level
// with the smaller size (tie-break: remove the bid). Returns a
// CrossedMarket observation event if anything was removed, or nil.
func (u *Updater) sanitize(book *Book) *adapter.PolyEvent {
	var removed int
	book.mu.Lock()
	for {
		bidEl, hasBid := book.bids.Best()
		askEl, hasAsk := book.asks.Best()
		if !hasBid || !hasAsk || bidEl.Price.LessThan(askEl.Price) {
			break
		}
		if bidEl.Size.LessThan(askEl.Size) {
			book.bids.Remove(bidEl.Price)
		} else if askEl.Size.LessThan(bidEl.Size) {
			book.asks.Remove(askEl.Price)
		} else {
			// Tie: remove the bid.
			book.bids.Remove(bidEl.Price)
		}
		removed++
	}
	if removed > 0 {
		book.lastDigest = Digest(book.bids.Levels(), book.asks.Levels())
	}
	book.mu.Unlock()

	if removed == 0 {
		return nil
	}
	u.SanitizationCount += int64(removed)
	log.Printf("poly: sanitized %d crossing level(s) for asset %s", removed, book.Asset)
	return &adapter.PolyEvent{
		Kind:   adapter.EventCrossedMarket,
		Asset:  book.Asset,
		Detail: "removed crossing levels during sanitization",
	}
}

func rejectNonPositive(levels []adapter.PriceLevel) []adapter.PriceLevel {
	out := make([]adapter.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Size.Sign() <= 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}
