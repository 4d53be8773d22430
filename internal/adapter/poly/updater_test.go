package poly

import (
	"testing"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

func TestUpdater_SnapshotInitializesBook(t *testing.T) {
	u := NewUpdater(UpdaterConfig{})
	b := NewBook("asset-1", "mkt-1")

	out := u.Apply(b, adapter.PolyEvent{
		Kind:  adapter.EventBookSnapshot,
		Asset: "asset-1",
		Bids:  []adapter.PriceLevel{{Price: dec("0.48"), Size: dec("100")}},
		Asks:  []adapter.PriceLevel{{Price: dec("0.52"), Size: dec("50")}},
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 output event (no mismatch/sanitize), got %d", len(out))
	}
	if !b.Initialized() {
		t.Fatal("expected book to be initialized after snapshot")
	}
	best, _ := b.BestBid()
	if !best.Price.Equal(dec("0.48")) {
		t.Fatalf("expected best bid 0.48, got %s", best.Price)
	}
}

func TestUpdater_SnapshotRejectsNonPositiveSizes(t *testing.T) {
	u := NewUpdater(UpdaterConfig{})
	b := NewBook("asset-1", "mkt-1")

	u.Apply(b, adapter.PolyEvent{
		Kind:  adapter.EventBookSnapshot,
		Asset: "asset-1",
		Bids: []adapter.PriceLevel{
			{Price: dec("0.48"), Size: dec("100")},
			{Price: dec("0.40"), Size: dec("0")},
		},
	})

	bidLevels, _ := b.DepthSummary()
	if bidLevels != 1 {
		t.Fatalf("expected non-positive size to be rejected, got %d bid levels", bidLevels)
	}
}

func TestUpdater_SnapshotHashMismatchEmitsObservation(t *testing.T) {
	var resyncCalled adapter.AssetId
	u := NewUpdater(UpdaterConfig{AutoSyncOnHashMismatch: true})
	u.OnResyncNeeded = func(asset adapter.AssetId) { resyncCalled = asset }

	b := NewBook("asset-1", "mkt-1")
	out := u.Apply(b, adapter.PolyEvent{
		Kind:   adapter.EventBookSnapshot,
		Asset:  "asset-1",
		Bids:   []adapter.PriceLevel{{Price: dec("0.48"), Size: dec("100")}},
		Asks:   []adapter.PriceLevel{{Price: dec("0.52"), Size: dec("50")}},
		Digest: "not-the-real-digest",
	})

	if len(out) != 2 {
		t.Fatalf("expected snapshot + HashMismatch events, got %d", len(out))
	}
	if out[1].Kind != adapter.EventHashMismatch {
		t.Fatalf("expected second event to be HashMismatch, got %v", out[1].Kind)
	}
	if resyncCalled != "asset-1" {
		t.Fatal("expected OnResyncNeeded to be called for asset-1")
	}
	// The candidate is retained despite the mismatch (spec §4.4 step 3).
	if !b.Initialized() {
		t.Fatal("expected book to remain initialized with the candidate applied")
	}
}

func TestUpdater_PriceChangeOnUninitializedBookTriggersResync(t *testing.T) {
	var resyncCalled bool
	u := NewUpdater(UpdaterConfig{})
	u.OnResyncNeeded = func(asset adapter.AssetId) { resyncCalled = true }

	b := NewBook("asset-1", "mkt-1")
	u.Apply(b, adapter.PolyEvent{
		Kind:  adapter.EventPriceChange,
		Asset: "asset-1",
		Side:  adapter.Bid,
		Price: dec("0.5"),
		Size:  dec("10"),
	})

	if !resyncCalled {
		t.Fatal("expected resync to be requested for a delta on an uninitialized book")
	}
}

func TestUpdater_PriceChangeDeletesOnZeroSize(t *testing.T) {
	u := NewUpdater(UpdaterConfig{})
	b := NewBook("asset-1", "mkt-1")
	u.Apply(b, adapter.PolyEvent{Kind: adapter.EventBookSnapshot, Asset: "asset-1",
		Bids: []adapter.PriceLevel{{Price: dec("0.5"), Size: dec("10")}}})

	u.Apply(b, adapter.PolyEvent{Kind: adapter.EventPriceChange, Asset: "asset-1", Side: adapter.Bid, Price: dec("0.5"), Size: dec("0")})

	if _, ok := b.BestBid(); ok {
		t.Fatal("expected bid level to be removed by a zero-size price_change")
	}
}

func TestUpdater_TradeDoesNotMutateLadders(t *testing.T) {
	u := NewUpdater(UpdaterConfig{})
	b := NewBook("asset-1", "mkt-1")
	u.Apply(b, adapter.PolyEvent{Kind: adapter.EventBookSnapshot, Asset: "asset-1",
		Bids: []adapter.PriceLevel{{Price: dec("0.5"), Size: dec("10")}}})

	before, _ := b.BestBid()
	u.Apply(b, adapter.PolyEvent{Kind: adapter.EventTrade, Asset: "asset-1", Price: dec("0.5"), Size: dec("5")})
	after, _ := b.BestBid()

	if !before.Size.Equal(after.Size) {
		t.Fatalf("expected trade to leave ladder untouched, size changed %s -> %s", before.Size, after.Size)
	}
}

func TestUpdater_SanitizeRemovesSmallerCrossingLevel(t *testing.T) {
	u := NewUpdater(UpdaterConfig{})
	b := NewBook("asset-1", "mkt-1")

	out := u.Apply(b, adapter.PolyEvent{
		Kind:  adapter.EventBookSnapshot,
		Asset: "asset-1",
		Bids:  []adapter.PriceLevel{{Price: dec("0.55"), Size: dec("5")}},
		Asks:  []adapter.PriceLevel{{Price: dec("0.50"), Size: dec("50")}}, // crossed: bid > ask
	})

	found := false
	for _, ev := range out {
		if ev.Kind == adapter.EventCrossedMarket {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a CrossedMarket sanitization event")
	}

	// The bid (smaller size, 5 < 50) should have been removed.
	if _, ok := b.BestBid(); ok {
		t.Fatal("expected the smaller crossing bid level to be removed")
	}
	best, ok := b.BestAsk()
	if !ok || !best.Price.Equal(dec("0.50")) {
		t.Fatalf("expected ask level to survive sanitization, got %+v ok=%v", best, ok)
	}
}

func TestUpdater_TickSizeChangeRebasesAndMerges(t *testing.T) {
	u := NewUpdater(UpdaterConfig{})
	b := NewBook("asset-1", "mkt-1")
	u.Apply(b, adapter.PolyEvent{
		Kind:  adapter.EventBookSnapshot,
		Asset: "asset-1",
		Bids: []adapter.PriceLevel{
			{Price: dec("0.471"), Size: dec("10")},
			{Price: dec("0.474"), Size: dec("5")},
		},
	})

	u.Apply(b, adapter.PolyEvent{Kind: adapter.EventTickSizeChange, Asset: "asset-1", Tick: dec("0.01")})

	bidLevels, _ := b.DepthSummary()
	if bidLevels != 1 {
		t.Fatalf("expected both levels to truncate into the same 0.01 bucket, got %d levels", bidLevels)
	}
	best, _ := b.BestBid()
	if !best.Size.Equal(dec("15")) {
		t.Fatalf("expected merged size 15, got %s", best.Size)
	}
}
