package poly

import (
	"testing"
)

func TestBook_SpreadAndMid(t *testing.T) {
	b := NewBook("asset-1", "mkt-1")
	b.bids.Put(dec("0.48"), dec("100"))
	b.asks.Put(dec("0.52"), dec("100"))

	spread, ok := b.Spread()
	if !ok {
		t.Fatal("expected spread to be available")
	}
	if !spread.Equal(dec("0.04")) {
		t.Fatalf("expected spread 0.04, got %s", spread)
	}

	mid, ok := b.Mid()
	if !ok {
		t.Fatal("expected mid to be available")
	}
	if !mid.Equal(dec("0.5")) {
		t.Fatalf("expected mid 0.5, got %s", mid)
	}
}

func TestBook_SpreadFalseWhenOneSideEmpty(t *testing.T) {
	b := NewBook("asset-1", "mkt-1")
	b.bids.Put(dec("0.48"), dec("100"))

	if _, ok := b.Spread(); ok {
		t.Fatal("expected Spread to be unavailable with an empty ask side")
	}
}

func TestBook_SnapshotIsDefensiveCopy(t *testing.T) {
	b := NewBook("asset-1", "mkt-1")
	b.bids.Put(dec("0.5"), dec("10"))

	bids, _ := b.Snapshot()
	bids[0].Size = dec("999")

	fresh, _ := b.Snapshot()
	if !fresh[0].Size.Equal(dec("10")) {
		t.Fatalf("Snapshot leaked a mutable reference into the ladder: %s", fresh[0].Size)
	}
}

func TestBook_DepthSummary(t *testing.T) {
	b := NewBook("asset-1", "mkt-1")
	b.bids.Put(dec("0.48"), dec("10"))
	b.bids.Put(dec("0.47"), dec("10"))
	b.asks.Put(dec("0.52"), dec("10"))

	bidLevels, askLevels := b.DepthSummary()
	if bidLevels != 2 || askLevels != 1 {
		t.Fatalf("expected (2,1) levels, got (%d,%d)", bidLevels, askLevels)
	}
}
