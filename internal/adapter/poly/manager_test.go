package poly

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

func TestManager_DecodesTracksAndBroadcasts(t *testing.T) {
	bc := adapter.NewBroadcaster[adapter.PolyEvent](64)
	m := NewManager(ManagerConfig{}, bc)
	sub := bc.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan []byte, 1)
	go m.Run(ctx, inbound)

	frame, _ := json.Marshal(map[string]any{
		"event_type": "book",
		"asset_id":   "asset-1",
		"market":     "m1",
		"bids":       []map[string]string{{"price": "0.40", "size": "10"}},
		"asks":       []map[string]string{{"price": "0.45", "size": "5"}},
		"timestamp":  "1700000000000",
	})
	inbound <- frame

	ev, _, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != adapter.EventBookSnapshot || ev.Asset != "asset-1" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	book, ok := m.Book("asset-1")
	if !ok {
		t.Fatal("expected asset-1 to be tracked after snapshot")
	}
	if !book.Initialized() {
		t.Fatal("expected book to be initialized")
	}
	best, ok := book.BestBid()
	if !ok || !best.Price.Equal(dec("0.40")) {
		t.Fatalf("unexpected best bid: %+v ok=%v", best, ok)
	}
}

func TestManager_ResyncTriggerFiresOnUninitializedDelta(t *testing.T) {
	bc := adapter.NewBroadcaster[adapter.PolyEvent](64)
	m := NewManager(ManagerConfig{}, bc)

	var requested adapter.AssetId
	m.RequestResync = func(asset adapter.AssetId) { requested = asset }

	ctx := context.Background()
	m.handleEvent(ctx, adapter.PolyEvent{
		Kind:  adapter.EventPriceChange,
		Asset: "asset-2",
		Side:  adapter.Bid,
		Price: dec("0.30"),
		Size:  dec("1"),
	})

	if requested != "asset-2" {
		t.Fatalf("expected resync requested for asset-2, got %q", requested)
	}
}

func TestManager_ParseFailureDoesNotBlockSubsequentFrames(t *testing.T) {
	bc := adapter.NewBroadcaster[adapter.PolyEvent](64)
	m := NewManager(ManagerConfig{}, bc)
	sub := bc.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan []byte, 2)
	go m.Run(ctx, inbound)

	inbound <- []byte(`{not json`)
	good, _ := json.Marshal(map[string]any{
		"event_type": "book",
		"asset_id":   "asset-3",
		"bids":       []map[string]string{},
		"asks":       []map[string]string{},
	})
	inbound <- good

	recvCtx, cancelRecv := context.WithTimeout(ctx, 2*time.Second)
	defer cancelRecv()
	ev, _, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Asset != "asset-3" {
		t.Fatalf("expected the malformed frame to be skipped and asset-3 delivered, got %+v", ev)
	}
}
