package poly

import (
	"context"
	"testing"
	"time"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

func recordSession(t *testing.T, root string, asset adapter.AssetId, events []adapter.PolyEvent) string {
	t.Helper()
	r, err := NewRecorder(RecorderConfig{RootPath: root, QueueCapacity: 16}, asset, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	for _, ev := range events {
		r.Record(ev)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(r.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-r.Done()
	return r.dir
}

func TestReplaySource_PlaysBackInOrderAndEndsSession(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dir := recordSession(t, root, "asset-r", []adapter.PolyEvent{
		{Kind: adapter.EventBookSnapshot, Asset: "asset-r", Digest: "d0", Timestamp: base},
		{Kind: adapter.EventPriceChange, Asset: "asset-r", Side: adapter.Bid, Price: dec("0.4"), Size: dec("1"), Timestamp: base.Add(time.Millisecond)},
		{Kind: adapter.EventPriceChange, Asset: "asset-r", Side: adapter.Ask, Price: dec("0.5"), Size: dec("2"), Timestamp: base.Add(2 * time.Millisecond)},
	})

	rs := NewReplaySource(dir)
	rs.Pacing = ReplayAsFastAsPossible

	var got []adapter.PolyEvent
	err := rs.Play(context.Background(), nil, func(ev adapter.PolyEvent) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(got) != 4 { // snapshot + 2 deltas + session-ended
		t.Fatalf("expected 4 emitted events, got %d", len(got))
	}
	if got[0].Kind != adapter.EventBookSnapshot {
		t.Fatalf("expected first event to be the snapshot, got %+v", got[0])
	}
	if got[1].Price.String() != "0.4" || got[2].Price.String() != "0.5" {
		t.Fatalf("expected deltas in recorded order, got %+v then %+v", got[1], got[2])
	}
	last := got[len(got)-1]
	if last.Kind != adapter.EventSystem || last.System != adapter.SystemSessionEnded {
		t.Fatalf("expected a terminal SessionEnded event, got %+v", last)
	}
}

func TestReplaySource_AssetFilterSkipsOtherAssets(t *testing.T) {
	root := t.TempDir()
	dir := recordSession(t, root, "asset-f", []adapter.PolyEvent{
		{Kind: adapter.EventBookSnapshot, Asset: "asset-f", Timestamp: time.Now()},
	})
	rs := NewReplaySource(dir)
	rs.Pacing = ReplayAsFastAsPossible

	var got []adapter.PolyEvent
	err := rs.Play(context.Background(), map[adapter.AssetId]struct{}{"other-asset": {}}, func(ev adapter.PolyEvent) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(got) != 1 || got[0].Kind != adapter.EventSystem {
		t.Fatalf("expected only the terminal event when the asset filter excludes the session's asset, got %+v", got)
	}
}

func TestReplaySource_FetchBookReturnsRecordedSnapshot(t *testing.T) {
	root := t.TempDir()
	dir := recordSession(t, root, "asset-s", []adapter.PolyEvent{
		{
			Kind:  adapter.EventBookSnapshot,
			Asset: "asset-s",
			Bids:  []adapter.PriceLevel{{Price: dec("0.6"), Size: dec("3")}},
			Asks:  []adapter.PriceLevel{{Price: dec("0.65"), Size: dec("4")}},
		},
	})
	rs := NewReplaySource(dir)
	bids, asks, _, _, err := rs.FetchBook(context.Background(), "asset-s")
	if err != nil {
		t.Fatalf("FetchBook: %v", err)
	}
	if len(bids) != 1 || len(asks) != 1 {
		t.Fatalf("expected the recorded snapshot levels, got bids=%v asks=%v", bids, asks)
	}
}
