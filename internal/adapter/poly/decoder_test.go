package poly

import (
	"testing"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

func TestDecode_BookSnapshot(t *testing.T) {
	raw := []byte(`{
		"event_type": "book",
		"asset_id": "asset-1",
		"market": "mkt-1",
		"bids": [{"price": "0.48", "size": "100"}],
		"asks": [{"price": "0.52", "size": "50"}],
		"timestamp": "1700000000000",
		"hash": "abc123"
	}`)

	events, failures := Decode(raw)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != adapter.EventBookSnapshot {
		t.Fatalf("expected EventBookSnapshot, got %v", ev.Kind)
	}
	if ev.Asset != "asset-1" || ev.Digest != "abc123" {
		t.Fatalf("unexpected fields: %+v", ev)
	}
	if len(ev.Bids) != 1 || !ev.Bids[0].Price.Equal(dec("0.48")) {
		t.Fatalf("unexpected bids: %+v", ev.Bids)
	}
}

func TestDecode_TypeDiscriminatorAlias(t *testing.T) {
	raw := []byte(`{"type": "price_change", "asset_id": "asset-1", "side": "buy", "price": "0.5", "size": "10"}`)
	events, failures := Decode(raw)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(events) != 1 || events[0].Kind != adapter.EventPriceChange {
		t.Fatalf("expected 1 price_change event, got %+v / %v", events, failures)
	}
}

func TestDecode_ArrayFrame(t *testing.T) {
	raw := []byte(`[
		{"event_type": "price_change", "asset_id": "a", "side": "buy", "price": "0.4", "size": "1"},
		{"event_type": "price_change", "asset_id": "a", "side": "sell", "price": "0.6", "size": "2"}
	]`)
	events, failures := Decode(raw)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestDecode_UnknownVariant(t *testing.T) {
	raw := []byte(`{"event_type": "mystery_event", "asset_id": "a"}`)
	events, failures := Decode(raw)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if len(failures) != 1 || failures[0].Kind != adapter.FailureUnknownVariant {
		t.Fatalf("expected 1 unknown-variant failure, got %+v", failures)
	}
	if failures[0].RawKind != "mystery_event" {
		t.Fatalf("expected RawKind to capture the discriminator, got %q", failures[0].RawKind)
	}
}

func TestDecode_DisagreeingDiscriminatorsFailAsMalformed(t *testing.T) {
	raw := []byte(`{"event_type": "book", "type": "trade", "asset_id": "a"}`)
	events, failures := Decode(raw)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
	if len(failures) != 1 || failures[0].Kind != adapter.FailureMalformed {
		t.Fatalf("expected 1 malformed failure, got %+v", failures)
	}
}

func TestDecode_MissingDiscriminator(t *testing.T) {
	raw := []byte(`{"asset_id": "a"}`)
	_, failures := Decode(raw)
	if len(failures) != 1 || failures[0].Kind != adapter.FailureMissingField {
		t.Fatalf("expected 1 missing-field failure, got %+v", failures)
	}
}

func TestDecode_Malformed(t *testing.T) {
	raw := []byte(`{not json`)
	_, failures := Decode(raw)
	if len(failures) != 1 || failures[0].Kind != adapter.FailureMalformed {
		t.Fatalf("expected 1 malformed failure, got %+v", failures)
	}
}

func TestDecode_PartialArrayFailureIsolated(t *testing.T) {
	raw := []byte(`[
		{"event_type": "price_change", "asset_id": "a", "side": "buy", "price": "0.4", "size": "1"},
		{"event_type": "bogus"}
	]`)
	events, failures := Decode(raw)
	if len(events) != 1 {
		t.Fatalf("expected 1 successfully decoded event, got %d", len(events))
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 isolated failure, got %d", len(failures))
	}
}
