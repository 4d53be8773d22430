package poly

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// rawLevel is a wire price level: price/size arrive as quoted decimal
// strings (spec §6).
type rawLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

// rawEnvelope is decoded first, purely to read the discriminator — either
// "event_type" or "type" (spec §6 is tolerant of both spellings).
type rawEnvelope struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
}

// kind resolves the discriminator, and conflicted reports whether both
// event_type and type were present and disagreed (spec §4.3: that frame
// must fail as Malformed rather than be dispatched under either value).
func (e rawEnvelope) kind() (value string, conflicted bool) {
	if e.EventType != "" && e.Type != "" && e.EventType != e.Type {
		return "", true
	}
	if e.EventType != "" {
		return e.EventType, false
	}
	return e.Type, false
}

type rawBook struct {
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
	Timestamp json.Number `json:"timestamp"`
	Hash      string     `json:"hash"`
}

type rawPriceChange struct {
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Side      string      `json:"side"`
	Price     json.Number `json:"price"`
	Size      json.Number `json:"size"`
	Hash      string      `json:"hash"`
	Timestamp json.Number `json:"timestamp"`
}

type rawTrade struct {
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Side      string      `json:"side"`
	Price     json.Number `json:"price"`
	Size      json.Number `json:"size"`
	TradeID   string      `json:"trade_id"`
	Timestamp json.Number `json:"timestamp"`
}

type rawLastTradePrice struct {
	AssetID   string      `json:"asset_id"`
	Price     json.Number `json:"price"`
	Timestamp json.Number `json:"timestamp"`
}

type rawTickSizeChange struct {
	AssetID string      `json:"asset_id"`
	Market  string      `json:"market"`
	Tick    json.Number `json:"new_tick_size"`
}

// Decode turns one WebSocket text frame into zero or more PolyEvents. A
// frame is either a single JSON object or a JSON array of objects (spec
// §6); a frame that cannot be turned into any event at all still yields
// its ParseFailures without ever panicking or blocking the caller.
func Decode(raw []byte) ([]adapter.PolyEvent, []adapter.ParseFailure) {
	msgs, err := splitFrame(raw)
	if err != nil {
		return nil, []adapter.ParseFailure{{
			Kind:   adapter.FailureMalformed,
			Reason: fmt.Sprintf("poly: malformed frame: %v", err),
		}}
	}

	var events []adapter.PolyEvent
	var failures []adapter.ParseFailure
	for _, m := range msgs {
		ev, failure := decodeOne(m)
		if failure != nil {
			failures = append(failures, *failure)
			continue
		}
		events = append(events, ev)
	}
	return events, failures
}

// splitFrame accepts either a bare JSON object or a JSON array of objects.
func splitFrame(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytesTrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return []json.RawMessage{trimmed}, nil
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isJSONSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isJSONSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func decodeOne(raw json.RawMessage) (adapter.PolyEvent, *adapter.ParseFailure) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{
			Kind:   adapter.FailureMalformed,
			Reason: fmt.Sprintf("poly: invalid JSON: %v", err),
		}
	}

	kind, conflicted := env.kind()
	if conflicted {
		return adapter.PolyEvent{}, &adapter.ParseFailure{
			Kind:   adapter.FailureMalformed,
			Reason: fmt.Sprintf("poly: frame carries disagreeing discriminators event_type=%q type=%q", env.EventType, env.Type),
		}
	}
	switch kind {
	case "book":
		return decodeBook(raw)
	case "price_change":
		return decodePriceChange(raw)
	case "trade":
		return decodeTrade(raw)
	case "last_trade_price":
		return decodeLastTradePrice(raw)
	case "tick_size_change":
		return decodeTickSizeChange(raw)
	case "":
		return adapter.PolyEvent{}, &adapter.ParseFailure{
			Kind:   adapter.FailureMissingField,
			Reason: "poly: frame missing event_type/type discriminator",
		}
	default:
		return adapter.PolyEvent{}, &adapter.ParseFailure{
			Kind:    adapter.FailureUnknownVariant,
			Reason:  fmt.Sprintf("poly: unknown event variant %q", kind),
			RawKind: kind,
		}
	}
}

func decodeBook(raw json.RawMessage) (adapter.PolyEvent, *adapter.ParseFailure) {
	var b rawBook
	if err := json.Unmarshal(raw, &b); err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "book"}
	}
	if b.AssetID == "" {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMissingField, Reason: "poly: book missing asset_id", RawKind: "book"}
	}

	bids, err := decodeLevels(b.Bids)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "book"}
	}
	asks, err := decodeLevels(b.Asks)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "book"}
	}

	return adapter.PolyEvent{
		Kind:      adapter.EventBookSnapshot,
		Asset:     adapter.AssetId(b.AssetID),
		Market:    b.Market,
		Bids:      bids,
		Asks:      asks,
		Digest:    b.Hash,
		Timestamp: decodeTimestamp(b.Timestamp),
	}, nil
}

func decodePriceChange(raw json.RawMessage) (adapter.PolyEvent, *adapter.ParseFailure) {
	var p rawPriceChange
	if err := json.Unmarshal(raw, &p); err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "price_change"}
	}
	if p.AssetID == "" || p.Side == "" {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMissingField, Reason: "poly: price_change missing asset_id/side", RawKind: "price_change"}
	}
	side, err := decodeSide(p.Side)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "price_change"}
	}
	price, err := decodeDecimal(p.Price)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "price_change"}
	}
	size, err := decodeDecimal(p.Size)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "price_change"}
	}

	return adapter.PolyEvent{
		Kind:      adapter.EventPriceChange,
		Asset:     adapter.AssetId(p.AssetID),
		Market:    p.Market,
		Side:      side,
		Price:     price,
		Size:      size,
		Digest:    p.Hash,
		Timestamp: decodeTimestamp(p.Timestamp),
	}, nil
}

func decodeTrade(raw json.RawMessage) (adapter.PolyEvent, *adapter.ParseFailure) {
	var tr rawTrade
	if err := json.Unmarshal(raw, &tr); err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "trade"}
	}
	if tr.AssetID == "" {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMissingField, Reason: "poly: trade missing asset_id", RawKind: "trade"}
	}
	side, _ := decodeSide(tr.Side) // trade side is informational; default zero value on error
	price, err := decodeDecimal(tr.Price)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "trade"}
	}
	size, err := decodeDecimal(tr.Size)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "trade"}
	}

	return adapter.PolyEvent{
		Kind:      adapter.EventTrade,
		Asset:     adapter.AssetId(tr.AssetID),
		Market:    tr.Market,
		Side:      side,
		Price:     price,
		Size:      size,
		TradeID:   tr.TradeID,
		Timestamp: decodeTimestamp(tr.Timestamp),
	}, nil
}

func decodeLastTradePrice(raw json.RawMessage) (adapter.PolyEvent, *adapter.ParseFailure) {
	var l rawLastTradePrice
	if err := json.Unmarshal(raw, &l); err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "last_trade_price"}
	}
	if l.AssetID == "" {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMissingField, Reason: "poly: last_trade_price missing asset_id", RawKind: "last_trade_price"}
	}
	price, err := decodeDecimal(l.Price)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "last_trade_price"}
	}
	return adapter.PolyEvent{
		Kind:      adapter.EventLastTradePrice,
		Asset:     adapter.AssetId(l.AssetID),
		Price:     price,
		Timestamp: decodeTimestamp(l.Timestamp),
	}, nil
}

func decodeTickSizeChange(raw json.RawMessage) (adapter.PolyEvent, *adapter.ParseFailure) {
	var tk rawTickSizeChange
	if err := json.Unmarshal(raw, &tk); err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "tick_size_change"}
	}
	if tk.AssetID == "" {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMissingField, Reason: "poly: tick_size_change missing asset_id", RawKind: "tick_size_change"}
	}
	tick, err := decodeDecimal(tk.Tick)
	if err != nil {
		return adapter.PolyEvent{}, &adapter.ParseFailure{Kind: adapter.FailureMalformed, Reason: err.Error(), RawKind: "tick_size_change"}
	}
	return adapter.PolyEvent{
		Kind:   adapter.EventTickSizeChange,
		Asset:  adapter.AssetId(tk.AssetID),
		Market: tk.Market,
		Tick:   tick,
	}, nil
}

func decodeLevels(raw []rawLevel) ([]adapter.PriceLevel, error) {
	out := make([]adapter.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, err := decodeDecimal(r.Price)
		if err != nil {
			return nil, err
		}
		size, err := decodeDecimal(r.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, adapter.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// decodeDecimal accepts a quoted string or a bare JSON number (spec §6
// mandates quoted strings, but tolerating a bare number costs nothing and
// matches how json.Number round-trips either).
func decodeDecimal(n json.Number) (adapter.FixedDecimal, error) {
	if n == "" {
		return adapter.FixedDecimal{}, nil
	}
	return decimal.NewFromString(string(n))
}

func decodeTimestamp(n json.Number) time.Time {
	if n == "" {
		return time.Time{}
	}
	ms, err := n.Int64()
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func decodeSide(s string) (adapter.Side, error) {
	switch s {
	case "buy", "bid", "BUY", "BID":
		return adapter.Bid, nil
	case "sell", "ask", "SELL", "ASK":
		return adapter.Ask, nil
	default:
		return 0, fmt.Errorf("poly: unknown side %q", s)
	}
}
