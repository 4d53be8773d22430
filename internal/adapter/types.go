package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the source of market data. The core streams a single
// exchange (Polymarket); the type is kept so downstream collaborators
// (engine.Validator, RedisWriter) can key state without hard-coding a
// string literal everywhere.
type Exchange string

const ExchangePolymarket Exchange = "polymarket"

// FixedDecimal is an arbitrary-precision signed decimal. It backs every
// price and size on the data path: prices are ladder keys and digest
// input, so binary floating point is never used here.
type FixedDecimal = decimal.Decimal

// AssetId is an opaque, non-empty token identifier (Polymarket's numeric
// asset ID, carried as a decimal string). Equality is by value.
type AssetId string

// Side is one arm of a central limit order book.
type Side uint8

const (
	Bid Side = iota + 1
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// PriceLevel is a single (price, size) pair. Size == 0 is only ever used
// in transit as a removal signal; ladders never hold a zero-size level.
type PriceLevel struct {
	Price FixedDecimal
	Size  FixedDecimal
}

// EventKind discriminates the union of consumer-facing PolyEvent shapes.
type EventKind uint8

const (
	EventBookSnapshot EventKind = iota + 1
	EventPriceChange
	EventTrade
	EventLastTradePrice
	EventTickSizeChange
	EventMyOrder
	EventMyTrade
	EventHashMismatch
	EventCrossedMarket
	EventSystem
)

func (k EventKind) String() string {
	switch k {
	case EventBookSnapshot:
		return "book_snapshot"
	case EventPriceChange:
		return "price_change"
	case EventTrade:
		return "trade"
	case EventLastTradePrice:
		return "last_trade_price"
	case EventTickSizeChange:
		return "tick_size_change"
	case EventMyOrder:
		return "my_order"
	case EventMyTrade:
		return "my_trade"
	case EventHashMismatch:
		return "hash_mismatch"
	case EventCrossedMarket:
		return "crossed_market"
	case EventSystem:
		return "system"
	default:
		return "unknown"
	}
}

// SystemKind enumerates terminal / operational events carried by
// EventSystem (§7's escalation path: storage and subscription errors never
// corrupt book state, they surface here instead).
type SystemKind uint8

const (
	SystemShutdown SystemKind = iota + 1
	SystemRecorderFailed
	SystemResyncPersistentError
	SystemSubscriptionRejected
	SystemSessionEnded
)

// MyOrder mirrors a user-channel order acknowledgement/update. The core
// only normalises and forwards it; order lifecycle logic is out of scope
// (see internal/engine, which owns pre-flight validation).
type MyOrder struct {
	OrderID  string
	AssetID  AssetId
	Side     Side
	Price    FixedDecimal
	Size     FixedDecimal
	Status   string
	OrigSize FixedDecimal
}

// MyTradeInfo mirrors a user-channel trade fill notification.
type MyTradeInfo struct {
	TradeID string
	OrderID string
	AssetID AssetId
	Side    Side
	Price   FixedDecimal
	Size    FixedDecimal
}

// PolyEvent is the consumer-facing, decoded, unified event shape. Only the
// fields relevant to Kind are populated; the rest are zero values.
type PolyEvent struct {
	Kind      EventKind
	Asset     AssetId
	Market    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Side      Side
	Price     FixedDecimal
	Size      FixedDecimal
	Digest    string
	Timestamp time.Time
	TradeID   string
	Tick      FixedDecimal
	Order     *MyOrder
	MyTrade   *MyTradeInfo
	System    SystemKind
	Detail    string
}

// ParseFailureKind classifies a Wire Decoder failure (§4.3).
type ParseFailureKind uint8

const (
	FailureMalformed ParseFailureKind = iota + 1
	FailureUnknownVariant
	FailureMissingField
)

// ParseFailure describes one frame the Wire Decoder could not turn into a
// PolyEvent. It is never fatal: the decoder logs and continues.
type ParseFailure struct {
	Kind    ParseFailureKind
	Reason  string
	RawKind string // discriminator value observed, if any
}

func (f *ParseFailure) Error() string {
	return f.Reason
}

// SnapshotSource is the pluggable interface the Resync Coordinator (C9)
// uses to obtain a fresh book. cmd/caesar wires a placeholder
// implementation (restSnapshotSource) that returns an error for every
// asset; the Replay Source (C10) implements the same interface for offline
// runs.
type SnapshotSource interface {
	FetchBook(ctx context.Context, asset AssetId) (bids, asks []PriceLevel, digest string, tick *FixedDecimal, err error)
}

// Error taxonomy (§7). These are error *kinds*, not literal wire messages;
// callers use errors.Is against these sentinels.
var (
	ErrTransport            = errors.New("adapter: transport error")
	ErrProtocol             = errors.New("adapter: protocol error")
	ErrUnknownEventVariant  = errors.New("adapter: unknown event variant")
	ErrDigestMismatch       = errors.New("adapter: digest mismatch")
	ErrCrossedMarket        = errors.New("adapter: crossed market")
	ErrResyncTimeout        = errors.New("adapter: resync timeout")
	ErrStorage              = errors.New("adapter: storage error")
	ErrSubscriptionRejected = errors.New("adapter: subscription rejected")
	ErrBroadcasterClosed    = errors.New("adapter: broadcaster closed")
	ErrBookNotInitialized   = errors.New("adapter: book not initialized")
)
