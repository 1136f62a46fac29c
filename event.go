// MarketEvent is a closed sum type over the market-data events this kernel
// emits: EventKind discriminates which payload field is populated, so a
// consumer can switch on Kind rather than type-assert. The payload is
// always a normalized, already-validated value object — decoding a vendor's
// wire format into one of these is an adapter's job, not this package's.

package mdkernel

import (
	"github.com/shopspring/decimal"
)

// EventKind discriminates the MarketEvent sum type. Serialized as field
// "kind" at the JSON boundary.
type EventKind uint8

const (
	EventKindTrade EventKind = iota
	EventKindBboQuote
	EventKindL2Snapshot
	EventKindOrderFlow
	EventKindIntegrity
	EventKindDepthIntegrity
)

func (k EventKind) String() string {
	switch k {
	case EventKindTrade:
		return "trade"
	case EventKindBboQuote:
		return "bbo_quote"
	case EventKindL2Snapshot:
		return "l2_snapshot"
	case EventKindOrderFlow:
		return "order_flow"
	case EventKindIntegrity:
		return "integrity"
	case EventKindDepthIntegrity:
		return "depth_integrity"
	default:
		return "unknown"
	}
}

// Aggressor is the side that initiated a trade.
type Aggressor uint8

const (
	AggressorUnknown Aggressor = iota
	AggressorBuy
	AggressorSell
)

func (a Aggressor) String() string {
	switch a {
	case AggressorBuy:
		return "buy"
	case AggressorSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Severity grades an Integrity event.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Integrity error codes.
const (
	CodeSequenceGap       = 1001
	CodeOutOfOrder        = 1002
	CodeInvalidSymbol     = 1003
	CodeInvalidSequence   = 1004
)

// DepthIntegrityKind discriminates depth-book corruption events.
type DepthIntegrityKind uint8

const (
	DepthIntegrityGap DepthIntegrityKind = iota
	DepthIntegrityOutOfOrder
	DepthIntegrityInvalidPosition
	DepthIntegrityStale
	DepthIntegrityUnknown
)

func (k DepthIntegrityKind) String() string {
	switch k {
	case DepthIntegrityGap:
		return "gap"
	case DepthIntegrityOutOfOrder:
		return "out_of_order"
	case DepthIntegrityInvalidPosition:
		return "invalid_position"
	case DepthIntegrityStale:
		return "stale"
	default:
		return "unknown"
	}
}

// BookMarketState is the venue-reported trading state carried on an
// L2Snapshot.
type BookMarketState uint8

const (
	BookStateNormal BookMarketState = iota
	BookStateHalted
	BookStateAuction
)

// MarketEvent is the common envelope for every emitted event variant.
type MarketEvent struct {
	TimestampUTC int64     `json:"timestamp_utc"` // microseconds since epoch
	Symbol       string    `json:"symbol"`
	Kind         EventKind `json:"kind"`
	StreamID     string    `json:"stream_id,omitempty"`
	Venue        string    `json:"venue,omitempty"`
	Source       string    `json:"source,omitempty"`

	Trade          *TradePayload          `json:"trade,omitempty"`
	BboQuote       *BboQuotePayload       `json:"bbo_quote,omitempty"`
	L2Snapshot     *L2SnapshotPayload     `json:"l2_snapshot,omitempty"`
	OrderFlow      *OrderFlowPayload      `json:"order_flow,omitempty"`
	Integrity      *IntegrityPayload      `json:"integrity,omitempty"`
	DepthIntegrity *DepthIntegrityPayload `json:"depth_integrity,omitempty"`
}

// TradePayload is the Trade event variant.
type TradePayload struct {
	Price     decimal.Decimal `json:"price"`
	Size      int64           `json:"size"`
	Aggressor Aggressor       `json:"aggressor"`
	Sequence  int64           `json:"sequence"`
}

// BboQuotePayload is the BboQuote event variant. Mid/Spread are only set
// (HasDerived true) when 0 < bid <= ask, per invariant I6.
type BboQuotePayload struct {
	BidPrice    decimal.Decimal `json:"bid_price"`
	BidSize     int64           `json:"bid_size"`
	AskPrice    decimal.Decimal `json:"ask_price"`
	AskSize     int64           `json:"ask_size"`
	Mid         decimal.Decimal `json:"mid,omitempty"`
	Spread      decimal.Decimal `json:"spread,omitempty"`
	HasDerived  bool            `json:"has_derived"`
	Sequence    int64           `json:"sequence"`
}

// L2SnapshotPayload is the L2Snapshot event variant.
type L2SnapshotPayload struct {
	Bids       []OrderBookLevel `json:"bids"`
	Asks       []OrderBookLevel `json:"asks"`
	Mid        decimal.Decimal  `json:"mid,omitempty"`
	Imbalance  decimal.Decimal  `json:"imbalance,omitempty"`
	HasDerived bool             `json:"has_derived"`
	State      BookMarketState  `json:"state"`
	Sequence   int64            `json:"sequence"`
}

// OrderFlowPayload is the OrderFlow event variant — a rolling snapshot of
// order-flow statistics, recomputed after each accepted trade.
type OrderFlowPayload struct {
	BuyVolume   int64           `json:"buy_vol"`
	SellVolume  int64           `json:"sell_vol"`
	UnkVolume   int64           `json:"unk_vol"`
	Vwap        decimal.Decimal `json:"vwap"`
	Imbalance   float64         `json:"imbalance"`
	TradeCount  int64           `json:"trade_count"`
	Sequence    int64           `json:"sequence"`
}

// IntegrityPayload is the Integrity event variant, carrying validation and
// continuity-anomaly diagnostics.
type IntegrityPayload struct {
	Severity    Severity `json:"severity"`
	Code        int      `json:"code"`
	Description string   `json:"description"`
	Sequence    int64    `json:"sequence"`
}

// DepthIntegrityPayload is the DepthIntegrity event variant, carrying
// order-book corruption diagnostics.
type DepthIntegrityPayload struct {
	Kind        DepthIntegrityKind `json:"kind"`
	Description string             `json:"description"`
	Position    uint16             `json:"position,omitempty"`
	Side        Side               `json:"side"`
}
