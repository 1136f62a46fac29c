package mdkernel

import "github.com/shopspring/decimal"

// MarketTradeUpdate is the normalized trade update an adapter delivers to
// the Router.
type MarketTradeUpdate struct {
	TimestampUTC int64
	Symbol       string
	Price        decimal.Decimal
	Size         int64
	Aggressor    Aggressor
	Sequence     int64
	StreamID     string
	Venue        string
	Source       string
}

// MarketQuoteUpdate is the normalized BBO update an adapter delivers to the
// Router.
type MarketQuoteUpdate struct {
	TimestampUTC int64
	Symbol       string
	BidPrice     decimal.Decimal
	BidSize      int64
	AskPrice     decimal.Decimal
	AskSize      int64
	StreamID     string
	Venue        string
	Source       string
}

// MarketDepthUpdate is a single L2 position-based delta an adapter delivers
// to the Router.
type MarketDepthUpdate struct {
	TimestampUTC int64
	Symbol       string
	Position     uint16
	Operation    DepthOperation
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	MarketMaker  string
	StreamID     string
	Venue        string
	Source       string
}

// ConnectionStatus is the lifecycle status an adapter reports for its
// underlying transport.
type ConnectionStatus uint8

const (
	ConnDisconnected ConnectionStatus = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnFaulted
)

func (s ConnectionStatus) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFaulted:
		return "faulted"
	default:
		return "disconnected"
	}
}
