package mdkernel

import "github.com/shopspring/decimal"

// Side identifies a book side.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// DepthOperation discriminates an inbound depth delta.
type DepthOperation uint8

const (
	DepthOpInsert DepthOperation = iota
	DepthOpUpdate
	DepthOpDelete
)

// OrderBookLevel is one price level of an L2 book, index 0 is best.
type OrderBookLevel struct {
	Side        Side            `json:"side"`
	Level       uint16          `json:"level"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	MarketMaker string          `json:"market_maker,omitempty"`
}
