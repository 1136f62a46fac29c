package collector

import (
	"fmt"
	"strings"
	"sync"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/shopspring/decimal"
)

// recentTradesCap is the fixed capacity of a symbol's recent-trade ring.
const recentTradesCap = 200

// RecentTrade is one entry of the recent-trade ring, richer than the
// TradePayload event so diagnostics retain the original timestamp.
type RecentTrade struct {
	TimestampUTC int64
	Price        decimal.Decimal
	Size         int64
	Aggressor    mdkernel.Aggressor
	Sequence     int64
}

// tradeState is the rolling per-symbol trade state owned by TradeCollector.
type tradeState struct {
	mu           sync.Mutex
	hasSeq       bool
	lastSeq      int64
	buyVolume    int64
	sellVolume   int64
	unkVolume    int64
	vwapNum      decimal.Decimal
	vwapDen      decimal.Decimal
	tradeCount   int64
	isStale      bool
	ring         *mdkernel.Ring[RecentTrade]
	lastActivity int64
}

func newTradeState() *tradeState {
	return &tradeState{
		vwapNum: decimal.Zero,
		vwapDen: decimal.Zero,
		ring:    mdkernel.NewRing[RecentTrade](recentTradesCap),
	}
}

// BboLookup resolves the last known BBO for a symbol, satisfied by
// *QuoteCollector.
type BboLookup interface {
	TryGet(symbol string) (mdkernel.BboQuotePayload, bool)
}

// TradeCollector implements sequence continuity, aggressor inference and
// rolling order-flow statistics for trades.
type TradeCollector struct {
	states *mdkernel.SymbolMap[tradeState]
	quotes BboLookup
}

// NewTradeCollector constructs a TradeCollector. quotes may be nil, in which
// case aggressor inference never fires (every Unknown aggressor stays
// Unknown).
func NewTradeCollector(quotes BboLookup) *TradeCollector {
	return &TradeCollector{states: mdkernel.NewSymbolMap[tradeState](), quotes: quotes}
}

// OnTrade processes one trade update, returning the events it produced in
// emission order: a lone Integrity event on rejection, or Trade followed by
// OrderFlow on acceptance (possibly preceded by a SequenceGap Integrity
// event when the trade is accepted despite a detected gap).
func (c *TradeCollector) OnTrade(u mdkernel.MarketTradeUpdate) []mdkernel.MarketEvent {
	sym, err := mdkernel.NewSymbol(u.Symbol)
	if err != nil {
		return []mdkernel.MarketEvent{c.integrityEvent(u, mdkernel.SeverityWarning, mdkernel.CodeInvalidSymbol,
			fmt.Sprintf("invalid symbol %q", u.Symbol))}
	}
	if u.Sequence < 0 {
		return []mdkernel.MarketEvent{c.integrityEvent(u, mdkernel.SeverityWarning, mdkernel.CodeInvalidSequence,
			fmt.Sprintf("negative sequence %d", u.Sequence))}
	}

	key := sym.Key()
	st := c.states.GetOrCreate(key, newTradeState)

	st.mu.Lock()
	defer st.mu.Unlock()

	var events []mdkernel.MarketEvent

	if st.hasSeq {
		switch {
		case u.Sequence <= st.lastSeq:
			events = append(events, c.integrityEvent(u, mdkernel.SeverityWarning, mdkernel.CodeOutOfOrder,
				fmt.Sprintf("out-of-order trade: last=%d received=%d", st.lastSeq, u.Sequence)))
			return events
		case u.Sequence > st.lastSeq+1:
			st.isStale = true
			events = append(events, c.integrityEvent(u, mdkernel.SeverityError, mdkernel.CodeSequenceGap,
				fmt.Sprintf("sequence gap: expected_next=%d received=%d", st.lastSeq+1, u.Sequence)))
		default:
			st.isStale = false
		}
	} else {
		st.isStale = false
	}

	aggressor := u.Aggressor
	if aggressor == mdkernel.AggressorUnknown && c.quotes != nil {
		if bbo, ok := c.quotes.TryGet(key); ok && bbo.HasDerived {
			switch {
			case u.Price.GreaterThanOrEqual(bbo.AskPrice):
				aggressor = mdkernel.AggressorBuy
			case u.Price.LessThanOrEqual(bbo.BidPrice):
				aggressor = mdkernel.AggressorSell
			}
		}
	}

	st.lastSeq = u.Sequence
	st.hasSeq = true
	switch aggressor {
	case mdkernel.AggressorBuy:
		st.buyVolume += u.Size
	case mdkernel.AggressorSell:
		st.sellVolume += u.Size
	default:
		st.unkVolume += u.Size
	}
	st.vwapNum = st.vwapNum.Add(u.Price.Mul(decimal.NewFromInt(u.Size)))
	st.vwapDen = st.vwapDen.Add(decimal.NewFromInt(u.Size))
	st.tradeCount++
	st.lastActivity = nowUTCMicros()
	st.ring.Push(RecentTrade{
		TimestampUTC: u.TimestampUTC,
		Price:        u.Price,
		Size:         u.Size,
		Aggressor:    aggressor,
		Sequence:     u.Sequence,
	})

	events = append(events, mdkernel.MarketEvent{
		TimestampUTC: u.TimestampUTC,
		Symbol:       u.Symbol,
		Kind:         mdkernel.EventKindTrade,
		StreamID:     u.StreamID,
		Venue:        u.Venue,
		Source:       u.Source,
		Trade: &mdkernel.TradePayload{
			Price:     u.Price,
			Size:      u.Size,
			Aggressor: aggressor,
			Sequence:  u.Sequence,
		},
	})
	events = append(events, mdkernel.MarketEvent{
		TimestampUTC: u.TimestampUTC,
		Symbol:       u.Symbol,
		Kind:         mdkernel.EventKindOrderFlow,
		StreamID:     u.StreamID,
		Venue:        u.Venue,
		Source:       u.Source,
		OrderFlow:    orderFlowFromState(st, u.Sequence),
	})
	return events
}

func orderFlowFromState(st *tradeState, seq int64) *mdkernel.OrderFlowPayload {
	vwap := decimal.Zero
	if !st.vwapDen.IsZero() {
		vwap = st.vwapNum.Div(st.vwapDen)
	}
	total := st.buyVolume + st.sellVolume + st.unkVolume
	imbalance := 0.0
	if total != 0 {
		imbalance = float64(st.buyVolume-st.sellVolume) / float64(total)
	}
	return &mdkernel.OrderFlowPayload{
		BuyVolume:  st.buyVolume,
		SellVolume: st.sellVolume,
		UnkVolume:  st.unkVolume,
		Vwap:       vwap,
		Imbalance:  imbalance,
		TradeCount: st.tradeCount,
		Sequence:   seq,
	}
}

func (c *TradeCollector) integrityEvent(u mdkernel.MarketTradeUpdate, sev mdkernel.Severity, code int, desc string) mdkernel.MarketEvent {
	return mdkernel.MarketEvent{
		TimestampUTC: u.TimestampUTC,
		Symbol:       u.Symbol,
		Kind:         mdkernel.EventKindIntegrity,
		StreamID:     u.StreamID,
		Venue:        u.Venue,
		Source:       u.Source,
		Integrity: &mdkernel.IntegrityPayload{
			Severity:    sev,
			Code:        code,
			Description: desc,
			Sequence:    u.Sequence,
		},
	}
}

// GetRecent returns up to limit of the symbol's most recent trades,
// newest-first. limit is clamped to [0, 200].
func (c *TradeCollector) GetRecent(symbol string, limit int) []RecentTrade {
	st, ok := c.states.Get(strings.ToUpper(symbol))
	if !ok || limit <= 0 {
		return nil
	}
	if limit > recentTradesCap {
		limit = recentTradesCap
	}
	return st.ring.Recent(limit)
}

// IsStale reports whether the symbol's trade state currently has an
// unresolved sequence gap.
func (c *TradeCollector) IsStale(symbol string) bool {
	st, ok := c.states.Get(strings.ToUpper(symbol))
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.isStale
}

// SweepIdle evicts symbols whose trade state has accepted no trade since
// now-idleEvictWindow. now is in microseconds (see nowUTCMicros).
func (c *TradeCollector) SweepIdle(now int64) int {
	cutoff := now - idleEvictWindow.Microseconds()
	return c.states.DeleteWhere(func(_ string, st *tradeState) bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.lastActivity <= cutoff
	})
}
