// Package collector implements the per-symbol event-processing kernel:
// QuoteCollector, TradeCollector and DepthCollector.
//
// Each collector owns a mdkernel.SymbolMap of per-symbol state protected by
// its own mutex: concurrent callers updating different symbols never
// contend, while updates to the same symbol serialize through its one
// mutex, so each collector's internal state always reflects a consistent
// sequence of accepted updates.
package collector

import (
	"strings"
	"sync"
	"time"

	mdkernel "github.com/marketflux/mdkernel"
)

// idleEvictWindow is the inactivity threshold after which a symbol's
// collector state is garbage-collected.
const idleEvictWindow = time.Hour

// quoteState is the BBO state owned by QuoteCollector for one symbol.
type quoteState struct {
	mu           sync.Mutex
	seq          int64
	last         mdkernel.BboQuotePayload
	has          bool
	lastActivity int64
}

// QuoteCollector maintains the last BBO per symbol and assigns a monotonic
// per-symbol quote sequence.
type QuoteCollector struct {
	states *mdkernel.SymbolMap[quoteState]
}

// NewQuoteCollector constructs an empty QuoteCollector.
func NewQuoteCollector() *QuoteCollector {
	return &QuoteCollector{states: mdkernel.NewSymbolMap[quoteState]()}
}

// OnQuote processes a single quote update, returning the emitted BboQuote
// event. Neither OnQuote nor the Router validates the symbol: any symbol,
// including an empty one, is upper-cased and used as the state key.
func (c *QuoteCollector) OnQuote(u mdkernel.MarketQuoteUpdate) mdkernel.MarketEvent {
	key := strings.ToUpper(u.Symbol)
	st := c.states.GetOrCreate(key, func() *quoteState { return &quoteState{} })

	st.mu.Lock()
	defer st.mu.Unlock()

	st.seq++

	payload := mdkernel.BboQuotePayload{
		BidPrice: u.BidPrice,
		BidSize:  u.BidSize,
		AskPrice: u.AskPrice,
		AskSize:  u.AskSize,
		Sequence: st.seq,
	}
	if u.BidPrice.Sign() > 0 && u.AskPrice.Sign() > 0 && u.AskPrice.GreaterThanOrEqual(u.BidPrice) {
		payload.Mid = u.BidPrice.Add(u.AskPrice).Div(decimalTwo)
		payload.Spread = u.AskPrice.Sub(u.BidPrice)
		payload.HasDerived = true
	}

	st.last = payload
	st.has = true
	st.lastActivity = nowUTCMicros()

	return mdkernel.MarketEvent{
		TimestampUTC: u.TimestampUTC,
		Symbol:       u.Symbol,
		Kind:         mdkernel.EventKindBboQuote,
		StreamID:     u.StreamID,
		Venue:        u.Venue,
		Source:       u.Source,
		BboQuote:     &payload,
	}
}

// TryGet returns the last known BBO for symbol, used by TradeCollector for
// aggressor inference.
func (c *QuoteCollector) TryGet(symbol string) (mdkernel.BboQuotePayload, bool) {
	st, ok := c.states.Get(strings.ToUpper(symbol))
	if !ok {
		return mdkernel.BboQuotePayload{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.has {
		return mdkernel.BboQuotePayload{}, false
	}
	return st.last, true
}

// nowUTCMicros is the collector package's clock source, overridable in
// tests via a package-level var so idle-sweep behavior can be exercised
// without a real wall-clock wait.
var nowUTCMicros = func() int64 { return time.Now().UnixMicro() }

// SweepIdle evicts symbols whose BBO state has seen no update since
// now-idleEvictWindow. now is in microseconds (see nowUTCMicros).
func (c *QuoteCollector) SweepIdle(now int64) int {
	cutoff := now - idleEvictWindow.Microseconds()
	return c.states.DeleteWhere(func(_ string, st *quoteState) bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.lastActivity <= cutoff
	})
}
