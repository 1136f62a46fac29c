package anomaly

import (
	"sync"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/shopspring/decimal"
)

// SpreadThresholds gates what counts as a "wide" spread; a zero field
// disables that particular check.
type SpreadThresholds struct {
	Bps     decimal.Decimal
	Percent decimal.Decimal
	Abs     decimal.Decimal
}

// DefaultSpreadThresholds returns a conservative starting point: 50bps.
func DefaultSpreadThresholds() SpreadThresholds {
	return SpreadThresholds{Bps: decimal.NewFromInt(50)}
}

type spreadSymbolState struct {
	min, max, sum decimal.Decimal
	count         int64
	consecWide    int64
	hasMinMax     bool
	lastActivity  int64
}

// SpreadMonitor tracks running spread statistics per symbol and flags wide
// spreads against configurable thresholds.
type SpreadMonitor struct {
	thresholds SpreadThresholds
	idleEvict  int64 // microseconds

	mu      sync.Mutex
	symbols map[string]*spreadSymbolState
}

// NewSpreadMonitor constructs a SpreadMonitor.
func NewSpreadMonitor(thresholds SpreadThresholds) *SpreadMonitor {
	return &SpreadMonitor{
		thresholds: thresholds,
		idleEvict:  (24 * 60 * 60) * 1_000_000,
		symbols:    make(map[string]*spreadSymbolState),
	}
}

// SpreadObservation is the per-event result of SpreadMonitor.Observe.
type SpreadObservation struct {
	SpreadBps       decimal.Decimal
	Wide            bool
	ConsecutiveWide int64
	Min, Max, Avg   decimal.Decimal
}

// OnEvent implements router.Observer.
func (m *SpreadMonitor) OnEvent(ev mdkernel.MarketEvent) {
	if ev.Kind != mdkernel.EventKindBboQuote || !ev.BboQuote.HasDerived {
		return
	}
	m.Observe(ev.Symbol, ev.TimestampUTC, ev.BboQuote.BidPrice, ev.BboQuote.AskPrice, ev.BboQuote.Mid)
}

// Observe records one BBO sample and returns its spread statistics.
func (m *SpreadMonitor) Observe(symbol string, ts int64, bid, ask, mid decimal.Decimal) SpreadObservation {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.symbols[symbol]
	if !ok {
		st = &spreadSymbolState{}
		m.symbols[symbol] = st
	}
	st.lastActivity = ts

	var spreadBps decimal.Decimal
	if !mid.IsZero() {
		spreadBps = ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10_000))
	}

	st.count++
	st.sum = st.sum.Add(spreadBps)
	if !st.hasMinMax {
		st.min, st.max, st.hasMinMax = spreadBps, spreadBps, true
	} else {
		if spreadBps.LessThan(st.min) {
			st.min = spreadBps
		}
		if spreadBps.GreaterThan(st.max) {
			st.max = spreadBps
		}
	}

	wide := m.isWide(spreadBps, ask.Sub(bid), mid)
	if wide {
		st.consecWide++
	} else {
		st.consecWide = 0
	}

	avg := decimal.Zero
	if st.count > 0 {
		avg = st.sum.Div(decimal.NewFromInt(st.count))
	}

	return SpreadObservation{
		SpreadBps:       spreadBps,
		Wide:            wide,
		ConsecutiveWide: st.consecWide,
		Min:             st.min,
		Max:             st.max,
		Avg:             avg,
	}
}

func (m *SpreadMonitor) isWide(spreadBps, absSpread, mid decimal.Decimal) bool {
	if !m.thresholds.Bps.IsZero() && spreadBps.GreaterThanOrEqual(m.thresholds.Bps) {
		return true
	}
	if !m.thresholds.Percent.IsZero() && !mid.IsZero() {
		pct := absSpread.Div(mid).Mul(decimal.NewFromInt(100))
		if pct.GreaterThanOrEqual(m.thresholds.Percent) {
			return true
		}
	}
	if !m.thresholds.Abs.IsZero() && absSpread.GreaterThanOrEqual(m.thresholds.Abs) {
		return true
	}
	return false
}

// SweepIdle evicts symbols with no activity since now-24h.
func (m *SpreadMonitor) SweepIdle(now int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now - m.idleEvict
	for sym, st := range m.symbols {
		if st.lastActivity < cutoff {
			delete(m.symbols, sym)
		}
	}
}
