package collector

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/shopspring/decimal"
)

const recentIntegrityCap = 100

// DepthCollectorConfig tunes the auto-reset policy: a book that keeps
// rejecting deltas as corrupt is probably stuck behind a bad provider feed,
// so once enough DepthIntegrity events pile up within the window the book
// resets itself rather than waiting for an operator to notice.
type DepthCollectorConfig struct {
	AutoResetThreshold int
	AutoResetWindow    time.Duration
}

// DefaultDepthCollectorConfig returns the documented defaults: 3 integrity
// events within a 15-second window trigger an automatic reset.
func DefaultDepthCollectorConfig() DepthCollectorConfig {
	return DepthCollectorConfig{AutoResetThreshold: 3, AutoResetWindow: 15 * time.Second}
}

type bookState struct {
	mu              sync.Mutex
	bids            []mdkernel.OrderBookLevel
	asks            []mdkernel.OrderBookLevel
	isStale         bool
	seq             int64
	recentIntegrity *mdkernel.Ring[mdkernel.DepthIntegrityPayload]
	windowMicros    []int64 // event timestamps (µs) of recent depth-integrity events
	lastActivity    int64
}

func newBookState() *bookState {
	return &bookState{recentIntegrity: mdkernel.NewRing[mdkernel.DepthIntegrityPayload](recentIntegrityCap)}
}

// DepthCollector is the L2 order-book state machine: it applies
// position-based insert/update/delete deltas per side and emits a snapshot
// after every successful mutation.
type DepthCollector struct {
	states *mdkernel.SymbolMap[bookState]
	cfg    DepthCollectorConfig
}

// NewDepthCollector constructs a DepthCollector with the given config.
func NewDepthCollector(cfg DepthCollectorConfig) *DepthCollector {
	if cfg.AutoResetThreshold <= 0 {
		cfg.AutoResetThreshold = 3
	}
	if cfg.AutoResetWindow <= 0 {
		cfg.AutoResetWindow = 15 * time.Second
	}
	return &DepthCollector{states: mdkernel.NewSymbolMap[bookState](), cfg: cfg}
}

// OnDepth applies one position-based delta, returning the events it
// produced: a lone DepthIntegrity event on rejection/stale, or a single
// L2Snapshot event on success.
func (c *DepthCollector) OnDepth(u mdkernel.MarketDepthUpdate) []mdkernel.MarketEvent {
	sym, err := mdkernel.NewSymbol(u.Symbol)
	if err != nil {
		return []mdkernel.MarketEvent{c.depthIntegrityEvent(u, mdkernel.DepthIntegrityUnknown,
			fmt.Sprintf("invalid symbol %q", u.Symbol))}
	}
	key := sym.Key()
	st := c.states.GetOrCreate(key, newBookState)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastActivity = u.TimestampUTC

	if st.isStale {
		ev := c.depthIntegrityEvent(u, mdkernel.DepthIntegrityStale, "book is stale, awaiting reset")
		c.recordIntegrityLocked(st, ev.DepthIntegrity, u.TimestampUTC)
		return []mdkernel.MarketEvent{ev}
	}

	side := &st.bids
	if u.Side == mdkernel.SideAsk {
		side = &st.asks
	}
	n := len(*side)

	var failKind mdkernel.DepthIntegrityKind
	failed := false

	switch u.Operation {
	case mdkernel.DepthOpInsert:
		if u.Position > uint16(n) {
			failKind, failed = mdkernel.DepthIntegrityGap, true
		} else {
			insertLevel(side, int(u.Position), mdkernel.OrderBookLevel{
				Side: u.Side, Price: u.Price, Size: u.Size, MarketMaker: u.MarketMaker,
			})
		}
	case mdkernel.DepthOpUpdate:
		if int(u.Position) >= n {
			failKind, failed = mdkernel.DepthIntegrityOutOfOrder, true
		} else {
			(*side)[u.Position].Price = u.Price
			(*side)[u.Position].Size = u.Size
			(*side)[u.Position].MarketMaker = u.MarketMaker
		}
	case mdkernel.DepthOpDelete:
		if int(u.Position) >= n {
			failKind, failed = mdkernel.DepthIntegrityInvalidPosition, true
		} else {
			deleteLevel(side, int(u.Position))
		}
	default:
		failKind, failed = mdkernel.DepthIntegrityUnknown, true
	}

	if failed {
		st.isStale = true
		ev := c.depthIntegrityEvent(u, failKind,
			fmt.Sprintf("%s at position %d, side has %d levels", failKind, u.Position, n))
		c.recordIntegrityLocked(st, ev.DepthIntegrity, u.TimestampUTC)
		return []mdkernel.MarketEvent{ev}
	}

	st.lastActivity = u.TimestampUTC
	st.seq++
	snapshot := buildSnapshot(st)
	return []mdkernel.MarketEvent{{
		TimestampUTC: u.TimestampUTC,
		Symbol:       u.Symbol,
		Kind:         mdkernel.EventKindL2Snapshot,
		StreamID:     u.StreamID,
		Venue:        u.Venue,
		Source:       u.Source,
		L2Snapshot:   snapshot,
	}}
}

func insertLevel(side *[]mdkernel.OrderBookLevel, pos int, lvl mdkernel.OrderBookLevel) {
	*side = append(*side, mdkernel.OrderBookLevel{})
	copy((*side)[pos+1:], (*side)[pos:])
	(*side)[pos] = lvl
	reindex(*side)
}

func deleteLevel(side *[]mdkernel.OrderBookLevel, pos int) {
	*side = append((*side)[:pos], (*side)[pos+1:]...)
	reindex(*side)
}

func reindex(side []mdkernel.OrderBookLevel) {
	for i := range side {
		side[i].Level = uint16(i)
	}
}

func buildSnapshot(st *bookState) *mdkernel.L2SnapshotPayload {
	bids := append([]mdkernel.OrderBookLevel(nil), st.bids...)
	asks := append([]mdkernel.OrderBookLevel(nil), st.asks...)

	snap := &mdkernel.L2SnapshotPayload{
		Bids:     bids,
		Asks:     asks,
		State:    mdkernel.BookStateNormal,
		Sequence: st.seq,
	}
	if len(bids) > 0 && len(asks) > 0 {
		bestBid, bestAsk := bids[0], asks[0]
		snap.Mid = bestBid.Price.Add(bestAsk.Price).Div(decimalTwo)
		total := bestBid.Size.Add(bestAsk.Size)
		if !total.IsZero() {
			snap.Imbalance = bestBid.Size.Sub(bestAsk.Size).Div(total)
		} else {
			snap.Imbalance = decimal.Zero
		}
		snap.HasDerived = true
	}
	return snap
}

// recordIntegrityLocked pushes the event into the recent-integrity ring and
// sliding window, resetting the book automatically once the window reaches
// the configured threshold. st.mu must be held by the caller.
func (c *DepthCollector) recordIntegrityLocked(st *bookState, ev *mdkernel.DepthIntegrityPayload, tsMicros int64) {
	st.recentIntegrity.Push(*ev)

	st.windowMicros = append(st.windowMicros, tsMicros)
	cutoff := tsMicros - c.cfg.AutoResetWindow.Microseconds()
	kept := st.windowMicros[:0]
	for _, t := range st.windowMicros {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	st.windowMicros = kept

	if len(st.windowMicros) >= c.cfg.AutoResetThreshold {
		c.resetLocked(st)
	}
}

func (c *DepthCollector) resetLocked(st *bookState) {
	st.bids = nil
	st.asks = nil
	st.isStale = false
	st.windowMicros = nil
}

// Reset clears both sides of symbol's book and returns it to Healthy.
func (c *DepthCollector) Reset(symbol string) {
	st, ok := c.states.Get(strings.ToUpper(symbol))
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	c.resetLocked(st)
}

// IsStale reports whether symbol's book currently rejects deltas.
func (c *DepthCollector) IsStale(symbol string) bool {
	st, ok := c.states.Get(strings.ToUpper(symbol))
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.isStale
}

// SweepIdle evicts symbols whose book has accepted no update since
// now-idleEvictWindow. now is in microseconds, on the same event-time axis
// as the auto-reset window.
func (c *DepthCollector) SweepIdle(now int64) int {
	cutoff := now - idleEvictWindow.Microseconds()
	return c.states.DeleteWhere(func(_ string, st *bookState) bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.lastActivity <= cutoff
	})
}

// RecentIntegrity returns up to limit of the symbol's most recent
// DepthIntegrity diagnostics, newest-first.
func (c *DepthCollector) RecentIntegrity(symbol string, limit int) []mdkernel.DepthIntegrityPayload {
	st, ok := c.states.Get(strings.ToUpper(symbol))
	if !ok {
		return nil
	}
	return st.recentIntegrity.Recent(limit)
}

func (c *DepthCollector) depthIntegrityEvent(u mdkernel.MarketDepthUpdate, kind mdkernel.DepthIntegrityKind, desc string) mdkernel.MarketEvent {
	return mdkernel.MarketEvent{
		TimestampUTC: u.TimestampUTC,
		Symbol:       u.Symbol,
		Kind:         mdkernel.EventKindDepthIntegrity,
		StreamID:     u.StreamID,
		Venue:        u.Venue,
		Source:       u.Source,
		DepthIntegrity: &mdkernel.DepthIntegrityPayload{
			Kind:        kind,
			Description: desc,
			Position:    u.Position,
			Side:        u.Side,
		},
	}
}
