// Package anomaly implements the DuplicateDetector and SpreadMonitor, two
// passive observers that run in parallel over the normalized event stream
// looking for data-quality anomalies rather than sequencing defects: a
// provider that replays the same tick twice, or one quoting an
// implausibly wide market.
package anomaly

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	mdkernel "github.com/marketflux/mdkernel"
)

// DuplicateConfig tunes the detector; zero value is not usable.
type DuplicateConfig struct {
	MaxEntriesPerSymbol int
	Window              time.Duration
	AlertCooldown       time.Duration
	IdleEvict           time.Duration
}

// DefaultDuplicateConfig returns the documented defaults.
func DefaultDuplicateConfig() DuplicateConfig {
	return DuplicateConfig{
		MaxEntriesPerSymbol: 10_000,
		Window:              5 * time.Second,
		AlertCooldown:       time.Second,
		IdleEvict:           24 * time.Hour,
	}
}

type fingerprintEntry struct {
	fp        uint64
	firstSeen int64 // microseconds
}

type dupSymbolState struct {
	entries      []fingerprintEntry
	byFP         map[uint64]int // fp -> index into entries, rebuilt by reindex after each eviction
	lastActivity int64
	lastAlertAt  int64
	duplicates   int64
}

// DuplicateDetector flags events whose fingerprint was already seen within
// the configured window.
type DuplicateDetector struct {
	cfg DuplicateConfig

	mu      sync.Mutex
	symbols map[string]*dupSymbolState
}

// NewDuplicateDetector constructs a DuplicateDetector.
func NewDuplicateDetector(cfg DuplicateConfig) *DuplicateDetector {
	return &DuplicateDetector{cfg: cfg, symbols: make(map[string]*dupSymbolState)}
}

func fingerprint(b []byte) uint64 { return xxhash.Sum64(b) }

// OnEvent implements router.Observer.
func (d *DuplicateDetector) OnEvent(ev mdkernel.MarketEvent) {
	fp, ok := fingerprintOf(ev)
	if !ok {
		return
	}
	d.check(ev.Symbol, fp, ev.TimestampUTC)
}

func fingerprintOf(ev mdkernel.MarketEvent) (uint64, bool) {
	var buf [64]byte
	switch ev.Kind {
	case mdkernel.EventKindTrade:
		n := putInt64(buf[:], ev.TimestampUTC)
		n += putDecimalBits(buf[n:], ev.Trade.Price)
		n += putInt64(buf[n:], ev.Trade.Size)
		return fingerprint(buf[:n]), true
	case mdkernel.EventKindBboQuote:
		n := putInt64(buf[:], ev.TimestampUTC)
		n += putDecimalBits(buf[n:], ev.BboQuote.BidPrice)
		n += putDecimalBits(buf[n:], ev.BboQuote.AskPrice)
		n += putInt64(buf[n:], ev.BboQuote.BidSize)
		n += putInt64(buf[n:], ev.BboQuote.AskSize)
		return fingerprint(buf[:n]), true
	default:
		return 0, false
	}
}

func putInt64(b []byte, v int64) int {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return 8
}

func putDecimalBits(b []byte, d interface{ String() string }) int {
	s := d.String()
	copy(b, s)
	return len(s)
}

func (d *DuplicateDetector) check(symbol string, fp uint64, ts int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.symbols[symbol]
	if !ok {
		st = &dupSymbolState{byFP: make(map[uint64]int)}
		d.symbols[symbol] = st
	}
	st.lastActivity = ts

	cutoff := ts - d.cfg.Window.Microseconds()
	d.evictOlderThan(st, cutoff)

	if idx, found := st.byFP[fp]; found && st.entries[idx].firstSeen >= cutoff {
		st.duplicates++
		if ts-st.lastAlertAt >= d.cfg.AlertCooldown.Microseconds() {
			st.lastAlertAt = ts
			return true
		}
		return false
	}

	if len(st.entries) >= d.cfg.MaxEntriesPerSymbol {
		d.evictOldest(st)
	}
	st.entries = append(st.entries, fingerprintEntry{fp: fp, firstSeen: ts})
	st.byFP[fp] = len(st.entries) - 1
	return false
}

func (d *DuplicateDetector) evictOlderThan(st *dupSymbolState, cutoff int64) {
	kept := st.entries[:0]
	for _, e := range st.entries {
		if e.firstSeen >= cutoff {
			kept = append(kept, e)
		}
	}
	st.entries = kept
	d.reindex(st)
}

func (d *DuplicateDetector) evictOldest(st *dupSymbolState) {
	if len(st.entries) == 0 {
		return
	}
	oldest := 0
	for i, e := range st.entries {
		if e.firstSeen < st.entries[oldest].firstSeen {
			oldest = i
		}
		_ = e
	}
	st.entries = append(st.entries[:oldest], st.entries[oldest+1:]...)
	d.reindex(st)
}

func (d *DuplicateDetector) reindex(st *dupSymbolState) {
	for k := range st.byFP {
		delete(st.byFP, k)
	}
	for i, e := range st.entries {
		st.byFP[e.fp] = i
	}
}

// DuplicateCount reports how many duplicates have been observed for symbol.
func (d *DuplicateDetector) DuplicateCount(symbol string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.symbols[symbol]; ok {
		return st.duplicates
	}
	return 0
}

// SweepIdle evicts symbols with no activity since now-IdleEvict, bounding
// memory use for symbols that stop trading entirely.
func (d *DuplicateDetector) SweepIdle(now int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now - d.cfg.IdleEvict.Microseconds()
	for sym, st := range d.symbols {
		if st.lastActivity < cutoff {
			delete(d.symbols, sym)
		}
	}
}
