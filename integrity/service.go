// Package integrity implements windowed aggregation, severity escalation,
// and rate-limited alerting over the Integrity/DepthIntegrity event stream:
// per-symbol counters are built by folding the live event stream
// continuously, rather than over a fixed decoded batch.
package integrity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	mdkernel "github.com/marketflux/mdkernel"
)

// Config tunes the thresholds and windows of the service; the zero value
// is not usable, use DefaultConfig.
type Config struct {
	CriticalErrorThreshold int
	CriticalConsecutive    int
	HighErrorThreshold     int
	RecentWindow           time.Duration
	RecentWindowCap        int
	MinAlertInterval       time.Duration
	MaxRecentAlerts        int
	AggregationInterval    time.Duration
	SummaryTopSymbols      int
	SummaryRecentAlerts    int
}

// DefaultConfig returns the documented thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalErrorThreshold: 10,
		CriticalConsecutive:    5,
		HighErrorThreshold:     3,
		RecentWindow:           15 * time.Minute,
		RecentWindowCap:        100,
		MinAlertInterval:       30 * time.Second,
		MaxRecentAlerts:        100,
		AggregationInterval:    10 * time.Second,
		SummaryTopSymbols:      20,
		SummaryRecentAlerts:    10,
	}
}

// Priority grades an AlertRecord.
type Priority uint8

const (
	PriorityInfo Priority = iota
	PriorityWarning
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityWarning:
		return "warning"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "info"
	}
}

// AlertRecord is emitted for Warning-or-higher events, subject to the
// per-symbol cooldown.
type AlertRecord struct {
	Symbol    string
	Priority  Priority
	Code      int
	Severity  mdkernel.Severity
	Timestamp int64
}

type windowEntry struct {
	at       int64 // microseconds
	severity mdkernel.Severity
}

type symbolState struct {
	totalErrors     int64
	totalWarnings   int64
	consecutiveErrs int64
	window          []windowEntry
	incidentCount   int64
	lastAlertAt     time.Time
}

// Service aggregates integrity incidents per symbol and issues rate-limited
// alerts.
type Service struct {
	cfg Config

	mu      sync.Mutex
	symbols map[string]*symbolState
	alerts  []AlertRecord

	log *slog.Logger
}

// New constructs a Service.
func New(cfg Config) *Service {
	return &Service{cfg: cfg, symbols: make(map[string]*symbolState), log: slog.Default()}
}

// SetLogger overrides the Service's logger. A nil logger is ignored.
func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// OnEvent implements router.Observer: only Integrity and DepthIntegrity
// events carry incidents worth aggregating.
func (s *Service) OnEvent(ev mdkernel.MarketEvent) {
	switch ev.Kind {
	case mdkernel.EventKindIntegrity:
		s.record(ev.Symbol, ev.TimestampUTC, ev.Integrity.Severity, ev.Integrity.Code)
	case mdkernel.EventKindDepthIntegrity:
		s.record(ev.Symbol, ev.TimestampUTC, mdkernel.SeverityError, 0)
	}
}

func (s *Service) record(symbol string, ts int64, sev mdkernel.Severity, code int) *AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.symbols[symbol]
	if !ok {
		st = &symbolState{}
		s.symbols[symbol] = st
	}

	switch sev {
	case mdkernel.SeverityError:
		st.totalErrors++
		st.consecutiveErrs++
	case mdkernel.SeverityWarning:
		st.totalWarnings++
		st.consecutiveErrs = 0
	default:
		st.consecutiveErrs = 0
	}
	st.incidentCount++

	st.window = append(st.window, windowEntry{at: ts, severity: sev})
	cutoff := ts - s.cfg.RecentWindow.Microseconds()
	i := 0
	for i < len(st.window) && st.window[i].at < cutoff {
		i++
	}
	st.window = st.window[i:]
	if len(st.window) > s.cfg.RecentWindowCap {
		st.window = st.window[len(st.window)-s.cfg.RecentWindowCap:]
	}

	recentErrors := 0
	for _, w := range st.window {
		if w.severity == mdkernel.SeverityError {
			recentErrors++
		}
	}

	priority := s.priority(sev, recentErrors, st.consecutiveErrs)
	if priority == PriorityInfo {
		return nil
	}

	now := mdkernel.MicrosToTime(ts)
	if !st.lastAlertAt.IsZero() && now.Sub(st.lastAlertAt) < s.cfg.MinAlertInterval {
		return nil
	}
	st.lastAlertAt = now

	rec := AlertRecord{Symbol: symbol, Priority: priority, Code: code, Severity: sev, Timestamp: ts}
	s.alerts = append(s.alerts, rec)
	if len(s.alerts) > s.cfg.MaxRecentAlerts {
		s.alerts = s.alerts[len(s.alerts)-s.cfg.MaxRecentAlerts:]
	}

	level := slog.LevelWarn
	if priority == PriorityCritical {
		level = slog.LevelError
	}
	s.log.Log(context.Background(), level, "integrity alert", "symbol", symbol, "priority", priority, "code", code, "recent_errors", recentErrors)

	return &rec
}

func (s *Service) priority(sev mdkernel.Severity, recentErrors int, consecutive int64) Priority {
	if recentErrors >= s.cfg.CriticalErrorThreshold || consecutive >= int64(s.cfg.CriticalConsecutive) {
		return PriorityCritical
	}
	if recentErrors >= s.cfg.HighErrorThreshold || sev == mdkernel.SeverityError {
		return PriorityHigh
	}
	if sev == mdkernel.SeverityWarning {
		return PriorityWarning
	}
	return PriorityInfo
}

// SymbolSummary is one row of an IntegritySummary rollup.
type SymbolSummary struct {
	Symbol        string
	TotalErrors   int64
	TotalWarnings int64
	IncidentCount int64
}

// IntegritySummary is the periodic aggregation-tick rollup.
type IntegritySummary struct {
	TopSymbols   []SymbolSummary
	RecentAlerts []AlertRecord
}

// Snapshot builds the current IntegritySummary rollup: the top symbols by
// incident count and the most recent alerts.
func (s *Service) Snapshot() IntegritySummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]SymbolSummary, 0, len(s.symbols))
	for sym, st := range s.symbols {
		rows = append(rows, SymbolSummary{
			Symbol:        sym,
			TotalErrors:   st.totalErrors,
			TotalWarnings: st.totalWarnings,
			IncidentCount: st.incidentCount,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].IncidentCount > rows[j].IncidentCount })
	if len(rows) > s.cfg.SummaryTopSymbols {
		rows = rows[:s.cfg.SummaryTopSymbols]
	}

	recent := s.alerts
	if len(recent) > s.cfg.SummaryRecentAlerts {
		recent = recent[len(recent)-s.cfg.SummaryRecentAlerts:]
	}
	out := make([]AlertRecord, len(recent))
	copy(out, recent)

	return IntegritySummary{TopSymbols: rows, RecentAlerts: out}
}

// RunAggregationTicker calls emit with a fresh Snapshot every
// AggregationInterval until ctxDone is closed. Suitable to run in its own
// goroutine alongside the event-processing loop.
func (s *Service) RunAggregationTicker(ctxDone <-chan struct{}, emit func(IntegritySummary)) {
	ticker := time.NewTicker(s.cfg.AggregationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctxDone:
			return
		case <-ticker.C:
			emit(s.Snapshot())
		}
	}
}
