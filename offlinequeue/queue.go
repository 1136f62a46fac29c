// Package offlinequeue implements a bounded in-memory event queue with
// durable spill-to-disk while a connection is offline, and ordered replay
// on reconnect. The spill writer frames each batch of JSON-Lines records
// through zstd, and stamps each record with a google/uuid event id so a
// replayed record can be deduplicated against whatever already landed
// downstream before the disconnect.
package offlinequeue

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	json "github.com/segmentio/encoding/json"

	mdkernel "github.com/marketflux/mdkernel"
)

// estimatedBytes gives a per-event-kind size estimate for byte-budget
// accounting.
func estimatedBytes(kind mdkernel.EventKind) int {
	switch kind {
	case mdkernel.EventKindTrade:
		return 200
	case mdkernel.EventKindBboQuote:
		return 250
	case mdkernel.EventKindL2Snapshot:
		return 1000
	case mdkernel.EventKindOrderFlow:
		return 500
	default:
		return 200
	}
}

// Config tunes the queue's capacity and spill behavior.
type Config struct {
	MaxQueueSize   int
	MaxBufferBytes int64
	SpillDir       string
	FlushBatchSize int
	PreserveOrder  bool
	UseZstdSpill   bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig(spillDir string) Config {
	return Config{
		MaxQueueSize:   100_000,
		MaxBufferBytes: 1 << 30,
		SpillDir:       spillDir,
		FlushBatchSize: 10_000,
		PreserveOrder:  true,
		UseZstdSpill:   true,
	}
}

// QueuedRecord is the spill-file envelope around a MarketEvent.
type QueuedRecord struct {
	EventID        string               `json:"event_id"`
	QueuedAt       time.Time            `json:"queued_at"`
	EstimatedBytes int                  `json:"estimated_bytes"`
	Event          mdkernel.MarketEvent `json:"event"`
}

// FlushHandler hands a batch of records to the caller-provided sink and
// reports how many were successfully written.
type FlushHandler func(batch []QueuedRecord) (int, error)

// Queue is the bounded in-memory/durable-spill event queue.
type Queue struct {
	cfg Config

	mu        sync.Mutex
	items     []QueuedRecord
	bytesUsed int64
	dropped   int64

	skippedBadLines int64

	clockMu      sync.Mutex
	clockHistory []clockSample
	toleranceMs  float64

	log *slog.Logger
}

type clockSample struct {
	provider string
	drift    time.Duration
	at       time.Time
}

// ClockDriftEvent reports an out-of-tolerance clock drift measurement.
type ClockDriftEvent struct {
	Provider string
	Drift    time.Duration
	Critical bool
}

// New constructs a Queue. The zero Config is not usable; use DefaultConfig.
func New(cfg Config) *Queue {
	return &Queue{cfg: cfg, toleranceMs: 100, log: slog.Default()}
}

// SetLogger overrides the Queue's logger. A nil logger is ignored.
func (q *Queue) SetLogger(l *slog.Logger) {
	if l != nil {
		q.log = l
	}
}

// TryEnqueue appends an event if capacity and the byte budget allow it. On
// overflow the oldest entry is dropped to make room (drop-oldest policy);
// the dropped counter is incremented either way the entry could not fit.
func (q *Queue) TryEnqueue(ev mdkernel.MarketEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := int64(estimatedBytes(ev.Kind))
	if size > q.cfg.MaxBufferBytes {
		q.dropped++
		return false
	}

	for q.bytesUsed+size > q.cfg.MaxBufferBytes && len(q.items) > 0 {
		q.popOldestLocked()
	}
	if len(q.items) >= q.cfg.MaxQueueSize {
		q.popOldestLocked()
	}

	rec := QueuedRecord{
		EventID:        uuid.NewString(),
		QueuedAt:       time.Now().UTC(),
		EstimatedBytes: int(size),
		Event:          ev,
	}
	q.items = append(q.items, rec)
	q.bytesUsed += size
	return true
}

func (q *Queue) popOldestLocked() {
	if len(q.items) == 0 {
		return
	}
	dropped := q.items[0]
	q.bytesUsed -= int64(dropped.EstimatedBytes)
	q.items = q.items[1:]
	q.dropped++
	q.log.Warn("offline queue dropping oldest event", "symbol", dropped.Event.Symbol, "queued_at", dropped.QueuedAt)
}

// Dropped reports the running count of events dropped for capacity or
// byte-budget reasons.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len reports the number of events currently buffered in memory.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Describe renders an operator-readable diagnostic line summarizing the
// queue's current backlog: event count, byte footprint and drop count.
func (q *Queue) Describe() string {
	q.mu.Lock()
	n, bytesUsed, dropped := len(q.items), q.bytesUsed, q.dropped
	q.mu.Unlock()
	return fmt.Sprintf("%d events buffered (%s), %d dropped", n, humanize.Bytes(uint64(bytesUsed)), dropped)
}

// SkippedBadLines reports how many spill-file lines failed to deserialize
// and were skipped during ComeOnline.
func (q *Queue) SkippedBadLines() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skippedBadLines
}

func spillFilename(now time.Time) string {
	return fmt.Sprintf("queue_%s_%s.pending.json", now.UTC().Format("20060102_150405"), uuid.NewString())
}

// GoOffline drains the in-memory queue into a durable spill file under
// cfg.SpillDir. Returns "" if there was nothing to spill.
func (q *Queue) GoOffline() (string, error) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.bytesUsed = 0
	q.mu.Unlock()

	if len(items) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(q.cfg.SpillDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(q.cfg.SpillDir, spillFilename(time.Now()))
	if err := writeSpillFile(path, items, q.cfg.UseZstdSpill); err != nil {
		return "", err
	}
	var totalBytes int64
	for _, rec := range items {
		totalBytes += int64(rec.EstimatedBytes)
	}
	q.log.Info("spilled offline queue to disk", "path", path, "events", len(items), "bytes", humanize.Bytes(uint64(totalBytes)))
	return path, nil
}

func writeSpillFile(path string, items []QueuedRecord, useZstd bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	if useZstd {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		defer zw.Close()
		w = zw
	}

	enc := json.NewEncoder(w)
	for _, rec := range items {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// ComeOnline reads every `*.pending.json` spill file in filename order,
// merges them with anything still buffered in memory and — when
// PreserveOrder is set — re-sorts the combined set by event timestamp, then
// hands batches of up to FlushBatchSize to handler. Records from a batch
// the handler fails to fully accept are re-enqueued. Successfully ingested
// files are renamed to `.recovered.json`.
func (q *Queue) ComeOnline(handler FlushHandler) error {
	files, err := q.pendingSpillFiles()
	if err != nil {
		return err
	}

	var all []QueuedRecord
	for _, path := range files {
		recs, err := q.readSpillFile(path)
		if err != nil {
			return err
		}
		all = append(all, recs...)
	}

	q.mu.Lock()
	all = append(all, q.items...)
	if q.cfg.PreserveOrder {
		sort.Slice(all, func(i, j int) bool { return all[i].Event.TimestampUTC < all[j].Event.TimestampUTC })
	}
	q.items = nil
	q.bytesUsed = 0
	q.mu.Unlock()

	for start := 0; start < len(all); start += q.cfg.FlushBatchSize {
		end := start + q.cfg.FlushBatchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]
		n, ferr := handler(batch)
		if ferr != nil || n < len(batch) {
			q.mu.Lock()
			for _, rec := range batch[n:] {
				q.items = append(q.items, rec)
				q.bytesUsed += int64(rec.EstimatedBytes)
			}
			q.mu.Unlock()
			if ferr != nil {
				return ferr
			}
		}
	}

	for _, path := range files {
		recovered := strings.TrimSuffix(path, ".pending.json") + ".recovered.json"
		_ = os.Rename(path, recovered)
	}
	return nil
}

// LoadForRecovery loads every `*.pending.json` spill file left from a prior
// process back into the in-memory queue and renames each to
// `.recovered.json`.
func (q *Queue) LoadForRecovery() error {
	files, err := q.pendingSpillFiles()
	if err != nil {
		return err
	}
	for _, path := range files {
		recs, err := q.readSpillFile(path)
		if err != nil {
			return err
		}
		q.mu.Lock()
		for _, rec := range recs {
			q.items = append(q.items, rec)
			q.bytesUsed += int64(rec.EstimatedBytes)
		}
		q.mu.Unlock()

		recovered := strings.TrimSuffix(path, ".pending.json") + ".recovered.json"
		if err := os.Rename(path, recovered); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) pendingSpillFiles() ([]string, error) {
	entries, err := os.ReadDir(q.cfg.SpillDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".pending.json") {
			files = append(files, filepath.Join(q.cfg.SpillDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (q *Queue) readSpillFile(path string) ([]QueuedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if q.cfg.UseZstdSpill {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	var out []QueuedRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := trimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec QueuedRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			q.mu.Lock()
			q.skippedBadLines++
			q.mu.Unlock()
			q.log.Warn("skipping malformed spill line", "path", path, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

func trimSpace(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}

// RecordClockSync tracks drift between the local clock and a provider's
// reported server time. It keeps a rolling history of the last 100 samples
// and returns a ClockDriftEvent when drift exceeds tolerance (default
// 100ms; Critical above 2x tolerance).
func (q *Queue) RecordClockSync(provider string, serverTime time.Time) *ClockDriftEvent {
	now := time.Now()
	drift := now.Sub(serverTime)

	q.clockMu.Lock()
	q.clockHistory = append(q.clockHistory, clockSample{provider: provider, drift: drift, at: now})
	if len(q.clockHistory) > 100 {
		q.clockHistory = q.clockHistory[len(q.clockHistory)-100:]
	}
	tolerance := q.toleranceMs
	q.clockMu.Unlock()

	absMs := float64(drift.Milliseconds())
	if absMs < 0 {
		absMs = -absMs
	}
	if absMs <= tolerance {
		return nil
	}
	ev := &ClockDriftEvent{Provider: provider, Drift: drift, Critical: absMs > 2*tolerance}
	level := slog.LevelWarn
	if ev.Critical {
		level = slog.LevelError
	}
	q.log.Log(context.Background(), level, "clock drift detected", "provider", provider, "drift", drift, "critical", ev.Critical)
	return ev
}

// SetClockTolerance overrides the default 100ms drift tolerance.
func (q *Queue) SetClockTolerance(ms float64) {
	q.clockMu.Lock()
	q.toleranceMs = ms
	q.clockMu.Unlock()
}
