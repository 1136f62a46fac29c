// Package conn implements the connection supervisor: automatic reconnection
// with exponential backoff and jitter, heartbeat-driven health checks, and
// pre-market warm-up runs, all built around small caller-supplied connect
// and probe callbacks rather than any particular transport.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
)

// State is the connection's lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateWaiting
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting"
	case StateFaulted:
		return "faulted"
	default:
		return "disconnected"
	}
}

// ReconnectConfig tunes the exponential-backoff-with-jitter policy.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 means unlimited
}

// DefaultReconnectConfig returns the documented defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{InitialDelay: 2 * time.Second, MaxDelay: 300 * time.Second, MaxAttempts: 10}
}

// Delay returns the backoff delay for the n-th attempt (1-based):
// base*2^(n-1) capped at MaxDelay, plus uniform jitter in [0, delay/4].
func (c ReconnectConfig) Delay(n int, jitter func(max time.Duration) time.Duration) time.Duration {
	base := c.InitialDelay
	for i := 1; i < n; i++ {
		base *= 2
		if base > c.MaxDelay {
			base = c.MaxDelay
			break
		}
	}
	if base > c.MaxDelay {
		base = c.MaxDelay
	}
	if jitter == nil {
		jitter = defaultJitter
	}
	return base + jitter(base/4)
}

func defaultJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// HeartbeatConfig tunes the liveness probe.
type HeartbeatConfig struct {
	Interval             time.Duration
	Timeout              time.Duration
	ConsecutiveFailLimit int
}

// DefaultHeartbeatConfig returns the documented defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second, ConsecutiveFailLimit: 1}
}

// ConnectFunc attempts to (re)establish the connection.
type ConnectFunc func(ctx context.Context) error

// ProbeFunc performs one heartbeat liveness check.
type ProbeFunc func(ctx context.Context) error

// Stats is the point-in-time observability surface for a Supervisor: the
// counters and timestamps an operator dashboard needs.
type Stats struct {
	State              State
	ReconnectAttempts  int64
	ReconnectSuccesses int64
	ReconnectFailures  int64
	HeartbeatFailures  int64
	LastConnectedAt    time.Time
	LastDisconnectedAt time.Time
}

// String renders Stats as an operator-readable diagnostic line, e.g.
// "connected, 3 reconnects (3 ok, 0 failed), last connected 2 minutes ago".
func (s Stats) String() string {
	since := "never"
	if !s.LastConnectedAt.IsZero() {
		since = humanize.Time(s.LastConnectedAt)
	}
	return fmt.Sprintf("%s, %d reconnects (%d ok, %d failed), last connected %s",
		s.State, s.ReconnectAttempts, s.ReconnectSuccesses, s.ReconnectFailures, since)
}

// Supervisor runs the reconnect state machine and heartbeat monitor for a
// single logical connection.
type Supervisor struct {
	reconnectCfg ReconnectConfig
	heartbeatCfg HeartbeatConfig
	connect      ConnectFunc
	probe        ProbeFunc
	jitter       func(max time.Duration) time.Duration

	onAttempt func(n int)
	onSuccess func(n int)
	onFailed  func(n int, err error)

	mu    sync.Mutex
	state State
	stats Stats

	paused atomic.Bool

	consecutiveHBFail int64

	log *slog.Logger
}

// New constructs a Supervisor. connect is called to (re)establish the link;
// probe, if non-nil, is invoked on the heartbeat interval.
func New(connect ConnectFunc, probe ProbeFunc, reconnectCfg ReconnectConfig, heartbeatCfg HeartbeatConfig) *Supervisor {
	return &Supervisor{
		connect:      connect,
		probe:        probe,
		reconnectCfg: reconnectCfg,
		heartbeatCfg: heartbeatCfg,
		state:        StateDisconnected,
		log:          slog.Default(),
	}
}

// SetLogger overrides the Supervisor's logger. A nil logger is ignored.
func (s *Supervisor) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// OnReconnectionAttempt registers a callback invoked before each attempt.
func (s *Supervisor) OnReconnectionAttempt(f func(attempt int)) { s.onAttempt = f }

// OnReconnectionSuccess registers a callback invoked after a successful attempt.
func (s *Supervisor) OnReconnectionSuccess(f func(attempt int)) { s.onSuccess = f }

// OnReconnectionFailed registers a callback invoked after a failed attempt.
func (s *Supervisor) OnReconnectionFailed(f func(attempt int, err error)) { s.onFailed = f }

// SetJitter overrides the jitter source, primarily for deterministic tests.
func (s *Supervisor) SetJitter(f func(max time.Duration) time.Duration) { s.jitter = f }

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	if st == StateConnected {
		s.stats.LastConnectedAt = time.Now()
	}
	if st == StateWaiting || st == StateFaulted {
		s.stats.LastDisconnectedAt = time.Now()
	}
	s.mu.Unlock()
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a point-in-time snapshot of connection statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	return st
}

// Pause halts new reconnect attempts without tearing down existing state.
func (s *Supervisor) Pause() { s.paused.Store(true) }

// Resume re-enables reconnect attempts.
func (s *Supervisor) Resume() { s.paused.Store(false) }

// Run drives the connect/reconnect loop until a connect attempt succeeds
// (returning nil), ctx is canceled, or the attempt budget is exhausted. It
// blocks; callers typically invoke it from its own goroutine.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.paused.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		attempt++
		s.setState(StateConnecting)
		s.mu.Lock()
		s.stats.ReconnectAttempts++
		s.mu.Unlock()
		if s.onAttempt != nil {
			s.onAttempt(attempt)
		}

		err := s.connect(ctx)
		if err == nil {
			s.setState(StateConnected)
			s.mu.Lock()
			s.stats.ReconnectSuccesses++
			s.mu.Unlock()
			s.log.Info("connection established", "attempt", attempt)
			if s.onSuccess != nil {
				s.onSuccess(attempt)
			}
			attempt = 0
			s.consecutiveHBFail = 0
			return nil
		}

		s.mu.Lock()
		s.stats.ReconnectFailures++
		s.mu.Unlock()
		s.log.Warn("connect attempt failed", "attempt", attempt, "error", err)
		if s.onFailed != nil {
			s.onFailed(attempt, err)
		}

		if s.reconnectCfg.MaxAttempts > 0 && attempt >= s.reconnectCfg.MaxAttempts {
			s.setState(StateFaulted)
			s.log.Error("reconnect attempts exhausted", "attempts", attempt)
			return err
		}

		s.setState(StateWaiting)
		delay := s.reconnectCfg.Delay(attempt, s.jitter)
		s.log.Info("backing off before next reconnect attempt", "delay", delay, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// RunHeartbeat invokes probe every HeartbeatConfig.Interval with a
// HeartbeatConfig.Timeout bound; onUnhealthy is called once consecutive
// failures reach ConsecutiveFailLimit, signaling the caller to reconnect
// immediately rather than waiting for the next backoff slot.
func (s *Supervisor) RunHeartbeat(ctx context.Context, onUnhealthy func()) {
	if s.probe == nil {
		return
	}
	ticker := time.NewTicker(s.heartbeatCfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, s.heartbeatCfg.Timeout)
			err := s.probe(probeCtx)
			cancel()
			if err != nil {
				atomic.AddInt64(&s.consecutiveHBFail, 1)
				s.mu.Lock()
				s.stats.HeartbeatFailures++
				s.mu.Unlock()
				s.log.Warn("heartbeat probe failed", "error", err, "consecutive", atomic.LoadInt64(&s.consecutiveHBFail))
				if atomic.LoadInt64(&s.consecutiveHBFail) >= int64(s.heartbeatCfg.ConsecutiveFailLimit) {
					atomic.StoreInt64(&s.consecutiveHBFail, 0)
					s.log.Warn("heartbeat failure limit reached, forcing reconnect")
					if onUnhealthy != nil {
						onUnhealthy()
					}
				}
			} else {
				atomic.StoreInt64(&s.consecutiveHBFail, 0)
			}
		}
	}
}

// WarmupResult reports latency statistics from a warm-up run.
type WarmupResult struct {
	Iterations int
	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration
	Failures   int
}

// WarmupConfig tunes the pre-market priming run.
type WarmupConfig struct {
	Iterations int
	Spread     time.Duration // total span over which iterations are spread
}

// DefaultWarmupConfig returns the documented defaults: 5 iterations spread
// over 5 minutes.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{Iterations: 5, Spread: 5 * time.Minute}
}

// String renders a WarmupResult as an operator-readable diagnostic line.
func (r WarmupResult) String() string {
	return fmt.Sprintf("%d/%d probes ok, %d failed, latency min=%s max=%s avg=%s",
		r.Iterations, r.Iterations+r.Failures, r.Failures,
		r.MinLatency, r.MaxLatency, r.AvgLatency)
}

// DelayString renders a reconnect backoff delay the way operator logs show
// it, e.g. "8 seconds from now".
func DelayString(delay time.Duration) string {
	return humanize.RelTime(time.Time{}.Add(delay), time.Time{}, "", "from now")
}

// NewHTTPProbe returns a ProbeFunc that performs a bounded-retry GET against
// url. It exercises the real transport path rather than a no-op, so warm-up
// latency reflects actual network/TLS handshake cost.
func NewHTTPProbe(url string, maxRetries int) ProbeFunc {
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.Logger = nil

	return func(ctx context.Context) error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return nil
	}
}

// Warmup executes cfg.Iterations lightweight request/response probes,
// spaced evenly across cfg.Spread, and reports latency statistics.
func Warmup(ctx context.Context, cfg WarmupConfig, probe ProbeFunc) WarmupResult {
	var result WarmupResult
	if cfg.Iterations <= 0 {
		return result
	}
	interval := cfg.Spread
	if cfg.Iterations > 1 {
		interval = cfg.Spread / time.Duration(cfg.Iterations-1)
	}

	var total time.Duration
	for i := 0; i < cfg.Iterations; i++ {
		start := time.Now()
		err := probe(ctx)
		elapsed := time.Since(start)

		if err != nil {
			result.Failures++
		} else {
			result.Iterations++
			total += elapsed
			if result.MinLatency == 0 || elapsed < result.MinLatency {
				result.MinLatency = elapsed
			}
			if elapsed > result.MaxLatency {
				result.MaxLatency = elapsed
			}
		}

		if i < cfg.Iterations-1 {
			select {
			case <-ctx.Done():
				return result
			case <-time.After(interval):
			}
		}
	}
	if result.Iterations > 0 {
		result.AvgLatency = total / time.Duration(result.Iterations)
	}
	return result
}
