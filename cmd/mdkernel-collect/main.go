// Command mdkernel-collect wires the event-processing kernel end to end:
// a Router dispatching into QuoteCollector/TradeCollector/DepthCollector,
// the integrity/anomaly observers and an OfflineEventQueue spill directory;
// from the conn package it uses only the warm-up run (no ConnectionSupervisor
// is constructed). It has no vendor adapter of its own —
// a real deployment would plug a vendor feed handler in front of the
// Router — and instead exercises the kernel against a JSON-Lines replay
// file, the same shape an adapter would produce.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/relvacode/iso8601"
	json "github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/marketflux/mdkernel/anomaly"
	"github.com/marketflux/mdkernel/collector"
	"github.com/marketflux/mdkernel/conn"
	"github.com/marketflux/mdkernel/integrity"
	"github.com/marketflux/mdkernel/offlinequeue"
	"github.com/marketflux/mdkernel/router"
	"github.com/marketflux/mdkernel/subscription"
)

var (
	replayFile          string
	requireExplicitSub  bool
	spillDir            string
	warmupIterations    int
	warmupSpreadSeconds int
	warmupURL           string
	warmupRetries       int
	serverTimeArg       string
)

func requireNoError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}

func main() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&replayFile, "input", "i", "-", "JSON-Lines file of inbound updates to replay ('-' for stdin)")
	runCmd.Flags().BoolVarP(&requireExplicitSub, "require-subscription", "s", false, "Only process symbols with an active subscription")
	runCmd.Flags().StringVarP(&spillDir, "spill-dir", "d", "./spill", "Directory for offline-queue spill files")
	runCmd.Flags().StringVarP(&serverTimeArg, "server-time", "t", "", "Vendor-reported server time as ISO 8601, for clock-drift logging")

	rootCmd.AddCommand(warmupCmd)
	warmupCmd.Flags().IntVarP(&warmupIterations, "iterations", "n", 5, "Number of warm-up iterations")
	warmupCmd.Flags().IntVarP(&warmupSpreadSeconds, "spread", "p", 300, "Seconds over which iterations are spread")
	warmupCmd.Flags().StringVarP(&warmupURL, "url", "u", "", "Endpoint to probe for each warm-up iteration; a no-op probe runs if empty")
	warmupCmd.Flags().IntVarP(&warmupRetries, "retries", "r", 2, "Max retries per warm-up probe request")

	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&spillDir, "spill-dir", "d", "./spill", "Directory holding spill files to replay")

	requireNoError(rootCmd.Execute())
}

var rootCmd = &cobra.Command{
	Use:   "mdkernel-collect",
	Short: "mdkernel-collect runs the market-data collector kernel.",
	Long:  "mdkernel-collect runs the market-data collector kernel over a replayed event stream.",
}

// inboundRecord is one line of the replay input: a discriminated union over
// the three adapter inbound calls (trade, quote, depth).
type inboundRecord struct {
	Kind  string                      `json:"kind"` // "trade" | "quote" | "depth"
	Trade *mdkernel.MarketTradeUpdate `json:"trade,omitempty"`
	Quote *mdkernel.MarketQuoteUpdate `json:"quote,omitempty"`
	Depth *mdkernel.MarketDepthUpdate `json:"depth,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a JSON-Lines stream of inbound updates through the kernel",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, closer, err := openReplayInput(replayFile)
		if err != nil {
			return err
		}
		defer closer()

		tracker := subscription.New(requireExplicitSub)
		quotes := collector.NewQuoteCollector()
		trades := collector.NewTradeCollector(quotes)
		depth := collector.NewDepthCollector(collector.DefaultDepthCollectorConfig())
		r := router.New(tracker, quotes, trades, depth)

		integritySvc := integrity.New(integrity.DefaultConfig())
		dup := anomaly.NewDuplicateDetector(anomaly.DefaultDuplicateConfig())
		spread := anomaly.NewSpreadMonitor(anomaly.DefaultSpreadThresholds())
		queue := offlinequeue.New(offlinequeue.DefaultConfig(spillDir))

		if serverTimeArg != "" {
			serverTime, err := iso8601.ParseString(serverTimeArg)
			if err != nil {
				return fmt.Errorf("failed to parse --server-time as ISO 8601: %w", err)
			}
			if drift := queue.RecordClockSync("replay", serverTime); drift != nil {
				fmt.Fprintf(os.Stderr, "clock drift detected: %s off by %s (critical=%v)\n", drift.Provider, drift.Drift, drift.Critical)
			}
		}

		r.Subscribe(integritySvc)
		r.Subscribe(dup)
		r.Subscribe(spread)
		r.Subscribe(router.ObserverFunc(func(ev mdkernel.MarketEvent) {
			if !queue.TryEnqueue(ev) {
				fmt.Fprintf(os.Stderr, "warning: offline queue dropped an event for %s\n", ev.Symbol)
			}
		}))
		r.Subscribe(router.ObserverFunc(func(ev mdkernel.MarketEvent) {
			line, err := json.Marshal(ev)
			if err == nil {
				fmt.Fprintln(os.Stdout, string(line))
			}
		}))

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var rec inboundRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				fmt.Fprintf(os.Stderr, "skipping malformed input line: %s\n", err.Error())
				continue
			}
			dispatch(r, rec)
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		summary := integritySvc.Snapshot()
		fmt.Fprintf(os.Stderr, "processed stream; %d symbols with incidents, %d recent alerts; offline queue: %s\n",
			len(summary.TopSymbols), len(summary.RecentAlerts), queue.Describe())
		return nil
	},
}

func dispatch(r *router.Router, rec inboundRecord) {
	switch rec.Kind {
	case "trade":
		if rec.Trade != nil {
			r.OnTrade(*rec.Trade)
		}
	case "quote":
		if rec.Quote != nil {
			r.OnQuote(*rec.Quote)
		}
	case "depth":
		if rec.Depth != nil {
			r.OnDepth(*rec.Depth)
		}
	}
}

func openReplayInput(filename string) (*bufio.Reader, func() error, error) {
	if filename == "-" {
		return bufio.NewReader(os.Stdin), func() error { return nil }, nil
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	return bufio.NewReader(f), f.Close, nil
}

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Run a pre-market connection warm-up and report latency statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := conn.WarmupConfig{
			Iterations: warmupIterations,
			Spread:     time.Duration(warmupSpreadSeconds) * time.Second,
		}
		probe := conn.ProbeFunc(func(ctx context.Context) error { return nil })
		if warmupURL != "" {
			probe = conn.NewHTTPProbe(warmupURL, warmupRetries)
		}
		result := conn.Warmup(context.Background(), cfg, probe)
		fmt.Fprintf(os.Stdout, "warm-up: %s\n", result)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Flush any pending spill files in --spill-dir to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue := offlinequeue.New(offlinequeue.DefaultConfig(spillDir))
		count := 0
		err := queue.ComeOnline(func(batch []offlinequeue.QueuedRecord) (int, error) {
			for _, rec := range batch {
				line, err := json.Marshal(rec.Event)
				if err != nil {
					return count, err
				}
				fmt.Fprintln(os.Stdout, string(line))
				count++
			}
			return len(batch), nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "replayed %d events, %d bad lines skipped\n", count, queue.SkippedBadLines())
		return nil
	},
}
