// Package router implements the dispatch layer between an adapter and the
// collectors: it routes each inbound update to the right per-symbol
// collector, gated by the subscription tracker, and fans the resulting
// events out to every registered observer (a publisher sink, the integrity
// service, the anomaly detectors, or anything else implementing Observer).
package router

import (
	"sync"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/marketflux/mdkernel/collector"
	"github.com/marketflux/mdkernel/subscription"
)

// Observer receives every MarketEvent the Router emits, in emission order
// per (symbol, stream_id).
type Observer interface {
	OnEvent(mdkernel.MarketEvent)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(mdkernel.MarketEvent)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ev mdkernel.MarketEvent) { f(ev) }

// Router dispatches adapter callbacks to the right collector and publishes
// the resulting events to every registered observer.
type Router struct {
	tracker *subscription.Tracker
	quotes  *collector.QuoteCollector
	trades  *collector.TradeCollector
	depth   *collector.DepthCollector

	mu        sync.RWMutex
	observers []Observer
}

// New constructs a Router wired to its three collectors and a subscription
// tracker. Pass tracker=nil to process every symbol unconditionally.
func New(tracker *subscription.Tracker, quotes *collector.QuoteCollector, trades *collector.TradeCollector, depth *collector.DepthCollector) *Router {
	return &Router{tracker: tracker, quotes: quotes, trades: trades, depth: depth}
}

// Subscribe registers an Observer to receive every emitted event.
func (r *Router) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Router) publish(events ...mdkernel.MarketEvent) {
	r.mu.RLock()
	obs := r.observers
	r.mu.RUnlock()
	for _, ev := range events {
		for _, o := range obs {
			o.OnEvent(ev)
		}
	}
}

func (r *Router) shouldProcess(symbol string, kind subscription.Kind) bool {
	if r.tracker == nil {
		return true
	}
	return r.tracker.ShouldProcess(symbol, kind)
}

// OnTrade dispatches a trade update to the TradeCollector.
func (r *Router) OnTrade(u mdkernel.MarketTradeUpdate) {
	if !r.shouldProcess(u.Symbol, subscription.KindTrades) {
		return
	}
	r.publish(r.trades.OnTrade(u)...)
}

// OnQuote dispatches a quote update to the QuoteCollector.
func (r *Router) OnQuote(u mdkernel.MarketQuoteUpdate) {
	if !r.shouldProcess(u.Symbol, subscription.KindQuotes) {
		return
	}
	r.publish(r.quotes.OnQuote(u))
}

// OnDepth dispatches a depth delta to the DepthCollector.
func (r *Router) OnDepth(u mdkernel.MarketDepthUpdate) {
	if !r.shouldProcess(u.Symbol, subscription.KindDepth) {
		return
	}
	r.publish(r.depth.OnDepth(u)...)
}

// SubscribeTrades registers interest in symbol's trade stream.
func (r *Router) SubscribeTrades(symbol string) int {
	return r.tracker.Add(symbol, subscription.KindTrades)
}

// SubscribeQuotes registers interest in symbol's quote stream.
func (r *Router) SubscribeQuotes(symbol string) int {
	return r.tracker.Add(symbol, subscription.KindQuotes)
}

// SubscribeDepth registers interest in symbol's depth stream. levels is
// advisory (adapters use it to size their book request) and is not enforced
// by the kernel itself.
func (r *Router) SubscribeDepth(symbol string, levels int) int {
	return r.tracker.Add(symbol, subscription.KindDepth)
}

// Unsubscribe removes a subscription by id.
func (r *Router) Unsubscribe(id int) bool {
	return r.tracker.Remove(id)
}
