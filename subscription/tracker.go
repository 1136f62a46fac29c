// Package subscription implements the subscription-id <-> (symbol, kind)
// registry: a single coarse lock over a small map, idiomatic for a
// structure that is write-rare and read-cheap at this scale — unlike the
// per-symbol hot-path state in collector, which needs the sharded SymbolMap.
package subscription

import (
	"strings"
	"sync"
)

// Kind is the stream kind a subscription covers.
type Kind uint8

const (
	KindTrades Kind = iota
	KindQuotes
	KindDepth
)

func (k Kind) String() string {
	switch k {
	case KindTrades:
		return "trades"
	case KindQuotes:
		return "quotes"
	case KindDepth:
		return "depth"
	default:
		return "unknown"
	}
}

type entry struct {
	symbolKey string
	kind      Kind
}

// Tracker is the thread-safe subscription registry. The zero value is not
// usable; construct with New.
type Tracker struct {
	mu                          sync.Mutex
	nextID                      int
	byID                        map[int]entry
	countBySymbolKind           map[entry]int
	requireExplicitSubscription bool
}

// firstID is the starting value for generated subscription ids.
const firstID = 100_000

// New constructs a Tracker. When requireExplicit is false, ShouldProcess
// always returns true regardless of subscription state.
func New(requireExplicit bool) *Tracker {
	return &Tracker{
		nextID:                      firstID,
		byID:                        make(map[int]entry),
		countBySymbolKind:           make(map[entry]int),
		requireExplicitSubscription: requireExplicit,
	}
}

func normalize(symbol string) string { return strings.ToUpper(symbol) }

// Add registers a new subscription for (symbol, kind) and returns its id.
// Multiple subscriptions may exist for the same (symbol, kind); each gets
// its own id and must be removed independently.
func (t *Tracker) Add(symbol string, kind Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++

	e := entry{symbolKey: normalize(symbol), kind: kind}
	t.byID[id] = e
	t.countBySymbolKind[e]++
	return id
}

// Remove deletes subscription id, reporting whether it existed. The symbol
// is dropped from its kind's active set only once no other subscription on
// the same (symbol, kind) remains.
func (t *Tracker) Remove(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	t.countBySymbolKind[e]--
	if t.countBySymbolKind[e] <= 0 {
		delete(t.countBySymbolKind, e)
	}
	return true
}

// ShouldProcess reports whether events for (symbol, kind) should be
// processed: true if the symbol is actively subscribed for kind, or if
// explicit subscription is not required.
func (t *Tracker) ShouldProcess(symbol string, kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.requireExplicitSubscription {
		return true
	}
	_, ok := t.countBySymbolKind[entry{symbolKey: normalize(symbol), kind: kind}]
	return ok
}

// Lookup returns the (symbol, kind) pair a subscription id refers to.
func (t *Tracker) Lookup(id int) (symbol string, kind Kind, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.byID[id]
	if !exists {
		return "", 0, false
	}
	return e.symbolKey, e.kind, true
}

// Symbols returns a snapshot of the currently-subscribed symbol keys for kind.
func (t *Tracker) Symbols(kind Kind) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.countBySymbolKind))
	for e := range t.countBySymbolKind {
		if e.kind == kind {
			out = append(out, e.symbolKey)
		}
	}
	return out
}
