package mdkernel

import (
	"hash/maphash"
	"sync"
)

// shardCount is the number of buckets a SymbolMap splits its keys across.
// The hot path is dominated by per-symbol updates, so reads and
// get-or-create writes to *different* symbols must not contend on a
// single lock.
const shardCount = 64

// SymbolMap is a concurrent map keyed by normalized symbol, sharded by
// hash(key) into independently-locked buckets. GetOrCreate is idempotent:
// concurrent callers racing to create the same key observe the same value.
type SymbolMap[V any] struct {
	seed   maphash.Seed
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu sync.Mutex
	m  map[string]*V
}

// NewSymbolMap constructs an empty SymbolMap. Entries are created only by
// GetOrCreate, using the constructor passed to it.
func NewSymbolMap[V any]() *SymbolMap[V] {
	sm := &SymbolMap[V]{seed: maphash.MakeSeed()}
	for i := range sm.shards {
		sm.shards[i].m = make(map[string]*V)
	}
	return sm
}

func (sm *SymbolMap[V]) shardFor(key string) *shard[V] {
	h := maphash.String(sm.seed, key)
	return &sm.shards[h%shardCount]
}

// GetOrCreate returns the existing value for key, constructing one via
// newVal if absent. The returned pointer is stable for the key's lifetime.
func (sm *SymbolMap[V]) GetOrCreate(key string, newVal func() *V) *V {
	sh := sm.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if v, ok := sh.m[key]; ok {
		return v
	}
	v := newVal()
	sh.m[key] = v
	return v
}

// Get returns the value for key and whether it was present.
func (sm *SymbolMap[V]) Get(key string) (*V, bool) {
	sh := sm.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.m[key]
	return v, ok
}

// Delete removes key, returning whether it was present.
func (sm *SymbolMap[V]) Delete(key string) bool {
	sh := sm.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.m[key]; !ok {
		return false
	}
	delete(sh.m, key)
	return true
}

// Range calls fn for every entry. fn must not call back into sm.
func (sm *SymbolMap[V]) Range(fn func(key string, v *V)) {
	for i := range sm.shards {
		sh := &sm.shards[i]
		sh.mu.Lock()
		for k, v := range sh.m {
			fn(k, v)
		}
		sh.mu.Unlock()
	}
}

// DeleteWhere removes every entry for which pred returns true, returning the
// number of entries removed. Used by inactivity sweepers.
func (sm *SymbolMap[V]) DeleteWhere(pred func(key string, v *V) bool) int {
	removed := 0
	for i := range sm.shards {
		sh := &sm.shards[i]
		sh.mu.Lock()
		for k, v := range sh.m {
			if pred(k, v) {
				delete(sh.m, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
