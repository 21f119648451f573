package security

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const shardCount = 256

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// shardedMap spreads keyed state over independently locked shards so that
// unrelated keys never contend and a single key is always serialized.
type shardedMap[V any] struct {
	shards [shardCount]*shard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *shardedMap[V]) shardFor(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))%shardCount]
}

// update runs fn under the key's shard lock. fn gets the current value and
// whether it exists, and returns the value to store and whether to keep it.
func (m *shardedMap[V]) update(key string, fn func(v V, ok bool) (V, bool)) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v, ok := sh.items[key]
	nv, keep := fn(v, ok)
	switch {
	case keep:
		sh.items[key] = nv
	case ok:
		delete(sh.items, key)
	}
}

// sweep visits every entry shard by shard with the same contract as update
func (m *shardedMap[V]) sweep(fn func(key string, v V) (V, bool)) {
	for _, sh := range m.shards {
		sh.mu.Lock()
		for k, v := range sh.items {
			if nv, keep := fn(k, v); keep {
				sh.items[k] = nv
			} else {
				delete(sh.items, k)
			}
		}
		sh.mu.Unlock()
	}
}

// each visits every entry without modifying it
func (m *shardedMap[V]) each(fn func(key string, v V)) {
	for _, sh := range m.shards {
		sh.mu.Lock()
		for k, v := range sh.items {
			fn(k, v)
		}
		sh.mu.Unlock()
	}
}

func (m *shardedMap[V]) len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}
