// Package keyed provides a string-keyed map split into independently locked
// shards.
//
// Every operation on one key runs under that key's shard lock, so a
// read-modify-write through [Map.Compute] is atomic with respect to every
// other operation on the same key, while keys on different shards never
// contend. The shard is chosen by the xxhash of the key.
package keyed

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when New is called with n <= 0.
const DefaultShards = 64

type shard[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// Map is a sharded map from string keys to values of type V. The zero value
// is not usable; construct with [New]. All methods are safe for concurrent
// use.
type Map[V any] struct {
	shards []*shard[V]
}

// New creates a Map with n shards. n is rounded up to a power of two.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	m := &Map[V]{shards: make([]*shard[V], size)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)&uint64(len(m.shards)-1)]
}

// Load returns the value stored under key.
func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

// Store sets the value for key.
func (m *Map[V]) Store(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// LoadAndDelete removes key and returns the value it held.
func (m *Map[V]) LoadAndDelete(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return v, ok
}

// Delete removes key. Deleting an absent key is a no-op.
func (m *Map[V]) Delete(key string) {
	m.LoadAndDelete(key)
}

// Compute runs fn under the key's shard lock with the current value (and
// whether one exists). If fn returns keep == true the result is stored,
// otherwise the key is removed. Compute returns what fn returned.
//
// fn must not call back into the same Map.
func (m *Map[V]) Compute(key string, fn func(cur V, ok bool) (next V, keep bool)) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	next, keep := fn(cur, ok)
	if keep {
		s.m[key] = next
	} else if ok {
		delete(s.m, key)
	}
	return next, keep
}

// DeleteFunc removes every entry for which pred returns true and returns the
// removed entries. Shards are visited one at a time.
func (m *Map[V]) DeleteFunc(pred func(key string, v V) bool) map[string]V {
	removed := make(map[string]V)
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.m {
			if pred(k, v) {
				removed[k] = v
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry until fn returns false. Each shard is locked
// while it is visited; fn must not call back into the same Map.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.m {
			if !fn(k, v) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// Len returns the number of entries. The count is not a consistent snapshot
// while other goroutines mutate the map.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}
