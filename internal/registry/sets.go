package registry

import (
	"hash/maphash"
	"sync"
)

// DefaultShards is used when a non-positive shard count is requested.
const DefaultShards = 64

// KeyedSets maps a key to a set of values. Keys are spread across shards that
// each carry their own lock, so operations on unrelated keys never contend.
// Every read returns a copy; empty sets are never retained.
type KeyedSets[K comparable, V comparable] struct {
	shards []*setShard[K, V]
	hash   func(K) uint64
}

type setShard[K comparable, V comparable] struct {
	mu   sync.RWMutex
	sets map[K]map[V]struct{}
}

func NewKeyedSets[K comparable, V comparable](shards int, hash func(K) uint64) *KeyedSets[K, V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &KeyedSets[K, V]{
		shards: make([]*setShard[K, V], shards),
		hash:   hash,
	}
	for i := range s.shards {
		s.shards[i] = &setShard[K, V]{sets: make(map[K]map[V]struct{})}
	}
	return s
}

func (s *KeyedSets[K, V]) shard(key K) *setShard[K, V] {
	return s.shards[s.hash(key)%uint64(len(s.shards))]
}

// Add inserts v under key. created reports that key had no set before.
func (s *KeyedSets[K, V]) Add(key K, v V) (created bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.sets[key]
	if !ok {
		set = make(map[V]struct{})
		sh.sets[key] = set
	}
	set[v] = struct{}{}
	return !ok
}

// Remove deletes v from key's set. emptied reports that the key entry was dropped.
func (s *KeyedSets[K, V]) Remove(key K, v V) (emptied bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.sets[key]
	if !ok {
		return false
	}
	if _, present := set[v]; !present {
		return false
	}
	delete(set, v)
	if len(set) == 0 {
		delete(sh.sets, key)
		return true
	}
	return false
}

// Delete drops the whole entry for key and returns what it held.
func (s *KeyedSets[K, V]) Delete(key K) []V {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set := sh.sets[key]
	delete(sh.sets, key)
	return copySet(set)
}

// Values returns a snapshot of key's set, nil when absent.
func (s *KeyedSets[K, V]) Values(key K) []V {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return copySet(sh.sets[key])
}

func (s *KeyedSets[K, V]) Has(key K) bool {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.sets[key]
	return ok
}

func (s *KeyedSets[K, V]) Contains(key K, v V) bool {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.sets[key][v]
	return ok
}

// Keys returns every key currently holding a non-empty set. Shards are visited
// one at a time, so the result is not a global point-in-time view.
func (s *KeyedSets[K, V]) Keys() []K {
	var keys []K
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.sets {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	return keys
}

// Len is the number of keys.
func (s *KeyedSets[K, V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sets)
		sh.mu.RUnlock()
	}
	return n
}

func copySet[V comparable](set map[V]struct{}) []V {
	if len(set) == 0 {
		return nil
	}
	out := make([]V, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

// HashInt64 spreads sequential ids across shards (splitmix64 finalizer).
func HashInt64(k int64) uint64 {
	x := uint64(k)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

var stringSeed = maphash.MakeSeed()

func HashString(k string) uint64 {
	return maphash.String(stringSeed, k)
}
