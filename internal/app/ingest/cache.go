// Package ingest coordinates the cast ingestion pipeline: idempotency
// classification, in-flight suppression, workout extraction and durable
// state transitions for processing records.
package ingest

import (
	"sync"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
)

// HashCache is a bounded membership set of cast hashes used to short-circuit
// duplicate work without touching the durable store. Implementations must be
// safe for concurrent use. Entries may be evicted at any time; a miss never
// implies the hash is unknown, only that the durable store must be consulted.
type HashCache interface {
	Add(hash feed.CastHash)
	Contains(hash feed.CastHash) bool
	Len() int
}

// EvictionPolicy selects the hashes that survive an overflow. It receives the
// current members in insertion order, oldest first, and returns the ones to
// keep. The returned slice may alias the input.
type EvictionPolicy func(order []feed.CastHash) []feed.CastHash

// KeepNewestHalf is the default eviction policy. It drops the older half of
// the set in one step, trading eviction precision for zero per-hit
// bookkeeping on the lookup path.
func KeepNewestHalf(order []feed.CastHash) []feed.CastHash {
	return order[len(order)/2:]
}

// boundedHashSet is a HashCache backed by a plain map plus an insertion-order
// slice. Re-adding an existing hash does not refresh its position; recency is
// tracked only at insertion, which is deliberate given the access pattern
// (a hash is usually added once and looked up many times).
type boundedHashSet struct {
	mu       sync.RWMutex
	capacity int
	policy   EvictionPolicy
	members  map[feed.CastHash]struct{}
	order    []feed.CastHash
}

// BoundedHashSetOption configures a boundedHashSet.
type BoundedHashSetOption func(*boundedHashSet)

// WithEvictionPolicy overrides the eviction policy applied on overflow.
func WithEvictionPolicy(policy EvictionPolicy) BoundedHashSetOption {
	return func(s *boundedHashSet) { s.policy = policy }
}

// NewBoundedHashSet creates a HashCache holding at most capacity hashes.
// Capacities below 1 are clamped to 1.
func NewBoundedHashSet(capacity int, opts ...BoundedHashSetOption) *boundedHashSet {
	if capacity < 1 {
		capacity = 1
	}
	s := &boundedHashSet{
		capacity: capacity,
		policy:   KeepNewestHalf,
		members:  make(map[feed.CastHash]struct{}, capacity),
		order:    make([]feed.CastHash, 0, capacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *boundedHashSet) Add(hash feed.CastHash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[hash]; ok {
		return
	}
	s.members[hash] = struct{}{}
	s.order = append(s.order, hash)

	if len(s.members) <= s.capacity {
		return
	}

	kept := s.policy(s.order)
	members := make(map[feed.CastHash]struct{}, len(kept))
	order := make([]feed.CastHash, 0, s.capacity)
	for _, h := range kept {
		if _, ok := members[h]; ok {
			continue
		}
		members[h] = struct{}{}
		order = append(order, h)
	}
	s.members = members
	s.order = order
}

func (s *boundedHashSet) Contains(hash feed.CastHash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[hash]
	return ok
}

func (s *boundedHashSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}
