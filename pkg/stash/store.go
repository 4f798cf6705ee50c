package stash

import (
	"sync"
	"time"
)

// Store is a concurrency-safe mapping from string key to Entry[V] for one
// value kind. Any number of Get/Snapshot calls may proceed together; mutating
// operations are mutually exclusive with everything else on the same store.
// Two different Store instances are fully independent.
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
}

// NewStore creates an empty store.
func NewStore[V any]() *Store[V] {
	return &Store[V]{entries: make(map[string]Entry[V])}
}

// Get returns the stored entry verbatim. Expiration is the caller's
// responsibility; this method does not filter expired entries.
func (s *Store[V]) Get(key string) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return e, ok
}

// Set inserts or replaces the entry for key.
func (s *Store[V]) Set(key string, e Entry[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = e
}

// Remove deletes the entry for key if present.
func (s *Store[V]) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// RemoveAll replaces the backing map with an empty one.
func (s *Store[V]) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry[V])
}

// Snapshot returns a full copy of the backing map.
func (s *Store[V]) Snapshot() map[string]Entry[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry[V], len(s.entries))
	for k, e := range s.entries {
		out[k] = e
	}
	return out
}

// SweepExpired removes every entry whose expiration is earlier than now and
// returns how many entries were removed. O(n); meant to run periodically from
// the maintenance loop, not on every read.
func (s *Store[V]) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// LoadInitial replaces the backing map wholesale. Used once at startup,
// before any other access is possible.
func (s *Store[V]) LoadInitial(entries map[string]Entry[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entries == nil {
		entries = make(map[string]Entry[V])
	}
	s.entries = entries
}

// Len returns the number of entries, expired ones included.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}
