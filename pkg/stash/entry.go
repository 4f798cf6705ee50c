package stash

import "time"

// Entry is one cached value plus its optional expiration. A nil ExpiresAt
// means the entry never expires. Entries are immutable once stored; a new
// Set for the same key fully replaces the prior entry.
type Entry[V any] struct {
	Body      V
	ExpiresAt *time.Time
}

// Expired reports whether the entry's expiration is in the past relative to now.
func (e Entry[V]) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}
