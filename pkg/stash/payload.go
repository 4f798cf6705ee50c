package stash

import (
	"time"

	"github.com/google/uuid"
)

// Payload is a structured cache value tied to an owning identifier. Owner
// lookups are linear scans; there is no secondary index.
type Payload struct {
	OwnerID uuid.UUID `json:"owner_id"`
	Kind    string    `json:"kind"`
	Value   string    `json:"value"`
}

// PayloadStore is a Store[Payload] with owner-scoped scan operations.
type PayloadStore struct {
	*Store[Payload]
}

// NewPayloadStore creates an empty payload store.
func NewPayloadStore() *PayloadStore {
	return &PayloadStore{Store: NewStore[Payload]()}
}

// AllForOwner returns every payload owned by owner, excluding entries already
// expired at scan time.
func (s *PayloadStore) AllForOwner(owner uuid.UUID, now time.Time) []Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Payload
	for _, e := range s.entries {
		if e.Body.OwnerID == owner && !e.Expired(now) {
			out = append(out, e.Body)
		}
	}
	return out
}

// RemoveForOwner deletes every payload owned by owner and returns the keys
// that were removed.
func (s *PayloadStore) RemoveForOwner(owner uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, e := range s.entries {
		if e.Body.OwnerID == owner {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return keys
}

// UpdateValueForOwner replaces the Value field of every payload owned by
// owner, preserving the rest of the payload and each entry's expiration.
// It returns the affected keys mapped to their new entries.
func (s *PayloadStore) UpdateValueForOwner(newValue string, owner uuid.UUID) map[string]Entry[Payload] {
	s.mu.Lock()
	defer s.mu.Unlock()

	affected := make(map[string]Entry[Payload])
	for k, e := range s.entries {
		if e.Body.OwnerID != owner {
			continue
		}
		e.Body.Value = newValue
		s.entries[k] = e
		affected[k] = e
	}
	return affected
}
