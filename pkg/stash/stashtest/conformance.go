// Package stashtest provides conformance tests for the stash.Cache surface.
package stashtest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/namihq/stash/pkg/stash"
)

// CacheFactory creates a fresh Cache instance for testing. The harness calls
// Close on every cache it receives.
type CacheFactory func(t *testing.T) *stash.Cache

// RunConformanceTests runs the behavioral contract against a Cache, whether
// memory-only or disk-backed.
func RunConformanceTests(t *testing.T, factory CacheFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, cache *stash.Cache)
	}{
		{"SetGetRoundTrip", testSetGetRoundTrip},
		{"LastWriteWins", testLastWriteWins},
		{"ExpiredEntryReadsAsMiss", testExpiredEntryReadsAsMiss},
		{"RemoveHidesKey", testRemoveHidesKey},
		{"RemoveAll", testRemoveAll},
		{"OwnerScopedPayloads", testOwnerScopedPayloads},
		{"ConcurrentReadersAndWriters", testConcurrentReadersAndWriters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := factory(t)
			defer cache.Close()
			tt.test(t, cache)
		})
	}
}

func testSetGetRoundTrip(t *testing.T, cache *stash.Cache) {
	if err := cache.SetString("k:string", "hello", nil, stash.SaveNone); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if v, ok := cache.GetString("k:string"); !ok || v != "hello" {
		t.Fatalf("GetString = %q, %v; want %q, true", v, ok, "hello")
	}

	if err := cache.SetInt("k:int", 42, nil, stash.SaveNone); err != nil {
		t.Fatalf("SetInt failed: %v", err)
	}
	if v, ok := cache.GetInt("k:int"); !ok || v != 42 {
		t.Fatalf("GetInt = %d, %v; want 42, true", v, ok)
	}

	stamp := time.Unix(1700000000, 0)
	if err := cache.SetTime("k:time", stamp, nil, stash.SaveNone); err != nil {
		t.Fatalf("SetTime failed: %v", err)
	}
	if v, ok := cache.GetTime("k:time"); !ok || !v.Equal(stamp) {
		t.Fatalf("GetTime = %v, %v; want %v, true", v, ok, stamp)
	}

	id := uuid.New()
	if err := cache.SetUUID("k:uuid", id, nil, stash.SaveNone); err != nil {
		t.Fatalf("SetUUID failed: %v", err)
	}
	if v, ok := cache.GetUUID("k:uuid"); !ok || v != id {
		t.Fatalf("GetUUID = %v, %v; want %v, true", v, ok, id)
	}

	if err := cache.SetModel("k:model", `{"a":1}`, nil, stash.SaveNone); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}
	if v, ok := cache.GetModel("k:model"); !ok || v != `{"a":1}` {
		t.Fatalf("GetModel = %q, %v; want JSON body, true", v, ok)
	}

	p := stash.Payload{OwnerID: uuid.New(), Kind: "token", Value: "abc"}
	if err := cache.SetPayload("k:payload", p, nil, stash.SaveNone); err != nil {
		t.Fatalf("SetPayload failed: %v", err)
	}
	if v, ok := cache.GetPayload("k:payload"); !ok || v != p {
		t.Fatalf("GetPayload = %+v, %v; want %+v, true", v, ok, p)
	}
}

func testLastWriteWins(t *testing.T, cache *stash.Cache) {
	if err := cache.SetString("k1", "hello", nil, stash.SaveNone); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if err := cache.SetString("k1", "world", nil, stash.SaveNone); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if v, ok := cache.GetString("k1"); !ok || v != "world" {
		t.Fatalf("GetString = %q, %v; want %q, true", v, ok, "world")
	}
}

func testExpiredEntryReadsAsMiss(t *testing.T, cache *stash.Cache) {
	past := time.Now().Add(-time.Minute)
	if err := cache.SetString("k:expired", "stale", &past, stash.SaveNone); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if v, ok := cache.GetString("k:expired"); ok {
		t.Fatalf("expected miss for expired entry, got %q", v)
	}

	future := time.Now().Add(time.Hour)
	if err := cache.SetString("k:live", "fresh", &future, stash.SaveNone); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if v, ok := cache.GetString("k:live"); !ok || v != "fresh" {
		t.Fatalf("GetString = %q, %v; want %q, true", v, ok, "fresh")
	}
}

func testRemoveHidesKey(t *testing.T, cache *stash.Cache) {
	if err := cache.SetString("k:rm", "value", nil, stash.SaveNone); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if err := cache.RemoveString("k:rm", stash.SaveNone); err != nil {
		t.Fatalf("RemoveString failed: %v", err)
	}
	if v, ok := cache.GetString("k:rm"); ok {
		t.Fatalf("expected miss after remove, got %q", v)
	}

	// Removing a missing key is a no-op.
	if err := cache.RemoveString("k:never", stash.SaveNone); err != nil {
		t.Fatalf("RemoveString of missing key failed: %v", err)
	}
}

func testRemoveAll(t *testing.T, cache *stash.Cache) {
	if err := cache.SetString("k:s", "v", nil, stash.SaveNone); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if err := cache.SetInt("k:i", 7, nil, stash.SaveNone); err != nil {
		t.Fatalf("SetInt failed: %v", err)
	}

	if err := cache.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	if _, ok := cache.GetString("k:s"); ok {
		t.Fatal("expected string store to be empty after RemoveAll")
	}
	if _, ok := cache.GetInt("k:i"); ok {
		t.Fatal("expected int store to be empty after RemoveAll")
	}
}

func testOwnerScopedPayloads(t *testing.T, cache *stash.Cache) {
	owner := uuid.New()
	other := uuid.New()

	set := func(key string, p stash.Payload) {
		if err := cache.SetPayload(key, p, nil, stash.SaveNone); err != nil {
			t.Fatalf("SetPayload failed: %v", err)
		}
	}
	set("p1", stash.Payload{OwnerID: owner, Kind: "token", Value: "a"})
	set("p2", stash.Payload{OwnerID: owner, Kind: "token", Value: "b"})
	set("p3", stash.Payload{OwnerID: other, Kind: "token", Value: "c"})

	if got := cache.PayloadsForOwner(owner); len(got) != 2 {
		t.Fatalf("PayloadsForOwner(owner) = %d payloads; want 2", len(got))
	}

	keys, err := cache.RemovePayloadsForOwner(owner, stash.SaveNone)
	if err != nil {
		t.Fatalf("RemovePayloadsForOwner failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("RemovePayloadsForOwner removed %d keys; want 2", len(keys))
	}

	if got := cache.PayloadsForOwner(owner); len(got) != 0 {
		t.Fatalf("PayloadsForOwner(owner) = %d payloads after removal; want 0", len(got))
	}
	if got := cache.PayloadsForOwner(other); len(got) != 1 {
		t.Fatalf("PayloadsForOwner(other) = %d payloads; want 1", len(got))
	}
}

func testConcurrentReadersAndWriters(t *testing.T, cache *stash.Cache) {
	const writers = 8
	const readers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d:k%d", w, i)
				if err := cache.SetString(key, key, nil, stash.SaveNone); err != nil {
					t.Errorf("SetString failed: %v", err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < perWriter*writers; i++ {
				key := fmt.Sprintf("w%d:k%d", i%writers, i%perWriter)
				if v, ok := cache.GetString(key); ok && v != key {
					t.Errorf("partially written entry: key %q read %q", key, v)
					return
				}
			}
		}(r)
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("w%d:k%d", w, i)
			if v, ok := cache.GetString(key); !ok || v != key {
				t.Fatalf("GetString(%q) = %q, %v; want the written value", key, v, ok)
			}
		}
	}
}
