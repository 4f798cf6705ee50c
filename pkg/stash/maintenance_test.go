package stash

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceSweepsExpiredEntries(t *testing.T) {
	cache := New(
		WithRootDir(t.TempDir()),
		WithFlushInterval(10*time.Millisecond),
	)
	require.NoError(t, cache.Initialize("sweep"))
	defer cache.Close()

	past := timePtr(time.Now().Add(-time.Minute))
	require.NoError(t, cache.SetString("k:dead", "x", past, SaveNone))
	require.NoError(t, cache.SetString("k:live", "y", nil, SaveNone))

	// The sweep phase runs one flush interval into each loop iteration.
	require.Eventually(t, func() bool {
		_, ok := cache.strings.Get("k:dead")
		return !ok
	}, time.Second, 5*time.Millisecond, "expired entry should be physically removed by the sweep")

	_, ok := cache.strings.Get("k:live")
	assert.True(t, ok, "live entry must survive the sweep")
}

func TestMaintenanceCompactsLog(t *testing.T) {
	cache := New(
		WithRootDir(t.TempDir()),
		WithFlushInterval(10*time.Millisecond),
	)
	require.NoError(t, cache.Initialize("compact"))
	defer cache.Close()

	past := timePtr(time.Now().Add(-time.Minute))
	require.NoError(t, cache.SetString("k:dead", "x", past, SaveSync))
	require.NoError(t, cache.SetString("k:live", "y", nil, SaveSync))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(cache.LogPath())
		if err != nil {
			return false
		}
		return !bytes.Contains(data, []byte(`"k:dead"`)) && bytes.Contains(data, []byte(`"k:live"`))
	}, time.Second, 5*time.Millisecond, "compaction should drop the expired record and keep the live one")
}

func TestCloseStopsMaintenance(t *testing.T) {
	cache := New(
		WithRootDir(t.TempDir()),
		WithFlushInterval(5*time.Millisecond),
	)
	require.NoError(t, cache.Initialize("close"))

	require.NoError(t, cache.Close())
	// Close is safe to call again and on a never-initialized cache.
	require.NoError(t, cache.Close())
	require.NoError(t, New().Close())
}

func TestSleepFlushIntervalHonorsCancellation(t *testing.T) {
	cache := New(WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- cache.sleepFlushInterval(ctx) }()

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok, "cancellation must interrupt the sleep")
	case <-time.After(time.Second):
		t.Fatal("sleep did not observe cancellation")
	}
}
