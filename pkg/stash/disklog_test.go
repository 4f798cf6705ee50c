package stash

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *DiskLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stash.log")
	l, err := NewDiskLog(path, nil, nil, DiskLogConfig{AppendRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	return l
}

func appendRaw(t *testing.T, l *DiskLog, line string) {
	t.Helper()
	f, err := os.OpenFile(l.Path(), os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestDiskLogAppendAndReplay(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now()

	id := uuid.New()
	payload := Payload{OwnerID: uuid.New(), Kind: "token", Value: "secret"}
	payloadBody, err := json.Marshal(payload)
	require.NoError(t, err)

	records := []Record{
		NewRecord("k:str", KindString, "v1", nil),
		NewRecord("k:str", KindString, "v2", nil), // later record wins
		NewRecord("k:int", KindInt, encodeIntBody(99), nil),
		NewRecord("k:date", KindDate, encodeDateBody(time.Unix(1700000000, 0)), nil),
		NewRecord("k:uuid", KindUUID, id.String(), nil),
		NewRecord("k:model", KindModel, `{"name":"x"}`, nil),
		NewRecord("k:payload", KindPayload, string(payloadBody), nil),
	}
	for _, rec := range records {
		require.NoError(t, l.Append(ctx, rec))
	}

	snap, err := l.Replay(now)
	require.NoError(t, err)

	require.Contains(t, snap.Strings, "k:str")
	assert.Equal(t, "v2", snap.Strings["k:str"].Body)
	assert.Equal(t, int64(99), snap.Ints["k:int"].Body)
	assert.Equal(t, int64(1700000000), snap.Dates["k:date"].Body.Unix())
	assert.Equal(t, id, snap.UUIDs["k:uuid"].Body)
	assert.Equal(t, `{"name":"x"}`, snap.Models["k:model"].Body)
	assert.Equal(t, payload, snap.Payloads["k:payload"].Body)
}

func TestDiskLogReplaySkipsCorruptAndExpired(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Append(ctx, NewRecord("k:live", KindString, "ok", nil)))
	require.NoError(t, l.Append(ctx, NewRecord("k:dead", KindString, "gone", timePtr(now.Add(-time.Minute)))))
	require.NoError(t, l.Append(ctx, NewRecord("k:badbody", KindDate, "not-a-timestamp", nil)))
	appendRaw(t, l, "{{{ not a record")
	require.NoError(t, l.Append(ctx, NewRecord("k:after", KindString, "still loads", nil)))

	snap, err := l.Replay(now)
	require.NoError(t, err)

	assert.Len(t, snap.Strings, 2)
	assert.Equal(t, "ok", snap.Strings["k:live"].Body)
	assert.Equal(t, "still loads", snap.Strings["k:after"].Body)
	assert.Empty(t, snap.Dates)
}

func TestDiskLogReplayEmptyFile(t *testing.T) {
	l := newTestLog(t)

	snap, err := l.Replay(time.Now())
	require.NoError(t, err)
	assert.Empty(t, snap.Strings)
	assert.Empty(t, snap.Payloads)
}

func TestDiskLogDeleteByKey(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, NewRecord("k1", KindString, "a", nil)))
	require.NoError(t, l.Append(ctx, NewRecord("k1", KindString, "b", nil)))
	require.NoError(t, l.Append(ctx, NewRecord("k2", KindString, "c", nil)))
	appendRaw(t, l, "corrupt line")

	require.NoError(t, l.DeleteByKey("k1"))

	snap, err := l.Replay(time.Now())
	require.NoError(t, err)
	assert.Len(t, snap.Strings, 1)
	assert.Equal(t, "c", snap.Strings["k2"].Body)

	// Both records for k1 and the corrupt line are gone from the file.
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"k1"`)
	assert.NotContains(t, string(data), "corrupt")
}

func TestDiskLogCompact(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Append(ctx, NewRecord("k:forever", KindString, "a", nil)))
	require.NoError(t, l.Append(ctx, NewRecord("k:live", KindString, "b", timePtr(now.Add(time.Hour)))))
	require.NoError(t, l.Append(ctx, NewRecord("k:dead", KindString, "c", timePtr(now.Add(-time.Hour)))))

	require.NoError(t, l.Compact(now))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"k:forever"`)
	assert.Contains(t, string(data), `"k:live"`)
	assert.NotContains(t, string(data), `"k:dead"`)
}

func TestDiskLogCompactIdempotent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Append(ctx, NewRecord("k1", KindString, "a", nil)))
	require.NoError(t, l.Append(ctx, NewRecord("k2", KindString, "b", timePtr(now.Add(time.Hour)))))
	require.NoError(t, l.Append(ctx, NewRecord("k3", KindString, "c", timePtr(now.Add(-time.Hour)))))

	require.NoError(t, l.Compact(now))
	first, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	require.NoError(t, l.Compact(now))
	second, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	assert.Equal(t, first, second, "second compaction with no intervening writes must leave the file byte-for-byte unchanged")
}

func TestDiskLogClear(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Append(context.Background(), NewRecord("k", KindString, "v", nil)))

	require.NoError(t, l.Clear())

	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDiskLogAppendRetryExhaustion(t *testing.T) {
	l := newTestLog(t)

	// Replace the log file with a directory so every open attempt fails.
	require.NoError(t, os.Remove(l.Path()))
	require.NoError(t, os.Mkdir(l.Path(), 0o700))

	err := l.Append(context.Background(), NewRecord("k", KindString, "v", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAppendFailed)
}

func TestNewDiskLogCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stash.log")
	l, err := NewDiskLog(path, nil, nil, DiskLogConfig{})
	require.NoError(t, err)

	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
