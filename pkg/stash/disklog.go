package stash

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultAppendRetries bounds how many times an append is attempted
	// before surfacing ErrAppendFailed.
	DefaultAppendRetries = 10
	// DefaultRetryDelay is the pause between append attempts.
	DefaultRetryDelay = 5 * time.Second

	maxLineBytes = 4 * 1024 * 1024
)

// DiskLogConfig carries the append retry knobs. Zero values select the
// defaults above; the exact retry budget is a tunable, not a contract.
type DiskLogConfig struct {
	AppendRetries int
	RetryDelay    time.Duration
}

func (c DiskLogConfig) withDefaults() DiskLogConfig {
	if c.AppendRetries <= 0 {
		c.AppendRetries = DefaultAppendRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// DiskLog is an append-only record log on a single file. All file-touching
// operations serialize on an internal mutex, so a compaction can never
// interleave with a point deletion's truncate-and-rewrite. File handles are
// scoped per operation and closed on every exit path.
type DiskLog struct {
	mu      sync.Mutex
	path    string
	logger  *zap.SugaredLogger
	metrics *Metrics
	cfg     DiskLogConfig
}

// NewDiskLog opens (creating if necessary) the log file at path. Structural
// errors such as an unwritable directory surface here rather than on first use.
func NewDiskLog(path string, logger *zap.SugaredLogger, metrics *Metrics, cfg DiskLogConfig) (*DiskLog, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("disk log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("disk log open: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("disk log close: %w", err)
	}

	return &DiskLog{
		path:    path,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
	}, nil
}

// Path returns the location of the backing file.
func (l *DiskLog) Path() string { return l.path }

// Append serializes the record and appends it to the end of the file.
// Transient open/write failures are retried up to the configured budget with
// a fixed delay between attempts; after the budget is exhausted the error
// wraps ErrAppendFailed.
func (l *DiskLog) Append(ctx context.Context, rec Record) error {
	line, err := rec.EncodeLine()
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Every(l.cfg.RetryDelay), 1)

	var lastErr error
	for attempt := 1; attempt <= l.cfg.AppendRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("disk log append canceled: %w", err)
		}

		if lastErr = l.appendOnce(line); lastErr == nil {
			if l.metrics != nil {
				l.metrics.RecordAppend(ctx)
			}
			return nil
		}

		l.logger.Warnw("Disk log append attempt failed",
			"path", l.path,
			"key", rec.Key,
			"attempt", attempt,
			"error", lastErr,
		)
	}

	if l.metrics != nil {
		l.metrics.RecordAppendError(ctx)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrAppendFailed, l.cfg.AppendRetries, lastErr)
}

func (l *DiskLog) appendOnce(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DeleteByKey rewrites the file keeping only records whose key does not
// match. A record that fails to decode is logged and dropped from the
// rewritten file rather than kept.
func (l *DiskLog) DeleteByKey(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, _, err := l.rewrite(func(r Record) bool { return r.Key != key })
	return err
}

// Compact rewrites the file keeping only records whose expiration is absent
// or in the future relative to now. Bounds file growth over time; compacting
// twice with no intervening writes leaves the file unchanged.
func (l *DiskLog) Compact(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped, _, err := l.rewrite(func(r Record) bool { return !r.Expired(now) })
	if err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.RecordCompaction(context.Background(), int64(dropped))
	}
	return nil
}

// Clear truncates the file to empty.
func (l *DiskLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Truncate(l.path, 0); err != nil {
		return fmt.Errorf("disk log clear: %w", err)
	}
	return nil
}

// rewrite scans the whole file, buffers lines whose decoded record satisfies
// keep, then atomically replaces the file with the buffered lines via a temp
// file and rename. Returns how many decodable records were filtered out and
// how many corrupt lines were dropped. Caller must hold l.mu.
func (l *DiskLog) rewrite(keep func(Record) bool) (dropped, corrupt int, err error) {
	f, err := os.Open(l.path)
	if err != nil {
		return 0, 0, fmt.Errorf("disk log read: %w", err)
	}

	var kept [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, decErr := DecodeRecord(line)
		if decErr != nil {
			corrupt++
			l.logger.Warnw("Dropping corrupt disk log line", "path", l.path, "error", decErr)
			continue
		}
		if !keep(rec) {
			dropped++
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	if scanErr := scanner.Err(); scanErr != nil {
		f.Close()
		return 0, 0, fmt.Errorf("disk log scan: %w", scanErr)
	}
	if err := f.Close(); err != nil {
		return 0, 0, fmt.Errorf("disk log close: %w", err)
	}

	if corrupt > 0 && l.metrics != nil {
		l.metrics.RecordDropped(context.Background(), int64(corrupt))
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), "stash-rewrite-*.log")
	if err != nil {
		return 0, 0, fmt.Errorf("disk log rewrite: %w", err)
	}
	for _, line := range kept {
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return 0, 0, fmt.Errorf("disk log rewrite: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, 0, fmt.Errorf("disk log rewrite: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return 0, 0, fmt.Errorf("disk log rewrite: %w", err)
	}
	return dropped, corrupt, nil
}

// ReplaySnapshot holds the six typed mappings rebuilt from a full log scan.
type ReplaySnapshot struct {
	Dates    map[string]Entry[time.Time]
	Ints     map[string]Entry[int64]
	Strings  map[string]Entry[string]
	UUIDs    map[string]Entry[uuid.UUID]
	Models   map[string]Entry[string]
	Payloads map[string]Entry[Payload]
}

func newReplaySnapshot() *ReplaySnapshot {
	return &ReplaySnapshot{
		Dates:    make(map[string]Entry[time.Time]),
		Ints:     make(map[string]Entry[int64]),
		Strings:  make(map[string]Entry[string]),
		UUIDs:    make(map[string]Entry[uuid.UUID]),
		Models:   make(map[string]Entry[string]),
		Payloads: make(map[string]Entry[Payload]),
	}
}

// Replay scans the whole file and rebuilds the typed mappings. Later records
// for the same key overwrite earlier ones because insertion follows file
// order. Corrupt lines and unparseable bodies are logged and skipped; records
// already expired at now are excluded.
func (l *DiskLog) Replay(now time.Time) (*ReplaySnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("disk log read: %w", err)
	}
	defer f.Close()

	snap := newReplaySnapshot()
	var skipped int64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, decErr := DecodeRecord(line)
		if decErr != nil {
			skipped++
			l.logger.Warnw("Skipping corrupt disk log line", "path", l.path, "error", decErr)
			continue
		}
		if rec.Expired(now) {
			continue
		}
		if err := snap.apply(rec); err != nil {
			skipped++
			l.logger.Warnw("Skipping undecodable record body",
				"path", l.path,
				"key", rec.Key,
				"kind", rec.Kind,
				"error", err,
			)
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, fmt.Errorf("disk log scan: %w", scanErr)
	}

	if skipped > 0 && l.metrics != nil {
		l.metrics.RecordDropped(context.Background(), skipped)
	}
	return snap, nil
}

func (s *ReplaySnapshot) apply(rec Record) error {
	exp := rec.Expiry()
	switch rec.Kind {
	case KindDate:
		t, err := parseDateBody(rec.Body)
		if err != nil {
			return err
		}
		s.Dates[rec.Key] = Entry[time.Time]{Body: t, ExpiresAt: exp}
	case KindInt:
		n, err := parseIntBody(rec.Body)
		if err != nil {
			return err
		}
		s.Ints[rec.Key] = Entry[int64]{Body: n, ExpiresAt: exp}
	case KindString:
		s.Strings[rec.Key] = Entry[string]{Body: rec.Body, ExpiresAt: exp}
	case KindUUID:
		id, err := uuid.Parse(rec.Body)
		if err != nil {
			return fmt.Errorf("uuid body %q: %w", rec.Body, err)
		}
		s.UUIDs[rec.Key] = Entry[uuid.UUID]{Body: id, ExpiresAt: exp}
	case KindModel:
		s.Models[rec.Key] = Entry[string]{Body: rec.Body, ExpiresAt: exp}
	case KindPayload:
		var p Payload
		if err := json.Unmarshal([]byte(rec.Body), &p); err != nil {
			return fmt.Errorf("payload body: %w", err)
		}
		s.Payloads[rec.Key] = Entry[Payload]{Body: p, ExpiresAt: exp}
	}
	return nil
}
