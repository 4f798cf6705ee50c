package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultFlushInterval is the pause between maintenance phases.
const DefaultFlushInterval = time.Minute

// LogFileName is the single file kept in each namespace subdirectory.
const LogFileName = "stash.log"

// Cache composes one typed store per value kind with an optional disk log.
// Construct one explicitly and hand it to whatever needs caching; there is no
// process-wide instance.
//
// Until Initialize is called the cache is memory-only: reads and writes work
// against empty stores and every save policy degrades to SaveNone. Initialize
// attaches disk storage once; there is no detach path.
type Cache struct {
	dates    *Store[time.Time]
	ints     *Store[int64]
	strings  *Store[string]
	uuids    *Store[uuid.UUID]
	models   *Store[string]
	payloads *PayloadStore

	logger  *zap.SugaredLogger
	metrics *Metrics
	nowFn   func() time.Time

	rootDir string
	diskCfg DiskLogConfig

	flushMu       sync.RWMutex
	flushInterval time.Duration

	mu     sync.RWMutex
	log    *DiskLog
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger sets the logger used by the cache and its disk log.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics attaches instruments; see SetupMetrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.nowFn = now }
}

// WithFlushInterval sets the initial maintenance interval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithRootDir overrides the platform cache directory the namespace
// subdirectory is created under.
func WithRootDir(dir string) Option {
	return func(c *Cache) { c.rootDir = dir }
}

// WithDiskLogConfig sets the append retry knobs.
func WithDiskLogConfig(cfg DiskLogConfig) Option {
	return func(c *Cache) { c.diskCfg = cfg }
}

// New constructs a memory-only cache. Call Initialize to attach disk storage.
func New(opts ...Option) *Cache {
	c := &Cache{
		dates:         NewStore[time.Time](),
		ints:          NewStore[int64](),
		strings:       NewStore[string](),
		uuids:         NewStore[uuid.UUID](),
		models:        NewStore[string](),
		payloads:      NewPayloadStore(),
		nowFn:         time.Now,
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
	}
	return c
}

// DefaultRootDir resolves the platform-appropriate application cache root,
// falling back to a dotfile directory under the home directory.
func DefaultRootDir() (string, error) {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "stash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("stash: no usable cache directory: %w", err)
	}
	return filepath.Join(home, ".stash"), nil
}

// Initialize attaches the disk log for namespace, replays its records into
// the typed stores, and starts the maintenance loop. Idempotent: a second
// call while storage is already attached is a no-op.
func (c *Cache) Initialize(namespace string) error {
	if namespace == "" {
		return errors.New("stash: namespace required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.log != nil {
		return nil
	}

	root := c.rootDir
	if root == "" {
		resolved, err := DefaultRootDir()
		if err != nil {
			return err
		}
		root = resolved
	}

	path := filepath.Join(root, namespace, LogFileName)
	dlog, err := NewDiskLog(path, c.logger, c.metrics, c.diskCfg)
	if err != nil {
		return fmt.Errorf("stash initialize: %w", err)
	}

	snap, err := dlog.Replay(c.now())
	if err != nil {
		return fmt.Errorf("stash initialize: %w", err)
	}

	c.dates.LoadInitial(snap.Dates)
	c.ints.LoadInitial(snap.Ints)
	c.strings.LoadInitial(snap.Strings)
	c.uuids.LoadInitial(snap.UUIDs)
	c.models.LoadInitial(snap.Models)
	c.payloads.LoadInitial(snap.Payloads)

	c.log = dlog

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.maintenanceLoop(ctx, dlog)

	c.logger.Infow("Cache storage attached",
		"namespace", namespace,
		"path", path,
		"dates", len(snap.Dates),
		"ints", len(snap.Ints),
		"strings", len(snap.Strings),
		"uuids", len(snap.UUIDs),
		"models", len(snap.Models),
		"payloads", len(snap.Payloads),
	)
	return nil
}

// Close stops the maintenance loop. Detached SaveAsync appends are not
// tracked and may be abandoned mid-flight.
func (c *Cache) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

// FlushInterval returns the current maintenance interval.
func (c *Cache) FlushInterval() time.Duration {
	c.flushMu.RLock()
	defer c.flushMu.RUnlock()
	return c.flushInterval
}

// SetFlushInterval changes the maintenance interval. Takes effect on the
// loop's next sleep.
func (c *Cache) SetFlushInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.flushMu.Lock()
	c.flushInterval = d
	c.flushMu.Unlock()
}

func (c *Cache) now() time.Time { return c.nowFn() }

// LogPath returns the attached disk log's file location, or "" while the
// cache is memory-only.
func (c *Cache) LogPath() string {
	if dlog := c.attachedLog(); dlog != nil {
		return dlog.Path()
	}
	return ""
}

func (c *Cache) attachedLog() *DiskLog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}

// persist mirrors one record to disk under the given policy. Without an
// attached log every policy is a no-op.
func (c *Cache) persist(rec Record, policy SavePolicy) error {
	dlog := c.attachedLog()
	if dlog == nil || policy == SaveNone {
		return nil
	}
	if policy == SaveSync {
		return dlog.Append(context.Background(), rec)
	}
	go func() {
		if err := dlog.Append(context.Background(), rec); err != nil {
			c.logger.Warnw("Detached disk append failed", "key", rec.Key, "error", err)
		}
	}()
	return nil
}

// persistDelete mirrors a key deletion to disk under the given policy.
func (c *Cache) persistDelete(key string, policy SavePolicy) error {
	dlog := c.attachedLog()
	if dlog == nil || policy == SaveNone {
		return nil
	}
	if policy == SaveSync {
		return dlog.DeleteByKey(key)
	}
	go func() {
		if err := dlog.DeleteByKey(key); err != nil {
			c.logger.Warnw("Detached disk delete failed", "key", key, "error", err)
		}
	}()
	return nil
}

func setEntry[V any](c *Cache, s *Store[V], kind Kind, key string, body V, encode func(V) string, expiresAt *time.Time, policy SavePolicy) error {
	s.Set(key, Entry[V]{Body: body, ExpiresAt: expiresAt})
	return c.persist(NewRecord(key, kind, encode(body), expiresAt), policy)
}

// getEntry applies lazy expiration: an expired entry reads as a miss but is
// left in place for the next sweep.
func getEntry[V any](c *Cache, s *Store[V], kind Kind, key string) (V, bool) {
	var zero V
	e, ok := s.Get(key)
	if !ok || e.Expired(c.now()) {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(context.Background(), kind)
		}
		return zero, false
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(context.Background(), kind)
	}
	return e.Body, true
}

// SetTime caches a timestamp value.
func (c *Cache) SetTime(key string, value time.Time, expiresAt *time.Time, policy SavePolicy) error {
	return setEntry(c, c.dates, KindDate, key, value, encodeDateBody, expiresAt, policy)
}

// GetTime returns the cached timestamp for key, if present and not expired.
func (c *Cache) GetTime(key string) (time.Time, bool) {
	return getEntry(c, c.dates, KindDate, key)
}

// RemoveTime deletes the timestamp for key from memory and, per policy, disk.
func (c *Cache) RemoveTime(key string, policy SavePolicy) error {
	c.dates.Remove(key)
	return c.persistDelete(key, policy)
}

// SetInt caches an integer value.
func (c *Cache) SetInt(key string, value int64, expiresAt *time.Time, policy SavePolicy) error {
	return setEntry(c, c.ints, KindInt, key, value, encodeIntBody, expiresAt, policy)
}

// GetInt returns the cached integer for key, if present and not expired.
func (c *Cache) GetInt(key string) (int64, bool) {
	return getEntry(c, c.ints, KindInt, key)
}

// RemoveInt deletes the integer for key from memory and, per policy, disk.
func (c *Cache) RemoveInt(key string, policy SavePolicy) error {
	c.ints.Remove(key)
	return c.persistDelete(key, policy)
}

// SetString caches a string value.
func (c *Cache) SetString(key, value string, expiresAt *time.Time, policy SavePolicy) error {
	return setEntry(c, c.strings, KindString, key, value, func(s string) string { return s }, expiresAt, policy)
}

// GetString returns the cached string for key, if present and not expired.
func (c *Cache) GetString(key string) (string, bool) {
	return getEntry(c, c.strings, KindString, key)
}

// RemoveString deletes the string for key from memory and, per policy, disk.
func (c *Cache) RemoveString(key string, policy SavePolicy) error {
	c.strings.Remove(key)
	return c.persistDelete(key, policy)
}

// SetUUID caches an identifier value.
func (c *Cache) SetUUID(key string, value uuid.UUID, expiresAt *time.Time, policy SavePolicy) error {
	return setEntry(c, c.uuids, KindUUID, key, value, func(u uuid.UUID) string { return u.String() }, expiresAt, policy)
}

// GetUUID returns the cached identifier for key, if present and not expired.
func (c *Cache) GetUUID(key string) (uuid.UUID, bool) {
	return getEntry(c, c.uuids, KindUUID, key)
}

// RemoveUUID deletes the identifier for key from memory and, per policy, disk.
func (c *Cache) RemoveUUID(key string, policy SavePolicy) error {
	c.uuids.Remove(key)
	return c.persistDelete(key, policy)
}

// SetModel caches a pre-encoded structured value. Encoding an arbitrary
// value into its string body is the caller's concern.
func (c *Cache) SetModel(key, encoded string, expiresAt *time.Time, policy SavePolicy) error {
	return setEntry(c, c.models, KindModel, key, encoded, func(s string) string { return s }, expiresAt, policy)
}

// GetModel returns the encoded structured value for key, if present and not
// expired.
func (c *Cache) GetModel(key string) (string, bool) {
	return getEntry(c, c.models, KindModel, key)
}

// RemoveModel deletes the model for key from memory and, per policy, disk.
func (c *Cache) RemoveModel(key string, policy SavePolicy) error {
	c.models.Remove(key)
	return c.persistDelete(key, policy)
}

// SetPayload caches an owner-scoped payload.
func (c *Cache) SetPayload(key string, value Payload, expiresAt *time.Time, policy SavePolicy) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("payload encode error: %w", err)
	}
	c.payloads.Set(key, Entry[Payload]{Body: value, ExpiresAt: expiresAt})
	return c.persist(NewRecord(key, KindPayload, string(body), expiresAt), policy)
}

// GetPayload returns the payload for key, if present and not expired.
func (c *Cache) GetPayload(key string) (Payload, bool) {
	return getEntry(c, c.payloads.Store, KindPayload, key)
}

// RemovePayload deletes the payload for key from memory and, per policy, disk.
func (c *Cache) RemovePayload(key string, policy SavePolicy) error {
	c.payloads.Remove(key)
	return c.persistDelete(key, policy)
}

// RemoveAll clears every typed store and truncates the disk log.
func (c *Cache) RemoveAll() error {
	c.dates.RemoveAll()
	c.ints.RemoveAll()
	c.strings.RemoveAll()
	c.uuids.RemoveAll()
	c.models.RemoveAll()
	c.payloads.RemoveAll()

	if dlog := c.attachedLog(); dlog != nil {
		return dlog.Clear()
	}
	return nil
}

// PayloadsForOwner returns every live payload owned by owner.
func (c *Cache) PayloadsForOwner(owner uuid.UUID) []Payload {
	return c.payloads.AllForOwner(owner, c.now())
}

// RemovePayloadsForOwner deletes every payload owned by owner and fans the
// per-key disk deletions out under the given policy. Returns the removed keys.
func (c *Cache) RemovePayloadsForOwner(owner uuid.UUID, policy SavePolicy) ([]string, error) {
	keys := c.payloads.RemoveForOwner(owner)

	dlog := c.attachedLog()
	if dlog == nil || policy == SaveNone || len(keys) == 0 {
		return keys, nil
	}

	deleteAll := func() error {
		g := new(errgroup.Group)
		for _, key := range keys {
			key := key
			g.Go(func() error { return dlog.DeleteByKey(key) })
		}
		return g.Wait()
	}

	if policy == SaveSync {
		return keys, deleteAll()
	}
	go func() {
		if err := deleteAll(); err != nil {
			c.logger.Warnw("Detached owner-scoped disk delete failed", "owner", owner, "error", err)
		}
	}()
	return keys, nil
}

// UpdatePayloadValueForOwner replaces the Value field of every payload owned
// by owner and mirrors each affected entry to disk under the given policy.
// Returns the affected keys mapped to their new entries.
func (c *Cache) UpdatePayloadValueForOwner(newValue string, owner uuid.UUID, policy SavePolicy) (map[string]Entry[Payload], error) {
	affected := c.payloads.UpdateValueForOwner(newValue, owner)

	var firstErr error
	for key, e := range affected {
		body, err := json.Marshal(e.Body)
		if err != nil {
			return affected, fmt.Errorf("payload encode error: %w", err)
		}
		if err := c.persist(NewRecord(key, KindPayload, string(body), e.ExpiresAt), policy); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return affected, firstErr
}
