package stash

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the cache's instruments. All Cache and DiskLog call sites
// tolerate a nil *Metrics, so instrumentation is strictly opt-in.
type Metrics struct {
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	LogAppends       metric.Int64Counter
	LogAppendErrors  metric.Int64Counter
	RecordsDropped   metric.Int64Counter
	CompactionRuns   metric.Int64Counter
	RecordsCompacted metric.Int64Counter
	SweepRuns        metric.Int64Counter
	EntriesSwept     metric.Int64Counter
}

// SetupMetrics wires an otel meter over a prometheus exporter and returns the
// instruments plus an HTTP handler serving the scrape endpoint.
func SetupMetrics(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.CacheHits, err = meter.Int64Counter(
		"stash_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"stash_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LogAppends, err = meter.Int64Counter(
		"stash_log_appends_total",
		metric.WithDescription("Total number of records appended to the disk log"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LogAppendErrors, err = meter.Int64Counter(
		"stash_log_append_errors_total",
		metric.WithDescription("Total number of appends that exhausted their retry budget"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RecordsDropped, err = meter.Int64Counter(
		"stash_log_records_dropped_total",
		metric.WithDescription("Total number of undecodable log records dropped"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CompactionRuns, err = meter.Int64Counter(
		"stash_compaction_runs_total",
		metric.WithDescription("Total number of disk log compactions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RecordsCompacted, err = meter.Int64Counter(
		"stash_records_compacted_total",
		metric.WithDescription("Total number of expired records dropped by compaction"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SweepRuns, err = meter.Int64Counter(
		"stash_sweep_runs_total",
		metric.WithDescription("Total number of in-memory expiration sweeps"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EntriesSwept, err = meter.Int64Counter(
		"stash_entries_swept_total",
		metric.WithDescription("Total number of expired entries removed from memory"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

func (m *Metrics) RecordCacheHit(ctx context.Context, kind Kind) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, kind Kind) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) RecordAppend(ctx context.Context) {
	m.LogAppends.Add(ctx, 1)
}

func (m *Metrics) RecordAppendError(ctx context.Context) {
	m.LogAppendErrors.Add(ctx, 1)
}

func (m *Metrics) RecordDropped(ctx context.Context, n int64) {
	m.RecordsDropped.Add(ctx, n)
}

func (m *Metrics) RecordCompaction(ctx context.Context, dropped int64) {
	m.CompactionRuns.Add(ctx, 1)
	m.RecordsCompacted.Add(ctx, dropped)
}

func (m *Metrics) RecordSweep(ctx context.Context, removed int64) {
	m.SweepRuns.Add(ctx, 1)
	m.EntriesSwept.Add(ctx, removed)
}
