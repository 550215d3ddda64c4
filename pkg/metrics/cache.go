package metrics

import (
	"time"

	"github.com/marmos91/idxcache/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
//
// It collects, labelled by strategy (mirror or block):
//   - Hits and misses
//   - Fetch counts, latency and bytes read from the remote store
//   - Evictions
//
// plus reconciliation run outcomes for the mirror.
type cacheMetrics struct {
	lookups           *prometheus.CounterVec
	fetches           *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	fetchBytes        *prometheus.CounterVec
	evictions         *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	reconcileDeleted  prometheus.Counter
	reconcileFailed   prometheus.Counter
	reconcileDuration prometheus.Histogram
}

// NewCacheMetrics creates a new Prometheus-backed cache.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes the caches fall back to cache.NoopMetrics. Call it once and share
// the result between caches; registering twice panics.
func NewCacheMetrics() cache.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newCacheMetrics(GetRegistry())
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxcache_cache_lookups_total",
				Help: "Total number of cache lookups by strategy and result (hit, miss)",
			},
			[]string{"strategy", "result"},
		),
		fetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxcache_cache_fetches_total",
				Help: "Total number of remote fetches by strategy and status",
			},
			[]string{"strategy", "status"},
		),
		fetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idxcache_cache_fetch_duration_seconds",
				Help: "Duration of remote fetches in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
					30.0,   // 30s
				},
			},
			[]string{"strategy"},
		),
		fetchBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxcache_cache_fetch_bytes_total",
				Help: "Total bytes fetched from the remote store",
			},
			[]string{"strategy"},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxcache_cache_evictions_total",
				Help: "Total number of cache entries dropped (blocks or local files)",
			},
			[]string{"strategy"},
		),
		reconcileRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxcache_reconcile_runs_total",
				Help: "Total number of reconciliation runs by status",
			},
			[]string{"status"},
		),
		reconcileDeleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "idxcache_reconcile_deleted_total",
				Help: "Total number of orphaned local files deleted by reconciliation",
			},
		),
		reconcileFailed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "idxcache_reconcile_failed_total",
				Help: "Total number of orphaned local files that failed to delete",
			},
		),
		reconcileDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "idxcache_reconcile_duration_seconds",
				Help:    "Duration of reconciliation runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4min
			},
		),
	}
}

// ObserveFetch implements cache.Metrics.ObserveFetch
func (m *cacheMetrics) ObserveFetch(strategy string, bytes int64, duration time.Duration, err error) {
	m.fetches.WithLabelValues(strategy, status(err)).Inc()
	m.fetchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if bytes > 0 {
		m.fetchBytes.WithLabelValues(strategy).Add(float64(bytes))
	}
}

// RecordHit implements cache.Metrics.RecordHit
func (m *cacheMetrics) RecordHit(strategy string) {
	m.lookups.WithLabelValues(strategy, "hit").Inc()
}

// RecordMiss implements cache.Metrics.RecordMiss
func (m *cacheMetrics) RecordMiss(strategy string) {
	m.lookups.WithLabelValues(strategy, "miss").Inc()
}

// RecordEviction implements cache.Metrics.RecordEviction
func (m *cacheMetrics) RecordEviction(strategy string, count int) {
	m.evictions.WithLabelValues(strategy).Add(float64(count))
}

// ObserveReconcile implements cache.Metrics.ObserveReconcile
func (m *cacheMetrics) ObserveReconcile(deleted, failed int, duration time.Duration, err error) {
	m.reconcileRuns.WithLabelValues(status(err)).Inc()
	m.reconcileDeleted.Add(float64(deleted))
	m.reconcileFailed.Add(float64(failed))
	m.reconcileDuration.Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
