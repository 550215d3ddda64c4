// Package cache holds the types shared by the caching layers: the metrics
// hook both strategies report to.
package cache

import (
	"time"
)

// Strategy labels used when reporting metrics.
const (
	StrategyMirror = "mirror"
	StrategyBlock  = "block"
)

// Metrics provides observability for the caching layers.
//
// Implementations can use this interface to collect hit rates, fetch
// latency and reconciliation outcomes. This is optional - if not provided,
// metrics collection is skipped.
//
// Example implementations:
//   - Prometheus metrics (pkg/metrics)
//   - In-memory counters for testing
type Metrics interface {
	// ObserveFetch records a backing-store fetch: a full file for the mirror,
	// a single block for the block cache.
	ObserveFetch(strategy string, bytes int64, duration time.Duration, err error)

	// RecordHit records a read served without touching the backing store
	RecordHit(strategy string)

	// RecordMiss records a read that required a fetch
	RecordMiss(strategy string)

	// RecordEviction records entries dropped from a cache
	RecordEviction(strategy string, count int)

	// ObserveReconcile records one reconciliation run
	ObserveReconcile(deleted, failed int, duration time.Duration, err error)
}

// NoopMetrics is a default no-op metrics implementation.
type NoopMetrics struct{}

func (NoopMetrics) ObserveFetch(strategy string, bytes int64, duration time.Duration, err error) {}
func (NoopMetrics) RecordHit(strategy string)                                                    {}
func (NoopMetrics) RecordMiss(strategy string)                                                   {}
func (NoopMetrics) RecordEviction(strategy string, count int)                                    {}
func (NoopMetrics) ObserveReconcile(deleted, failed int, duration time.Duration, err error)      {}

// OrNoop returns m, or NoopMetrics when m is nil.
func OrNoop(m Metrics) Metrics {
	if m == nil {
		return NoopMetrics{}
	}
	return m
}
