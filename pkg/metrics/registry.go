// Package metrics exports the cache and S3 instrumentation to Prometheus.
//
// Collection is off until InitRegistry is called. Before that, NewCacheMetrics
// and NewS3Metrics return nil and the caches fall back to cache.NoopMetrics,
// so a host embedding idxcache without Prometheus pays nothing.
//
//	metrics.InitRegistry()
//	mgr := manager.New(cfg.Cache, metrics.NewCacheMetrics())
//	remote, err := config.CreateRemoteStore(ctx, &cfg.Remote, metrics.NewS3Metrics())
//
// config.InitializeMetrics performs these steps from the metrics section of
// the configuration and also builds the /metrics server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry enables metrics collection by creating the process-wide
// registry. Only the first call has an effect.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = newRegistry()
	})
}

// newRegistry returns a registry carrying the Go runtime and process
// collectors next to the idxcache metrics, so a warm run's memory use can be
// read from the same scrape as its fetch volume.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
