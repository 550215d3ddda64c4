package config

import (
	"github.com/marmos91/idxcache/pkg/cache"
	"github.com/marmos91/idxcache/pkg/metrics"
	"github.com/marmos91/idxcache/pkg/store/s3"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// CacheMetrics is shared by every cache the manager builds (nil if disabled)
	CacheMetrics cache.Metrics

	// S3Metrics instruments the S3 remote store (nil if disabled)
	S3Metrics s3.S3Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled every field is nil, which the consumers treat as
// "no metrics" at zero cost.
//
// Call it once per process: the Prometheus collectors register globally.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:       metrics.NewServer(metrics.ServerConfig{Addr: cfg.Metrics.Addr}),
		CacheMetrics: metrics.NewCacheMetrics(),
		S3Metrics:    metrics.NewS3Metrics(),
	}
}
