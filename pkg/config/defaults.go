package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/idxcache/pkg/cache/lockpool"
	"github.com/marmos91/idxcache/pkg/store"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Named groups are left sparse; CacheConfig.Group fills them from
//     DefaultGroup at lookup time
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyRemoteDefaults(&cfg.Remote)
	applyCacheDefaults(&cfg.Cache)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
}

// applyRemoteDefaults sets remote store defaults.
func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(os.TempDir(), "idxcache-remote")
	}
}

// applyCacheDefaults sets the base path and fills the default group.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.BasePath == "" {
		cfg.BasePath = filepath.Join(os.TempDir(), "idxcache")
	}

	if cfg.Groups == nil {
		cfg.Groups = make(map[string]GroupConfig)
	}

	def := cfg.Groups[DefaultGroup]
	applyGroupDefaults(&def)
	cfg.Groups[DefaultGroup] = def
}

func applyGroupDefaults(g *GroupConfig) {
	if g.Connection == "" {
		g.Connection = "file://"
	}
	if g.ReconcileInterval == 0 {
		g.ReconcileInterval = 10 * time.Second
	}
	if g.ReconcileInitialDelay == 0 {
		g.ReconcileInitialDelay = g.ReconcileInterval
	}
	if g.CopyChunkSize == 0 {
		g.CopyChunkSize = store.DefaultCopyChunkSize
	}
	if g.LockPoolSize == 0 {
		g.LockPoolSize = lockpool.DefaultSize
	}
	if g.CompoundFileExtensions == nil {
		g.CompoundFileExtensions = append([]string(nil), store.DefaultCompoundExtensions...)
	}
	if g.StaticFileNames == nil {
		g.StaticFileNames = append([]string(nil), store.DefaultStaticFileNames...)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Remote: RemoteConfig{
			Filesystem: make(map[string]any),
			S3: map[string]any{
				"bucket":      "idxcache",
				"region":      "us-east-1",
				"key_prefix":  "indexes/",
				"max_retries": 3,
			},
		},
		Cache: CacheConfig{
			Groups: map[string]GroupConfig{
				DefaultGroup: {},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
