package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/idxcache/internal/logger"
	"gopkg.in/yaml.v3"
)

const configHeader = `# idxcache Configuration File
#
# Environment variables override these values, e.g. IDXCACHE_LOGGING_LEVEL=DEBUG.
#
# cache.groups.<name>.connection selects the cache per group of index partitions:
#   mem://                                   in-memory mirror
#   memory://bucketSize=1024&size=64MB       in-memory block cache
#   file://<path> | mmap://<path> | niofs://<path> | <path>
#                                            local-disk mirror
#   badger://<path>                          BadgerDB mirror
# An empty path places the mirror under cache.base_path.

`

// InitConfig writes a default configuration file at the default location.
//
// Returns the path of the written file. Fails if the file exists and force
// is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file at path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(GetDefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MarshalYAML renders durations as "10s" rather than nanosecond counts.
func (g GroupConfig) MarshalYAML() (any, error) {
	return struct {
		Connection             string   `yaml:"connection,omitempty"`
		DisableLocalCache      bool     `yaml:"disable_local_cache,omitempty"`
		ReconcileInterval      string   `yaml:"reconcile_interval,omitempty"`
		ReconcileInitialDelay  string   `yaml:"reconcile_initial_delay,omitempty"`
		CopyChunkSize          int      `yaml:"copy_chunk_size,omitempty"`
		LockPoolSize           int      `yaml:"lock_pool_size,omitempty"`
		FetchRateLimit         string   `yaml:"fetch_rate_limit,omitempty"`
		CompoundFileExtensions []string `yaml:"compound_file_extensions,omitempty"`
		StaticFileNames        []string `yaml:"static_file_names,omitempty"`
	}{
		Connection:             g.Connection,
		DisableLocalCache:      g.DisableLocalCache,
		ReconcileInterval:      formatDuration(g.ReconcileInterval),
		ReconcileInitialDelay:  formatDuration(g.ReconcileInitialDelay),
		CopyChunkSize:          g.CopyChunkSize,
		LockPoolSize:           g.LockPoolSize,
		FetchRateLimit:         g.FetchRateLimit,
		CompoundFileExtensions: g.CompoundFileExtensions,
		StaticFileNames:        g.StaticFileNames,
	}, nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// ConfigureLogging applies the logging section to the process logger.
func ConfigureLogging(cfg *LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}
	return nil
}
