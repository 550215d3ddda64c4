package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultGroup is the cache group used for index partitions that have no
// group of their own.
const DefaultGroup = "__default__"

// Config represents the complete idxcache configuration.
//
// This structure captures:
//   - Logging configuration
//   - Metrics collection
//   - The remote (shared) index store
//   - Local cache settings, per logical group of index partitions
//
// Configuration sources (in order of precedence):
//  1. Environment variables (IDXCACHE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// The remote store section holds one type-specific map per store type
// (remote.filesystem, remote.s3, ...); only the map matching remote.type is
// decoded, by the factory for that type.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Remote specifies the shared index store that caches mirror
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`

	// Cache contains the local cache settings
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled turns on Prometheus metrics collection
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Addr is the listen address of the metrics HTTP server
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// RemoteConfig specifies the remote store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type RemoteConfig struct {
	// Type specifies which store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// CacheConfig contains the local cache settings.
type CacheConfig struct {
	// BasePath is the root directory for local-disk mirrors whose connection
	// string carries no path. Each sub-index gets
	// <BasePath>/<subContext>/<subIndexName>/.
	BasePath string `mapstructure:"base_path" yaml:"base_path" validate:"required"`

	// Groups maps a group name to its settings. DefaultGroup applies to every
	// index partition without a group of its own.
	Groups map[string]GroupConfig `mapstructure:"groups" yaml:"groups" validate:"required,dive"`
}

// GroupConfig holds the cache settings of one logical group of index
// partitions.
type GroupConfig struct {
	// Connection selects the cache strategy and medium, see ParseConnection
	Connection string `mapstructure:"connection" yaml:"connection"`

	// DisableLocalCache bypasses caching entirely
	DisableLocalCache bool `mapstructure:"disable_local_cache" yaml:"disable_local_cache"`

	// ReconcileInterval is the period of the mirror reconciliation task
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval" validate:"gte=0"`

	// ReconcileInitialDelay is the delay before the first reconciliation
	ReconcileInitialDelay time.Duration `mapstructure:"reconcile_initial_delay" yaml:"reconcile_initial_delay" validate:"gte=0"`

	// CopyChunkSize is the chunk size in bytes used to copy files between
	// the local and remote stores
	CopyChunkSize int `mapstructure:"copy_chunk_size" yaml:"copy_chunk_size" validate:"gte=0"`

	// LockPoolSize is the number of per-file lock slots
	LockPoolSize int `mapstructure:"lock_pool_size" yaml:"lock_pool_size" validate:"gte=0"`

	// FetchRateLimit caps the bandwidth a mirror uses to fetch from the
	// remote store, e.g. "50MiB" per second. Empty or "0" means unlimited.
	FetchRateLimit string `mapstructure:"fetch_rate_limit" yaml:"fetch_rate_limit"`

	// CompoundFileExtensions lists the extensions of compound bundle files
	CompoundFileExtensions []string `mapstructure:"compound_file_extensions" yaml:"compound_file_extensions"`

	// StaticFileNames lists control files that always bypass the cache
	// (in addition to any *.lock file)
	StaticFileNames []string `mapstructure:"static_file_names" yaml:"static_file_names"`
}

// Group returns the settings for name, falling back to DefaultGroup. Unset
// fields of a named group inherit the DefaultGroup values.
func (c *CacheConfig) Group(name string) GroupConfig {
	def := c.Groups[DefaultGroup]

	g, ok := c.Groups[name]
	if !ok || name == DefaultGroup {
		return def
	}

	if g.Connection == "" {
		g.Connection = def.Connection
	}
	if g.ReconcileInterval == 0 {
		g.ReconcileInterval = def.ReconcileInterval
	}
	if g.ReconcileInitialDelay == 0 {
		g.ReconcileInitialDelay = def.ReconcileInitialDelay
	}
	if g.CopyChunkSize == 0 {
		g.CopyChunkSize = def.CopyChunkSize
	}
	if g.LockPoolSize == 0 {
		g.LockPoolSize = def.LockPoolSize
	}
	if g.FetchRateLimit == "" {
		g.FetchRateLimit = def.FetchRateLimit
	}
	if g.CompoundFileExtensions == nil {
		g.CompoundFileExtensions = def.CompoundFileExtensions
	}
	if g.StaticFileNames == nil {
		g.StaticFileNames = def.StaticFileNames
	}
	return g
}

// FetchRateLimitBytes returns FetchRateLimit in bytes per second (0 when
// unlimited).
func (g GroupConfig) FetchRateLimitBytes() (int64, error) {
	if g.FetchRateLimit == "" {
		return 0, nil
	}
	n, err := parseBytes(g.FetchRateLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch_rate_limit %q: %w", g.FetchRateLimit, err)
	}
	return n, nil
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (IDXCACHE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: IDXCACHE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("IDXCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only overrides keys viper knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"metrics.enabled", "metrics.addr",
		"remote.type", "cache.base_path",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	// Default location: $XDG_CONFIG_HOME/idxcache/config.{yaml,toml}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// No config file is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "idxcache")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "idxcache")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
