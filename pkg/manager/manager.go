// Package manager builds the local cache of each index partition from the
// cache configuration.
//
// A host opens one cache per (sub-context, sub-index) pair, for example a
// tenant and one of its indexes. The group the partition belongs to selects
// the connection string and with it the caching strategy:
//
//	mem://        mirror into process memory
//	memory://...  block cache in process memory
//	file://...    mirror into <path>/<subContext>/<subIndexName>/
//	badger://...  mirror into a BadgerDB at the same layout
//
// Example usage:
//
//	mgr := manager.New(cfg.Cache, metricsResult.CacheMetrics)
//	defer mgr.Close()
//
//	dir, err := mgr.Create(ctx, "tenant-1", "products", "catalog", remote, manager.Options{
//	    UseCompound: engine.UsesCompoundFiles,
//	})
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/cache"
	"github.com/marmos91/idxcache/pkg/cache/blockcache"
	"github.com/marmos91/idxcache/pkg/cache/mirror"
	"github.com/marmos91/idxcache/pkg/config"
	"github.com/marmos91/idxcache/pkg/store"
	"github.com/marmos91/idxcache/pkg/store/badger"
	"github.com/marmos91/idxcache/pkg/store/fs"
	"github.com/marmos91/idxcache/pkg/store/memory"
)

var (
	// ErrDirectoryCreation is returned when the local mirror directory of a
	// partition cannot be reset.
	ErrDirectoryCreation = errors.New("failed to create local cache directory")

	// ErrAlreadyOpen is returned when a cache for the partition is already
	// open. Its local directory would be wiped under it.
	ErrAlreadyOpen = errors.New("cache already open")

	// ErrClosed is returned by Create after Close.
	ErrClosed = errors.New("cache manager is closed")
)

// Options carries the host integration callbacks of one cache.
type Options struct {
	// UseCompound reports whether the host currently writes compound files.
	// Nil means never.
	UseCompound func() bool

	// Transaction wraps the remote listing of each reconciliation run.
	// Nil runs it directly.
	Transaction mirror.TxFunc
}

// Manager creates and tracks the local caches of index partitions.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Manager struct {
	cfg     config.CacheConfig
	metrics cache.Metrics

	mu     sync.Mutex
	caches map[string]store.FileStore // key: subContext/subIndexName
	closed bool
}

// New creates a manager. metrics may be nil.
func New(cfg config.CacheConfig, metrics cache.Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		metrics: metrics,
		caches:  make(map[string]store.FileStore),
	}
}

func indexKey(subContext, subIndexName string) string {
	return subContext + "/" + subIndexName
}

// Create builds the cache of one index partition over remote.
//
// The group's settings come from the configuration, falling back to the
// default group. When the group disables the local cache, remote is returned
// unchanged and the manager does not track it.
//
// Otherwise the returned store owns remote: closing it (directly, through
// Release or through Close) closes remote too.
//
// Parameters:
//   - ctx: Context for construction (initial listings, opening stores)
//   - subContext, subIndexName: Identity of the partition; both must be
//     plain directory names
//   - group: Configuration group of the partition
//   - remote: The shared store holding the partition's files
//   - opts: Host integration callbacks
//
// Returns:
//   - store.FileStore: The cache, or remote itself when caching is disabled
//   - error: ErrDirectoryCreation, ErrAlreadyOpen, a connection error from
//     config.ParseConnection, or a store construction failure
func (m *Manager) Create(ctx context.Context, subContext, subIndexName, group string, remote store.FileStore, opts Options) (store.FileStore, error) {
	settings := m.cfg.Group(group)
	if settings.DisableLocalCache {
		logger.Info("Local cache disabled for %s (group %s)", indexKey(subContext, subIndexName), group)
		return remote, nil
	}

	if err := store.ValidateName(subContext); err != nil {
		return nil, fmt.Errorf("sub-context %q: %w", subContext, err)
	}
	if err := store.ValidateName(subIndexName); err != nil {
		return nil, fmt.Errorf("sub-index %q: %w", subIndexName, err)
	}

	conn, err := config.ParseConnection(settings.Connection)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", group, err)
	}

	key := indexKey(subContext, subIndexName)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if _, exists := m.caches[key]; exists {
		return nil, fmt.Errorf("%s: %w", key, ErrAlreadyOpen)
	}

	c, err := m.build(ctx, key, subContext, subIndexName, settings, conn, remote, opts)
	if err != nil {
		return nil, err
	}

	m.caches[key] = c
	logger.Info("Opened %s cache for %s (group %s)", conn.Kind, key, group)
	return c, nil
}

func (m *Manager) build(ctx context.Context, key, subContext, subIndexName string, settings config.GroupConfig,
	conn config.Connection, remote store.FileStore, opts Options) (store.FileStore, error) {

	isStatic := store.StaticFiles(settings.StaticFileNames...)

	if conn.Kind == config.BlockMemory {
		return blockcache.New(ctx, remote, blockcache.Config{
			BlockSize:       conn.BlockSize,
			Capacity:        conn.Capacity,
			CacheFileNames:  conn.CacheFileNames,
			RefreshInterval: conn.RefreshInterval,
			IsStatic:        isStatic,
			Index:           key,
			Metrics:         m.metrics,
		})
	}

	fetchLimit, err := settings.FetchRateLimitBytes()
	if err != nil {
		return nil, err
	}

	local, err := m.openLocal(ctx, subContext, subIndexName, conn)
	if err != nil {
		return nil, err
	}

	return mirror.New(local, remote, mirror.Config{
		Index:                 key,
		IsStatic:              isStatic,
		IsCompound:            store.Extensions(settings.CompoundFileExtensions...),
		UseCompound:           opts.UseCompound,
		CopyChunkSize:         settings.CopyChunkSize,
		LockPoolSize:          settings.LockPoolSize,
		FetchRateLimit:        fetchLimit,
		ReconcileInterval:     settings.ReconcileInterval,
		ReconcileInitialDelay: settings.ReconcileInitialDelay,
		Transaction:           opts.Transaction,
		Metrics:               m.metrics,
	}), nil
}

// openLocal opens the local medium of a mirror.
func (m *Manager) openLocal(ctx context.Context, subContext, subIndexName string, conn config.Connection) (store.FileStore, error) {
	switch conn.Kind {
	case config.MirrorMemory:
		return memory.NewMemoryFileStore(), nil

	case config.MirrorDisk:
		dir, err := m.resetMirrorDir(conn.Path, subContext, subIndexName)
		if err != nil {
			return nil, err
		}
		return fs.NewFSFileStore(ctx, dir)

	case config.MirrorBadger:
		dir, err := m.resetMirrorDir(conn.Path, subContext, subIndexName)
		if err != nil {
			return nil, err
		}
		return badger.NewBadgerFileStore(ctx, badger.Config{Path: dir})

	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnsupportedConnection, conn.Kind)
	}
}

// MirrorDir returns <base>/<subContext>/<subIndexName>, where base is the
// connection path, resolved against the configured base path when relative
// or empty.
func (m *Manager) MirrorDir(connPath, subContext, subIndexName string) string {
	base := m.cfg.BasePath
	switch {
	case connPath == "":
	case filepath.IsAbs(connPath):
		base = connPath
	default:
		base = filepath.Join(m.cfg.BasePath, connPath)
	}
	return filepath.Join(base, subContext, subIndexName)
}

// resetMirrorDir deletes and recreates the mirror directory. A mirror never
// resumes from the content a previous process left behind.
func (m *Manager) resetMirrorDir(connPath, subContext, subIndexName string) (string, error) {
	dir := m.MirrorDir(connPath, subContext, subIndexName)

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDirectoryCreation, dir, err)
	}

	return dir, nil
}

// Get returns the open cache of a partition.
func (m *Manager) Get(subContext, subIndexName string) (store.FileStore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.caches[indexKey(subContext, subIndexName)]
	return c, ok
}

// Open lists the partitions with an open cache, sorted.
func (m *Manager) Open() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.caches))
	for k := range m.caches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Release closes the cache of one partition and forgets it. Releasing a
// partition without an open cache is a no-op.
func (m *Manager) Release(subContext, subIndexName string) error {
	key := indexKey(subContext, subIndexName)

	m.mu.Lock()
	c, ok := m.caches[key]
	delete(m.caches, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if err := c.Close(); err != nil {
		return fmt.Errorf("close cache %s: %w", key, err)
	}
	logger.Info("Closed cache for %s", key)
	return nil
}

// Close closes every open cache. Create fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	caches := m.caches
	m.caches = make(map[string]store.FileStore)
	m.mu.Unlock()

	var errs []error
	for key, c := range caches {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close cache for %s: %v", key, err)
			errs = append(errs, fmt.Errorf("close cache %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}
