// Package blockcache implements a FileStore wrapper that caches fixed-size
// blocks of remote files in memory.
//
// It is the alternative to a full local mirror when only part of each file
// is hot: reads are split into blockSize-aligned blocks, each fetched from
// the backing store with exactly one ReadAt the first time it is needed and
// served from memory afterwards, until evicted under capacity pressure.
package blockcache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/cache"
	"github.com/marmos91/idxcache/pkg/scheduler"
	"github.com/marmos91/idxcache/pkg/store"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBlockSize is the block size used when none is configured.
	DefaultBlockSize int64 = 1024

	// DefaultCapacity is the memory budget used when none is configured.
	DefaultCapacity int64 = 64 << 20

	// DefaultRefreshInterval is how often the file name set is re-listed.
	DefaultRefreshInterval = 10 * time.Second
)

// Config controls a BlockCache.
type Config struct {
	// BlockSize is the size in bytes of each cached block (default: 1024)
	BlockSize int64

	// Capacity is the memory budget in bytes (default: 64 MiB). The cache
	// holds Capacity / BlockSize blocks.
	Capacity int64

	// CacheFileNames answers Exists and List from a periodically refreshed
	// name set instead of asking the backing store each time.
	CacheFileNames bool

	// RefreshInterval is the name set refresh period (default: 10s). Only
	// used with CacheFileNames.
	RefreshInterval time.Duration

	// IsStatic selects control files that always bypass the cache.
	IsStatic store.NamePredicate

	// Index identifies the cached index in errors and logs.
	Index string

	// Metrics is optional; nil disables metrics collection
	Metrics cache.Metrics
}

func (c *Config) applyDefaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.IsStatic == nil {
		c.IsStatic = store.Never
	}
	c.Metrics = cache.OrNoop(c.Metrics)
}

// BlockCache implements store.FileStore over a backing store, caching file
// content in fixed-size blocks.
//
// Thread Safety:
// Safe for concurrent use. Concurrent misses on the same block are
// collapsed into a single backing read.
type BlockCache struct {
	remote  store.FileStore
	cfg     Config
	blocks  *clock
	fetches singleflight.Group
	names   *nameSet
	refresh *scheduler.Handle

	closeOnce sync.Once
	closeErr  error
}

var _ store.FileStore = (*BlockCache)(nil)

// New wraps remote with a block cache. When CacheFileNames is set, the name
// set is loaded synchronously and then refreshed in the background.
func New(ctx context.Context, remote store.FileStore, cfg Config) (*BlockCache, error) {
	cfg.applyDefaults()

	c := &BlockCache{
		remote: remote,
		cfg:    cfg,
		blocks: newClock(int(cfg.Capacity / cfg.BlockSize)),
	}

	if cfg.CacheFileNames {
		c.names = newNameSet()
		if err := c.names.refresh(ctx, remote); err != nil {
			return nil, &store.OpError{Op: "list", Name: "*", Index: cfg.Index, Err: err}
		}
		c.refresh = scheduler.ScheduleWithFixedDelay("name refresh "+cfg.Index, c.refreshNames,
			cfg.RefreshInterval, cfg.RefreshInterval)
	}

	logger.Info("Block cache ready for %s: block_size=%s capacity=%s (%d blocks) cache_file_names=%v",
		cfg.Index, humanize.IBytes(uint64(cfg.BlockSize)), humanize.IBytes(uint64(cfg.Capacity)),
		c.blocks.capacity(), cfg.CacheFileNames)

	return c, nil
}

func (c *BlockCache) refreshNames(ctx context.Context) {
	if err := c.names.refresh(ctx, c.remote); err != nil {
		logger.Warn("Block cache %s: name refresh failed, keeping previous set: %v", c.cfg.Index, err)
	}
}

// RefreshNames re-lists the backing store now. It is a no-op when file
// names are not cached.
func (c *BlockCache) RefreshNames(ctx context.Context) error {
	if c.names == nil {
		return nil
	}
	return c.names.refresh(ctx, c.remote)
}

// Prune drops every cached block and returns how many were dropped.
func (c *BlockCache) Prune() int {
	n := c.blocks.clear()
	if n > 0 {
		c.cfg.Metrics.RecordEviction(cache.StrategyBlock, n)
	}
	return n
}

// CachedBlocks returns the number of blocks currently held.
func (c *BlockCache) CachedBlocks() int {
	return c.blocks.len()
}

// Capacity returns the maximum number of blocks held.
func (c *BlockCache) Capacity() int {
	return c.blocks.capacity()
}

// BlockSize returns the configured block size.
func (c *BlockCache) BlockSize() int64 {
	return c.cfg.BlockSize
}

func (c *BlockCache) forget(name string) {
	if n := c.blocks.removeFile(name); n > 0 {
		c.cfg.Metrics.RecordEviction(cache.StrategyBlock, n)
	}
}

// ============================================================================
// Metadata Operations
// ============================================================================

// Exists answers from the name set when file names are cached.
func (c *BlockCache) Exists(ctx context.Context, name string) (bool, error) {
	if c.cfg.IsStatic(name) || c.names == nil {
		return c.remote.Exists(ctx, name)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.names.contains(name), nil
}

// Length always asks the backing store.
func (c *BlockCache) Length(ctx context.Context, name string) (int64, error) {
	return c.remote.Length(ctx, name)
}

// List answers from the name set when file names are cached.
func (c *BlockCache) List(ctx context.Context) ([]string, error) {
	if c.names == nil {
		return c.remote.List(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.names.list(), nil
}

// ============================================================================
// Read Path
// ============================================================================

// OpenRead returns a handle whose reads are served block by block.
func (c *BlockCache) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	h, err := c.remote.OpenRead(ctx, name)
	if err != nil || c.cfg.IsStatic(name) {
		return h, err
	}
	return &cachedHandle{cache: c, src: h}, nil
}

// block returns block index idx of the file behind src, fetching it with a
// single ReadAt on a miss.
func (c *BlockCache) block(src store.ReadHandle, idx int64) ([]byte, error) {
	key := blockKey{name: src.Name(), offset: idx * c.cfg.BlockSize}

	if data, ok := c.blocks.get(key); ok {
		c.cfg.Metrics.RecordHit(cache.StrategyBlock)
		return data, nil
	}
	c.cfg.Metrics.RecordMiss(cache.StrategyBlock)

	sfKey := fmt.Sprintf("%s@%d", key.name, key.offset)
	v, err, _ := c.fetches.Do(sfKey, func() (any, error) {
		// A concurrent flight may have filled it between get and Do.
		if data, ok := c.blocks.get(key); ok {
			return data, nil
		}

		length := min(c.cfg.BlockSize, src.Length()-key.offset)
		if length <= 0 {
			return nil, io.EOF
		}

		start := time.Now()
		buf := make([]byte, length)
		n, err := src.ReadAt(buf, key.offset)
		if err == io.EOF && int64(n) == length {
			err = nil
		}
		if err == nil && int64(n) != length {
			err = io.ErrUnexpectedEOF
		}
		c.cfg.Metrics.ObserveFetch(cache.StrategyBlock, int64(n), time.Since(start), err)
		if err != nil {
			return nil, err
		}

		if evicted := c.blocks.put(key, buf); evicted > 0 {
			c.cfg.Metrics.RecordEviction(cache.StrategyBlock, evicted)
		}
		return buf, nil
	})
	if err != nil {
		return nil, &store.OpError{Op: "fetch", Name: key.name, Index: c.cfg.Index, Err: err}
	}

	return v.([]byte), nil
}

// ============================================================================
// Write Path
// ============================================================================

// OpenWrite writes straight through to the backing store. On a successful
// Close any cached blocks of name are dropped and the name becomes visible
// in the name set immediately.
func (c *BlockCache) OpenWrite(ctx context.Context, name string) (store.WriteHandle, error) {
	h, err := c.remote.OpenWrite(ctx, name)
	if err != nil {
		return nil, err
	}
	return &writeHandle{WriteHandle: h, cache: c}, nil
}

type writeHandle struct {
	store.WriteHandle
	cache  *BlockCache
	closed bool
}

func (w *writeHandle) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.WriteHandle.Abort()
}

func (w *writeHandle) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.WriteHandle.Close(); err != nil {
		return &store.OpError{Op: "flush", Name: w.Name(), Index: w.cache.cfg.Index, Err: err}
	}

	w.cache.forget(w.Name())
	if w.cache.names != nil {
		w.cache.names.add(w.Name())
	}
	return nil
}

// Delete removes name from the backing store and drops its blocks.
func (c *BlockCache) Delete(ctx context.Context, name string) error {
	if err := c.remote.Delete(ctx, name); err != nil {
		return err
	}

	c.forget(name)
	if c.names != nil {
		c.names.remove(name)
	}
	return nil
}

// Rename renames in the backing store; blocks of both names are dropped.
func (c *BlockCache) Rename(ctx context.Context, from, to string) error {
	if err := c.remote.Rename(ctx, from, to); err != nil {
		return err
	}

	c.forget(from)
	c.forget(to)
	if c.names != nil {
		c.names.remove(from)
		c.names.add(to)
	}
	return nil
}

// Touch is forwarded to the backing store.
func (c *BlockCache) Touch(ctx context.Context, name string) error {
	return c.remote.Touch(ctx, name)
}

// Close stops the name refresh, drops all blocks and closes the backing
// store. Later calls return the first call's result.
func (c *BlockCache) Close() error {
	c.closeOnce.Do(func() {
		if c.refresh != nil {
			c.refresh.Cancel()
		}
		c.blocks.clear()
		c.closeErr = c.remote.Close()
		logger.Info("Block cache closed for %s", c.cfg.Index)
	})
	return c.closeErr
}
