// Package mirror implements a FileStore that keeps a full local copy of the
// files of a remote FileStore.
//
// Reads fetch a file completely into the local store the first time it is
// needed and are served locally afterwards. Writes land in the local store
// and are copied to the remote store when the write handle closes. A
// background Reconciler removes local copies of files that disappeared from
// the remote store, e.g. after the host engine merged segments away.
//
// Two classes of names get special treatment:
//   - static control files (generation pointers, lock files) bypass the local
//     store entirely and are always served by the remote store
//   - compound bundle files, while the host engine runs in compound mode, are
//     kept local-only and never propagated to the remote store
package mirror

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/cache"
	"github.com/marmos91/idxcache/pkg/cache/lockpool"
	"github.com/marmos91/idxcache/pkg/scheduler"
	"github.com/marmos91/idxcache/pkg/store"
)

const (
	// DefaultReconcileInterval is the period between reconciliation runs.
	DefaultReconcileInterval = 10 * time.Second
)

// Config controls a Mirror.
type Config struct {
	// Index identifies the mirrored sub-index in errors and logs.
	Index string

	// IsStatic selects control files that are always served by the remote
	// store (default: store.DefaultStaticFileNames and *.lock).
	IsStatic store.NamePredicate

	// IsCompound selects compound bundle files (default: store.Never).
	IsCompound store.NamePredicate

	// UseCompound reports whether the host engine currently writes compound
	// files. It is asked on every decision, as the host may switch modes
	// while the mirror is open. Nil means never.
	UseCompound func() bool

	// CopyChunkSize is the chunk size used when copying files between the
	// stores (default: 16 KiB)
	CopyChunkSize int

	// LockPoolSize is the number of per-file lock slots (default: 100)
	LockPoolSize int

	// FetchRateLimit caps remote fetches at this many bytes per second,
	// shared by all fetches of the mirror. Zero means unlimited.
	FetchRateLimit int64

	// ReconcileInterval is the period between reconciliation runs
	// (default: 10s). A negative value disables the background task;
	// Reconciler().RunNow still works.
	ReconcileInterval time.Duration

	// ReconcileInitialDelay is the delay before the first run
	// (default: ReconcileInterval)
	ReconcileInitialDelay time.Duration

	// Transaction wraps the remote listing of each reconciliation run
	// (default: Direct)
	Transaction TxFunc

	// Metrics is optional; nil disables metrics collection
	Metrics cache.Metrics
}

func (c *Config) applyDefaults() {
	if c.IsStatic == nil {
		c.IsStatic = store.StaticFiles(store.DefaultStaticFileNames...)
	}
	if c.IsCompound == nil {
		c.IsCompound = store.Never
	}
	if c.UseCompound == nil {
		c.UseCompound = func() bool { return false }
	}
	if c.CopyChunkSize <= 0 {
		c.CopyChunkSize = store.DefaultCopyChunkSize
	}
	if c.LockPoolSize <= 0 {
		c.LockPoolSize = lockpool.DefaultSize
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.ReconcileInitialDelay <= 0 {
		c.ReconcileInitialDelay = c.ReconcileInterval
	}
	if c.Transaction == nil {
		c.Transaction = Direct
	}
	c.Metrics = cache.OrNoop(c.Metrics)
}

// Mirror implements store.FileStore by mirroring a remote store into a local
// one.
//
// The mirror owns the local store; nothing else may write to it. The remote
// store is shared with other consumers of the same index.
//
// Thread Safety:
// Safe for concurrent use. Fetches and cleanup of one file name serialize
// through a per-file lock, so a name is fetched at most once at a time and
// is never visible locally in a partial state.
type Mirror struct {
	local  store.FileStore
	remote store.FileStore
	source store.FileStore // remote, throttled when FetchRateLimit is set
	cfg    Config
	locks  *lockpool.Pool

	reconciler *Reconciler
	task       *scheduler.Handle

	closeOnce sync.Once
	closeErr  error
}

var _ store.FileStore = (*Mirror)(nil)

// New creates a mirror of remote backed by local and starts its
// reconciliation task.
//
// Parameters:
//   - local: Store holding the local copies; owned by the mirror from now on
//   - remote: Shared index store being mirrored
//   - cfg: Mirror configuration
//
// Returns:
//   - *Mirror: Running mirror; Close it to stop the background task
func New(local, remote store.FileStore, cfg Config) *Mirror {
	cfg.applyDefaults()

	m := &Mirror{
		local:  local,
		remote: remote,
		source: throttle(remote, cfg.FetchRateLimit, cfg.CopyChunkSize),
		cfg:    cfg,
		locks:  lockpool.New(cfg.LockPoolSize),
	}
	m.reconciler = &Reconciler{
		local:   local,
		remote:  remote,
		locks:   m.locks,
		keep:    m.skipRemote,
		tx:      cfg.Transaction,
		index:   cfg.Index,
		metrics: cfg.Metrics,
	}

	if cfg.ReconcileInterval > 0 {
		m.task = scheduler.ScheduleWithFixedDelay("reconcile "+cfg.Index, m.reconciler.runScheduled,
			cfg.ReconcileInitialDelay, cfg.ReconcileInterval)
	}

	logger.Info("Mirror ready for %s: reconcile_interval=%s copy_chunk=%s lock_slots=%d fetch_limit=%s/s",
		cfg.Index, cfg.ReconcileInterval, humanize.IBytes(uint64(cfg.CopyChunkSize)), cfg.LockPoolSize,
		humanize.IBytes(uint64(max(cfg.FetchRateLimit, 0))))

	return m
}

// Reconciler returns the mirror's reconciliation task, e.g. to trigger a
// run manually.
func (m *Mirror) Reconciler() *Reconciler {
	return m.reconciler
}

// skipRemote reports whether name is a compound file that stays local-only.
func (m *Mirror) skipRemote(name string) bool {
	return m.cfg.UseCompound() && m.cfg.IsCompound(name)
}

func (m *Mirror) opError(op, name string, err error) error {
	return &store.OpError{Op: op, Name: name, Index: m.cfg.Index, Err: err}
}

// ============================================================================
// Fetch
// ============================================================================

// ensureFetched makes sure name is present in the local store, copying it
// from the remote store under the per-file lock if necessary.
func (m *Mirror) ensureFetched(ctx context.Context, name string) error {
	m.locks.Lock(name)
	defer m.locks.Unlock(name)

	present, err := m.local.Exists(ctx, name)
	if err != nil {
		return m.opError("fetch", name, err)
	}
	if present {
		m.cfg.Metrics.RecordHit(cache.StrategyMirror)
		return nil
	}
	m.cfg.Metrics.RecordMiss(cache.StrategyMirror)

	start := time.Now()
	n, err := store.CopyFile(ctx, m.source, m.local, name, m.cfg.CopyChunkSize)
	m.cfg.Metrics.ObserveFetch(cache.StrategyMirror, n, time.Since(start), err)
	if err != nil {
		return m.opError("fetch", name, err)
	}

	logger.Debug("Mirror %s: fetched %s (%s) in %s", m.cfg.Index, name, humanize.IBytes(uint64(n)), time.Since(start))
	return nil
}

// ============================================================================
// Metadata Operations
// ============================================================================

// Exists answers from the local store when the file is there, otherwise from
// the remote store. It never fetches.
func (m *Mirror) Exists(ctx context.Context, name string) (bool, error) {
	if m.cfg.IsStatic(name) {
		return m.remote.Exists(ctx, name)
	}

	present, err := m.local.Exists(ctx, name)
	if err != nil || present {
		return present, err
	}
	return m.remote.Exists(ctx, name)
}

// Length fetches name if needed and answers from the local copy.
func (m *Mirror) Length(ctx context.Context, name string) (int64, error) {
	if m.cfg.IsStatic(name) {
		return m.remote.Length(ctx, name)
	}
	if err := m.ensureFetched(ctx, name); err != nil {
		return 0, err
	}
	return m.local.Length(ctx, name)
}

// List returns the remote listing plus the local-only compound files.
func (m *Mirror) List(ctx context.Context) ([]string, error) {
	names, err := m.remote.List(ctx)
	if err != nil {
		return nil, err
	}

	if m.cfg.UseCompound() {
		local, err := m.local.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range local {
			if m.cfg.IsCompound(n) {
				names = append(names, n)
			}
		}
	}

	slices.Sort(names)
	return slices.Compact(names), nil
}

// ============================================================================
// Read / Write Path
// ============================================================================

// OpenRead fetches name if needed and opens the local copy.
func (m *Mirror) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	if m.cfg.IsStatic(name) {
		return m.remote.OpenRead(ctx, name)
	}
	if err := m.ensureFetched(ctx, name); err != nil {
		return nil, err
	}
	return m.local.OpenRead(ctx, name)
}

// OpenWrite creates name in the local store. Closing the handle publishes
// the local file and copies it to the remote store, unless it is a
// local-only compound file.
func (m *Mirror) OpenWrite(ctx context.Context, name string) (store.WriteHandle, error) {
	if m.cfg.IsStatic(name) {
		return m.remote.OpenWrite(ctx, name)
	}

	h, err := m.local.OpenWrite(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flushHandle{WriteHandle: h, mirror: m, ctx: context.WithoutCancel(ctx)}, nil
}

// Delete removes the local copy and the remote file. Deleting a missing file
// is not an error.
func (m *Mirror) Delete(ctx context.Context, name string) error {
	if m.cfg.IsStatic(name) {
		return m.remote.Delete(ctx, name)
	}

	err := m.locks.With(name, func() error {
		return m.local.Delete(ctx, name)
	})
	if err != nil {
		return m.opError("delete", name, err)
	}

	if m.skipRemote(name) {
		return nil
	}
	return m.remote.Delete(ctx, name)
}

// Rename renames in the remote store and, when present, the local copy.
// Local-only compound files are renamed locally only.
func (m *Mirror) Rename(ctx context.Context, from, to string) error {
	if m.cfg.IsStatic(from) || m.cfg.IsStatic(to) {
		return m.remote.Rename(ctx, from, to)
	}

	unlock := m.locks.LockAll(from, to)
	defer unlock()

	if m.skipRemote(from) {
		return m.local.Rename(ctx, from, to)
	}

	if err := m.remote.Rename(ctx, from, to); err != nil {
		return err
	}

	present, err := m.local.Exists(ctx, from)
	if err != nil {
		return m.opError("rename", from, err)
	}
	if present {
		err = m.local.Rename(ctx, from, to)
	} else {
		// Never fetched: drop any stale local copy of the target instead.
		err = m.local.Delete(ctx, to)
	}
	if err != nil {
		return m.opError("rename", from, err)
	}
	return nil
}

// Touch updates the modification marker of the remote file and of the local
// copy if there is one.
func (m *Mirror) Touch(ctx context.Context, name string) error {
	if m.cfg.IsStatic(name) {
		return m.remote.Touch(ctx, name)
	}
	if m.skipRemote(name) {
		return m.local.Touch(ctx, name)
	}

	if err := m.remote.Touch(ctx, name); err != nil {
		return err
	}

	m.locks.Lock(name)
	defer m.locks.Unlock(name)

	present, err := m.local.Exists(ctx, name)
	if err != nil || !present {
		return err
	}
	return m.local.Touch(ctx, name)
}

// Clear drops every local copy of a remote file and returns how many were
// dropped. Local-only compound files are kept, as they exist nowhere else.
func (m *Mirror) Clear(ctx context.Context) (int, error) {
	names, err := m.local.List(ctx)
	if err != nil {
		return 0, m.opError("clear", "*", err)
	}

	cleared := 0
	for _, name := range names {
		if m.skipRemote(name) {
			continue
		}
		err := m.locks.With(name, func() error {
			return m.local.Delete(ctx, name)
		})
		if err != nil {
			return cleared, m.opError("clear", name, err)
		}
		cleared++
	}

	if cleared > 0 {
		m.cfg.Metrics.RecordEviction(cache.StrategyMirror, cleared)
	}
	logger.Info("Mirror %s: cleared %d local files", m.cfg.Index, cleared)
	return cleared, nil
}

// Close cancels the reconciliation task and closes both stores. Safe to call
// multiple times.
func (m *Mirror) Close() error {
	m.closeOnce.Do(func() {
		if m.task != nil {
			m.task.Cancel()
		}
		m.closeErr = errors.Join(m.local.Close(), m.remote.Close())
		logger.Info("Mirror closed for %s", m.cfg.Index)
	})
	return m.closeErr
}

// ============================================================================
// Write Handle
// ============================================================================

// flushHandle publishes the local file on Close and copies it upstream.
type flushHandle struct {
	store.WriteHandle
	mirror *Mirror
	ctx    context.Context
	closed bool
}

// Abort discards the local write; nothing is flushed upstream.
func (w *flushHandle) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.WriteHandle.Abort()
}

// Close holds the per-file lock from local publish to remote flush, so the
// reconciler cannot mistake the new local file for an orphan in between.
func (w *flushHandle) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	m := w.mirror
	name := w.Name()

	m.locks.Lock(name)
	defer m.locks.Unlock(name)

	if err := w.WriteHandle.Close(); err != nil {
		return m.opError("write", name, err)
	}

	if m.skipRemote(name) {
		logger.Debug("Mirror %s: keeping compound file %s local", m.cfg.Index, name)
		return nil
	}

	n, err := store.CopyFile(w.ctx, m.local, m.remote, name, m.cfg.CopyChunkSize)
	if err != nil {
		return m.opError("flush", name, err)
	}

	logger.Debug("Mirror %s: flushed %s (%s)", m.cfg.Index, name, humanize.IBytes(uint64(n)))
	return nil
}
