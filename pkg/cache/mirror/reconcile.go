package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/cache"
	"github.com/marmos91/idxcache/pkg/cache/lockpool"
	"github.com/marmos91/idxcache/pkg/store"
)

// TxFunc runs fn inside whatever consistency scope the host engine uses for
// reading the remote store, e.g. a database transaction when the index lives
// in a database-backed store.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Direct is the TxFunc that simply calls fn.
func Direct(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Reconciler removes local copies of files that no longer exist remotely.
//
// Each run lists both stores, computes localOnly = local - remote and deletes
// those names from the local store under their per-file lock. Local-only
// compound files are kept. A failed listing aborts the run with no side
// effects; a failed delete is logged and retried on the next run.
//
// Thread Safety: Safe for concurrent use. Runs may overlap a manual RunNow;
// both take the same per-file locks.
type Reconciler struct {
	local   store.FileStore
	remote  store.FileStore
	locks   *lockpool.Pool
	keep    func(name string) bool
	tx      TxFunc
	index   string
	metrics cache.Metrics
}

// RunNow triggers an immediate reconciliation run.
//
// This is useful for:
//   - Testing
//   - Reclaiming local space right after the host engine merged segments
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *Stats: Run statistics (partial if the run failed)
//   - error: Returns error if a listing fails or ctx is cancelled
func (r *Reconciler) RunNow(ctx context.Context) (*Stats, error) {
	logger.Debug("Reconcile %s: manual trigger", r.index)
	return r.reconcile(ctx)
}

// runScheduled is the scheduler task. Failures are logged; the next period
// retries.
func (r *Reconciler) runScheduled(ctx context.Context) {
	stats, err := r.reconcile(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		logger.Debug("Reconcile %s: interrupted: %v", r.index, err)
	case err != nil:
		logger.Warn("Reconcile %s failed, retrying next period: %v", r.index, err)
	case stats.DeletedCount > 0 || stats.FailedCount > 0:
		logger.Info("Reconcile %s completed: %s", r.index, stats.Summary())
	default:
		logger.Debug("Reconcile %s completed: %s", r.index, stats.Summary())
	}
}

// reconcile performs a single run:
//  1. List the local store
//  2. List the remote store inside the transaction callback
//  3. Compute orphaned = local - remote, minus local-only compound files
//  4. Delete each orphan under its lock, re-checking the remote first
func (r *Reconciler) reconcile(ctx context.Context) (stats *Stats, err error) {
	stats = &Stats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		r.metrics.ObserveReconcile(int(stats.DeletedCount), int(stats.FailedCount), stats.Duration(), err)
	}()

	// Step 1: Local listing
	localNames, err := r.local.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list local files of %s: %w", r.index, err)
	}
	stats.LocalCount = uint64(len(localNames))

	if len(localNames) == 0 {
		return stats, nil
	}

	// Step 2: Remote listing
	var remoteNames []string
	err = r.tx(ctx, func(ctx context.Context) error {
		var lerr error
		remoteNames, lerr = r.remote.List(ctx)
		return lerr
	})
	if err != nil {
		return stats, fmt.Errorf("list remote files of %s: %w", r.index, err)
	}
	stats.RemoteCount = uint64(len(remoteNames))

	remoteSet := make(map[string]struct{}, len(remoteNames))
	for _, n := range remoteNames {
		remoteSet[n] = struct{}{}
	}

	// Step 3: Orphans
	orphaned := make([]string, 0)
	for _, n := range localNames {
		if _, ok := remoteSet[n]; ok {
			continue
		}
		if r.keep(n) {
			stats.KeptCount++
			continue
		}
		orphaned = append(orphaned, n)
	}
	stats.OrphanedCount = uint64(len(orphaned))

	// Step 4: Delete
	for _, name := range orphaned {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		deleted, derr := r.deleteOrphan(ctx, name)
		switch {
		case derr != nil:
			logger.Warn("Reconcile %s: failed to delete %s: %v", r.index, name, derr)
			stats.FailedCount++
		case deleted:
			logger.Debug("Reconcile %s: deleted %s", r.index, name)
			stats.DeletedCount++
		default:
			stats.KeptCount++
		}
	}

	if stats.DeletedCount > 0 {
		r.metrics.RecordEviction(cache.StrategyMirror, int(stats.DeletedCount))
	}
	return stats, nil
}

// deleteOrphan deletes name locally unless it appeared remotely since the
// listing, which happens when a write is flushed mid-run.
func (r *Reconciler) deleteOrphan(ctx context.Context, name string) (bool, error) {
	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	exists, err := r.remote.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := r.local.Delete(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}

// Stats contains statistics from a reconciliation run.
type Stats struct {
	StartTime     time.Time // When the run started
	EndTime       time.Time // When the run ended
	LocalCount    uint64    // Files in the local store
	RemoteCount   uint64    // Files in the remote store
	OrphanedCount uint64    // Local files missing remotely
	KeptCount     uint64    // Local-only files intentionally kept
	DeletedCount  uint64    // Orphans deleted
	FailedCount   uint64    // Orphans that failed to delete
}

// Duration returns the total run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("local=%d remote=%d orphaned=%d kept=%d deleted=%d failed=%d duration=%s",
		s.LocalCount, s.RemoteCount, s.OrphanedCount, s.KeptCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
