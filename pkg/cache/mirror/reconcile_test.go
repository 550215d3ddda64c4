package mirror

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/idxcache/pkg/store"
	storetesting "github.com/marmos91/idxcache/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetchAll reads every name through the mirror so it has a local copy.
func fetchAll(t *testing.T, m *testMirror, names ...string) {
	t.Helper()
	for _, n := range names {
		_ = storetesting.MustReadFile(t, m, n)
	}
}

func TestReconcile_DeletesOrphans(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t, Config{})

	for _, n := range []string{"_0.fdt", "_0.fdx", "_1.fdt"} {
		storetesting.MustWriteFile(t, m.remoteStore, n, []byte(n))
	}
	fetchAll(t, m, "_0.fdt", "_0.fdx", "_1.fdt")
	storetesting.MustWriteFile(t, m, "_2.cfs", []byte("bundle"))

	// A merge on another node obsoletes segment 0.
	require.NoError(t, m.remoteStore.Delete(ctx, "_0.fdt"))
	require.NoError(t, m.remoteStore.Delete(ctx, "_0.fdx"))

	stats, err := m.Reconciler().RunNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(4), stats.LocalCount)
	assert.Equal(t, uint64(1), stats.RemoteCount)
	assert.Equal(t, uint64(2), stats.OrphanedCount)
	assert.Equal(t, uint64(2), stats.DeletedCount)
	assert.Equal(t, uint64(1), stats.KeptCount)
	assert.Zero(t, stats.FailedCount)
	assert.Contains(t, stats.Summary(), "deleted=2")

	local, err := m.localStore.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"_1.fdt", "_2.cfs"}, local)

	// Nothing left to do.
	stats, err = m.Reconciler().RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DeletedCount)
}

func TestReconcile_CompoundFilesDeletedOutsideCompoundMode(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t, Config{})

	storetesting.MustWriteFile(t, m, "_3.cfs", []byte("bundle"))

	m.compound.Store(false)
	stats, err := m.Reconciler().RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.DeletedCount)
	assert.False(t, exists(t, m.localStore, "_3.cfs"))
}

func TestReconcile_ListingFailureHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t, Config{})

	storetesting.MustWriteFile(t, m.remoteStore, "_4.tis", []byte("terms"))
	fetchAll(t, m, "_4.tis")
	require.NoError(t, m.remoteStore.Delete(ctx, "_4.tis"))

	m.remoteStore.FailList(errors.New("remote unreachable"))

	stats, err := m.Reconciler().RunNow(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIOFailure)
	assert.Zero(t, stats.DeletedCount)
	assert.True(t, exists(t, m.localStore, "_4.tis"))

	// Recovers on the next run.
	m.remoteStore.FailList(nil)
	stats, err = m.Reconciler().RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.DeletedCount)
}

func TestReconcile_LocalListingFailure(t *testing.T) {
	m := newTestMirror(t, Config{})
	m.localStore.FailList(errors.New("disk gone"))

	_, err := m.Reconciler().RunNow(context.Background())
	require.Error(t, err)
	assert.Zero(t, m.remoteStore.Lists(), "remote is not listed once the local listing failed")
}

func TestReconcile_FailedDeleteIsRetried(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t, Config{})

	for _, n := range []string{"_5.prx", "_6.prx"} {
		storetesting.MustWriteFile(t, m.remoteStore, n, []byte(n))
	}
	fetchAll(t, m, "_5.prx", "_6.prx")
	require.NoError(t, m.remoteStore.Delete(ctx, "_5.prx"))
	require.NoError(t, m.remoteStore.Delete(ctx, "_6.prx"))

	m.localStore.FailDeletes("_5.prx", errors.New("file busy"))

	stats, err := m.Reconciler().RunNow(ctx)
	require.NoError(t, err, "a failed delete does not fail the run")
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, uint64(1), stats.DeletedCount)
	assert.True(t, exists(t, m.localStore, "_5.prx"))

	m.localStore.FailDeletes("_5.prx", nil)
	stats, err = m.Reconciler().RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.DeletedCount)
	assert.False(t, exists(t, m.localStore, "_5.prx"))
}

func TestReconcile_RemoteListingRunsInTransaction(t *testing.T) {
	var calls atomic.Int32
	m := newTestMirror(t, Config{
		Transaction: func(ctx context.Context, fn func(ctx context.Context) error) error {
			calls.Add(1)
			return fn(ctx)
		},
	})

	storetesting.MustWriteFile(t, m, "_7.nrm", []byte("norms"))

	_, err := m.Reconciler().RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReconcile_TransactionFailureAborts(t *testing.T) {
	ctx := context.Background()
	txErr := errors.New("serialization failure")

	m := newTestMirror(t, Config{
		Transaction: func(context.Context, func(context.Context) error) error { return txErr },
	})

	storetesting.MustWriteFile(t, m.localStore, "_8.nrm", []byte("orphan"))

	_, err := m.Reconciler().RunNow(ctx)
	assert.ErrorIs(t, err, txErr)
	assert.True(t, exists(t, m.localStore, "_8.nrm"))
}

func TestReconcile_KeepsFileFlushedAfterListing(t *testing.T) {
	ctx := context.Background()

	var remote store.FileStore
	m := newTestMirror(t, Config{
		Transaction: func(ctx context.Context, fn func(ctx context.Context) error) error {
			err := fn(ctx)
			// The writer's flush lands right after the listing was taken.
			_ = store.WriteAll(ctx, remote, "_9.fdt", []byte("fresh"))
			return err
		},
	})
	remote = m.remoteStore

	storetesting.MustWriteFile(t, m.localStore, "_9.fdt", []byte("fresh"))

	stats, err := m.Reconciler().RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.OrphanedCount)
	assert.Zero(t, stats.DeletedCount)
	assert.True(t, exists(t, m.localStore, "_9.fdt"))
}

func TestReconcile_Periodic(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t, Config{
		ReconcileInterval:     10 * time.Millisecond,
		ReconcileInitialDelay: time.Millisecond,
	})

	storetesting.MustWriteFile(t, m.remoteStore, "_a.tii", []byte("index"))
	fetchAll(t, m, "_a.tii")
	require.NoError(t, m.remoteStore.Delete(ctx, "_a.tii"))

	require.Eventually(t, func() bool {
		ok, err := m.localStore.Exists(ctx, "_a.tii")
		return err == nil && !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconcile_CancelledContext(t *testing.T) {
	m := newTestMirror(t, Config{})

	storetesting.MustWriteFile(t, m.localStore, "_b.frq", []byte("orphan"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Reconciler().RunNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, exists(t, m.localStore, "_b.frq"))
}
