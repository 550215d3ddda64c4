package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/idxcache/pkg/cache/blockcache"
	"github.com/marmos91/idxcache/pkg/cache/mirror"
	"github.com/marmos91/idxcache/pkg/config"
	"github.com/marmos91/idxcache/pkg/store"
	"github.com/marmos91/idxcache/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, groups map[string]config.GroupConfig) *Manager {
	t.Helper()

	// ApplyDefaults fills whatever the test leaves unset in the default group
	cfg := &config.Config{Cache: config.CacheConfig{
		BasePath: t.TempDir(),
		Groups:   make(map[string]config.GroupConfig),
	}}
	for name, g := range groups {
		cfg.Cache.Groups[name] = g
	}
	config.ApplyDefaults(cfg)

	m := New(cfg.Cache, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func remoteWith(t *testing.T, files map[string]string) store.FileStore {
	t.Helper()

	remote := memory.NewMemoryFileStore()
	for name, content := range files {
		require.NoError(t, store.WriteAll(context.Background(), remote, name, []byte(content)))
	}
	return remote
}

func TestCreate_Strategies(t *testing.T) {
	tests := []struct {
		connection string
		check      func(t *testing.T, fs store.FileStore)
	}{
		{"mem://", func(t *testing.T, fs store.FileStore) { assert.IsType(t, &mirror.Mirror{}, fs) }},
		{"file://", func(t *testing.T, fs store.FileStore) { assert.IsType(t, &mirror.Mirror{}, fs) }},
		{"badger://", func(t *testing.T, fs store.FileStore) { assert.IsType(t, &mirror.Mirror{}, fs) }},
		{"memory://bucketSize=512&size=8KB", func(t *testing.T, fs store.FileStore) {
			bc, ok := fs.(*blockcache.BlockCache)
			require.True(t, ok, "expected block cache, got %T", fs)
			assert.Equal(t, int64(512), bc.BlockSize())
			assert.Equal(t, 15, bc.Capacity()) // 8000 / 512
		}},
	}

	for _, tt := range tests {
		t.Run(tt.connection, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t, map[string]config.GroupConfig{
				config.DefaultGroup: {Connection: tt.connection},
			})

			fs, err := m.Create(ctx, "tenant", "products", "", remoteWith(t, map[string]string{
				"_0.si": "segment info",
			}), Options{})
			require.NoError(t, err)
			tt.check(t, fs)

			data, err := store.ReadAll(ctx, fs, "_0.si")
			require.NoError(t, err)
			assert.Equal(t, "segment info", string(data))

			require.NoError(t, store.WriteAll(ctx, fs, "_1.si", []byte("new")))
			data, err = store.ReadAll(ctx, fs, "_1.si")
			require.NoError(t, err)
			assert.Equal(t, "new", string(data))
		})
	}
}

func TestCreate_GroupFallback(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		config.DefaultGroup: {Connection: "mem://"},
		"catalog":           {Connection: "memory://"},
	})
	ctx := context.Background()

	fs, err := m.Create(ctx, "tenant", "catalog-idx", "catalog", memory.NewMemoryFileStore(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &blockcache.BlockCache{}, fs)

	fs, err = m.Create(ctx, "tenant", "other-idx", "unconfigured", memory.NewMemoryFileStore(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &mirror.Mirror{}, fs)
}

func TestCreate_DisableLocalCache(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		"archive": {DisableLocalCache: true},
	})
	remote := remoteWith(t, map[string]string{"a": "1"})

	fs, err := m.Create(context.Background(), "tenant", "old", "archive", remote, Options{})
	require.NoError(t, err)
	assert.Same(t, remote, fs)
	assert.Empty(t, m.Open())

	// The manager does not own an uncached remote
	require.NoError(t, m.Close())
	ok, err := remote.Exists(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreate_MirrorDirectoryIsFresh(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	dir := m.MirrorDir("", "tenant", "products")
	require.NoError(t, os.MkdirAll(dir, 0755))
	stale := filepath.Join(dir, "_stale.cfs")
	require.NoError(t, os.WriteFile(stale, []byte("left over"), 0644))

	fs, err := m.Create(ctx, "tenant", "products", "", memory.NewMemoryFileStore(), Options{})
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale file should be gone")

	// Fetched files land in the mirror directory
	require.NoError(t, store.WriteAll(ctx, fs, "_0.cfe", []byte("entries")))
	_, err = os.Stat(filepath.Join(dir, "_0.cfe"))
	assert.NoError(t, err)
}

func TestMirrorDir(t *testing.T) {
	m := New(config.CacheConfig{BasePath: "/var/lib/idxcache"}, nil)

	assert.Equal(t, "/var/lib/idxcache/t/i", m.MirrorDir("", "t", "i"))
	assert.Equal(t, "/mnt/fast/t/i", m.MirrorDir("/mnt/fast", "t", "i"))
	assert.Equal(t, "/var/lib/idxcache/ssd/t/i", m.MirrorDir("ssd", "t", "i"))
}

func TestCreate_DirectoryCreationFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	m := newTestManager(t, map[string]config.GroupConfig{
		config.DefaultGroup: {Connection: "file://" + blocker},
	})

	_, err := m.Create(context.Background(), "tenant", "products", "", memory.NewMemoryFileStore(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDirectoryCreation)
	assert.Empty(t, m.Open())
}

func TestCreate_UnsupportedConnection(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		"weird": {Connection: "ftp://host"},
	})

	_, err := m.Create(context.Background(), "tenant", "products", "weird", memory.NewMemoryFileStore(), Options{})
	assert.ErrorIs(t, err, config.ErrUnsupportedConnection)
}

func TestCreate_InvalidPartitionNames(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	for _, names := range [][2]string{{"", "idx"}, {"tenant", ""}, {"..", "idx"}, {"tenant", "a/b"}} {
		_, err := m.Create(ctx, names[0], names[1], "", memory.NewMemoryFileStore(), Options{})
		assert.ErrorIs(t, err, store.ErrInvalidName, "names %v", names)
	}
}

func TestCreate_AlreadyOpen(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		config.DefaultGroup: {Connection: "mem://"},
	})
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant", "products", "", memory.NewMemoryFileStore(), Options{})
	require.NoError(t, err)

	_, err = m.Create(ctx, "tenant", "products", "", memory.NewMemoryFileStore(), Options{})
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	require.NoError(t, m.Release("tenant", "products"))
	_, err = m.Create(ctx, "tenant", "products", "", memory.NewMemoryFileStore(), Options{})
	assert.NoError(t, err)
}

func TestCreate_PassesHostCallbacks(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		config.DefaultGroup: {Connection: "mem://", ReconcileInterval: time.Hour},
	})
	ctx := context.Background()
	remote := memory.NewMemoryFileStore()

	var txCalls int
	fs, err := m.Create(ctx, "tenant", "products", "", remote, Options{
		UseCompound: func() bool { return true },
		Transaction: func(ctx context.Context, fn func(context.Context) error) error {
			txCalls++
			return fn(ctx)
		},
	})
	require.NoError(t, err)

	// Compound files stay local in compound mode
	require.NoError(t, store.WriteAll(ctx, fs, "_0.cfs", []byte("bundle")))
	ok, err := remote.Exists(ctx, "_0.cfs")
	require.NoError(t, err)
	assert.False(t, ok)

	mir := fs.(*mirror.Mirror)
	_, err = mir.Reconciler().RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, txCalls)
}

func TestCreate_FetchRateLimit(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		config.DefaultGroup: {Connection: "mem://", CopyChunkSize: 1024, FetchRateLimit: "4KiB"},
	})
	ctx := context.Background()

	fs, err := m.Create(ctx, "tenant", "products", "", remoteWith(t, map[string]string{
		"_0.tis": strings.Repeat("x", 8*1024),
	}), Options{})
	require.NoError(t, err)

	// 1 KiB burst, then 7 KiB at 4 KiB/s
	start := time.Now()
	data, err := store.ReadAll(ctx, fs, "_0.tis")
	require.NoError(t, err)
	assert.Len(t, data, 8*1024)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestGetOpenRelease(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		config.DefaultGroup: {Connection: "mem://"},
	})
	ctx := context.Background()

	a, err := m.Create(ctx, "t1", "a", "", memory.NewMemoryFileStore(), Options{})
	require.NoError(t, err)
	_, err = m.Create(ctx, "t1", "b", "", memory.NewMemoryFileStore(), Options{})
	require.NoError(t, err)

	got, ok := m.Get("t1", "a")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, []string{"t1/a", "t1/b"}, m.Open())

	require.NoError(t, m.Release("t1", "a"))
	require.NoError(t, m.Release("t1", "a"))
	_, ok = m.Get("t1", "a")
	assert.False(t, ok)
	assert.Equal(t, []string{"t1/b"}, m.Open())
}

func TestClose(t *testing.T) {
	m := newTestManager(t, map[string]config.GroupConfig{
		config.DefaultGroup: {Connection: "mem://"},
	})
	ctx := context.Background()
	remote := memory.NewMemoryFileStore()

	_, err := m.Create(ctx, "tenant", "products", "", remote, Options{})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Empty(t, m.Open())

	// Closing the mirror closes the remote it owns
	_, err = remote.Exists(ctx, "x")
	assert.ErrorIs(t, err, store.ErrClosed)

	_, err = m.Create(ctx, "tenant", "other", "", memory.NewMemoryFileStore(), Options{})
	assert.ErrorIs(t, err, ErrClosed)
}
