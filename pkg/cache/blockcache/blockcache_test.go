package blockcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/idxcache/pkg/store"
	"github.com/marmos91/idxcache/pkg/store/memory"
	storetesting "github.com/marmos91/idxcache/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, cfg Config) (*BlockCache, *storetesting.CountingStore) {
	t.Helper()

	remote := storetesting.NewCountingStore(memory.NewMemoryFileStore())
	if cfg.IsStatic == nil {
		cfg.IsStatic = store.StaticFiles(store.DefaultStaticFileNames...)
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Hour
	}
	cfg.Index = "test"

	c, err := New(context.Background(), remote, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, remote
}

func readRange(t *testing.T, fs store.FileStore, name string, off, length int64) []byte {
	t.Helper()

	h, err := fs.OpenRead(context.Background(), name)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, length)
	n, err := h.ReadAt(buf, off)
	require.NoError(t, err)
	require.Equal(t, int(length), n)
	return buf
}

// TestBlockCache_Conformance runs the FileStore suite through the cache, with
// and without the name set.
func TestBlockCache_Conformance(t *testing.T) {
	for _, cacheNames := range []bool{false, true} {
		t.Run(fmt.Sprintf("CacheFileNames=%v", cacheNames), func(t *testing.T) {
			suite := &storetesting.StoreTestSuite{
				NewStore: func(t *testing.T) store.FileStore {
					c, _ := newTestCache(t, Config{BlockSize: 1024, Capacity: 16 * 1024, CacheFileNames: cacheNames})
					return c
				},
			}
			suite.Run(t)
		})
	}
}

func TestBlockCache_ReadCorrectnessAcrossBlockSizes(t *testing.T) {
	data := storetesting.GenerateTestData(10*1024 + 37)

	ranges := []struct{ off, length int64 }{
		{0, 1},
		{0, 100},
		{1000, 100},
		{1023, 1},
		{1024, 1024},
		{511, 4096},
		{3000, 5000},
		{9000, 1000},
		{int64(len(data)) - 37, 37},
		{0, int64(len(data))},
	}

	for _, blockSize := range []int64{1, 7, 512, 1024, 4096, 16384} {
		t.Run(fmt.Sprintf("BlockSize=%d", blockSize), func(t *testing.T) {
			c, remote := newTestCache(t, Config{BlockSize: blockSize, Capacity: 8 * 1024})
			storetesting.MustWriteFile(t, remote, "_0.fdt", data)

			for _, r := range ranges {
				got := readRange(t, c, "_0.fdt", r.off, r.length)
				assert.Equal(t, data[r.off:r.off+r.length], got, "range [%d,+%d)", r.off, r.length)
			}
		})
	}
}

// TestBlockCache_EndToEnd uses 1024-byte blocks with a 4 KiB budget over a
// 10 KiB file.
func TestBlockCache_EndToEnd(t *testing.T) {
	c, remote := newTestCache(t, Config{BlockSize: 1024, Capacity: 4 * 1024, CacheFileNames: true})
	require.Equal(t, 4, c.Capacity())

	data := storetesting.GenerateTestData(10 * 1024)
	storetesting.MustWriteFile(t, c, "_0.cfs", data)

	ranges := []struct{ off, length int64 }{
		{0, 100},
		{1000, 100},  // crosses the first block boundary
		{9000, 1000}, // reaches into the final block
	}

	check := func() {
		for _, r := range ranges {
			got := readRange(t, c, "_0.cfs", r.off, r.length)
			assert.Equal(t, data[r.off:r.off+r.length], got)
		}
	}

	// Blocks 0, 1, 8 and 9 are touched; each is read from the backing store
	// exactly once.
	check()
	assert.Equal(t, int64(4), remote.Reads())
	assert.Equal(t, 4, c.CachedBlocks())

	for range 5 {
		check()
	}
	assert.Equal(t, int64(4), remote.Reads(), "re-reads are served from memory")

	// A full scan from a cold cache costs exactly one read per block.
	c.Prune()
	remote.ResetCounts()

	got := readRange(t, c, "_0.cfs", 0, int64(len(data)))
	assert.Equal(t, data, got)
	assert.Equal(t, int64(10), remote.Reads())
	assert.Equal(t, int64(len(data)), remote.ReadBytes())
	assert.Equal(t, 4, c.CachedBlocks(), "capacity bounds the cache")
}

func TestBlockCache_SecondChanceKeepsHotBlock(t *testing.T) {
	c, remote := newTestCache(t, Config{BlockSize: 100, Capacity: 300})
	data := storetesting.GenerateTestData(1000)
	storetesting.MustWriteFile(t, remote, "_0.tis", data)

	// Fill blocks 0,1,2, then keep touching block 0 while streaming others.
	for idx := int64(0); idx < 3; idx++ {
		readRange(t, c, "_0.tis", idx*100, 10)
	}
	for idx := int64(3); idx < 10; idx++ {
		readRange(t, c, "_0.tis", 0, 10)
		readRange(t, c, "_0.tis", idx*100, 10)
	}

	remote.ResetCounts()
	readRange(t, c, "_0.tis", 0, 10)
	assert.Equal(t, int64(0), remote.Reads(), "referenced block survives eviction sweeps")
}

func TestBlockCache_FreedSlotsAreReusedBeforeEviction(t *testing.T) {
	ctx := context.Background()
	c, remote := newTestCache(t, Config{BlockSize: 100, Capacity: 400})
	for _, name := range []string{"_a.tis", "_b.tis", "_c.tis"} {
		storetesting.MustWriteFile(t, remote, name, storetesting.GenerateTestData(200))
	}

	readRange(t, c, "_a.tis", 0, 200)
	readRange(t, c, "_b.tis", 0, 200)
	require.Equal(t, 4, c.CachedBlocks())

	require.NoError(t, c.Delete(ctx, "_b.tis"))
	assert.Equal(t, 2, c.CachedBlocks())

	readRange(t, c, "_c.tis", 0, 100)
	assert.Equal(t, 3, c.CachedBlocks())

	remote.ResetCounts()
	readRange(t, c, "_a.tis", 0, 200)
	assert.Equal(t, int64(0), remote.Reads(), "no block evicted while slots were free")
}

func TestBlockCache_CloseIsIdempotent(t *testing.T) {
	remote := storetesting.NewCountingStore(memory.NewMemoryFileStore())
	c, err := New(context.Background(), remote, Config{BlockSize: 1024, Capacity: 4096, CacheFileNames: true, Index: "test"})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, int64(1), remote.Closes(), "backing store closed once")
}

func TestBlockCache_ConcurrentMissesFetchOnce(t *testing.T) {
	c, remote := newTestCache(t, Config{BlockSize: 1024, Capacity: 64 * 1024})
	data := storetesting.GenerateTestData(8 * 1024)
	storetesting.MustWriteFile(t, remote, "_1.frq", data)

	// Hold each backing read long enough for the others to pile up.
	remote.OnRead(func(string, int64) { time.Sleep(5 * time.Millisecond) })

	const readers = 32
	var wg sync.WaitGroup
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.OpenRead(context.Background(), "_1.frq")
			if !assert.NoError(t, err) {
				return
			}
			defer h.Close()

			buf := make([]byte, len(data))
			_, err = h.ReadAt(buf, 0)
			assert.NoError(t, err)
			assert.Equal(t, data, buf)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8), remote.Reads(), "one backing read per block")
}

func TestBlockCache_FetchFailurePropagatesAndCachesNothing(t *testing.T) {
	c, remote := newTestCache(t, Config{BlockSize: 1024, Capacity: 8 * 1024})
	data := storetesting.GenerateTestData(3 * 1024)
	storetesting.MustWriteFile(t, remote, "_2.prx", data)

	ioErr := errors.New("connection reset")
	remote.FailReads("_2.prx", ioErr)

	h, err := c.OpenRead(context.Background(), "_2.prx")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.ReadAt(make([]byte, 100), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIOFailure)
	assert.ErrorIs(t, err, ioErr)

	var opErr *store.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "_2.prx", opErr.Name)
	assert.Equal(t, "test", opErr.Index)
	assert.Equal(t, 0, c.CachedBlocks())

	remote.FailReads("_2.prx", nil)
	assert.Equal(t, data[:100], readRange(t, c, "_2.prx", 0, 100))
}

func TestBlockCache_StaticFilesBypassCache(t *testing.T) {
	c, remote := newTestCache(t, Config{BlockSize: 1024, Capacity: 8 * 1024, CacheFileNames: true})
	storetesting.MustWriteFile(t, remote, "segments.gen", []byte("gen-1"))

	for range 3 {
		assert.Equal(t, []byte("gen-1"), readRange(t, c, "segments.gen", 0, 5))
	}
	assert.Equal(t, int64(3), remote.Reads())
	assert.Equal(t, 0, c.CachedBlocks())

	// Not in the name set yet, but static names always ask the remote.
	exists, err := c.Exists(context.Background(), "segments.gen")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBlockCache_OverwriteDropsStaleBlocks(t *testing.T) {
	c, _ := newTestCache(t, Config{BlockSize: 4, Capacity: 1024})

	storetesting.MustWriteFile(t, c, "_3.del", []byte("aaaaaaaa"))
	assert.Equal(t, []byte("aaaa"), readRange(t, c, "_3.del", 0, 4))

	storetesting.MustWriteFile(t, c, "_3.del", []byte("bbbbbbbb"))
	assert.Equal(t, []byte("bbbb"), readRange(t, c, "_3.del", 0, 4))

	require.NoError(t, c.Delete(context.Background(), "_3.del"))
	assert.Equal(t, 0, c.CachedBlocks())
}

func TestBlockCache_NameSet(t *testing.T) {
	ctx := context.Background()
	c, remote := newTestCache(t, Config{CacheFileNames: true})

	// Written behind the cache's back: invisible until a refresh.
	storetesting.MustWriteFile(t, remote, "_4.fnm", []byte("x"))
	exists, err := c.Exists(ctx, "_4.fnm")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.RefreshNames(ctx))
	exists, err = c.Exists(ctx, "_4.fnm")
	require.NoError(t, err)
	assert.True(t, exists)

	// Written through the cache: visible immediately.
	storetesting.MustWriteFile(t, c, "_5.fnm", []byte("y"))
	names, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_4.fnm", "_5.fnm"}, names)

	// A failed refresh keeps the previous set.
	remote.FailList(errors.New("unreachable"))
	assert.Error(t, c.RefreshNames(ctx))
	names, err = c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestBlockCache_PeriodicRefresh(t *testing.T) {
	remote := storetesting.NewCountingStore(memory.NewMemoryFileStore())

	c, err := New(context.Background(), remote, Config{
		CacheFileNames:  true,
		RefreshInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()

	storetesting.MustWriteFile(t, remote, "_6.tii", []byte("z"))

	require.Eventually(t, func() bool {
		ok, _ := c.Exists(context.Background(), "_6.tii")
		return ok
	}, time.Second, 2*time.Millisecond)
}

func TestBlockCache_InitialListingFailure(t *testing.T) {
	remote := storetesting.NewCountingStore(memory.NewMemoryFileStore())
	remote.FailList(errors.New("unreachable"))

	_, err := New(context.Background(), remote, Config{CacheFileNames: true, Index: "catalog"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrIOFailure)
}
