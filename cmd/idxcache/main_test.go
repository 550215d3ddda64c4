package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/idxcache/pkg/cache/mirror"
	"github.com/marmos91/idxcache/pkg/config"
	"github.com/marmos91/idxcache/pkg/store"
	"github.com/marmos91/idxcache/pkg/store/memory"
	storetesting "github.com/marmos91/idxcache/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, runInit([]string{"-config", path}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "filesystem", cfg.Remote.Type)
	assert.Contains(t, cfg.Cache.Groups, config.DefaultGroup)

	err = runInit([]string{"-config", path})
	assert.Error(t, err, "existing file is not overwritten without -force")

	assert.NoError(t, runInit([]string{"-config", path, "-force"}))
}

func TestRunWarm_RequiresPartition(t *testing.T) {
	err := runWarm([]string{"-index", "products"})
	assert.Error(t, err)
}

func TestWarm(t *testing.T) {
	ctx := context.Background()

	remote := storetesting.NewCountingStore(memory.NewMemoryFileStore())
	storetesting.MustWriteFile(t, remote, "_0.fdt", storetesting.GenerateTestData(40*1024))
	storetesting.MustWriteFile(t, remote, "_0.fdx", storetesting.GenerateTestData(100))
	storetesting.MustWriteFile(t, remote, "_0.si", nil)

	dir := mirror.New(memory.NewMemoryFileStore(), remote, mirror.Config{
		Index:             "tenant/products",
		ReconcileInterval: -1,
	})
	t.Cleanup(func() { _ = dir.Close() })

	files, total, err := warm(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, files)
	assert.Equal(t, int64(40*1024+100), total)

	// Everything is local now
	remote.ResetCounts()
	_, _, err = warm(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remote.Reads())

	data, err := store.ReadAll(ctx, dir, "_0.fdx")
	require.NoError(t, err)
	assert.Len(t, data, 100)
}
