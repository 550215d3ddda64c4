package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/idxcache/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRemoteStore_Memory(t *testing.T) {
	ctx := context.Background()

	s, err := CreateRemoteStore(ctx, &RemoteConfig{Type: "memory"}, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, store.WriteAll(ctx, s, "_0.cfs", []byte("segment")))
	ok, err := s.Exists(ctx, "_0.cfs")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRemoteStore_Filesystem(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "remote")

	s, err := CreateRemoteStore(ctx, &RemoteConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": dir},
	}, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, store.WriteAll(ctx, s, "segments_1", []byte("commit")))
	data, err := store.ReadAll(ctx, s, "segments_1")
	require.NoError(t, err)
	assert.Equal(t, "commit", string(data))
}

func TestCreateRemoteStore_FilesystemRequiresPath(t *testing.T) {
	_, err := CreateRemoteStore(context.Background(), &RemoteConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestCreateRemoteStore_UnknownType(t *testing.T) {
	_, err := CreateRemoteStore(context.Background(), &RemoteConfig{Type: "tape"}, nil)
	require.Error(t, err)
}

func TestDecodeS3Options(t *testing.T) {
	opts, err := decodeS3Options(map[string]any{
		"bucket":      "indexes",
		"region":      "eu-west-1",
		"endpoint":    "http://localhost:4566",
		"key_prefix":  "prod/",
		"max_retries": 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "indexes", opts.Bucket)
	assert.Equal(t, "eu-west-1", opts.Region)
	assert.Equal(t, "http://localhost:4566", opts.Endpoint)
	assert.Equal(t, "prod/", opts.KeyPrefix)
	assert.Equal(t, 5, opts.MaxRetries)

	_, err = decodeS3Options(map[string]any{"region": "eu-west-1"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bucket is required"))

	_, err = decodeS3Options(map[string]any{"bucket": "indexes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region is required")
}

func TestNewS3Client_CustomEndpoint(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3StoreOptions{
		Region:          "us-east-1",
		Bucket:          "indexes",
		Endpoint:        "http://localhost:4566",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	o := client.Options()
	require.NotNil(t, o.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *o.BaseEndpoint)
	assert.True(t, o.UsePathStyle)
	assert.Equal(t, 10, o.Retryer.MaxAttempts())
}
