package testing

import (
	"errors"
	"testing"

	"github.com/marmos91/idxcache/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// MustWriteFile creates name with data and fails the test if it errors.
func MustWriteFile(t *testing.T, fs store.FileStore, name string, data []byte) {
	t.Helper()
	err := store.WriteAll(testContext(), fs, name, data)
	require.NoError(t, err, "WriteAll should succeed")
}

// MustReadFile reads the whole content of name and fails the test if it errors.
func MustReadFile(t *testing.T, fs store.FileStore, name string) []byte {
	t.Helper()
	data, err := store.ReadAll(testContext(), fs, name)
	require.NoError(t, err, "ReadAll should succeed")
	return data
}

// mustReadAt reads length bytes at off through a fresh handle.
func mustReadAt(t *testing.T, fs store.FileStore, name string, off, length int64) []byte {
	t.Helper()
	h, err := fs.OpenRead(testContext(), name)
	require.NoError(t, err, "OpenRead should succeed")
	defer h.Close()

	buf := make([]byte, length)
	n, err := h.ReadAt(buf, off)
	if int64(n) < length {
		require.Error(t, err, "short read must report an error")
	}
	return buf[:n]
}

// mustLength gets the file length and fails the test if it errors.
func mustLength(t *testing.T, fs store.FileStore, name string) int64 {
	t.Helper()
	n, err := fs.Length(testContext(), name)
	require.NoError(t, err, "Length should succeed")
	return n
}

// mustDelete deletes name and fails the test if it errors.
func mustDelete(t *testing.T, fs store.FileStore, name string) {
	t.Helper()
	err := fs.Delete(testContext(), name)
	require.NoError(t, err, "Delete should succeed")
}

// assertExists checks if name exists.
func assertExists(t *testing.T, fs store.FileStore, name string, expected bool) {
	t.Helper()
	exists, err := fs.Exists(testContext(), name)
	require.NoError(t, err, "Exists should not error")
	assert.Equal(t, expected, exists, "File existence mismatch for %s", name)
}

// assertContentEquals checks if the content of name matches expected data.
func assertContentEquals(t *testing.T, fs store.FileStore, name string, expected []byte) {
	t.Helper()
	actual := MustReadFile(t, fs, name)
	assert.Equal(t, expected, actual, "Content mismatch for %s", name)
}

// GenerateTestData creates deterministic test data of the given size.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
