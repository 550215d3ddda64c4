package testing

import (
	"testing"

	"github.com/marmos91/idxcache/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWriteTests executes write, delete, rename and touch tests.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("Write_Basic", suite.testWriteBasic)
	t.Run("Write_Overwrite", suite.testWriteOverwrite)
	t.Run("Write_InvisibleUntilClose", suite.testWriteInvisibleUntilClose)
	t.Run("Write_Seek", suite.testWriteSeek)
	t.Run("Write_SeekPastEnd", suite.testWriteSeekPastEnd)
	t.Run("Write_InvalidName", suite.testWriteInvalidName)
	t.Run("Write_Abort", suite.testWriteAbort)
	t.Run("Write_AbortKeepsPreviousVersion", suite.testWriteAbortKeepsPreviousVersion)
	t.Run("Delete_Success", suite.testDeleteSuccess)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
	t.Run("Rename", suite.testRename)
	t.Run("Rename_NotFound", suite.testRenameNotFound)
	t.Run("Touch", suite.testTouch)
	t.Run("Touch_NotFound", suite.testTouchNotFound)
}

// ============================================================================
// Write Tests
// ============================================================================

func (suite *StoreTestSuite) testWriteBasic(t *testing.T) {
	fs := suite.NewStore(t)

	data := GenerateTestData(70 * 1024)
	MustWriteFile(t, fs, "_2.tii", data)

	assertContentEquals(t, fs, "_2.tii", data)
}

func (suite *StoreTestSuite) testWriteOverwrite(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "segments.gen", []byte("generation 1, a longer payload"))
	MustWriteFile(t, fs, "segments.gen", []byte("generation 2"))

	assertContentEquals(t, fs, "segments.gen", []byte("generation 2"))
	assert.Equal(t, int64(12), mustLength(t, fs, "segments.gen"))
}

func (suite *StoreTestSuite) testWriteAbort(t *testing.T) {
	fs := suite.NewStore(t)

	w, err := fs.OpenWrite(testContext(), "_4.tis")
	require.NoError(t, err)
	_, err = w.Write(GenerateTestData(20 * 1024))
	require.NoError(t, err)

	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close(), "Close after Abort is a no-op")

	assertExists(t, fs, "_4.tis", false)
	names, err := fs.List(testContext())
	require.NoError(t, err)
	assert.NotContains(t, names, "_4.tis")
}

func (suite *StoreTestSuite) testWriteAbortKeepsPreviousVersion(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "_4.tii", []byte("published"))

	w, err := fs.OpenWrite(testContext(), "_4.tii")
	require.NoError(t, err)
	_, err = w.Write([]byte("truncat"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	assertContentEquals(t, fs, "_4.tii", []byte("published"))
}

func (suite *StoreTestSuite) testWriteInvisibleUntilClose(t *testing.T) {
	fs := suite.NewStore(t)

	w, err := fs.OpenWrite(testContext(), "_3.prx")
	require.NoError(t, err)

	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), w.Length())
	assert.Equal(t, int64(7), w.Position())
	assert.Equal(t, "_3.prx", w.Name())

	assertExists(t, fs, "_3.prx", false)

	require.NoError(t, w.Close())
	assertExists(t, fs, "_3.prx", true)
	assertContentEquals(t, fs, "_3.prx", []byte("partial"))
}

func (suite *StoreTestSuite) testWriteSeek(t *testing.T) {
	fs := suite.NewStore(t)

	w, err := fs.OpenWrite(testContext(), "_4.fdx")
	require.NoError(t, err)

	_, err = w.Write([]byte("XXXXpayload"))
	require.NoError(t, err)

	// Header patched after the body, as the index writer does.
	require.NoError(t, w.Seek(0))
	_, err = w.Write([]byte("HEAD"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), w.Position())
	assert.Equal(t, int64(11), w.Length())

	require.NoError(t, w.Close())
	assertContentEquals(t, fs, "_4.fdx", []byte("HEADpayload"))
}

func (suite *StoreTestSuite) testWriteSeekPastEnd(t *testing.T) {
	fs := suite.NewStore(t)

	w, err := fs.OpenWrite(testContext(), "_5.fdx")
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	AssertErrorIs(t, store.ErrInvalidOffset, w.Seek(4))
	AssertErrorIs(t, store.ErrInvalidOffset, w.Seek(-1))
	require.NoError(t, w.Seek(3))
}

func (suite *StoreTestSuite) testWriteInvalidName(t *testing.T) {
	fs := suite.NewStore(t)

	for _, name := range []string{"", "..", "a/b"} {
		_, err := fs.OpenWrite(testContext(), name)
		AssertErrorIs(t, store.ErrInvalidName, err)
	}
}

// ============================================================================
// Delete Tests
// ============================================================================

func (suite *StoreTestSuite) testDeleteSuccess(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "_6.tis", []byte("terms"))
	mustDelete(t, fs, "_6.tis")

	assertExists(t, fs, "_6.tis", false)
	_, err := fs.OpenRead(testContext(), "_6.tis")
	AssertErrorIs(t, store.ErrNotFound, err)
}

func (suite *StoreTestSuite) testDeleteIdempotent(t *testing.T) {
	fs := suite.NewStore(t)

	// Missing file
	mustDelete(t, fs, "never-written.tis")

	// Twice in a row
	MustWriteFile(t, fs, "_7.tis", []byte("terms"))
	mustDelete(t, fs, "_7.tis")
	mustDelete(t, fs, "_7.tis")

	assertExists(t, fs, "_7.tis", false)
}

// ============================================================================
// Rename / Touch Tests
// ============================================================================

func (suite *StoreTestSuite) testRename(t *testing.T) {
	fs := suite.NewStore(t)

	data := GenerateTestData(1500)
	MustWriteFile(t, fs, "segments.new", data)
	MustWriteFile(t, fs, "segments_3", []byte("stale"))

	require.NoError(t, fs.Rename(testContext(), "segments.new", "segments_3"))

	assertExists(t, fs, "segments.new", false)
	assertContentEquals(t, fs, "segments_3", data)
}

func (suite *StoreTestSuite) testRenameNotFound(t *testing.T) {
	fs := suite.NewStore(t)

	err := fs.Rename(testContext(), "missing", "other")
	AssertErrorIs(t, store.ErrNotFound, err)
}

func (suite *StoreTestSuite) testTouch(t *testing.T) {
	if suite.SkipTouch {
		t.Skip("store does not support Touch")
	}
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "_8.del", []byte("deletions"))
	require.NoError(t, fs.Touch(testContext(), "_8.del"))

	assertContentEquals(t, fs, "_8.del", []byte("deletions"))
}

func (suite *StoreTestSuite) testTouchNotFound(t *testing.T) {
	if suite.SkipTouch {
		t.Skip("store does not support Touch")
	}
	fs := suite.NewStore(t)

	err := fs.Touch(testContext(), "missing.del")
	AssertErrorIs(t, store.ErrNotFound, err)
}
