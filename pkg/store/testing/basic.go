package testing

import (
	"io"
	"testing"

	"github.com/marmos91/idxcache/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes existence, length and listing tests.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Exists_Missing", suite.testExistsMissing)
	t.Run("Exists_AfterWrite", suite.testExistsAfterWrite)
	t.Run("Length", suite.testLength)
	t.Run("Length_NotFound", suite.testLengthNotFound)
	t.Run("Length_Empty", suite.testLengthEmpty)
	t.Run("List", suite.testList)
	t.Run("List_Empty", suite.testListEmpty)
}

// RunReadTests executes random-access read tests.
func (suite *StoreTestSuite) RunReadTests(t *testing.T) {
	t.Run("OpenRead_NotFound", suite.testOpenReadNotFound)
	t.Run("ReadAt_Ranges", suite.testReadAtRanges)
	t.Run("ReadAt_PastEnd", suite.testReadAtPastEnd)
	t.Run("ReadAt_ShortTail", suite.testReadAtShortTail)
	t.Run("ReadAt_NegativeOffset", suite.testReadAtNegativeOffset)
}

// ============================================================================
// Basic Tests
// ============================================================================

func (suite *StoreTestSuite) testExistsMissing(t *testing.T) {
	fs := suite.NewStore(t)
	assertExists(t, fs, "missing.si", false)
}

func (suite *StoreTestSuite) testExistsAfterWrite(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "_0.si", []byte("segment info"))
	assertExists(t, fs, "_0.si", true)
}

func (suite *StoreTestSuite) testLength(t *testing.T) {
	fs := suite.NewStore(t)

	data := GenerateTestData(3000)
	MustWriteFile(t, fs, "_0.fdt", data)

	assert.Equal(t, int64(3000), mustLength(t, fs, "_0.fdt"))
}

func (suite *StoreTestSuite) testLengthNotFound(t *testing.T) {
	fs := suite.NewStore(t)

	_, err := fs.Length(testContext(), "missing.fdt")
	AssertErrorIs(t, store.ErrNotFound, err)
}

func (suite *StoreTestSuite) testLengthEmpty(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "empty.del", nil)
	assert.Equal(t, int64(0), mustLength(t, fs, "empty.del"))
	assert.Empty(t, MustReadFile(t, fs, "empty.del"))
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	fs := suite.NewStore(t)

	names := []string{"_0.fdt", "_0.fdx", "_1.cfs", "segments_2"}
	for _, n := range names {
		MustWriteFile(t, fs, n, []byte(n))
	}

	listed, err := fs.List(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, names, listed)
}

func (suite *StoreTestSuite) testListEmpty(t *testing.T) {
	fs := suite.NewStore(t)

	listed, err := fs.List(testContext())
	require.NoError(t, err)
	assert.Empty(t, listed)
}

// ============================================================================
// Read Tests
// ============================================================================

func (suite *StoreTestSuite) testOpenReadNotFound(t *testing.T) {
	fs := suite.NewStore(t)

	_, err := fs.OpenRead(testContext(), "missing.tis")
	AssertErrorIs(t, store.ErrNotFound, err)
}

func (suite *StoreTestSuite) testReadAtRanges(t *testing.T) {
	fs := suite.NewStore(t)

	data := GenerateTestData(10 * 1024)
	MustWriteFile(t, fs, "_0.frq", data)

	ranges := []struct{ off, length int64 }{
		{0, 100},
		{1000, 100},
		{1023, 2},
		{4096, 4096},
		{9000, 1000},
		{0, 10 * 1024},
		{10*1024 - 1, 1},
	}

	for _, r := range ranges {
		got := mustReadAt(t, fs, "_0.frq", r.off, r.length)
		assert.Equal(t, data[r.off:r.off+r.length], got, "range [%d,+%d)", r.off, r.length)
	}

	h, err := fs.OpenRead(testContext(), "_0.frq")
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, int64(len(data)), h.Length())
	assert.Equal(t, "_0.frq", h.Name())
}

func (suite *StoreTestSuite) testReadAtPastEnd(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "_0.nrm", []byte("0123456789"))

	h, err := fs.OpenRead(testContext(), "_0.nrm")
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 4)
	n, err := h.ReadAt(buf, 10)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func (suite *StoreTestSuite) testReadAtShortTail(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "_0.nrm", []byte("0123456789"))

	h, err := fs.OpenRead(testContext(), "_0.nrm")
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 8)
	n, err := h.ReadAt(buf, 6)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("6789"), buf[:n])
}

func (suite *StoreTestSuite) testReadAtNegativeOffset(t *testing.T) {
	fs := suite.NewStore(t)

	MustWriteFile(t, fs, "_0.nrm", []byte("0123456789"))

	h, err := fs.OpenRead(testContext(), "_0.nrm")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.ReadAt(make([]byte, 1), -1)
	assert.Error(t, err)
}
