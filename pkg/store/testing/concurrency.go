package testing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/idxcache/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConcurrencyTests exercises the store from many goroutines at once.
func (suite *StoreTestSuite) RunConcurrencyTests(t *testing.T) {
	t.Run("ConcurrentReaders", suite.testConcurrentReaders)
	t.Run("ConcurrentWriters", suite.testConcurrentWriters)
}

func (suite *StoreTestSuite) testConcurrentReaders(t *testing.T) {
	fs := suite.NewStore(t)

	data := GenerateTestData(32 * 1024)
	MustWriteFile(t, fs, "_9.cfs", data)

	const readers = 16
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for i := range readers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			h, err := fs.OpenRead(testContext(), "_9.cfs")
			if err != nil {
				errs <- err
				return
			}
			defer h.Close()

			off := int64(i * 1000)
			buf := make([]byte, 1500)
			n, err := h.ReadAt(buf, off)
			if err != nil {
				errs <- err
				return
			}
			if string(buf[:n]) != string(data[off:off+1500]) {
				errs <- fmt.Errorf("reader %d: content mismatch", i)
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func (suite *StoreTestSuite) testConcurrentWriters(t *testing.T) {
	fs := suite.NewStore(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("_%d.fnm", i)
			if err := store.WriteAll(testContext(), fs, name, []byte(fmt.Sprintf("fields-%d", i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	listed, err := fs.List(testContext())
	require.NoError(t, err)
	assert.Len(t, listed, writers)

	for i := range writers {
		assertContentEquals(t, fs, fmt.Sprintf("_%d.fnm", i), []byte(fmt.Sprintf("fields-%d", i)))
	}
}
