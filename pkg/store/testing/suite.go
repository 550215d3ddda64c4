package testing

import (
	"context"
	"testing"

	"github.com/marmos91/idxcache/pkg/store"
)

// StoreTestSuite is a comprehensive test suite for FileStore implementations.
// It tests the interface contract, not implementation details, making it reusable
// across plain stores (memory, filesystem, badger, S3) and the caching
// wrappers, which must be indistinguishable from a plain store.
//
// Usage:
//
//	func TestMyFileStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.FileStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh FileStore instance
	// for each test. Factories register their own cleanup with t.Cleanup.
	NewStore func(t *testing.T) store.FileStore

	// SkipTouch disables the Touch tests for stores that cannot observe
	// modification times.
	SkipTouch bool
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("ReadOperations", suite.RunReadTests)
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("ConcurrentOperations", suite.RunConcurrencyTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
