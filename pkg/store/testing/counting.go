package testing

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marmos91/idxcache/pkg/store"
)

// CountingStore wraps a FileStore and counts the calls the caching layers
// make against it. Failures can be injected per operation.
type CountingStore struct {
	store.FileStore

	reads     atomic.Int64 // ReadAt calls
	readBytes atomic.Int64
	opens     atomic.Int64 // OpenRead calls
	lists     atomic.Int64
	closes    atomic.Int64

	mu        sync.Mutex
	failRead  map[string]error
	failList  error
	failWrite map[string]error
	failDel   map[string]error
	readHook  func(name string, off int64)
}

// NewCountingStore wraps fs.
func NewCountingStore(fs store.FileStore) *CountingStore {
	return &CountingStore{
		FileStore: fs,
		failRead:  make(map[string]error),
		failWrite: make(map[string]error),
		failDel:   make(map[string]error),
	}
}

// Reads returns the number of ReadAt calls served.
func (c *CountingStore) Reads() int64 { return c.reads.Load() }

// ReadBytes returns the number of bytes returned by ReadAt.
func (c *CountingStore) ReadBytes() int64 { return c.readBytes.Load() }

// Opens returns the number of OpenRead calls.
func (c *CountingStore) Opens() int64 { return c.opens.Load() }

// Lists returns the number of List calls.
func (c *CountingStore) Lists() int64 { return c.lists.Load() }

// Closes returns the number of Close calls.
func (c *CountingStore) Closes() int64 { return c.closes.Load() }

// ResetCounts zeroes every counter.
func (c *CountingStore) ResetCounts() {
	c.reads.Store(0)
	c.readBytes.Store(0)
	c.opens.Store(0)
	c.lists.Store(0)
}

// FailReads makes ReadAt on name return err. A nil err clears the failure.
func (c *CountingStore) FailReads(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failRead, name)
		return
	}
	c.failRead[name] = err
}

// FailList makes List return err. A nil err clears the failure.
func (c *CountingStore) FailList(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failList = err
}

// FailWrites makes closing a write handle for name return err. The failed
// handle is aborted, so nothing is published.
func (c *CountingStore) FailWrites(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failWrite, name)
		return
	}
	c.failWrite[name] = err
}

// FailDeletes makes Delete of name return err.
func (c *CountingStore) FailDeletes(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failDel, name)
		return
	}
	c.failDel[name] = err
}

// OnRead installs a hook called before every ReadAt, e.g. to widen a race
// window in tests.
func (c *CountingStore) OnRead(hook func(name string, off int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readHook = hook
}

func (c *CountingStore) readFailure(name string) (func(string, int64), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readHook, c.failRead[name]
}

// List counts the call and honours FailList.
func (c *CountingStore) List(ctx context.Context) ([]string, error) {
	c.lists.Add(1)

	c.mu.Lock()
	err := c.failList
	c.mu.Unlock()
	if err != nil {
		return nil, store.IOError("list", "", err)
	}

	return c.FileStore.List(ctx)
}

// OpenRead counts the call and wraps the handle to count ReadAt.
func (c *CountingStore) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	c.opens.Add(1)

	h, err := c.FileStore.OpenRead(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingHandle{ReadHandle: h, parent: c}, nil
}

// OpenWrite wraps the handle so FailWrites can fail its Close.
func (c *CountingStore) OpenWrite(ctx context.Context, name string) (store.WriteHandle, error) {
	h, err := c.FileStore.OpenWrite(ctx, name)
	if err != nil {
		return nil, err
	}
	return &failingWriteHandle{WriteHandle: h, parent: c}, nil
}

// Close counts the call and closes the wrapped store.
func (c *CountingStore) Close() error {
	c.closes.Add(1)
	return c.FileStore.Close()
}

// Delete honours FailDeletes.
func (c *CountingStore) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	err := c.failDel[name]
	c.mu.Unlock()
	if err != nil {
		return store.IOError("delete", name, err)
	}
	return c.FileStore.Delete(ctx, name)
}

type countingHandle struct {
	store.ReadHandle
	parent *CountingStore
}

func (h *countingHandle) ReadAt(p []byte, off int64) (int, error) {
	h.parent.reads.Add(1)

	hook, failure := h.parent.readFailure(h.Name())
	if hook != nil {
		hook(h.Name(), off)
	}
	if failure != nil {
		return 0, store.IOError("read", h.Name(), failure)
	}

	n, err := h.ReadHandle.ReadAt(p, off)
	h.parent.readBytes.Add(int64(n))
	return n, err
}

type failingWriteHandle struct {
	store.WriteHandle
	parent *CountingStore
}

func (h *failingWriteHandle) Close() error {
	h.parent.mu.Lock()
	failure := h.parent.failWrite[h.Name()]
	h.parent.mu.Unlock()

	if failure != nil {
		_ = h.WriteHandle.Abort()
		return store.IOError("close", h.Name(), failure)
	}
	return h.WriteHandle.Close()
}
