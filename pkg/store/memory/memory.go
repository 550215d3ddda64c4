package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/idxcache/pkg/store"
)

// MemoryFileStore implements store.FileStore using in-memory storage.
//
// This implementation stores all files in a map. It's designed for:
//   - The "mem://" local mirror strategy
//   - Tests (as both local and remote store)
//   - Small, ephemeral indexes
//
// Characteristics:
//   - Fast: All operations are memory-speed
//   - Volatile: Data lost on Close or process exit
//   - Thread-safe: Protected by RWMutex
//
// Published content slices are never mutated: writes build a private buffer
// and swap it in on Close, so read handles can share the slice without
// copying.
type MemoryFileStore struct {
	// files stores the published content keyed by name
	files map[string]*memFile

	// mu protects concurrent access to files and closed
	mu     sync.RWMutex
	closed bool
}

type memFile struct {
	data     []byte
	modified time.Time
}

// NewMemoryFileStore creates a new, empty in-memory file store.
func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{
		files: make(map[string]*memFile),
	}
}

var _ store.FileStore = (*MemoryFileStore)(nil)

// ============================================================================
// Read Operations
// ============================================================================

// Exists reports whether name is present.
func (s *MemoryFileStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, store.ErrClosed
	}

	_, exists := s.files[name]
	return exists, nil
}

// Length returns the size of name in bytes.
func (s *MemoryFileStore) Length(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrClosed
	}

	f, exists := s.files[name]
	if !exists {
		return 0, store.NotFound(name)
	}

	return int64(len(f.data)), nil
}

// List returns a snapshot of all names.
func (s *MemoryFileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}

	return names, nil
}

// OpenRead returns a read handle over the content published at call time.
func (s *MemoryFileStore) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	f, exists := s.files[name]
	if !exists {
		return nil, store.NotFound(name)
	}

	return &readHandle{name: name, data: f.data}, nil
}

// ModTime returns the last modification time of name. Used by tests to
// verify Touch.
func (s *MemoryFileStore) ModTime(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[name]
	if !ok {
		return time.Time{}, false
	}
	return f.modified, true
}

// ============================================================================
// Write Operations
// ============================================================================

// OpenWrite returns a handle that publishes its buffer under name on Close.
func (s *MemoryFileStore) OpenWrite(ctx context.Context, name string) (store.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, store.ErrClosed
	}

	return &writeHandle{store: s, name: name}, nil
}

// Delete removes name. Deleting a missing name succeeds.
func (s *MemoryFileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	delete(s.files, name)
	return nil
}

// Rename moves from to to, replacing any existing file at to.
func (s *MemoryFileStore) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := store.ValidateName(to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	f, exists := s.files[from]
	if !exists {
		return store.NotFound(from)
	}

	delete(s.files, from)
	s.files[to] = f

	return nil
}

// Touch bumps the modification time of name.
func (s *MemoryFileStore) Touch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	f, exists := s.files[name]
	if !exists {
		return store.NotFound(name)
	}

	s.files[name] = &memFile{data: f.data, modified: time.Now()}
	return nil
}

// Close drops all content. It is safe to call more than once.
func (s *MemoryFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = make(map[string]*memFile)
	s.closed = true
	return nil
}

func (s *MemoryFileStore) publish(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	s.files[name] = &memFile{data: data, modified: time.Now()}
	return nil
}
