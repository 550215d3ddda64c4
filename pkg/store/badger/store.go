package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/store"
)

// BadgerFileStore implements store.FileStore on top of BadgerDB.
//
// It backs the "badger://" local mirror strategy: a persistent, embedded
// medium that keeps many small segment files in a handful of LSM files
// instead of one inode each.
//
// Storage Model:
//
//	m:<name>              -> meta (generation, length, modification time)
//	c:<generation><chunk> -> up to ChunkSize bytes of content
//
// Content chunks are keyed by generation rather than by name. Publishing a
// write stores all chunks under a fresh generation and then flips the meta
// key in a single transaction, so a file is either fully visible or absent.
// Rename only moves the meta key.
//
// Read handles own a read-only transaction, so they keep seeing the content
// they opened even if the file is replaced or deleted afterwards.
type BadgerFileStore struct {
	db  *badger.DB
	seq *badger.Sequence

	// mu serializes meta mutations (publish, delete, rename) so the
	// generation garbage collected after a flip is never still referenced.
	mu     sync.Mutex
	closed bool
}

// ChunkSize is the maximum value size of a content chunk.
const ChunkSize = 64 * 1024

var (
	prefixMeta  = []byte("m:")
	prefixChunk = []byte("c:")
	keySequence = []byte("s:generation")
)

// Config contains configuration for creating a BadgerDB file store.
type Config struct {
	// Path is the directory where BadgerDB keeps its files.
	Path string

	// InMemory runs BadgerDB without touching disk. Path is ignored.
	InMemory bool

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64
}

// NewBadgerFileStore opens (or creates) a BadgerDB file store.
func NewBadgerFileStore(ctx context.Context, cfg Config) (*BadgerFileStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Segment files are already compressed by the index engine.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence(keySequence, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open generation sequence: %w", err)
	}

	logger.Debug("Opened badger file store at %s (in-memory=%v)", cfg.Path, cfg.InMemory)

	return &BadgerFileStore{db: db, seq: seq}, nil
}

var _ store.FileStore = (*BadgerFileStore)(nil)

// ============================================================================
// Keys and meta encoding
// ============================================================================

type meta struct {
	generation uint64
	length     int64
	modified   int64
}

func metaKey(name string) []byte {
	return append(append([]byte{}, prefixMeta...), name...)
}

func chunkPrefix(generation uint64) []byte {
	key := make([]byte, len(prefixChunk)+8)
	copy(key, prefixChunk)
	binary.BigEndian.PutUint64(key[len(prefixChunk):], generation)
	return key
}

func chunkKey(generation uint64, index uint32) []byte {
	key := make([]byte, len(prefixChunk)+12)
	copy(key, prefixChunk)
	binary.BigEndian.PutUint64(key[len(prefixChunk):], generation)
	binary.BigEndian.PutUint32(key[len(prefixChunk)+8:], index)
	return key
}

func encodeMeta(m meta) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:], m.generation)
	binary.BigEndian.PutUint64(buf[8:], uint64(m.length))
	binary.BigEndian.PutUint64(buf[16:], uint64(m.modified))
	return buf
}

func decodeMeta(buf []byte) (meta, error) {
	if len(buf) != 24 {
		return meta{}, fmt.Errorf("corrupt meta record (%d bytes)", len(buf))
	}
	return meta{
		generation: binary.BigEndian.Uint64(buf[0:]),
		length:     int64(binary.BigEndian.Uint64(buf[8:])),
		modified:   int64(binary.BigEndian.Uint64(buf[16:])),
	}, nil
}

// getMeta reads the meta record of name inside txn. A missing name returns
// store.ErrNotFound.
func getMeta(txn *badger.Txn, name string) (meta, error) {
	item, err := txn.Get(metaKey(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return meta{}, store.NotFound(name)
		}
		return meta{}, store.IOError("get meta", name, err)
	}

	var m meta
	err = item.Value(func(val []byte) error {
		var derr error
		m, derr = decodeMeta(val)
		return derr
	})
	if err != nil {
		return meta{}, store.IOError("decode meta", name, err)
	}
	return m, nil
}

func (s *BadgerFileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ============================================================================
// Read Operations
// ============================================================================

// Exists reports whether name has a meta record.
func (s *BadgerFileStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.isClosed() {
		return false, store.ErrClosed
	}

	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return store.IOError("exists", name, err)
		}
		exists = true
		return nil
	})

	return exists, err
}

// Length returns the size of name in bytes.
func (s *BadgerFileStore) Length(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.isClosed() {
		return 0, store.ErrClosed
	}

	var length int64
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := getMeta(txn, name)
		if err != nil {
			return err
		}
		length = m.length
		return nil
	})

	return length, err
}

// List scans the meta prefix without fetching values.
func (s *BadgerFileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixMeta

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			names = append(names, string(key[len(prefixMeta):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return names, nil
}

// OpenRead returns a handle reading from a snapshot taken now.
func (s *BadgerFileStore) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	txn := s.db.NewTransaction(false)
	m, err := getMeta(txn, name)
	if err != nil {
		txn.Discard()
		return nil, err
	}

	return &readHandle{name: name, txn: txn, meta: m}, nil
}

// ============================================================================
// Write Operations
// ============================================================================

// OpenWrite buffers content in memory and publishes it on Close.
func (s *BadgerFileStore) OpenWrite(ctx context.Context, name string) (store.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, store.ErrClosed
	}

	return &writeHandle{store: s, name: name}, nil
}

// publish stores data under a new generation, flips the meta key of name to
// it and releases the generation it replaced.
func (s *BadgerFileStore) publish(name string, data []byte) error {
	gen, err := s.seq.Next()
	if err != nil {
		return store.IOError("allocate generation", name, err)
	}

	// Chunks are invisible until the meta flip, so a batch is enough.
	wb := s.db.NewWriteBatch()
	for idx, off := uint32(0), 0; off < len(data); idx, off = idx+1, off+ChunkSize {
		end := min(off+ChunkSize, len(data))
		if err := wb.Set(chunkKey(gen, idx), data[off:end]); err != nil {
			wb.Cancel()
			return store.IOError("write chunk", name, err)
		}
	}
	if err := wb.Flush(); err != nil {
		s.dropGeneration(gen)
		return store.IOError("flush chunks", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	var replaced *meta
	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := getMeta(txn, name)
		switch {
		case err == nil:
			replaced = &old
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		m := meta{generation: gen, length: int64(len(data)), modified: time.Now().UnixNano()}
		if err := txn.Set(metaKey(name), encodeMeta(m)); err != nil {
			return store.IOError("set meta", name, err)
		}
		return nil
	})
	if err != nil {
		s.dropGeneration(gen)
		return err
	}

	if replaced != nil {
		s.dropGeneration(replaced.generation)
	}
	return nil
}

// dropGeneration deletes every chunk of gen. Best-effort: leftover chunks
// are unreachable and only cost space.
func (s *BadgerFileStore) dropGeneration(gen uint64) {
	prefix := chunkPrefix(gen)

	var keys [][]byte
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})

	if len(keys) == 0 {
		return
	}

	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			logger.Warn("badger: failed to drop generation %d: %v", gen, err)
			return
		}
	}
	if err := wb.Flush(); err != nil {
		logger.Warn("badger: failed to drop generation %d: %v", gen, err)
	}
}

// Delete removes name. Deleting a missing name succeeds.
func (s *BadgerFileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	var removed *meta
	err := s.db.Update(func(txn *badger.Txn) error {
		m, err := getMeta(txn, name)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(metaKey(name)); err != nil {
			return store.IOError("delete", name, err)
		}
		removed = &m
		return nil
	})
	if err != nil {
		return err
	}

	if removed != nil {
		s.dropGeneration(removed.generation)
	}
	return nil
}

// Rename moves the meta record of from to to, replacing any file at to.
func (s *BadgerFileStore) Rename(ctx context.Context, from, to string) error {
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

	var replaced *meta
	err := s.db.Update(func(txn *badger.Txn) error {
		m, err := getMeta(txn, from)
		if err != nil {
			return err
		}

		if old, err := getMeta(txn, to); err == nil && old.generation != m.generation {
			replaced = &old
		}

		if err := txn.Delete(metaKey(from)); err != nil {
			return store.IOError("rename", from, err)
		}
		if err := txn.Set(metaKey(to), encodeMeta(m)); err != nil {
			return store.IOError("rename", to, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if replaced != nil {
		s.dropGeneration(replaced.generation)
	}
	return nil
}

// Touch rewrites the modification time of name.
func (s *BadgerFileStore) Touch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		m, err := getMeta(txn, name)
		if err != nil {
			return err
		}
		m.modified = time.Now().UnixNano()
		if err := txn.Set(metaKey(name), encodeMeta(m)); err != nil {
			return store.IOError("touch", name, err)
		}
		return nil
	})
}

// Close releases the sequence and closes the database.
func (s *BadgerFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.seq.Release(); err != nil {
		logger.Warn("badger: failed to release generation sequence: %v", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
