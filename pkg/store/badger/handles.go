package badger

import (
	"fmt"
	"io"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/idxcache/pkg/store"
)

// readHandle serves ReadAt from the chunks of one generation, seen through a
// read-only snapshot transaction.
type readHandle struct {
	name string
	meta meta

	mu  sync.Mutex
	txn *badger.Txn
}

func (h *readHandle) Name() string  { return h.name }
func (h *readHandle) Length() int64 { return h.meta.length }

func (h *readHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s at %d: %w", h.name, off, store.ErrInvalidOffset)
	}
	if off >= h.meta.length {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.txn == nil {
		return 0, store.ErrClosed
	}

	want := min(int64(len(p)), h.meta.length-off)
	var n int64
	for n < want {
		pos := off + n
		idx := uint32(pos / ChunkSize)
		within := pos % ChunkSize

		item, err := h.txn.Get(chunkKey(h.meta.generation, idx))
		if err != nil {
			return int(n), store.IOError("read chunk", h.name, err)
		}

		var copied int
		err = item.Value(func(val []byte) error {
			if within >= int64(len(val)) {
				return fmt.Errorf("short chunk %d (%d bytes)", idx, len(val))
			}
			copied = copy(p[n:want], val[within:])
			return nil
		})
		if err != nil {
			return int(n), store.IOError("read chunk", h.name, err)
		}
		n += int64(copied)
	}

	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (h *readHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.txn != nil {
		h.txn.Discard()
		h.txn = nil
	}
	return nil
}

// writeHandle buffers content until Close publishes it as a new generation.
type writeHandle struct {
	store  *BadgerFileStore
	name   string
	buf    []byte
	pos    int64
	closed bool
}

func (h *writeHandle) Name() string    { return h.name }
func (h *writeHandle) Length() int64   { return int64(len(h.buf)) }
func (h *writeHandle) Position() int64 { return h.pos }

func (h *writeHandle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, store.ErrClosed
	}

	end := h.pos + int64(len(p))
	if end > int64(len(h.buf)) {
		h.buf = append(h.buf, make([]byte, end-int64(len(h.buf)))...)
	}
	copy(h.buf[h.pos:], p)
	h.pos = end

	return len(p), nil
}

func (h *writeHandle) Seek(offset int64) error {
	if h.closed {
		return store.ErrClosed
	}
	if offset < 0 || offset > int64(len(h.buf)) {
		return fmt.Errorf("seek %s to %d (length %d): %w", h.name, offset, len(h.buf), store.ErrInvalidOffset)
	}
	h.pos = offset
	return nil
}

// Abort drops the buffer; nothing was written to the database yet.
func (h *writeHandle) Abort() error {
	h.closed = true
	h.buf = nil
	return nil
}

func (h *writeHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	data := h.buf
	h.buf = nil

	return h.store.publish(h.name, data)
}
