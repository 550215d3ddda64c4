package memory

import (
	"fmt"
	"io"

	"github.com/marmos91/idxcache/pkg/store"
)

type readHandle struct {
	name string
	data []byte
}

func (h *readHandle) Name() string  { return h.name }
func (h *readHandle) Length() int64 { return int64(len(h.data)) }
func (h *readHandle) Close() error  { return nil }

func (h *readHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s at %d: %w", h.name, off, store.ErrInvalidOffset)
	}
	if off >= int64(len(h.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// writeHandle accumulates data privately until Close publishes it.
type writeHandle struct {
	store  *MemoryFileStore
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
		if end > int64(cap(h.buf)) {
			grown := make([]byte, end, max(end, 2*int64(cap(h.buf))))
			copy(grown, h.buf)
			h.buf = grown
		} else {
			h.buf = h.buf[:end]
		}
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

	data := make([]byte, len(h.buf))
	copy(data, h.buf)
	h.buf = nil

	return h.store.publish(h.name, data)
}
