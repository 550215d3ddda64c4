package fs

import (
	"fmt"
	"os"
	"sync"

	"github.com/marmos91/idxcache/pkg/store"
)

type readHandle struct {
	name   string
	file   *os.File
	length int64
}

func (h *readHandle) Name() string  { return h.name }
func (h *readHandle) Length() int64 { return h.length }

func (h *readHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s at %d: %w", h.name, off, store.ErrInvalidOffset)
	}
	return h.file.ReadAt(p, off)
}

func (h *readHandle) Close() error {
	return h.file.Close()
}

// writeHandle writes into a private temporary file and publishes it with a
// rename on Close. On any write failure the temporary file is removed.
type writeHandle struct {
	name      string
	file      *os.File
	tmpPath   string
	finalPath string

	mu     sync.Mutex
	pos    int64
	length int64
	closed bool
}

func (h *writeHandle) Name() string { return h.name }

func (h *writeHandle) Length() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.length
}

func (h *writeHandle) Position() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *writeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, store.ErrClosed
	}

	n, err := h.file.WriteAt(p, h.pos)
	h.pos += int64(n)
	if h.pos > h.length {
		h.length = h.pos
	}
	if err != nil {
		return n, store.IOError("write", h.name, err)
	}

	return n, nil
}

func (h *writeHandle) Seek(offset int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return store.ErrClosed
	}
	if offset < 0 || offset > h.length {
		return fmt.Errorf("seek %s to %d (length %d): %w", h.name, offset, h.length, store.ErrInvalidOffset)
	}

	h.pos = offset
	return nil
}

// Abort closes and removes the temporary file. The published file, if any,
// is not touched.
func (h *writeHandle) Abort() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	_ = h.file.Close()
	if err := os.Remove(h.tmpPath); err != nil && !os.IsNotExist(err) {
		return store.IOError("abort", h.name, err)
	}
	return nil
}

func (h *writeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if err := h.file.Sync(); err != nil {
		_ = h.file.Close()
		_ = os.Remove(h.tmpPath)
		return store.IOError("sync", h.name, err)
	}

	if err := h.file.Close(); err != nil {
		_ = os.Remove(h.tmpPath)
		return store.IOError("close", h.name, err)
	}

	if err := os.Rename(h.tmpPath, h.finalPath); err != nil {
		_ = os.Remove(h.tmpPath)
		return store.IOError("publish", h.name, err)
	}

	return nil
}
