package blockcache

import (
	"fmt"
	"io"

	"github.com/marmos91/idxcache/pkg/store"
)

// cachedHandle serves ReadAt from cached blocks, fetching missing ones
// through the wrapped backing handle.
type cachedHandle struct {
	cache *BlockCache
	src   store.ReadHandle
}

func (h *cachedHandle) Name() string  { return h.src.Name() }
func (h *cachedHandle) Length() int64 { return h.src.Length() }
func (h *cachedHandle) Close() error  { return h.src.Close() }

// ReadAt copies the covering blocks into p. A failed block fetch returns
// the bytes copied so far and the error; nothing partial is cached.
func (h *cachedHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s at %d: %w", h.Name(), off, store.ErrInvalidOffset)
	}
	if len(p) == 0 {
		return 0, nil
	}

	size := h.src.Length()
	if off >= size {
		return 0, io.EOF
	}

	expected := min(int64(len(p)), size-off)
	blockSize := h.cache.cfg.BlockSize

	var n int64
	for n < expected {
		pos := off + n
		idx := pos / blockSize

		data, err := h.cache.block(h.src, idx)
		if err != nil {
			return int(n), err
		}

		within := pos - idx*blockSize
		n += int64(copy(p[n:expected], data[within:]))
	}

	if expected < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}
