package store

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultCopyChunkSize is the chunk size used to stream files between stores.
const DefaultCopyChunkSize = 16 * 1024

// CopyFile streams the complete content of name from src into dst using
// fixed-size chunks, and returns the number of bytes copied.
//
// dst only exposes the file once the write handle closes successfully. A
// failed copy aborts the write handle, so neither a partial file nor a
// deletion of a previous version is ever visible in dst.
func CopyFile(ctx context.Context, src, dst FileStore, name string, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultCopyChunkSize
	}

	in, err := src.OpenRead(ctx, name)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := dst.OpenWrite(ctx, name)
	if err != nil {
		return 0, err
	}

	n, err := copyHandle(ctx, in, out, chunkSize)
	if err != nil {
		_ = out.Abort()
		return n, err
	}

	if err := out.Close(); err != nil {
		return n, err
	}

	return n, nil
}

func copyHandle(ctx context.Context, in ReadHandle, out WriteHandle, chunkSize int) (int64, error) {
	length := in.Length()
	buf := make([]byte, chunkSize)

	var off int64
	for off < length {
		if err := ctx.Err(); err != nil {
			return off, err
		}

		want := int64(chunkSize)
		if remaining := length - off; remaining < want {
			want = remaining
		}

		n, err := in.ReadAt(buf[:want], off)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return off, werr
			}
			off += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && off == length {
				break
			}
			if errors.Is(err, io.EOF) {
				return off, IOError("copy", in.Name(), fmt.Errorf("unexpected EOF at %d of %d", off, length))
			}
			return off, err
		}
	}

	return off, nil
}

// ReadAll reads the complete content of name from fs.
func ReadAll(ctx context.Context, fs FileStore, name string) ([]byte, error) {
	h, err := fs.OpenRead(ctx, name)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	buf := make([]byte, h.Length())
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := h.ReadAt(buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, err
	}
	return buf[:n], nil
}

// WriteAll creates name in fs with the given content.
func WriteAll(ctx context.Context, fs FileStore, name string, data []byte) error {
	h, err := fs.OpenWrite(ctx, name)
	if err != nil {
		return err
	}
	if _, err := h.Write(data); err != nil {
		_ = h.Abort()
		return err
	}
	return h.Close()
}
