package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/idxcache/pkg/store"
)

// OpenRead resolves the object's length and returns a handle serving range
// GETs. No content is downloaded until ReadAt is called.
func (s *S3FileStore) OpenRead(ctx context.Context, name string) (store.ReadHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	start := time.Now()
	length, err := s.headLength(ctx, name)
	s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return &readHandle{store: s, ctx: ctx, name: name, length: length}, nil
}

// readHandle implements store.ReadHandle with S3 byte-range requests.
type readHandle struct {
	store  *S3FileStore
	ctx    context.Context
	name   string
	length int64
}

func (h *readHandle) Name() string  { return h.name }
func (h *readHandle) Length() int64 { return h.length }
func (h *readHandle) Close() error  { return nil }

// ReadAt reads len(p) bytes at off with a single ranged GetObject.
func (h *readHandle) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s at %d: %w", h.name, off, store.ErrInvalidOffset)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= h.length {
		return 0, io.EOF
	}

	s := h.store
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("GetObject", time.Since(start), err)
		if n > 0 {
			s.metrics.RecordBytes("read", int64(n))
		}
	}()

	want := min(int64(len(p)), h.length-off)

	// S3 range is inclusive
	rangeStr := fmt.Sprintf("bytes=%d-%d", off, off+want-1)

	result, err := s.client.GetObject(h.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(h.name)),
		Range:  aws.String(rangeStr),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, store.NotFound(h.name)
		}
		if strings.Contains(err.Error(), "InvalidRange") {
			return 0, io.EOF
		}
		return 0, store.IOError("read", h.name, err)
	}
	defer func() { _ = result.Body.Close() }()

	n, err = io.ReadFull(result.Body, p[:want])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			// Object shrank after the handle was opened.
			return n, io.EOF
		}
		return n, store.IOError("read", h.name, err)
	}

	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}
