package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/store"
)

// OpenWrite returns a handle that buffers content and uploads it on Close.
func (s *S3FileStore) OpenWrite(ctx context.Context, name string) (store.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	return &writeHandle{store: s, ctx: ctx, name: name}, nil
}

// writeHandle implements store.WriteHandle for S3. Objects are immutable,
// so content is buffered and uploaded in one piece when the handle closes.
type writeHandle struct {
	store  *S3FileStore
	ctx    context.Context
	name   string
	buf    []byte
	pos    int64
	closed bool
}

func (w *writeHandle) Name() string    { return w.name }
func (w *writeHandle) Length() int64   { return int64(len(w.buf)) }
func (w *writeHandle) Position() int64 { return w.pos }

func (w *writeHandle) Write(p []byte) (int, error) {
	if w.closed {
		return 0, store.ErrClosed
	}

	end := w.pos + int64(len(p))
	if end > int64(len(w.buf)) {
		w.buf = append(w.buf, make([]byte, end-int64(len(w.buf)))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos = end

	return len(p), nil
}

func (w *writeHandle) Seek(offset int64) error {
	if w.closed {
		return store.ErrClosed
	}
	if offset < 0 || offset > int64(len(w.buf)) {
		return fmt.Errorf("seek %s to %d (length %d): %w", w.name, offset, len(w.buf), store.ErrInvalidOffset)
	}
	w.pos = offset
	return nil
}

// Abort drops the buffer. Nothing reaches the bucket before Close, and a
// failed multipart upload is aborted by putMultipart itself.
func (w *writeHandle) Abort() error {
	w.closed = true
	w.buf = nil
	return nil
}

func (w *writeHandle) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	data := w.buf
	w.buf = nil

	if int64(len(data)) > w.store.partSize {
		return w.store.putMultipart(w.ctx, w.name, data)
	}
	return w.store.putObject(w.ctx, w.name, data)
}

// ============================================================================
// Uploads
// ============================================================================

func (s *S3FileStore) putObject(ctx context.Context, name string, data []byte) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("PutObject", time.Since(start), err)
		if err == nil {
			s.metrics.RecordBytes("write", int64(len(data)))
		}
	}()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return store.IOError("put", name, err)
	}

	return nil
}

// putMultipart uploads data in partSize parts. The object only becomes
// visible when CompleteMultipartUpload succeeds; any failure aborts the
// upload.
func (s *S3FileStore) putMultipart(ctx context.Context, name string, data []byte) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("MultipartUpload", time.Since(start), err)
		if err == nil {
			s.metrics.RecordBytes("write", int64(len(data)))
		}
	}()

	key := s.objectKey(name)

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return store.IOError("create multipart upload", name, err)
	}
	uploadID := created.UploadId

	abort := func() {
		_, aerr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		var noSuchUpload *types.NoSuchUpload
		if aerr != nil && !errors.As(aerr, &noSuchUpload) {
			logger.Warn("s3: failed to abort multipart upload of %s: %v", name, aerr)
		}
	}

	var parts []types.CompletedPart
	for partNumber, off := int32(1), int64(0); off < int64(len(data)); partNumber, off = partNumber+1, off+s.partSize {
		end := min(off+s.partSize, int64(len(data)))

		result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(data[off:end]),
		})
		if err != nil {
			abort()
			return store.IOError(fmt.Sprintf("upload part %d", partNumber), name, err)
		}

		parts = append(parts, types.CompletedPart{
			ETag:       result.ETag,
			PartNumber: aws.Int32(partNumber),
		})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		abort()
		return store.IOError("complete multipart upload", name, err)
	}

	return nil
}
