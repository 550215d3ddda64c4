package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/idxcache/pkg/store"
)

// S3FileStore implements store.FileStore using Amazon S3 or S3-compatible
// storage. It is the typical remote side of a mirrored index: many hosts
// share one bucket prefix, each keeping its own local mirror.
//
// Key Design:
//   - Object key is KeyPrefix + file name
//   - Objects below a nested "/" are ignored by List (file names are flat)
//
// S3 Characteristics:
//   - Object storage (no true random access like filesystem)
//   - Range GETs serve ReadAt without downloading whole objects
//   - Objects appear atomically on PutObject / CompleteMultipartUpload, which
//     matches the write-once segment model
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
// Concurrent writes to the same name are last-write-wins.
type S3FileStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
	metrics   S3Metrics

	mu     sync.RWMutex
	closed bool
}

// S3FileStoreConfig contains configuration for the S3 file store.
type S3FileStoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "indexes/catalog/" results in keys like "indexes/catalog/_0.cfs"
	KeyPrefix string

	// PartSize is the size of each part for multipart uploads (default: 10MB).
	// Files larger than one part are uploaded with multipart.
	PartSize int64

	// Metrics is optional; nil disables metrics collection
	Metrics S3Metrics
}

const (
	minPartSize     = 5 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024
)

// NewS3FileStore creates a new S3-based file store.
//
// The bucket must already exist - this function does not create it.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3FileStore: Initialized store
//   - error: Returns error if bucket access fails or context is cancelled
func NewS3FileStore(ctx context.Context, cfg S3FileStoreConfig) (*S3FileStore, error) {
	// ========================================================================
	// Step 1: Validate configuration
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}

	// ========================================================================
	// Step 2: Verify bucket access
	// ========================================================================

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	var m S3Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	return &S3FileStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		metrics:   m,
	}, nil
}

var _ store.FileStore = (*S3FileStore)(nil)

func (s *S3FileStore) objectKey(name string) string {
	return s.keyPrefix + name
}

func (s *S3FileStore) copySource(name string) string {
	return s.bucket + "/" + url.PathEscape(s.objectKey(name))
}

func (s *S3FileStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// isNotFound matches both error shapes S3 uses for a missing key: GET
// returns NoSuchKey, HEAD returns a bodiless NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// ============================================================================
// Listing and Metadata
// ============================================================================

// Exists performs a HEAD request on the object.
func (s *S3FileStore) Exists(ctx context.Context, name string) (exists bool, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("HeadObject", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, store.IOError("head", name, err)
	}

	return true, nil
}

// Length returns the object's content length.
func (s *S3FileStore) Length(ctx context.Context, name string) (length int64, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("HeadObject", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	return s.headLength(ctx, name)
}

func (s *S3FileStore) headLength(ctx context.Context, name string) (int64, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, store.NotFound(name)
		}
		return 0, store.IOError("head", name, err)
	}

	if result.ContentLength == nil {
		return 0, store.IOError("head", name, fmt.Errorf("content length not available"))
	}

	return *result.ContentLength, nil
}

// List returns every file name under the key prefix.
func (s *S3FileStore) List(ctx context.Context) (names []string, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, store.IOError("list", s.bucket+"/"+s.keyPrefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, s.keyPrefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}

	return names, nil
}

// ============================================================================
// Mutations
// ============================================================================

// Delete removes the object. S3 deletes are idempotent.
func (s *S3FileStore) Delete(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("DeleteObject", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		return store.IOError("delete", name, err)
	}

	return nil
}

// Rename copies from to to server-side, then deletes from.
//
// S3 has no atomic rename: a concurrent reader may briefly see both names.
// Segment files are renamed only before they are referenced, so this is
// never observable by index readers.
func (s *S3FileStore) Rename(ctx context.Context, from, to string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("Rename", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateName(to); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(to)),
		CopySource: aws.String(s.copySource(from)),
	})
	if err != nil {
		if isNotFound(err) {
			return store.NotFound(from)
		}
		return store.IOError("rename", from, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(from)),
	})
	if err != nil {
		return store.IOError("rename", from, err)
	}

	return nil
}

// Touch refreshes the object's modification time by copying it onto itself
// with replaced metadata.
func (s *S3FileStore) Touch(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("Touch", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.objectKey(name)),
		CopySource:        aws.String(s.copySource(name)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata: map[string]string{
			"touched": strconv.FormatInt(time.Now().UnixNano(), 10),
		},
	})
	if err != nil {
		if isNotFound(err) {
			return store.NotFound(name)
		}
		return store.IOError("touch", name, err)
	}

	return nil
}

// Close marks the store closed. The S3 client is shared and left open.
func (s *S3FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
