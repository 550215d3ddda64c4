//go:build integration
// +build integration

package s3

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/marmos91/idxcache/pkg/store"
	storetesting "github.com/marmos91/idxcache/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocalstackClient creates an S3 client connected to Localstack.
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/store/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func newLocalstackClient(t *testing.T) *s3.Client {
	t.Helper()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(context.Background(),
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", // AccessKeyID
			"test", // SecretAccessKey
			"",     // SessionToken
		)),
	)
	require.NoError(t, err, "Failed to load AWS config")

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true // Required for Localstack
	})
}

func createBucket(t *testing.T, client *s3.Client) string {
	t.Helper()
	ctx := context.Background()

	bucketName := "idxcache-test-" + uuid.NewString()[:8]
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	require.NoError(t, err, "Failed to create test bucket")

	t.Cleanup(func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    obj.Key,
				})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(bucketName),
		})
	})

	return bucketName
}

// TestS3FileStore_Integration runs the complete FileStore test suite
// against a real S3-compatible service (Localstack).
func TestS3FileStore_Integration(t *testing.T) {
	client := newLocalstackClient(t)
	bucket := createBucket(t, client)

	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.FileStore {
			s, err := NewS3FileStore(context.Background(), S3FileStoreConfig{
				Client:    client,
				Bucket:    bucket,
				KeyPrefix: uuid.NewString() + "/",
			})
			require.NoError(t, err, "Failed to create S3 file store")
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}

	suite.Run(t)
}

// TestS3FileStore_Multipart writes a file larger than one part.
func TestS3FileStore_Multipart(t *testing.T) {
	ctx := context.Background()
	client := newLocalstackClient(t)
	bucket := createBucket(t, client)

	s, err := NewS3FileStore(ctx, S3FileStoreConfig{
		Client:    client,
		Bucket:    bucket,
		KeyPrefix: "multipart/",
		PartSize:  minPartSize,
	})
	require.NoError(t, err)

	data := bytes.Repeat([]byte("0123456789abcdef"), (minPartSize*2+1024)/16)
	storetesting.MustWriteFile(t, s, "_0.cfs", data)

	length, err := s.Length(ctx, "_0.cfs")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), length)

	h, err := s.OpenRead(ctx, "_0.cfs")
	require.NoError(t, err)
	defer h.Close()

	off := int64(minPartSize - 8)
	buf := make([]byte, 16)
	_, err = h.ReadAt(buf, off)
	require.NoError(t, err)
	assert.Equal(t, data[off:off+16], buf)
}
