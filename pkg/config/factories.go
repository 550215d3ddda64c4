package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/idxcache/internal/logger"
	"github.com/marmos91/idxcache/pkg/store"
	storeFs "github.com/marmos91/idxcache/pkg/store/fs"
	"github.com/marmos91/idxcache/pkg/store/memory"
	storeS3 "github.com/marmos91/idxcache/pkg/store/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateRemoteStore creates the remote (shared) index store based on
// configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/store/fs (a shared directory, e.g. an NFS mount)
//   - "memory": Uses pkg/store/memory (single process, tests and demos)
//   - "s3": Uses pkg/store/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Remote store configuration
//   - s3Metrics: Optional S3 metrics (nil disables them)
//
// Returns:
//   - store.FileStore: Initialized remote store
//   - error: Configuration or initialization error
func CreateRemoteStore(ctx context.Context, cfg *RemoteConfig, s3Metrics storeS3.S3Metrics) (store.FileStore, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemRemoteStore(ctx, cfg.Filesystem)
	case "memory":
		return memory.NewMemoryFileStore(), nil
	case "s3":
		return createS3RemoteStore(ctx, cfg.S3, s3Metrics)
	default:
		return nil, fmt.Errorf("unknown remote store type: %q", cfg.Type)
	}
}

// createFilesystemRemoteStore creates a filesystem-based remote store.
func createFilesystemRemoteStore(ctx context.Context, options map[string]any) (store.FileStore, error) {
	type FilesystemStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem remote store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem remote store: path is required")
	}

	s, err := storeFs.NewFSFileStore(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem remote store: %w", err)
	}

	return s, nil
}

// S3StoreOptions is the decoded form of the remote.s3 section.
type S3StoreOptions struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PartSize        int64  `mapstructure:"part_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

func decodeS3Options(options map[string]any) (S3StoreOptions, error) {
	var storeCfg S3StoreOptions
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return storeCfg, fmt.Errorf("failed to decode S3 remote store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return storeCfg, fmt.Errorf("S3 remote store: bucket is required")
	}
	if storeCfg.Region == "" {
		return storeCfg, fmt.Errorf("S3 remote store: region is required")
	}

	return storeCfg, nil
}

// NewS3Client builds an S3 client from the remote.s3 options.
//
// A custom endpoint (MinIO, Localstack, ...) switches the client to
// path-style addressing. Without static credentials the default AWS
// credential chain is used.
func NewS3Client(ctx context.Context, opts S3StoreOptions) (*awsS3.Client, error) {
	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Fetches sit on the read path of the host engine, so transient 5xx
	// responses are retried well past the SDK default of 3 attempts.
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// createS3RemoteStore creates an S3-based remote store.
func createS3RemoteStore(ctx context.Context, options map[string]any, s3Metrics storeS3.S3Metrics) (store.FileStore, error) {
	opts, err := decodeS3Options(options)
	if err != nil {
		return nil, err
	}

	client, err := NewS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	s, err := storeS3.NewS3FileStore(ctx, storeS3.S3FileStoreConfig{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
		PartSize:  opts.PartSize,
		Metrics:   s3Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 remote store: %w", err)
	}

	logger.Info("S3 remote store initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return s, nil
}
