package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mediaforge/ledger/common/config"
)

const s3ProbeTimeout = 10 * time.Second

// S3Store is the production Store backed by any S3-compatible service
// (AWS, MinIO, etc. via a custom endpoint).
type S3Store struct {
	client *s3.Client
	bucket string
	logger Logger
}

// NewS3Store creates an S3 client from config and verifies the bucket is
// reachable before returning.
func NewS3Store(ctx context.Context, cfg config.BlobConfig, logger Logger) (*S3Store, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires access key, secret key, and bucket")
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		cfg.AccessKey,
		cfg.SecretKey,
		"",
	))

	opts := s3.Options{
		Region:           cfg.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	}
	if cfg.Endpoint != "" {
		// Custom endpoints (MinIO and friends) need path-style addressing
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	store := &S3Store{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		logger: logger,
	}

	probeCtx, cancel := context.WithTimeout(ctx, s3ProbeTimeout)
	defer cancel()

	if _, err := store.client.HeadBucket(probeCtx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info("s3 blob store connected", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)

	return store, nil
}

// Put writes data under key
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		s.logger.Error("s3 PUT failed", "key", key, "error", err)
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}

	s.logger.Debug("s3 PUT", "key", key, "bytes", len(data))
	return nil
}

// Get opens the object at key
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		s.logger.Error("s3 GET failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	s.logger.Debug("s3 GET", "key", key)
	return result.Body, nil
}

// Delete removes the object at key. S3 treats deleting a missing object
// as success, which matches the Store contract.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.logger.Error("s3 DELETE failed", "key", key, "error", err)
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	s.logger.Debug("s3 DELETE", "key", key)
	return nil
}

// Health probes the bucket
func (s *S3Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s3ProbeTimeout)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", s.bucket, err)
	}
	return nil
}
