// Package s3 implements the remote cache store on Amazon S3 or any
// S3-compatible endpoint such as MinIO.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

// Config represents the S3 store configuration.
type Config struct {
	Bucket         string        `yaml:"bucket"`
	Region         string        `yaml:"region"`
	Endpoint       string        `yaml:"endpoint"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	ForcePathStyle bool          `yaml:"force_path_style"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StoreMetrics tracks request counters for the store.
type StoreMetrics struct {
	Requests      uint64
	Errors        uint64
	BytesRead     uint64
	BytesWritten  uint64
	LastError     string
	LastErrorTime time.Time
}

// Store is an S3-backed types.RemoteStore. Values are stored one object per
// key; TTLs are advisory and recorded as object metadata for external
// lifecycle rules.
type Store struct {
	client *awss3.Client
	bucket string
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	metrics StoreMetrics
}

// New creates an S3 store for the configured bucket.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to load AWS config").
			WithComponent("s3")
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
		logger: logger.With("component", "s3-store", "bucket", cfg.Bucket),
	}, nil
}

// Get retrieves the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	result, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		s.recordError(err)
		return nil, errors.WrapError(err, errors.ErrCodeStorageRead,
			fmt.Sprintf("failed to read object body for %s", key)).
			WithComponent("s3").WithOperation("GetObject")
	}

	s.record(uint64(len(data)), 0)
	return data, nil
}

// Set stores value under key. The TTL is written as metadata for bucket
// lifecycle rules to act on; S3 itself does not expire the object.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	input := &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(value),
	}
	if ttl > 0 {
		input.Metadata = map[string]string{
			"renderflow-expires-at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
		}
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.translateError(err, "PutObject", key)
	}

	s.record(0, uint64(len(value)))
	return nil
}

// Delete removes the object stored under key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, s.translateError(err, "DeleteObject", key)
	}

	s.record(0, 0)
	return true, nil
}

// Exists reports whether an object is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		translated := s.translateError(err, "HeadObject", key)
		if errors.IsCode(translated, errors.ErrCodeObjectNotFound) {
			return false, nil
		}
		return false, translated
	}

	s.record(0, 0)
	return true, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return s.translateError(err, "HeadBucket", s.bucket)
	}
	return nil
}

// Metrics returns a snapshot of the store counters.
func (s *Store) Metrics() StoreMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Store) record(read, written uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Requests++
	s.metrics.BytesRead += read
	s.metrics.BytesWritten += written
}

func (s *Store) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Requests++
	s.metrics.Errors++
	s.metrics.LastError = err.Error()
	s.metrics.LastErrorTime = time.Now()
}

func (s *Store) translateError(err error, operation, key string) error {
	s.recordError(err)

	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return errors.NewError(errors.ErrCodeObjectNotFound,
			fmt.Sprintf("object not found: %s", key)).
			WithComponent("s3").WithOperation(operation)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.NewError(errors.ErrCodeConnectionFailed,
			fmt.Sprintf("bucket not found: %s", s.bucket)).
			WithComponent("s3").WithOperation(operation)
	case ctxErr(err):
		return errors.WrapError(err, errors.ErrCodeOperationTimeout,
			fmt.Sprintf("%s timed out for %s", operation, key)).
			WithComponent("s3").WithOperation(operation)
	default:
		return errors.WrapError(err, errors.ErrCodeNetworkError,
			fmt.Sprintf("%s failed for %s", operation, key)).
			WithComponent("s3").WithOperation(operation)
	}
}

var _ types.RemoteStore = (*Store)(nil)
