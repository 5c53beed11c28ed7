package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/trustplane/trustagent/interfaces"
)

// S3Backend implements a storage backend using Amazon S3 or compatible
// object storage.
type S3Backend struct {
	client      *s3.S3
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 storage backend. If accessKey/secretKey are
// empty the default credential chain (environment, instance profile) is
// used.
func NewS3Backend(bucket, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if accessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucket:      bucket,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("s3://%s/%s?region=%s", bucket, prefix, region),
	}, nil
}

func (b *S3Backend) key(name string) string {
	return path.Join(b.prefix, name)
}

// Fetch retrieves a blob by name from the bucket.
func (b *S3Backend) Fetch(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	key := b.key(name)

	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, interfaces.ErrBlobNotFound
		}
		b.log.Error("Failed to read from S3", slog.String("key", key), "err", err)
		return nil, fmt.Errorf("s3 read failed: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	b.log.Debug("Fetched blob from S3",
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store writes a blob under name into the bucket.
func (b *S3Backend) Store(ctx context.Context, name string, data []byte) error {
	start := time.Now()
	key := b.key(name)

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		b.log.Error("Failed to write to S3", slog.String("key", key), "err", err)
		return fmt.Errorf("s3 write failed: %w", err)
	}

	b.log.Debug("Stored blob in S3",
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if the bucket is reachable.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		b.log.Debug("S3 backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s-%s", b.bucket, b.prefix)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}
