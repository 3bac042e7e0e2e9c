// Package archive stores contribution recordings in an S3-compatible bucket
// through the MinIO client.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/toecm/pureconvo/internal/ledger"
)

var _ ledger.Archive = (*MinioArchive)(nil)

// Config holds the connection settings of the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// Prefix is prepended to every object name. Defaults to "contributions".
	Prefix string
}

// MinioArchive implements [ledger.Archive] on a MinIO bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
	prefix string
}

// New connects to the endpoint and creates the bucket when it does not
// exist yet.
func New(ctx context.Context, cfg Config) (*MinioArchive, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("archive: endpoint and bucket must be set")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("archive: create bucket %q: %w", cfg.Bucket, err)
		}
		slog.Info("archive: bucket created", "bucket", cfg.Bucket)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "contributions"
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// ObjectName returns the object name for a new recording under prefix.
func ObjectName(prefix string, id uuid.UUID) string {
	return path.Join(prefix, id.String()+".wav")
}

// Put uploads wav under a fresh uuid object name.
func (a *MinioArchive) Put(ctx context.Context, wav []byte) (string, error) {
	name := ObjectName(a.prefix, uuid.New())
	info, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(wav), int64(len(wav)), minio.PutObjectOptions{
		ContentType: "audio/wav",
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s/%s: %w", a.bucket, name, err)
	}
	slog.Debug("archive: recording stored", "object", name, "size", info.Size)
	return name, nil
}

// Ping checks that the bucket is reachable.
func (a *MinioArchive) Ping(ctx context.Context) error {
	ok, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("archive: bucket %q is gone", a.bucket)
	}
	return nil
}
