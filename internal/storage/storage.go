// Package storage wraps the S3-compatible object store holding mirrored
// carousel images and generated pose transfers. The bucket is public-read;
// records reference objects by public URL.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/avasquez/carousel-studio/internal/config"
)

// Bucket is a thin wrapper over one public bucket.
type Bucket struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// New connects to the object store endpoint.
func New(cfg *config.Config) (*Bucket, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}

	publicBase := cfg.Storage.PublicBaseURL
	if publicBase == "" {
		scheme := "http"
		if cfg.Storage.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.Storage.Endpoint, cfg.Storage.Bucket)
	}

	return &Bucket{
		client:        client,
		bucket:        cfg.Storage.Bucket,
		publicBaseURL: strings.TrimSuffix(publicBase, "/"),
	}, nil
}

// EnsureBucket creates the bucket with a public-read policy if it does not
// exist yet. Idempotent.
func (b *Bucket) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}

	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}

	policy := fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": ["*"]},
			"Action": ["s3:GetObject"],
			"Resource": ["arn:aws:s3:::%s/*"]
		}]
	}`, b.bucket)
	if err := b.client.SetBucketPolicy(ctx, b.bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", b.bucket, err)
	}

	log.Info().Str("bucket", b.bucket).Msg("Storage bucket created")
	return nil
}

// Upload writes an object at the given path.
func (b *Bucket) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("Uploaded object")
	return nil
}

// Download reads an object back. Used by the batch ZIP bundler.
func (b *Bucket) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// PublicURL returns the externally visible URL of an object.
func (b *Bucket) PublicURL(path string) string {
	return b.publicBaseURL + "/" + strings.TrimPrefix(path, "/")
}
