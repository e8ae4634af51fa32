package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mbolis/quick-forms/config"
	"github.com/mbolis/quick-forms/log"
)

// S3 stores objects in an S3 compatible bucket, under a fixed location
// prefix.
type S3 struct {
	client     *minio.Client
	bucket     string
	location   string
	presignTTL time.Duration
}

func NewS3(ctx context.Context, cfg config.StorageConfig) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: s3 bucket check: %w", err)
	}
	if !exists {
		log.Infof("storage: creating bucket %s", cfg.Bucket)
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: s3 make bucket: %w", err)
		}
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3{client: client, bucket: cfg.Bucket, location: cfg.Location, presignTTL: ttl}, nil
}

func (s *S3) object(key string) string {
	return path.Join(s.location, key)
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.object(key), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *S3) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.object(key), minio.RemoveObjectOptions{})
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotExist
	}
	return err
}

func (s *S3) URL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.object(key), s.presignTTL, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
