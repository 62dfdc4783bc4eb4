// Package s3storage keeps uploaded document bytes in MinIO/S3.
package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/dupeguard/internal/config"
	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
)

// Storage wraps MinIO/S3 interactions for raw uploads.
type Storage struct {
	client    *minio.Client
	rawBucket string
	region    string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:    client,
		rawBucket: cfg.RawBucket,
		region:    cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the raw bucket exists before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.rawBucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.rawBucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.rawBucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.rawBucket, err)
		}
	}
	return nil
}

// UploadRaw uploads document bytes into the raw bucket. size may be -1 when
// the length is unknown.
func (s *Storage) UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.rawBucket, objectKey, reader, size, opts)
	if err != nil {
		return fmt.Errorf("upload raw object: %w", err)
	}
	return nil
}

// OpenRaw streams the raw bytes of objectKey. The fingerprinter reads from
// it directly so large uploads are never buffered whole.
func (s *Storage) OpenRaw(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	// Stat first: GetObject is lazy and would only fail on the first Read.
	if _, err := s.client.StatObject(ctx, s.rawBucket, objectKey, minio.StatObjectOptions{}); err != nil {
		return nil, mapError("stat raw object "+objectKey, err)
	}
	obj, err := s.client.GetObject(ctx, s.rawBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError("get raw object "+objectKey, err)
	}
	return obj, nil
}

// RemoveRaw deletes objectKey. S3 treats removing a missing key as success.
func (s *Storage) RemoveRaw(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.rawBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove raw object: %w", err)
	}
	return nil
}

// PresignRawURL returns a signed GET URL for downloading an upload.
func (s *Storage) PresignRawURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.rawBucket, objectKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign raw object: %w", err)
	}
	return u.String(), nil
}

func mapError(what string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("%s: %w", what, dedupe.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
