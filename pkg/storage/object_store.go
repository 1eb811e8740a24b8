package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// UploadArchive keeps the raw bytes of accepted CSV uploads for audit and
// reprocessing. Keyed by content hash, so archiving is idempotent.
type UploadArchive interface {
	ArchiveCSV(ctx context.Context, hash string, data []byte) error
	PresignCSV(ctx context.Context, hash string, expiry time.Duration) (string, error)
}

// MinioArchive implements UploadArchive for MinIO/S3 compatible storage.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to MinIO and ensures the bucket exists.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// ArchiveCSV stores the raw upload under uploads/<hash>.csv.
func (m *MinioArchive) ArchiveCSV(ctx context.Context, hash string, data []byte) error {
	key := archiveKey(hash)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// PresignCSV generates a pre-signed GET URL for an archived upload.
func (m *MinioArchive) PresignCSV(ctx context.Context, hash string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, archiveKey(hash), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}

func archiveKey(hash string) string {
	return "uploads/" + hash + ".csv"
}
