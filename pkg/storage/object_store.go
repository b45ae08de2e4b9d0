package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"studyshare/pkg/domain"
)

// MinioStore implements BlobStore on MinIO/S3 compatible storage. Categories
// become key prefixes inside a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
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
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Save uploads an object under the category prefix.
func (m *MinioStore) Save(ctx context.Context, category domain.FileCategory, key string, r io.Reader, size int64, contentType string) error {
	objectKey, err := m.objectKey(category, key)
	if err != nil {
		return err
	}
	if _, err := m.client.PutObject(ctx, m.bucket, objectKey, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Open streams an object.
func (m *MinioStore) Open(ctx context.Context, category domain.FileCategory, key string) (io.ReadCloser, error) {
	objectKey, err := m.objectKey(category, key)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, category domain.FileCategory, key string) error {
	objectKey, err := m.objectKey(category, key)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (m *MinioStore) objectKey(category domain.FileCategory, key string) (string, error) {
	if !ValidCategory(category) {
		return "", fmt.Errorf("unknown storage category %q", category)
	}
	key = SanitizeFilename(key)
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	return string(category) + "/" + key, nil
}
