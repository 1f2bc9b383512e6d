package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// GCSObjectRepository implements ObjectRepository for Google Cloud Storage
type GCSObjectRepository struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSObjectRepository creates a new GCS object repository
func NewGCSObjectRepository(client *storage.Client, bucketName, prefix string) GCSObjectRepository {
	return GCSObjectRepository{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
	}
}

// Upload uploads an object to GCS
func (r *GCSObjectRepository) Upload(ctx context.Context, key string, reader io.Reader) (string, error) {
	fullKey := joinKey(r.prefix, key)
	log.Debugf("Uploading to GCS: gs://%s/%s", r.bucketName, fullKey)

	writer := r.client.Bucket(r.bucketName).Object(fullKey).NewWriter(ctx)
	if _, err := io.Copy(writer, reader); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	// the object only exists once Close succeeds
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", r.bucketName, fullKey), nil
}

// Download downloads an object from GCS
func (r *GCSObjectRepository) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey := joinKey(r.prefix, key)
	log.Debugf("Downloading from GCS: gs://%s/%s", r.bucketName, fullKey)

	reader, err := r.client.Bucket(r.bucketName).Object(fullKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", zerrors.ErrSnapshotNotFound, r.bucketName, fullKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return reader, nil
}

// Delete deletes an object from GCS
func (r *GCSObjectRepository) Delete(ctx context.Context, key string) error {
	err := r.client.Bucket(r.bucketName).Object(joinKey(r.prefix, key)).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// List returns the keys below prefix.
func (r *GCSObjectRepository) List(ctx context.Context, prefix string) ([]string, error) {
	it := r.client.Bucket(r.bucketName).Objects(ctx, &storage.Query{Prefix: joinKey(r.prefix, prefix)})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		keys = append(keys, trimKey(r.prefix, attrs.Name))
	}
	return keys, nil
}

// GetBucketName returns the bucket name
func (r *GCSObjectRepository) GetBucketName() string {
	return r.bucketName
}

// GetStorageType returns the storage type
func (r *GCSObjectRepository) GetStorageType() string {
	return string(GCSType)
}
