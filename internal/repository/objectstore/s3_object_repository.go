package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// S3ObjectRepository manages S3 interactions for snapshot objects.
type S3ObjectRepository struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
	prefix     string
}

// NewS3ObjectRepository initializes a new S3ObjectRepository.
func NewS3ObjectRepository(client *s3.Client, bucketName, prefix string) S3ObjectRepository {
	return S3ObjectRepository{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucketName: bucketName,
		prefix:     prefix,
	}
}

// GetBucketName returns the bucket name.
func (r *S3ObjectRepository) GetBucketName() string {
	return r.bucketName
}

// GetStorageType returns the object store type.
func (r *S3ObjectRepository) GetStorageType() string {
	return string(S3Type)
}

// Upload uploads an object to S3 and returns its location.
func (r *S3ObjectRepository) Upload(ctx context.Context, key string, reader io.Reader) (string, error) {
	fullKey := joinKey(r.prefix, key)
	log.Debugf("Uploading to S3: s3://%s/%s", r.bucketName, fullKey)

	out, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(fullKey),
		Body:   reader,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	if out.Location != "" {
		return out.Location, nil
	}
	return "s3://" + r.bucketName + "/" + fullKey, nil
}

// Download reads a whole object from S3. Snapshots are small, so the
// concurrent downloader fills an in-memory buffer.
func (r *S3ObjectRepository) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey := joinKey(r.prefix, key)
	log.Debugf("Downloading from S3: s3://%s/%s", r.bucketName, fullKey)

	buf := manager.NewWriteAtBuffer(nil)
	_, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: s3://%s/%s", zerrors.ErrSnapshotNotFound, r.bucketName, fullKey)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// Delete removes an object from S3
func (r *S3ObjectRepository) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(joinKey(r.prefix, key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns the keys below prefix.
func (r *S3ObjectRepository) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucketName),
		Prefix: aws.String(joinKey(r.prefix, prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, trimKey(r.prefix, aws.ToString(obj.Key)))
		}
	}
	return keys, nil
}
