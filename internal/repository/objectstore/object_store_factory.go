package objectstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// RepositoryType represents the type of object storage
type RepositoryType string

const (
	S3Type   RepositoryType = "s3"
	GCSType  RepositoryType = "gcs"
	FileType RepositoryType = "file"
)

// BucketConfig holds configuration for a storage bucket. For FileType the
// name is a local directory.
type BucketConfig struct {
	Name   string
	Prefix string
	Type   RepositoryType
}

func (c BucketConfig) String() string {
	switch c.Type {
	case FileType:
		return "file://" + c.Name
	case GCSType:
		return "gs://" + joinKey(c.Name, c.Prefix)
	default:
		return "s3://" + joinKey(c.Name, c.Prefix)
	}
}

// ObjectRepositoryFactory creates object repository instances. Cloud clients
// are created on first use so a file store never needs credentials.
type ObjectRepositoryFactory struct {
	mu        sync.Mutex
	awsConfig *aws.Config
	gcsClient *storage.Client
}

// NewObjectRepositoryFactory creates a new factory. Either client may be nil.
func NewObjectRepositoryFactory(awsConfig *aws.Config, gcsClient *storage.Client) *ObjectRepositoryFactory {
	return &ObjectRepositoryFactory{
		awsConfig: awsConfig,
		gcsClient: gcsClient,
	}
}

// CreateRepository creates a repository based on bucket configuration
func (f *ObjectRepositoryFactory) CreateRepository(ctx context.Context, config BucketConfig) (ObjectRepository, error) {
	switch config.Type {
	case S3Type:
		awsConfig, err := f.aws(ctx)
		if err != nil {
			return nil, err
		}
		repo := NewS3ObjectRepository(s3.NewFromConfig(awsConfig), config.Name, config.Prefix)
		return &repo, nil
	case GCSType:
		client, err := f.gcs(ctx)
		if err != nil {
			return nil, err
		}
		repo := NewGCSObjectRepository(client, config.Name, config.Prefix)
		return &repo, nil
	case FileType:
		repo, err := NewFileObjectRepository(config.Name)
		if err != nil {
			return nil, err
		}
		return &repo, nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", config.Type)
	}
}

func (f *ObjectRepositoryFactory) aws(ctx context.Context) (aws.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.awsConfig == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
		}
		f.awsConfig = &cfg
	}
	return *f.awsConfig, nil
}

func (f *ObjectRepositoryFactory) gcs(ctx context.Context) (*storage.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gcsClient == nil {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to create GCS client: %w", err)
		}
		f.gcsClient = client
	}
	return f.gcsClient, nil
}

// ParseBucketConfig parses bucket configuration from string
// Formats: "s3://bucket/prefix", "gs://bucket/prefix", "file:///some/dir",
// "s3:bucket", or "bucket" (defaults to S3)
func ParseBucketConfig(bucketStr string) (BucketConfig, error) {
	bucketStr = strings.TrimSpace(bucketStr)
	if bucketStr == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	// Handle URI format (s3://, gs://, file://)
	if strings.Contains(bucketStr, "://") {
		parts := strings.SplitN(bucketStr, "://", 2)
		scheme := strings.ToLower(strings.TrimSpace(parts[0]))
		rest := strings.TrimSpace(parts[1])

		if rest == "" {
			return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
		}

		switch scheme {
		case "file":
			return BucketConfig{Name: rest, Type: FileType}, nil
		case "s3", "gs":
			name, prefix, _ := strings.Cut(rest, "/")
			if name == "" {
				return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
			}
			repoType := S3Type
			if scheme == "gs" {
				repoType = GCSType
			}
			return BucketConfig{
				Name:   name,
				Prefix: strings.Trim(prefix, "/"),
				Type:   repoType,
			}, nil
		default:
			return BucketConfig{}, fmt.Errorf("unsupported scheme: %s", scheme)
		}
	}

	// Handle colon format (s3:bucket-name)
	parts := strings.SplitN(bucketStr, ":", 2)
	if len(parts) != 2 {
		// Default to S3 for backward compatibility
		return BucketConfig{
			Name: bucketStr,
			Type: S3Type,
		}, nil
	}

	repoType := RepositoryType(strings.ToLower(strings.TrimSpace(parts[0])))
	bucketName := strings.TrimSpace(parts[1])

	if bucketName == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}
	switch repoType {
	case S3Type, GCSType, FileType:
	default:
		return BucketConfig{}, fmt.Errorf("unsupported repository type: %s", repoType)
	}

	return BucketConfig{
		Name: bucketName,
		Type: repoType,
	}, nil
}
