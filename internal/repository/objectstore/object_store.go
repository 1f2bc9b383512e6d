// Package objectstore stores encoded pool map snapshots in object storage.
package objectstore

import (
	"context"
	"io"
	"path"
	"strings"
)

// ObjectRepository defines the interface for object storage operations
type ObjectRepository interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// List returns the keys below prefix, relative to the repository root,
	// in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	GetBucketName() string
	GetStorageType() string
}

// joinKey places key below the repository prefix.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// trimKey strips the repository prefix from a stored key.
func trimKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}
