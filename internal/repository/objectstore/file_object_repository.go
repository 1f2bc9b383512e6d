package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// FileObjectRepository keeps objects as files below a local directory.
type FileObjectRepository struct {
	root string
}

// NewFileObjectRepository creates root if it does not exist.
func NewFileObjectRepository(root string) (FileObjectRepository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return FileObjectRepository{}, fmt.Errorf("failed to create store directory %s: %w", root, err)
	}
	return FileObjectRepository{root: root}, nil
}

func (r *FileObjectRepository) path(key string) (string, error) {
	p := filepath.Join(r.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(r.root)+string(filepath.Separator)) {
		return "", zerrors.InvalidArgumentError("key %q escapes the store", key)
	}
	return p, nil
}

// Upload writes the object to a temporary file and renames it into place.
func (r *FileObjectRepository) Upload(ctx context.Context, key string, reader io.Reader) (string, error) {
	p, err := r.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	log.Debugf("Writing %s", p)

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	return "file://" + p, nil
}

func (r *FileObjectRepository) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := r.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", zerrors.ErrSnapshotNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return f, nil
}

func (r *FileObjectRepository) Delete(ctx context.Context, key string) error {
	p, err := r.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (r *FileObjectRepository) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *FileObjectRepository) GetBucketName() string {
	return r.root
}

func (r *FileObjectRepository) GetStorageType() string {
	return string(FileType)
}
