package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LocalStore stores blobs under a local directory. Writes are guarded with
// an advisory file lock so concurrent uploads of the same object do not
// interleave partial content.
//
// LocalStore stands in for MinIO in development; object paths and URIs stay
// compatible so batches survive a backend switch.
type LocalStore struct {
	root   string
	logger *slog.Logger
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	logger.Warn("using local blob storage; configure MinIO for deployments", "dir", root)
	return &LocalStore{root: root, logger: logger}, nil
}

// Put writes data to the file backing the object path.
func (s *LocalStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	dest := filepath.Join(s.root, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}

	lock := flock.New(dest + ".lock")
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("locking %q: %w", objectPath, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err := os.WriteFile(dest, data, 0o640); err != nil {
		return "", fmt.Errorf("writing %q: %w", objectPath, err)
	}

	s.logger.Debug("stored object", "path", objectPath, "bytes", len(data))
	return s.URI(objectPath), nil
}

// Get reads the file backing the object path.
func (s *LocalStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(objectPath)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", objectPath, err)
	}
	return data, nil
}

// URI returns the absolute filesystem path of an object.
func (s *LocalStore) URI(objectPath string) string {
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(objectPath)))
	if err != nil {
		return filepath.Join(s.root, filepath.FromSlash(objectPath))
	}
	return abs
}
