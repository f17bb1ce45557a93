package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileStore implements ObjectStore on the local filesystem, used for
// local development runs without an object storage backend
type fileStore struct {
	basePath string
}

// NewFileStore creates an ObjectStore rooted at basePath
func NewFileStore(basePath string) (ObjectStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &fileStore{basePath: basePath}, nil
}

// resolve maps an object key to a path under basePath, rejecting keys
// that would escape it
func (f *fileStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	path := filepath.Join(f.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(f.basePath)+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return path, nil
}

func (f *fileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.resolve(key)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- path is validated against the storage root
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return data, nil
}

func (f *fileStore) Put(_ context.Context, key string, data []byte, _ string) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	// Write to a temporary file first for atomic replacement
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to commit object %q: %w", key, err)
	}
	return nil
}

func (f *fileStore) Delete(_ context.Context, key string) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}
