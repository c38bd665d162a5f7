package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore writes manifests and blobs to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

// WriteManifest writes a style manifest.
func (s *LocalStore) WriteManifest(ctx context.Context, ref StyleRef, manifest *Manifest) error {
	data, err := marshalIndent(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeFile(ref.Path(s.prefix), data)
}

// WriteTile writes a tile manifest.
func (s *LocalStore) WriteTile(ctx context.Context, ref TileRef, manifest *TileManifest) error {
	data, err := marshalIndent(manifest)
	if err != nil {
		return fmt.Errorf("marshal tile manifest: %w", err)
	}
	return s.writeFile(ref.Path(s.prefix), data)
}

// WriteBlob stores data under its fingerprint unless it already exists.
func (s *LocalStore) WriteBlob(ctx context.Context, fp uint32, data []byte) (string, bool, error) {
	key := BlobPath(s.prefix, fp)
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return key, false, err
	}
	if exists {
		return key, false, nil
	}
	if err := s.writeFile(key, data); err != nil {
		return key, false, err
	}
	return key, true, nil
}

// writeFile writes atomically using a temp file and rename.
func (s *LocalStore) writeFile(key string, data []byte) error {
	path := filepath.Join(s.baseDir, key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return nil
}

// Exists checks if a key already exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.baseDir, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath := filepath.Join(s.baseDir, key)
	if abs, err := filepath.Abs(absPath); err == nil {
		absPath = abs
	}
	return "file://" + absPath
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}
