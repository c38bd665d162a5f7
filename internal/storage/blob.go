package storage

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver (also B2, R2, MinIO)
)

// BlobStore writes manifests and blobs to any gocloud bucket.
type BlobStore struct {
	bucket    *blob.Bucket
	bucketURL string
	prefix    string
}

// NewBlobStore opens the bucket at bucketURL.
func NewBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBlobStoreFromBucket(bucket, bucketURL, prefix), nil
}

// NewBlobStoreFromBucket wraps an already opened bucket.
func NewBlobStoreFromBucket(bucket *blob.Bucket, bucketURL, prefix string) *BlobStore {
	return &BlobStore{
		bucket:    bucket,
		bucketURL: bucketURL,
		prefix:    prefix,
	}
}

// WriteManifest writes a style manifest.
func (s *BlobStore) WriteManifest(ctx context.Context, ref StyleRef, manifest *Manifest) error {
	data, err := marshalIndent(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.write(ctx, ref.Path(s.prefix), data, "application/json")
}

// WriteTile writes a tile manifest.
func (s *BlobStore) WriteTile(ctx context.Context, ref TileRef, manifest *TileManifest) error {
	data, err := marshalIndent(manifest)
	if err != nil {
		return fmt.Errorf("marshal tile manifest: %w", err)
	}
	return s.write(ctx, ref.Path(s.prefix), data, "application/json")
}

// WriteBlob stores data under its fingerprint unless it already exists.
func (s *BlobStore) WriteBlob(ctx context.Context, fp uint32, data []byte) (string, bool, error) {
	key := BlobPath(s.prefix, fp)
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return key, false, err
	}
	if exists {
		return key, false, nil
	}
	if err := s.write(ctx, key, data, "application/octet-stream"); err != nil {
		return key, false, err
	}
	return key, true, nil
}

func (s *BlobStore) write(ctx context.Context, key string, data []byte, contentType string) error {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	return nil
}

// Exists checks if a key already exists.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	base := s.bucketURL
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, "/") + "/" + key
}

// Close closes the bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}
