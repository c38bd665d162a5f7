package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobFetcher reads resources from a gocloud.dev bucket. Works with GCS,
// AWS S3, Backblaze B2, Cloudflare R2, MinIO and local directories.
type BlobFetcher struct {
	bucket  *blob.Bucket
	prefix  string
	decoder *Decoder
	log     *slog.Logger
}

// BucketURL builds the gocloud.dev URL for cfg, adding S3 endpoint and
// region parameters when set.
// For AWS: s3://bucket-name?region=us-east-1
// For custom endpoint: s3://bucket-name?endpoint=https://s3.us-west-000.backblazeb2.com&region=us-west-000
func BucketURL(cfg Config) string {
	bucketURL := cfg.BucketURL
	if !strings.HasPrefix(bucketURL, "s3://") {
		return bucketURL
	}

	params := url.Values{}
	if cfg.S3Region != "" {
		params.Set("region", cfg.S3Region)
	}
	if cfg.S3Endpoint != "" {
		params.Set("endpoint", cfg.S3Endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) == 0 {
		return bucketURL
	}
	sep := "?"
	if strings.Contains(bucketURL, "?") {
		sep = "&"
	}
	return bucketURL + sep + params.Encode()
}

// NewBlobFetcher opens the bucket at bucketURL.
func NewBlobFetcher(ctx context.Context, bucketURL, prefix string) (*BlobFetcher, error) {
	if bucketURL == "" {
		return nil, fmt.Errorf("bucket URL required for blob fetcher")
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	return newBlobFetcher(bucket, prefix)
}

// NewBlobFetcherFromBucket wraps an already open bucket. The fetcher takes
// ownership and closes it on Close.
func NewBlobFetcherFromBucket(bucket *blob.Bucket, prefix string) (*BlobFetcher, error) {
	return newBlobFetcher(bucket, prefix)
}

func newBlobFetcher(bucket *blob.Bucket, prefix string) (*BlobFetcher, error) {
	decoder, err := NewDecoder()
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &BlobFetcher{
		bucket:  bucket,
		prefix:  prefix,
		decoder: decoder,
		log:     slog.With("component", "fetch", "mode", "blob"),
	}, nil
}

// Key returns the object key for path.
func (f *BlobFetcher) Key(path string) string {
	return f.prefix + strings.TrimPrefix(path, "/")
}

// Fetch implements Fetcher.Fetch for bucket objects.
func (f *BlobFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	key := f.Key(path)

	data, err := f.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, wrap(path, fmt.Errorf("read object %s: %w", key, err))
	}

	out, err := f.decoder.Decode(path, data)
	if err != nil {
		return nil, wrap(path, err)
	}

	f.log.Debug("fetched", "key", key, "bytes", len(out))
	return out, nil
}

// Close releases the decoder and the bucket connection.
func (f *BlobFetcher) Close() error {
	if f.decoder != nil {
		f.decoder.Close()
	}
	if f.bucket != nil {
		return f.bucket.Close()
	}
	return nil
}
