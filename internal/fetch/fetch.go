// Package fetch retrieves style resources (vector and raster data, fonts,
// billboard assets) into memory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable is matched by every fetch failure. The cause is opaque
	// to callers; a resource is either retrieved or unavailable.
	ErrUnavailable = errors.New("resource unavailable")

	// ErrInvalidMode is returned for an unknown fetch backend.
	ErrInvalidMode = errors.New("invalid fetch mode")
)

// Fetcher loads a path fully into memory. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
	Close() error
}

// Error reports a failed fetch for a single path.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrUnavailable.
func (e *Error) Is(target error) bool { return target == ErrUnavailable }

func wrap(path string, err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Path: path, Err: err}
}

// Config selects and configures a fetch backend.
type Config struct {
	Mode string // "local" | "http" | "blob"

	// local
	LocalDir string

	// http
	BaseURL string
	Timeout time.Duration

	// blob: gs://bucket, s3://bucket, file:///dir, mem://
	BucketURL  string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string
	Prefix     string
}

// New constructs a fetcher based on the configured mode.
func New(cfg Config) (Fetcher, error) {
	switch cfg.Mode {
	case "local":
		return NewLocalFetcher(cfg.LocalDir)
	case "http":
		return NewHTTPFetcher(cfg.BaseURL, cfg.Timeout)
	case "blob":
		return NewBlobFetcher(context.Background(), BucketURL(cfg), cfg.Prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
}
