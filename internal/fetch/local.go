package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LocalFetcher reads resources from the local filesystem.
type LocalFetcher struct {
	baseDir string
	decoder *Decoder
	log     *slog.Logger
}

// NewLocalFetcher creates a fetcher rooted at baseDir.
func NewLocalFetcher(baseDir string) (*LocalFetcher, error) {
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("invalid local dir %s: %w", baseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local dir %s is not a directory", baseDir)
	}

	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &LocalFetcher{
		baseDir: baseDir,
		decoder: decoder,
		log:     slog.With("component", "fetch", "mode", "local"),
	}, nil
}

// Fetch implements Fetcher.Fetch for local files. Paths are resolved
// relative to the base directory and may not escape it.
func (f *LocalFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(path, err)
	}

	full := filepath.Join(f.baseDir, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	rel, err := filepath.Rel(f.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, wrap(path, fmt.Errorf("path escapes base dir"))
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, wrap(path, fmt.Errorf("read file: %w", err))
	}

	out, err := f.decoder.Decode(path, data)
	if err != nil {
		return nil, wrap(path, err)
	}

	f.log.Debug("fetched", "path", path, "bytes", len(out))
	return out, nil
}

// Close releases resources.
func (f *LocalFetcher) Close() error {
	if f.decoder != nil {
		f.decoder.Close()
	}
	return nil
}
