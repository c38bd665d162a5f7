package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
)

// StyleRef locates a published style package.
type StyleRef struct {
	StyleID string
}

// Path returns the storage key of the style manifest.
func (r StyleRef) Path(prefix string) string {
	return fmt.Sprintf("%sstyles/%s/manifest.json", prefix, r.StyleID)
}

// TileRef locates a published tile.
type TileRef struct {
	StyleID string
	Tile    maptile.Tile
}

// Path returns the storage key of the tile manifest.
func (r TileRef) Path(prefix string) string {
	return fmt.Sprintf("%sstyles/%s/tiles/%d/%d/%d.json", prefix, r.StyleID, r.Tile.Z, r.Tile.X, r.Tile.Y)
}

// BlobPath returns the content-addressed key for a payload.
func BlobPath(prefix string, fp uint32) string {
	return fmt.Sprintf("%sblobs/%08x", prefix, fp)
}

// Manifest describes a published style package.
type Manifest struct {
	Style     style.Summary `json:"style"`
	BuildID   string        `json:"build_id"`
	Blobs     []string      `json:"blobs,omitempty"`
	Producer  ProducerInfo  `json:"producer"`
	CreatedAt time.Time     `json:"created_at"`
}

// TileManifest describes a published tile.
type TileManifest struct {
	StyleID   string          `json:"style_id"`
	Z         uint32          `json:"z"`
	X         uint32          `json:"x"`
	Y         uint32          `json:"y"`
	Digest    string          `json:"digest"`
	BuildID   string          `json:"build_id"`
	Layers    []TileLayerInfo `json:"layers"`
	Producer  ProducerInfo    `json:"producer"`
	CreatedAt time.Time       `json:"created_at"`
}

// TileLayerInfo describes one layer of a published tile.
type TileLayerInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Path        string `json:"path,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Blob        string `json:"blob,omitempty"`
}

// ProducerInfo describes the software that produced the output.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Store publishes built style packages and tiles.
type Store interface {
	// WriteManifest writes a style manifest.
	WriteManifest(ctx context.Context, ref StyleRef, manifest *Manifest) error

	// WriteTile writes a tile manifest.
	WriteTile(ctx context.Context, ref TileRef, manifest *TileManifest) error

	// WriteBlob stores a payload under its fingerprint. Existing blobs are
	// not rewritten; written reports whether bytes were stored.
	WriteBlob(ctx context.Context, fp uint32, data []byte) (key string, written bool, err error)

	// Exists checks if a key already exists.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, blob: the bucket URL joined with the key.
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config configures the storage backend.
type Config struct {
	Backend   string // "local" | "blob"
	LocalDir  string
	BucketURL string // gs://, s3://, file://, mem://
	Prefix    string
}

// New creates a storage backend based on configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "blob":
		if cfg.BucketURL == "" {
			return nil, fmt.Errorf("BucketURL required for blob backend")
		}
		return NewBlobStore(ctx, cfg.BucketURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
