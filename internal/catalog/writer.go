package catalog

import (
	"context"
	"time"

	"github.com/paulmach/orb/maptile"
)

// Config configures the build catalog.
type Config struct {
	PostgresDSN string
	Namespace   string
}

// Writer records lineage for published builds.
type Writer interface {
	RecordBuild(ctx context.Context, rec BuildRecord) error
	LastDigest(ctx context.Context, styleID string) (string, error)
	Close() error
}

// BuildRecord describes one published build.
type BuildRecord struct {
	BuildID         string
	StyleID         string
	Mode            string
	Tile            *maptile.Tile
	Digest          string
	ResourceCount   int
	ByteSize        int64
	StorageURI      string
	ProducerVersion string
	Duration        time.Duration
}

// NewWriter returns a PostgresWriter when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(cfg Config) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(cfg)
}

type noopWriter struct{}

func (noopWriter) RecordBuild(_ context.Context, _ BuildRecord) error { return nil }

func (noopWriter) LastDigest(_ context.Context, _ string) (string, error) { return "", nil }

func (noopWriter) Close() error { return nil }
