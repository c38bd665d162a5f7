package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewPostgresWriter connects to the catalog and ensures its schema exists.
func NewPostgresWriter(cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	w := &PostgresWriter{pool: pool, cfg: cfg}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[catalog] connected to PostgreSQL catalog")
	return w, nil
}

// RecordBuild writes a lineage row for a published build.
func (w *PostgresWriter) RecordBuild(ctx context.Context, rec BuildRecord) error {
	query := `
		INSERT INTO _meta_builds (
			namespace, build_id, style_id, mode, tile_z, tile_x, tile_y,
			digest, resource_count, byte_size, storage_uri,
			producer_version, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (namespace, build_id)
		DO UPDATE SET
			digest = EXCLUDED.digest,
			byte_size = EXCLUDED.byte_size,
			storage_uri = EXCLUDED.storage_uri,
			created_at = NOW()
	`

	var z, x, y *int64
	if rec.Tile != nil {
		tz, tx, ty := int64(rec.Tile.Z), int64(rec.Tile.X), int64(rec.Tile.Y)
		z, x, y = &tz, &tx, &ty
	}

	var storageURI *string
	if rec.StorageURI != "" {
		storageURI = &rec.StorageURI
	}

	_, err := w.pool.Exec(ctx, query,
		w.cfg.Namespace,
		rec.BuildID,
		rec.StyleID,
		rec.Mode,
		z, x, y,
		rec.Digest,
		rec.ResourceCount,
		rec.ByteSize,
		storageURI,
		rec.ProducerVersion,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record build: %w", err)
	}

	log.Printf("[catalog] recorded build %s for style %s (digest=%s)", rec.BuildID, rec.StyleID, rec.Digest)
	return nil
}

// LastDigest returns the digest of the most recent style build, or "" if
// none was recorded.
func (w *PostgresWriter) LastDigest(ctx context.Context, styleID string) (string, error) {
	query := `
		SELECT digest FROM _meta_builds
		WHERE namespace = $1 AND style_id = $2 AND mode = 'prepare'
		ORDER BY created_at DESC
		LIMIT 1
	`

	var digest string
	err := w.pool.QueryRow(ctx, query, w.cfg.Namespace, styleID).Scan(&digest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get last digest: %w", err)
	}
	return digest, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
