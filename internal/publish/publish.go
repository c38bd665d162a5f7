package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/catalog"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/fingerprint"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/metrics"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/storage"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/worker"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ErrFailedBuild is returned when asked to publish a failed result.
var ErrFailedBuild = errors.New("cannot publish failed build")

// Options configures a Publisher.
type Options struct {
	// Backend labels storage error metrics.
	Backend string
	// StrictCatalog fails the publish when the catalog write fails.
	StrictCatalog bool
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Published describes what a publish wrote.
type Published struct {
	Key          string
	URI          string
	BlobsWritten int
	Bytes        int64
	At           time.Time
}

// Publisher writes built results to storage, records lineage in the
// catalog and advances checkpoints.
type Publisher struct {
	store      storage.Store
	checkpoint checkpoint.Manager
	catalog    catalog.Writer
	opts       Options
	log        *slog.Logger
}

// New creates a Publisher.
func New(store storage.Store, cp checkpoint.Manager, cat catalog.Writer, opts Options) *Publisher {
	log := opts.Logger
	if log == nil {
		log = logging.Component("publish")
	}
	return &Publisher{
		store:      store,
		checkpoint: cp,
		catalog:    cat,
		opts:       opts,
		log:        log,
	}
}

// Publish dispatches on the result's mode.
func (p *Publisher) Publish(ctx context.Context, res worker.Result) (*Published, error) {
	if !res.OK() {
		return nil, fmt.Errorf("%w: %v", ErrFailedBuild, res.Err)
	}
	if res.Tile != nil {
		return p.PublishTile(ctx, res)
	}
	return p.PublishStyle(ctx, res)
}

// PublishStyle commits a prepared style package.
//
// The order of operations must not be changed:
//  1. Skip if the digest matches the last checkpoint
//  2. Write attached payloads as content-addressed blobs
//  3. Write the style manifest
//  4. Record the build in the catalog
//  5. Update the checkpoint
func (p *Publisher) PublishStyle(ctx context.Context, res worker.Result) (*Published, error) {
	log := p.log.With("style_id", res.StyleID, "build_id", res.BuildID)

	if err := checkpoint.Unchanged(ctx, p.checkpoint, res.StyleID, res.Summary.Digest); err != nil {
		if errors.Is(err, checkpoint.ErrUnchanged) {
			log.Info("skipping publish (unchanged)", "digest", res.Summary.Digest)
			p.opts.Metrics.IncPublishSkipped()
		}
		return nil, err
	}

	out := &Published{}
	var blobs []string
	resources := make(map[string]string)
	if res.Package != nil {
		for _, src := range res.Package.Resources() {
			att, ok := src.Attachment()
			if !ok {
				continue
			}
			key, written, err := p.store.WriteBlob(ctx, att.Fingerprint, att.Data)
			if err != nil {
				p.opts.Metrics.IncStorageErrors(p.opts.Backend)
				return nil, fmt.Errorf("write blob for %s: %w", src.Path, err)
			}
			if written {
				out.BlobsWritten++
				out.Bytes += int64(len(att.Data))
			}
			blobs = append(blobs, key)
			resources[src.Path] = fingerprint.Format(att.Fingerprint)
		}
	}

	ref := storage.StyleRef{StyleID: res.StyleID}
	manifest := &storage.Manifest{
		Style:     res.Summary,
		BuildID:   res.BuildID,
		Blobs:     blobs,
		Producer:  producer(),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.WriteManifest(ctx, ref, manifest); err != nil {
		p.opts.Metrics.IncStorageErrors(p.opts.Backend)
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	out.Key = ref.Path("")
	out.URI = p.store.URI(out.Key)

	if err := p.record(ctx, log, catalog.BuildRecord{
		BuildID:       res.BuildID,
		StyleID:       res.StyleID,
		Mode:          "prepare",
		Digest:        res.Summary.Digest,
		ResourceCount: len(resources),
		ByteSize:      out.Bytes,
		StorageURI:    out.URI,
		Duration:      res.Duration,
	}); err != nil {
		return nil, err
	}

	if err := p.checkpoint.Save(ctx, &checkpoint.Checkpoint{
		StyleID:   res.StyleID,
		BuildID:   res.BuildID,
		Digest:    res.Summary.Digest,
		Resources: resources,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		log.Warn("failed to save checkpoint", "error", err)
	}

	out.At = time.Now()
	log.Info("published style", "blobs_written", out.BlobsWritten, "bytes", out.Bytes, "uri", out.URI)
	return out, nil
}

// PublishTile commits an assembled tile. Tiles are not checkpointed.
func (p *Publisher) PublishTile(ctx context.Context, res worker.Result) (*Published, error) {
	tile := res.Tile
	log := p.log.With("style_id", res.StyleID, "build_id", res.BuildID,
		"z", tile.Coord.Z, "x", tile.Coord.X, "y", tile.Coord.Y)

	out := &Published{}
	layers := make([]storage.TileLayerInfo, 0, len(tile.Layers))
	for _, l := range tile.Layers {
		info := storage.TileLayerInfo{ID: l.ID, Type: l.Type, Path: l.Path}
		if l.Path != "" {
			key, written, err := p.store.WriteBlob(ctx, l.Fingerprint, l.Data)
			if err != nil {
				p.opts.Metrics.IncStorageErrors(p.opts.Backend)
				return nil, fmt.Errorf("write blob for layer %s: %w", l.ID, err)
			}
			if written {
				out.BlobsWritten++
				out.Bytes += int64(len(l.Data))
			}
			info.Fingerprint = fingerprint.Format(l.Fingerprint)
			info.Blob = key
		}
		layers = append(layers, info)
	}

	ref := storage.TileRef{StyleID: res.StyleID, Tile: tile.Coord}
	manifest := &storage.TileManifest{
		StyleID:   res.StyleID,
		Z:         uint32(tile.Coord.Z),
		X:         tile.Coord.X,
		Y:         tile.Coord.Y,
		Digest:    fingerprint.Format(tile.Digest),
		BuildID:   res.BuildID,
		Layers:    layers,
		Producer:  producer(),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.WriteTile(ctx, ref, manifest); err != nil {
		p.opts.Metrics.IncStorageErrors(p.opts.Backend)
		return nil, fmt.Errorf("write tile manifest: %w", err)
	}
	out.Key = ref.Path("")
	out.URI = p.store.URI(out.Key)

	coord := tile.Coord
	if err := p.record(ctx, log, catalog.BuildRecord{
		BuildID:       res.BuildID,
		StyleID:       res.StyleID,
		Mode:          "tile",
		Tile:          &coord,
		Digest:        manifest.Digest,
		ResourceCount: len(layers),
		ByteSize:      out.Bytes,
		StorageURI:    out.URI,
		Duration:      res.Duration,
	}); err != nil {
		return nil, err
	}

	out.At = time.Now()
	log.Info("published tile", "layers", len(layers), "blobs_written", out.BlobsWritten)
	return out, nil
}

// PublishPayload writes a prefetched payload as a content-addressed blob.
// A later PublishStyle referencing the same fingerprint finds it in place.
func (p *Publisher) PublishPayload(ctx context.Context, f worker.Fetched) (string, bool, error) {
	key, written, err := p.store.WriteBlob(ctx, f.Attachment.Fingerprint, f.Attachment.Data)
	if err != nil {
		p.opts.Metrics.IncStorageErrors(p.opts.Backend)
		return "", false, fmt.Errorf("write blob for %s: %w", f.Path, err)
	}
	p.log.Debug("stored payload", "path", f.Path,
		"fingerprint", fingerprint.Format(f.Attachment.Fingerprint), "written", written)
	return key, written, nil
}

func (p *Publisher) record(ctx context.Context, log *slog.Logger, rec catalog.BuildRecord) error {
	rec.ProducerVersion = fmt.Sprintf("tile-worker@%s", Version)
	if err := p.catalog.RecordBuild(ctx, rec); err != nil {
		p.opts.Metrics.IncCatalogErrors()
		if p.opts.StrictCatalog {
			return fmt.Errorf("record build (strict mode): %w", err)
		}
		log.Warn("failed to record build", "error", err)
	}
	return nil
}

// Resources lists the fetchable paths of every registered style, without
// duplicates and without tile templates.
func Resources(reg *style.Registry) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, id := range reg.StyleIDs() {
		pkg, err := reg.Package(id)
		if err != nil {
			continue
		}
		for _, src := range pkg.Resources() {
			if src.Tiled() || seen[src.Path] {
				continue
			}
			seen[src.Path] = true
			paths = append(paths, src.Path)
		}
	}
	return paths
}

func producer() storage.ProducerInfo {
	return storage.ProducerInfo{
		Name:    "tile-worker",
		Version: Version,
		GitSHA:  GitSHA,
	}
}
