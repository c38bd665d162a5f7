package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb/maptile"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/catalog"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/fetch"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/storage"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/worker"
)

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, &fetch.Error{Path: path, Err: os.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m mapFetcher) Close() error { return nil }

type recordingCatalog struct {
	mu   sync.Mutex
	recs []catalog.BuildRecord
	err  error
}

func (c *recordingCatalog) RecordBuild(_ context.Context, rec catalog.BuildRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.recs = append(c.recs, rec)
	return nil
}

func (c *recordingCatalog) LastDigest(_ context.Context, _ string) (string, error) { return "", nil }

func (c *recordingCatalog) Close() error { return nil }

func topoRegistry(t *testing.T) *style.Registry {
	t.Helper()
	pkg := style.NewPackage("topo")
	base, _ := style.NewSource("base", "/tiles/{z}/{x}/{y}.pbf", "", style.VectorDetail{Extent: 4096})
	hills, _ := style.NewSource("hills", "/hills.bin", "", style.RasterDetail{TileSize: 256})
	font, _ := style.NewSource("roboto", "/fonts/roboto.pbf", "", style.FontDetail{Family: "Roboto"})
	pkg.AddSource(base)
	pkg.AddSource(hills)
	pkg.AddFont(font)
	for _, spec := range []style.LayerSpec{
		{ID: "land", Type: style.RenderFill, SourceID: "base", MaxZoom: style.MaxZoom},
		{ID: "shade", Type: style.RenderFill, SourceID: "hills", MaxZoom: style.MaxZoom},
		{ID: "labels", Type: style.RenderText, SourceID: "base", MaxZoom: style.MaxZoom, Fonts: []string{"roboto"}},
	} {
		l, err := style.NewLayer(spec)
		if err != nil {
			t.Fatal(err)
		}
		pkg.AddLayer(l)
	}
	reg := style.NewRegistry()
	if err := reg.Register(pkg); err != nil {
		t.Fatal(err)
	}
	return reg
}

func topoData() mapFetcher {
	return mapFetcher{
		"/tiles/2/1/1.pbf":  []byte("tile-2-1-1"),
		"/hills.bin":        []byte("hills"),
		"/fonts/roboto.pbf": []byte("glyphs"),
	}
}

type fixture struct {
	dir       string
	pool      *worker.Pool
	publisher *Publisher
	catalog   *recordingCatalog
}

func newFixture(t *testing.T, f fetch.Fetcher) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(filepath.Join(dir, "out"), "")
	if err != nil {
		t.Fatal(err)
	}
	cp, err := checkpoint.NewManager(checkpoint.Config{Enabled: true, Dir: filepath.Join(dir, "cp")})
	if err != nil {
		t.Fatal(err)
	}
	cat := &recordingCatalog{}
	return &fixture{
		dir:       dir,
		pool:      worker.NewPool(1, topoRegistry(t), f, worker.Options{}),
		publisher: New(store, cp, cat, Options{Backend: "local"}),
		catalog:   cat,
	}
}

func TestPublishStyle(t *testing.T) {
	fx := newFixture(t, topoData())
	ctx := context.Background()

	res, err := fx.pool.Do(ctx, worker.Request{StyleID: "topo"})
	if err != nil || !res.OK() {
		t.Fatalf("prepare failed: %v / %v", err, res.Err)
	}

	out, err := fx.publisher.Publish(ctx, res)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if out.BlobsWritten != 2 {
		t.Errorf("BlobsWritten = %d, want 2 (hills, roboto)", out.BlobsWritten)
	}
	if out.Key != "styles/topo/manifest.json" {
		t.Errorf("Key = %q", out.Key)
	}
	if _, err := os.Stat(filepath.Join(fx.dir, "out", out.Key)); err != nil {
		t.Errorf("manifest not written: %v", err)
	}

	if len(fx.catalog.recs) != 1 {
		t.Fatalf("catalog records = %d, want 1", len(fx.catalog.recs))
	}
	rec := fx.catalog.recs[0]
	if rec.Mode != "prepare" || rec.Digest != res.Summary.Digest || rec.Tile != nil {
		t.Errorf("unexpected record: %+v", rec)
	}

	// Rebuilding the unchanged style must not publish again.
	res2, err := fx.pool.Do(ctx, worker.Request{StyleID: "topo"})
	if err != nil || !res2.OK() {
		t.Fatalf("second prepare failed: %v / %v", err, res2.Err)
	}
	if _, err := fx.publisher.Publish(ctx, res2); !errors.Is(err, checkpoint.ErrUnchanged) {
		t.Errorf("second Publish = %v, want ErrUnchanged", err)
	}
	if len(fx.catalog.recs) != 1 {
		t.Errorf("unchanged publish recorded a build")
	}
}

func TestPublishTile(t *testing.T) {
	fx := newFixture(t, topoData())
	ctx := context.Background()

	coord := maptile.New(1, 1, 2)
	res, err := fx.pool.Do(ctx, worker.Request{StyleID: "topo", Tile: &coord})
	if err != nil || !res.OK() {
		t.Fatalf("tile build failed: %v / %v", err, res.Err)
	}

	out, err := fx.publisher.Publish(ctx, res)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if out.Key != "styles/topo/tiles/2/1/1.json" {
		t.Errorf("Key = %q", out.Key)
	}
	// land and labels share the tile payload, shade uses hills.
	if out.BlobsWritten != 2 {
		t.Errorf("BlobsWritten = %d, want 2", out.BlobsWritten)
	}

	if len(fx.catalog.recs) != 1 {
		t.Fatalf("catalog records = %d", len(fx.catalog.recs))
	}
	rec := fx.catalog.recs[0]
	if rec.Tile == nil || *rec.Tile != coord || rec.Mode != "tile" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestPublish_FailedBuild(t *testing.T) {
	fx := newFixture(t, mapFetcher{})
	res, err := fx.pool.Do(context.Background(), worker.Request{StyleID: "topo"})
	if err == nil || res.OK() {
		t.Fatal("expected failed build")
	}
	if _, err := fx.publisher.Publish(context.Background(), res); !errors.Is(err, ErrFailedBuild) {
		t.Errorf("Publish = %v, want ErrFailedBuild", err)
	}
}

func TestPublish_CatalogErrors(t *testing.T) {
	fx := newFixture(t, topoData())
	ctx := context.Background()
	res, err := fx.pool.Do(ctx, worker.Request{StyleID: "topo"})
	if err != nil || !res.OK() {
		t.Fatalf("prepare failed: %v / %v", err, res.Err)
	}

	fx.catalog.err = errors.New("catalog down")
	fx.publisher.opts.StrictCatalog = true
	if _, err := fx.publisher.Publish(ctx, res); err == nil {
		t.Fatal("strict catalog failure should fail the publish")
	}

	fx.publisher.opts.StrictCatalog = false
	if _, err := fx.publisher.Publish(ctx, res); err != nil {
		t.Errorf("lenient catalog failure = %v, want nil", err)
	}
}

func TestPublishPayload(t *testing.T) {
	fx := newFixture(t, topoData())
	ctx := context.Background()

	f, err := fx.pool.Prefetch(ctx, "/hills.bin")
	if err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}
	key, written, err := fx.publisher.PublishPayload(ctx, f)
	if err != nil {
		t.Fatalf("PublishPayload failed: %v", err)
	}
	if !written || key != storage.BlobPath("", f.Attachment.Fingerprint) {
		t.Errorf("PublishPayload = %q, %v", key, written)
	}
	data, err := os.ReadFile(filepath.Join(fx.dir, "out", key))
	if err != nil {
		t.Fatalf("blob not written: %v", err)
	}
	if string(data) != "hills" {
		t.Errorf("blob = %q", data)
	}

	if _, written, _ := fx.publisher.PublishPayload(ctx, f); written {
		t.Error("second PublishPayload rewrote the blob")
	}

	res, err := fx.pool.Do(ctx, worker.Request{StyleID: "topo"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := fx.publisher.Publish(ctx, res)
	if err != nil {
		t.Fatal(err)
	}
	if out.BlobsWritten != 1 {
		t.Errorf("BlobsWritten = %d, want 1 (roboto only)", out.BlobsWritten)
	}
}

func TestResources(t *testing.T) {
	got := Resources(topoRegistry(t))
	want := []string{"/hills.bin", "/fonts/roboto.pbf"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resources mismatch (-want +got):\n%s", diff)
	}
}
