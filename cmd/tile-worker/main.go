package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/catalog"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/config"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/fetch"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/metrics"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/publish"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/storage"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/worker"
)

func main() {
	configPath := flag.String("c", "", "config file (YAML)")
	stylesPath := flag.String("styles", "", "style definitions file (overrides config)")
	mode := flag.String("mode", "prepare", "prepare | tile | prefetch")
	styleID := flag.String("style", "", "style id (default: all styles for prepare)")
	z := flag.Uint("z", 0, "tile zoom")
	x := flag.Uint("x", 0, "tile column")
	y := flag.Uint("y", 0, "tile row")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] Tile Worker %s (%s)", publish.Version, publish.GitSHA)

	cfg := config.MustLoad(*configPath)
	if *stylesPath != "" {
		cfg.Styles = *stylesPath
	}

	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init("tile_worker")
		go func() {
			log.Printf("[metrics] serving on %s", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
	}

	fetcher, err := fetch.New(fetch.Config{
		Mode:       cfg.Fetch.Mode,
		LocalDir:   cfg.Fetch.LocalDir,
		BaseURL:    cfg.Fetch.BaseURL,
		Timeout:    cfg.Fetch.Timeout,
		BucketURL:  cfg.Fetch.BucketURL,
		S3Endpoint: cfg.Fetch.S3Endpoint,
		S3Region:   cfg.Fetch.S3Region,
		Prefix:     cfg.Fetch.Prefix,
	})
	if err != nil {
		log.Fatalf("[main] failed to create fetcher: %v", err)
	}
	defer fetcher.Close()

	registry, err := style.LoadRegistry(cfg.Styles)
	if err != nil {
		log.Fatalf("[main] failed to load styles: %v", err)
	}
	log.Printf("[main] loaded %d styles from %s", len(registry.StyleIDs()), cfg.Styles)

	tileCache, err := worker.NewTileCache(worker.TileCacheConfig{
		MaxCost: cfg.Worker.TileCacheMaxCost,
		TTL:     cfg.Worker.TileCacheTTL,
	})
	if err != nil {
		log.Fatalf("[main] failed to create tile cache: %v", err)
	}
	defer tileCache.Close()

	pool := worker.NewPool(cfg.Worker.Count, registry, fetcher, worker.Options{
		Revalidate: cfg.Worker.Revalidate,
		TileCache:  tileCache,
		Metrics:    m,
	})

	var pub *publish.Publisher
	if cfg.Storage.Backend != "none" && cfg.Storage.Backend != "" {
		pub, err = newPublisher(ctx, cfg, m)
		if err != nil {
			log.Fatalf("[main] failed to create publisher: %v", err)
		}
	}

	switch *mode {
	case "prepare":
		err = runPrepare(ctx, pool, pub, registry, *styleID)
	case "tile":
		if *styleID == "" {
			log.Fatalf("[main] -style is required for tile mode")
		}
		if *z > style.MaxZoom {
			log.Fatalf("[main] zoom %d out of range [0, %d]", *z, style.MaxZoom)
		}
		err = runTile(ctx, pool, pub, *styleID, maptile.New(uint32(*x), uint32(*y), maptile.Zoom(*z)))
	case "prefetch":
		err = runPrefetch(ctx, pool, pub, registry)
	default:
		log.Fatalf("[main] unknown mode %q", *mode)
	}

	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] shutdown complete")
		} else {
			log.Fatalf("[main] %s failed: %v", *mode, err)
		}
	}

	log.Println("[main] tile worker stopped cleanly")
	time.Sleep(100 * time.Millisecond)
}

func newPublisher(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*publish.Publisher, error) {
	store, err := storage.New(ctx, storage.Config{
		Backend:   cfg.Storage.Backend,
		LocalDir:  cfg.Storage.LocalDir,
		BucketURL: cfg.Storage.BucketURL,
		Prefix:    cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}

	cp, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkpoint manager: %w", err)
	}

	cat, err := catalog.NewWriter(catalog.Config{
		PostgresDSN: cfg.Catalog.PostgresDSN,
		Namespace:   cfg.Catalog.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("create catalog writer: %w", err)
	}

	return publish.New(store, cp, cat, publish.Options{
		Backend: cfg.Storage.Backend,
		Metrics: m,
	}), nil
}

func runPrepare(ctx context.Context, pool *worker.Pool, pub *publish.Publisher, registry *style.Registry, styleID string) error {
	ids := registry.StyleIDs()
	if styleID != "" {
		ids = []string{styleID}
	}

	reqs := make([]worker.Request, len(ids))
	for i, id := range ids {
		reqs[i] = worker.Request{StyleID: id}
	}

	var failed []string
	pool.Run(ctx, reqs, func(i int, res worker.Result) {
		if !res.OK() {
			log.Printf("[main] style %s failed: %v", res.StyleID, res.Err)
			failed = append(failed, res.StyleID)
			return
		}
		log.Printf("[main] style %s built (digest=%s, %d resources, %s)",
			res.StyleID, res.Summary.Digest, len(res.Summary.Resources), res.Duration)
		publishResult(ctx, pub, res)
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d styles failed: %s", len(failed), len(ids), strings.Join(failed, ", "))
	}
	return nil
}

func runTile(ctx context.Context, pool *worker.Pool, pub *publish.Publisher, styleID string, t maptile.Tile) error {
	res, err := pool.Do(ctx, worker.Request{StyleID: styleID, Tile: &t})
	if err != nil {
		return err
	}
	log.Printf("[main] tile %s/%d/%d/%d built (%d layers, %d bytes, cached=%v)",
		styleID, t.Z, t.X, t.Y, len(res.Tile.Layers), res.Tile.Size(), res.Cached)
	publishResult(ctx, pub, res)
	return nil
}

func publishResult(ctx context.Context, pub *publish.Publisher, res worker.Result) {
	if pub == nil {
		return
	}
	out, err := pub.Publish(ctx, res)
	switch {
	case errors.Is(err, checkpoint.ErrUnchanged):
		log.Printf("[main] style %s unchanged, not published", res.StyleID)
	case err != nil:
		log.Printf("[main] publish %s failed: %v", res.StyleID, err)
	default:
		log.Printf("[main] published %s (%d new blobs)", out.URI, out.BlobsWritten)
	}
}

// runPrefetch fetches every shared resource once. With a storage backend
// the payloads are written as blobs so later publishes skip them.
func runPrefetch(ctx context.Context, pool *worker.Pool, pub *publish.Publisher, registry *style.Registry) error {
	paths := publish.Resources(registry)
	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("prefetch"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)

	var (
		wg     sync.WaitGroup
		hits   atomic.Int64
		stored atomic.Int64
		failed atomic.Int64
		sem    = make(chan struct{}, pool.Size())
	)
	for _, path := range paths {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer bar.Add(1)
			f, err := pool.Prefetch(ctx, path)
			if err != nil {
				failed.Add(1)
				log.Printf("[prefetch] %s: %v", path, err)
				return
			}
			if f.Hit {
				hits.Add(1)
			}
			if pub == nil {
				return
			}
			_, written, err := pub.PublishPayload(ctx, f)
			switch {
			case err != nil:
				failed.Add(1)
				log.Printf("[prefetch] store %s: %v", path, err)
			case written:
				stored.Add(1)
			}
		}(path)
	}
	wg.Wait()
	bar.Finish()
	fmt.Println()

	log.Printf("[main] prefetched %d resources (%d dedup hits, %d blobs stored, %d failed)",
		len(paths), hits.Load(), stored.Load(), failed.Load())
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d resources failed", n)
	}
	return ctx.Err()
}
