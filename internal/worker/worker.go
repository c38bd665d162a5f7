// Package worker builds style packages and tiles from fetched resources.
//
// A Worker accepts one request at a time. Accepting a request moves it
// from Ready to Building; fetches are issued asynchronously and their
// completions are funnelled back to the build through a buffered channel.
// When the last fetch completes the worker is Busy while it validates and
// assembles, then returns to Ready and delivers exactly one Result. The
// first required fetch to fail aborts the build: every attachment made by
// the request is discarded and the worker is Ready again.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/maptile"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/fetch"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/fingerprint"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/metrics"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
)

// Options configures a Worker.
type Options struct {
	// Revalidate fetches paths even when the fingerprint cache has them.
	// Identical payloads are still deduplicated by fingerprint.
	Revalidate bool

	TileCache *TileCache
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Worker builds one request at a time.
type Worker struct {
	id       string
	registry *style.Registry
	fetcher  fetch.Fetcher
	opts     Options
	log      *slog.Logger

	mu     sync.Mutex
	status Status
	active string
	last   *Result

	// onStatus observes every transition; used by tests.
	onStatus func(Status)
}

// New creates a Ready worker.
func New(id string, registry *style.Registry, fetcher fetch.Fetcher, opts Options) *Worker {
	log := opts.Logger
	if log == nil {
		log = logging.WorkerLogger(id)
	} else {
		log = log.With("worker_id", id)
	}
	w := &Worker{
		id:       id,
		registry: registry,
		fetcher:  fetcher,
		opts:     opts,
		log:      log,
		status:   Ready,
	}
	opts.Metrics.SetWorkerStatus(id, int(Ready))
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Status returns the current status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// LastResult returns the most recently delivered result.
func (w *Worker) LastResult() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Result{}, false
	}
	return *w.last, true
}

// Submit accepts req if the worker is Ready and returns a channel that
// receives exactly one Result. ErrWorkerBusy and ErrUnknownStyle are
// returned synchronously and leave the worker unchanged.
func (w *Worker) Submit(ctx context.Context, req Request) (<-chan Result, error) {
	w.mu.Lock()
	if w.status != Ready {
		status := w.status
		w.mu.Unlock()
		w.opts.Metrics.IncBusyRejection()
		w.log.Debug("request rejected", "style_id", req.StyleID, "status", status.String())
		return nil, ErrWorkerBusy
	}

	tmpl, err := w.registry.Package(req.StyleID)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}

	out := make(chan Result, 1)

	if req.Tile != nil && w.opts.TileCache != nil {
		if tile, ok := w.opts.TileCache.Get(req.StyleID, *req.Tile); ok {
			res := Result{
				BuildID: logging.NewBuildID(),
				StyleID: req.StyleID,
				Tile:    tile,
				Cached:  true,
			}
			w.last = &res
			w.mu.Unlock()
			w.opts.Metrics.IncTileCacheHit()
			w.opts.Metrics.IncBuild(req.Mode(), "cached")
			out <- res
			return out, nil
		}
	}

	b := newBuild(w, req, tmpl.Clone(), out)
	w.transition(Building)
	w.active = b.id
	w.mu.Unlock()
	w.notify(Building)

	b.log.Info("build accepted", "resources", len(b.pkg.Resources()))
	b.start(ctx)
	return out, nil
}

// PrepareStyle builds the style package and waits for the result.
func (w *Worker) PrepareStyle(ctx context.Context, styleID string) (Result, error) {
	return w.await(ctx, Request{StyleID: styleID})
}

// BuildTile builds one tile of a style and waits for the result.
func (w *Worker) BuildTile(ctx context.Context, styleID string, t maptile.Tile) (Result, error) {
	return w.await(ctx, Request{StyleID: styleID, Tile: &t})
}

func (w *Worker) await(ctx context.Context, req Request) (Result, error) {
	ch, err := w.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res := <-ch
	return res, res.Err
}

// Prefetch fetches path outside any build and records it in the
// fingerprint cache. The worker status is not affected.
func (w *Worker) Prefetch(ctx context.Context, path string) (Fetched, error) {
	h := fetch.Request(ctx, w.fetcher, path, nil)
	select {
	case <-h.Done():
	case <-ctx.Done():
		return Fetched{Path: path}, ctx.Err()
	}

	res := h.Wait()
	if res.Err != nil {
		w.opts.Metrics.IncFetch("prefetch", "failed")
		return Fetched{Path: path}, res.Err
	}
	w.opts.Metrics.IncFetch("prefetch", "ok")
	w.opts.Metrics.ObserveFetchBytes("prefetch", len(res.Data))

	att, hit := w.record(path, res.Data)
	w.log.Debug("prefetched", "path", path, "fingerprint", fingerprint.Format(att.Fingerprint), "hit", hit)
	return Fetched{Path: path, Attachment: att, Hit: hit}, nil
}

// record fingerprints data and stores it in the shared cache. When the
// cache already holds an identical fingerprint the cached attachment is
// returned and data is discarded.
func (w *Worker) record(path string, data []byte) (style.Attachment, bool) {
	fp := fingerprint.OfBytes(data)
	att := style.NewAttachment(fp, data)

	cur, stored := w.registry.AttachIfAbsent(path, att)
	if stored {
		return att, false
	}
	if cur.Fingerprint == fp {
		w.opts.Metrics.IncDedupHit()
		return cur, true
	}

	// The payload at path changed since it was cached.
	if !w.registry.CompareAndSwap(path, cur.Fingerprint, att) {
		if latest, ok := w.registry.Lookup(path); ok && latest.Fingerprint == fp {
			w.opts.Metrics.IncDedupHit()
			return latest, true
		}
	}
	w.log.Info("payload changed", "path", path,
		"old", fingerprint.Format(cur.Fingerprint), "new", fingerprint.Format(fp))
	return att, false
}

func (w *Worker) setStatus(s Status) {
	w.mu.Lock()
	w.transition(s)
	w.mu.Unlock()
	w.notify(s)
}

// transition sets the status and its gauge. Callers hold w.mu so the
// gauge follows the order of transitions.
func (w *Worker) transition(s Status) {
	w.status = s
	w.opts.Metrics.SetWorkerStatus(w.id, int(s))
}

func (w *Worker) notify(s Status) {
	if w.onStatus != nil {
		w.onStatus(s)
	}
}

func (w *Worker) isActive(buildID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active != "" && w.active == buildID
}

// deliver returns the worker to Ready, then publishes res.
func (w *Worker) deliver(b *build, res Result) {
	w.mu.Lock()
	w.transition(Ready)
	w.active = ""
	w.last = &res
	w.mu.Unlock()

	w.notify(Ready)
	b.out <- res
}
