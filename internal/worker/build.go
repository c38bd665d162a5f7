package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/fetch"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/fingerprint"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
)

// token correlates a fetch completion with the build that issued it.
type token struct {
	BuildID string
	StyleID string
	Path    string
}

type completion struct {
	tok    token
	result fetch.Result
}

// target is one distinct path to fetch and everything waiting on it.
type target struct {
	path      string
	resources []*style.Source // attached with the payload
	tiled     []*style.Source // tiled sources that expand to path
}

func (t *target) required() bool {
	for _, r := range t.resources {
		if r.Required {
			return true
		}
	}
	for _, s := range t.tiled {
		if s.Required {
			return true
		}
	}
	return false
}

func (t *target) kind() string {
	if len(t.resources) > 0 {
		return t.resources[0].Kind().String()
	}
	if len(t.tiled) > 0 {
		return t.tiled[0].Kind().String()
	}
	return "unknown"
}

type tilePayload struct {
	path string
	att  style.Attachment
}

// build is the state of one accepted request. Everything except the
// completions channel is owned by the build goroutine once started.
type build struct {
	w       *Worker
	id      string
	req     Request
	pkg     *style.Package
	out     chan Result
	log     *slog.Logger
	started time.Time

	targets     map[string]*target
	pending     []string
	outstanding int
	completions chan completion
	tiled       map[string]tilePayload // source name → payload for this tile
}

func newBuild(w *Worker, req Request, pkg *style.Package, out chan Result) *build {
	id := logging.NewBuildID()
	return &build{
		w:       w,
		id:      id,
		req:     req,
		pkg:     pkg,
		out:     out,
		log:     logging.BuildLogger(w.log, id, req.StyleID).With("mode", req.Mode()),
		started: time.Now(),
		targets: make(map[string]*target),
		tiled:   make(map[string]tilePayload),
	}
}

// plan groups resources by path and satisfies what it can from the
// fingerprint cache.
func (b *build) plan() {
	for _, r := range b.pkg.Resources() {
		if r.Tiled() {
			continue
		}
		b.target(r.Path).resources = append(b.target(r.Path).resources, r)
	}

	if b.req.Tile != nil {
		seen := make(map[string]bool)
		for _, l := range b.pkg.LayersAt(int(b.req.Tile.Z)) {
			src, ok := b.pkg.Source(l.SourceID())
			if !ok || !src.Tiled() || seen[src.Name] {
				continue
			}
			seen[src.Name] = true
			p := fetch.Expand(src.Path, *b.req.Tile)
			b.target(p).tiled = append(b.target(p).tiled, src)
		}
	}

	paths := make([]string, 0, len(b.targets))
	for p := range b.targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if !b.w.opts.Revalidate {
			if att, ok := b.w.registry.Lookup(p); ok {
				b.apply(b.targets[p], att)
				b.log.Debug("resource cached", "path", p, "fingerprint", fingerprint.Format(att.Fingerprint))
				continue
			}
		}
		b.pending = append(b.pending, p)
	}
}

func (b *build) target(path string) *target {
	t, ok := b.targets[path]
	if !ok {
		t = &target{path: path}
		b.targets[path] = t
	}
	return t
}

// start issues the pending fetches and runs the build loop.
func (b *build) start(ctx context.Context) {
	b.plan()
	b.outstanding = len(b.pending)
	b.completions = make(chan completion, len(b.pending))
	b.w.opts.Metrics.AddOutstanding(b.outstanding)

	for _, p := range b.pending {
		tok := token{BuildID: b.id, StyleID: b.req.StyleID, Path: p}
		fetch.Request(ctx, b.w.fetcher, p, func(r fetch.Result) {
			b.completions <- completion{tok: tok, result: r}
		})
	}

	go b.run(ctx)
}

func (b *build) run(ctx context.Context) {
	for b.outstanding > 0 {
		select {
		case <-ctx.Done():
			b.abort(ctx.Err(), "cancelled")
			return
		case c := <-b.completions:
			if !b.w.isActive(c.tok.BuildID) || c.tok.StyleID != b.req.StyleID {
				b.log.Debug("stale completion discarded", "path", c.tok.Path)
				continue
			}
			b.outstanding--
			b.w.opts.Metrics.AddOutstanding(-1)
			if err := b.complete(c); err != nil {
				b.abort(err, "fetch_failed")
				return
			}
		}
	}
	b.finish()
}

// complete handles one fetch outcome. A non-nil return aborts the build.
func (b *build) complete(c completion) error {
	t := b.targets[c.tok.Path]
	kind := t.kind()

	if c.result.Err != nil {
		b.w.opts.Metrics.IncFetch(kind, "failed")
		for _, r := range t.resources {
			r.MarkFailed()
		}
		if t.required() {
			return c.result.Err
		}
		b.log.Warn("optional resource unavailable", "path", t.path, "error", c.result.Err)
		return nil
	}

	b.w.opts.Metrics.IncFetch(kind, "ok")
	b.w.opts.Metrics.ObserveFetchBytes(kind, len(c.result.Data))

	att, hit := b.w.record(t.path, c.result.Data)
	b.apply(t, att)
	b.log.Debug("resource attached",
		"path", t.path,
		"fingerprint", fingerprint.Format(att.Fingerprint),
		"bytes", att.Size,
		"dedup", hit,
		"outstanding", b.outstanding,
	)
	return nil
}

func (b *build) apply(t *target, att style.Attachment) {
	for _, r := range t.resources {
		r.Attach(att)
	}
	for _, s := range t.tiled {
		b.tiled[s.Name] = tilePayload{path: t.path, att: att}
	}
}

// abort discards every attachment this request made and returns the
// worker to Ready with err. Fetches still in flight complete into the
// buffered channel and are never read.
func (b *build) abort(err error, outcome string) {
	b.w.opts.Metrics.AddOutstanding(-b.outstanding)

	var failed *fetch.Error
	failedPath := ""
	if errors.As(err, &failed) {
		failedPath = failed.Path
	}
	for _, r := range b.pkg.Resources() {
		if r.Path == failedPath {
			r.MarkFailed()
			continue
		}
		r.Detach()
	}
	b.tiled = nil

	elapsed := time.Since(b.started)
	b.w.opts.Metrics.IncBuild(b.req.Mode(), outcome)
	b.w.opts.Metrics.ObserveBuildDuration(b.req.Mode(), elapsed.Seconds())
	b.log.Warn("build failed", "error", err, "outstanding", b.outstanding, "duration_ms", elapsed.Milliseconds())

	b.w.deliver(b, Result{
		BuildID:  b.id,
		StyleID:  b.req.StyleID,
		Duration: elapsed,
		Err:      err,
		Package:  b.pkg,
	})
}

// finish validates and assembles once every fetch has completed.
func (b *build) finish() {
	b.w.setStatus(Busy)

	v := b.pkg.Validate()
	for _, warn := range v.Warnings {
		b.log.Warn("validation warning", "warning", warn)
	}
	if !v.Passed {
		b.w.opts.Metrics.IncValidationFailure()
		b.abort(v.Err(), "invalid")
		return
	}

	if err := b.w.registry.Commit(b.pkg); err != nil {
		b.abort(err, "removed")
		return
	}

	res := Result{
		BuildID: b.id,
		StyleID: b.req.StyleID,
		Summary: b.pkg.Summary(),
		Package: b.pkg,
	}
	if b.req.Tile != nil {
		res.Tile = b.assemble()
		if c := b.w.opts.TileCache; c != nil {
			c.Put(res.Tile)
		}
	}
	res.Duration = time.Since(b.started)

	b.w.opts.Metrics.IncBuild(b.req.Mode(), "ok")
	b.w.opts.Metrics.ObserveBuildDuration(b.req.Mode(), res.Duration.Seconds())
	b.log.Info("build complete", "digest", res.Summary.Digest, "duration_ms", res.Duration.Milliseconds())

	b.w.deliver(b, res)
}

// assemble collects the layers visible at the tile's zoom with their
// payloads, in paint order.
func (b *build) assemble() *Tile {
	coord := *b.req.Tile
	t := &Tile{StyleID: b.req.StyleID, Coord: coord}

	var fps []uint32
	for _, l := range b.pkg.LayersAt(int(coord.Z)) {
		tl := TileLayer{LayerSummary: style.SummarizeLayer(l)}
		if src, ok := b.pkg.Source(l.SourceID()); ok {
			if src.Tiled() {
				if p, ok := b.tiled[src.Name]; ok {
					tl.Path, tl.Fingerprint, tl.Data = p.path, p.att.Fingerprint, p.att.Data
				}
			} else if att, ok := src.Attachment(); ok {
				tl.Path, tl.Fingerprint, tl.Data = src.Path, att.Fingerprint, att.Data
			}
		}
		if tl.Path != "" {
			fps = append(fps, tl.Fingerprint)
		}
		t.Layers = append(t.Layers, tl)
	}
	t.Digest = fingerprint.Combine(fps...)
	return t
}
