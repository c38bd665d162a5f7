package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/fetch"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/logging"
	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
)

// Pool runs several workers over one registry. Each worker still handles
// one request at a time; the pool hands requests to idle workers.
type Pool struct {
	workers []*Worker
	idle    chan *Worker
	log     *slog.Logger
}

// NewPool creates n workers sharing registry and fetcher.
func NewPool(n int, registry *style.Registry, fetcher fetch.Fetcher, opts Options) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		idle: make(chan *Worker, n),
		log:  logging.Component("pool"),
	}
	for i := 0; i < n; i++ {
		w := New(fmt.Sprintf("w%d", i), registry, fetcher, opts)
		p.workers = append(p.workers, w)
		p.idle <- w
	}
	return p
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker { return p.workers }

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Do waits for an idle worker and runs req on it.
func (p *Pool) Do(ctx context.Context, req Request) (Result, error) {
	var w *Worker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return Result{StyleID: req.StyleID, Err: ctx.Err()}, ctx.Err()
	}
	defer func() { p.idle <- w }()
	return w.await(ctx, req)
}

// Prefetch fetches path through any idle worker.
func (p *Pool) Prefetch(ctx context.Context, path string) (Fetched, error) {
	var w *Worker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return Fetched{Path: path}, ctx.Err()
	}
	defer func() { p.idle <- w }()
	return w.Prefetch(ctx, path)
}

type task struct {
	index int
	req   Request
}

type indexedResult struct {
	index int
	res   Result
}

// Run dispatches every request across the pool and returns the results in
// request order. onResult, if set, is called in request order as results
// become available.
func (p *Pool) Run(ctx context.Context, reqs []Request, onResult func(int, Result)) []Result {
	out := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return out
	}

	p.log.Info("dispatching requests", "requests", len(reqs), "workers", len(p.workers))

	tasks := make(chan task, len(p.workers))
	results := make(chan indexedResult, len(p.workers))

	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				res, err := p.Do(ctx, t.req)
				if err != nil && res.Err == nil {
					res.Err = err
				}
				res.StyleID = t.req.StyleID
				results <- indexedResult{index: t.index, res: res}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i, r := range reqs {
			select {
			case <-ctx.Done():
				return
			case tasks <- task{index: i, req: r}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Sequencer: flush in request order.
	pending := make(map[int]Result)
	delivered := make([]bool, len(reqs))
	next := 0
	for r := range results {
		pending[r.index] = r.res
		for {
			res, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			out[next] = res
			delivered[next] = true
			if onResult != nil {
				onResult(next, res)
			}
			next++
		}
	}

	// Requests never dispatched because ctx ended.
	for i := next; i < len(reqs); i++ {
		if delivered[i] {
			continue
		}
		if res, ok := pending[i]; ok {
			out[i] = res
		} else {
			out[i] = Result{StyleID: reqs[i].StyleID, Err: ctx.Err()}
		}
		if onResult != nil {
			onResult(i, out[i])
		}
	}
	return out
}
