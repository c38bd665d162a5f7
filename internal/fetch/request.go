package fetch

import (
	"context"
	"sync"
)

// Result is the terminal outcome of a Request. When Err is nil, Data is
// the payload, which may be empty.
type Result struct {
	Path string
	Data []byte
	Err  error
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Handle tracks an in-flight Request.
type Handle struct {
	path string
	done chan struct{}

	mu     sync.Mutex
	result Result
}

// Request fetches path on its own goroutine and invokes done exactly once
// with the outcome. done may be nil when the caller only uses the Handle.
// There is no retry and no cancellation beyond ctx.
func Request(ctx context.Context, f Fetcher, path string, done func(Result)) *Handle {
	h := &Handle{path: path, done: make(chan struct{})}

	go func() {
		data, err := f.Fetch(ctx, path)
		res := Result{Path: path}
		if err != nil {
			res.Err = wrap(path, err)
		} else {
			res.Data = data
		}

		h.mu.Lock()
		h.result = res
		h.mu.Unlock()
		close(h.done)

		if done != nil {
			done(res)
		}
	}()

	return h
}

// Path returns the requested path.
func (h *Handle) Path() string { return h.path }

// Done is closed once the fetch has completed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the fetch completes and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}
