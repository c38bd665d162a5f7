package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPFetcher GETs resources relative to a base URL.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	decoder *Decoder
	log     *slog.Logger
}

// NewHTTPFetcher creates a fetcher for baseURL. A zero timeout defaults to
// 30 seconds.
func NewHTTPFetcher(baseURL string, timeout time.Duration) (*HTTPFetcher, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL required for http fetcher")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		decoder: decoder,
		log:     slog.With("component", "fetch", "mode", "http"),
	}, nil
}

// URL returns the absolute URL for path.
func (f *HTTPFetcher) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return f.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// Fetch implements Fetcher.Fetch over HTTP GET.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	url := f.URL(path)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wrap(path, fmt.Errorf("create request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, wrap(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return nil, wrap(path, fmt.Errorf("status code %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrap(path, fmt.Errorf("read body: %w", err))
	}

	out, err := f.decoder.Decode(path, body)
	if err != nil {
		return nil, wrap(path, err)
	}

	f.log.Debug("fetched", "url", url, "bytes", len(body), "ms", time.Since(start).Milliseconds())
	return out, nil
}

// Close releases resources.
func (f *HTTPFetcher) Close() error {
	if f.decoder != nil {
		f.decoder.Close()
	}
	f.client.CloseIdleConnections()
	return nil
}
