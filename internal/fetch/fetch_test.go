package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/maptile"
	"gocloud.dev/blob/memblob"
)

// stubFetcher returns canned payloads keyed by path.
type stubFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	d, ok := s.data[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

func (s *stubFetcher) Close() error { return nil }

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestRequest_SuccessFiresOnce(t *testing.T) {
	f := &stubFetcher{data: map[string][]byte{"/a.vec": {1, 2, 3}}}

	var calls atomic.Int32
	got := make(chan Result, 2)
	h := Request(context.Background(), f, "/a.vec", func(r Result) {
		calls.Add(1)
		got <- r
	})

	res := h.Wait()
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if !cmp.Equal(res.Data, []byte{1, 2, 3}) {
		t.Errorf("data = %v", res.Data)
	}

	select {
	case r := <-got:
		if r.Path != "/a.vec" {
			t.Errorf("callback path = %q", r.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}

	time.Sleep(10 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("callback fired %d times, want 1", n)
	}
}

func TestRequest_FailureIsUnavailable(t *testing.T) {
	f := &stubFetcher{data: map[string][]byte{}}

	res := Request(context.Background(), f, "/missing.vec", nil).Wait()
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Data != nil {
		t.Error("failure must carry no payload")
	}
	if !errors.Is(res.Err, ErrUnavailable) {
		t.Errorf("error %v should match ErrUnavailable", res.Err)
	}
	var fe *Error
	if !errors.As(res.Err, &fe) || fe.Path != "/missing.vec" {
		t.Errorf("expected *Error for /missing.vec, got %v", res.Err)
	}
}

func TestRequest_EmptyPayloadSucceeds(t *testing.T) {
	f := &stubFetcher{data: map[string][]byte{"/empty": {}}}
	res := Request(context.Background(), f, "/empty", nil).Wait()
	if res.Err != nil {
		t.Fatalf("empty payload failed: %v", res.Err)
	}
	if len(res.Data) != 0 {
		t.Errorf("Data = %q, want empty", res.Data)
	}
}

func TestLocalFetcher(t *testing.T) {
	dir := t.TempDir()
	plain := []byte("vector tile bytes")
	files := map[string][]byte{
		"a.vec":     plain,
		"b.vec.zst": zstdBytes(t, plain),
		"c.vec.gz":  gzipBytes(t, plain),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	f, err := NewLocalFetcher(dir)
	if err != nil {
		t.Fatalf("NewLocalFetcher failed: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	for _, path := range []string{"/a.vec", "/b.vec.zst", "c.vec.gz"} {
		got, err := f.Fetch(ctx, path)
		if err != nil {
			t.Errorf("Fetch(%s) failed: %v", path, err)
			continue
		}
		if !cmp.Equal(got, plain) {
			t.Errorf("Fetch(%s) = %q, want %q", path, got, plain)
		}
	}

	if _, err := f.Fetch(ctx, "/nope.vec"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing file error = %v, want ErrUnavailable", err)
	}
	if _, err := f.Fetch(ctx, "../../etc/passwd"); err == nil {
		t.Error("expected escaping path to fail")
	}
	if _, err := f.Fetch(ctx, "/.."); err == nil {
		t.Error("expected parent dir to fail")
	}
}

func TestLocalFetcher_DotDotPrefixedName(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "..tiles"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "..tiles", "a.pbf"), []byte("tile"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := NewLocalFetcher(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := f.Fetch(context.Background(), "/..tiles/a.pbf")
	if err != nil {
		t.Fatalf("Fetch(/..tiles/a.pbf) failed: %v", err)
	}
	if string(got) != "tile" {
		t.Errorf("Fetch = %q", got)
	}
}

func TestNewLocalFetcher_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLocalFetcher(file); err == nil {
		t.Error("expected error for non-directory")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fonts/roboto.pbf":
			w.Write([]byte("glyphs"))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPFetcher failed: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	got, err := f.Fetch(ctx, "/fonts/roboto.pbf")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(got) != "glyphs" {
		t.Errorf("Fetch = %q", got)
	}

	if _, err := f.Fetch(ctx, "/missing"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("404 error = %v, want ErrUnavailable", err)
	}
	if got, err := f.Fetch(ctx, "/empty"); err != nil || len(got) != 0 {
		t.Errorf("empty body = %q, %v; want empty payload", got, err)
	}
}

func TestHTTPFetcher_URL(t *testing.T) {
	f, err := NewHTTPFetcher("https://tiles.example.com/", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tests := map[string]string{
		"/a.vec":                    "https://tiles.example.com/a.vec",
		"a.vec":                     "https://tiles.example.com/a.vec",
		"https://cdn.example.com/x": "https://cdn.example.com/x",
	}
	for in, want := range tests {
		if got := f.URL(in); got != want {
			t.Errorf("URL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBlobFetcher(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	if err := bucket.WriteAll(ctx, "styles/sprites/icons.png", []byte("png"), nil); err != nil {
		t.Fatal(err)
	}

	f, err := NewBlobFetcherFromBucket(bucket, "styles/")
	if err != nil {
		t.Fatalf("NewBlobFetcherFromBucket failed: %v", err)
	}
	defer f.Close()

	got, err := f.Fetch(ctx, "/sprites/icons.png")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(got) != "png" {
		t.Errorf("Fetch = %q", got)
	}

	if _, err := f.Fetch(ctx, "/sprites/missing.png"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing object error = %v, want ErrUnavailable", err)
	}
}

func TestBucketURL(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{BucketURL: "gs://styles"}, "gs://styles"},
		{Config{BucketURL: "s3://styles"}, "s3://styles"},
		{Config{BucketURL: "s3://styles", S3Region: "us-east-1"}, "s3://styles?region=us-east-1"},
		{
			Config{BucketURL: "s3://styles", S3Region: "auto", S3Endpoint: "https://r2.example.com"},
			"s3://styles?endpoint=https%3A%2F%2Fr2.example.com&region=auto&s3ForcePathStyle=true",
		},
	}
	for _, tt := range tests {
		if got := BucketURL(tt.cfg); got != tt.want {
			t.Errorf("BucketURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestNew_InvalidMode(t *testing.T) {
	if _, err := New(Config{Mode: "ftp"}); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("error = %v, want ErrInvalidMode", err)
	}
}

func TestExpand(t *testing.T) {
	tile := maptile.New(3, 5, 4)
	if got := Expand("/tiles/{z}/{x}/{y}.pbf", tile); got != "/tiles/4/3/5.pbf" {
		t.Errorf("Expand = %q", got)
	}
	if !IsTemplate("/tiles/{z}/{x}/{y}.pbf") {
		t.Error("expected template")
	}
	if IsTemplate("/fonts/roboto.pbf") {
		t.Error("plain path is not a template")
	}
}
