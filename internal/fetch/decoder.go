package fetch

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Decoder undoes transport compression based on the path suffix.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a payload decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode returns the payload with any compression indicated by path removed.
func (d *Decoder) Decode(path string, data []byte) ([]byte, error) {
	switch {
	case IsZstd(path):
		out, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case IsGzip(path):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// IsZstd checks if a path names a zstd compressed payload.
func IsZstd(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zst")
}

// IsGzip checks if a path names a gzip compressed payload.
func IsGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
