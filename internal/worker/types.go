package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/style"
)

var (
	// ErrWorkerBusy is returned synchronously when a request arrives while
	// the worker is not Ready. The worker state is unchanged.
	ErrWorkerBusy = errors.New("worker busy")

	// ErrUnknownStyle is returned synchronously for an unregistered style.
	ErrUnknownStyle = style.ErrUnknownStyle
)

// Status is the worker lifecycle state.
type Status int32

const (
	// Ready accepts new requests.
	Ready Status = iota
	// Building has fetches outstanding.
	Building
	// Busy is validating and assembling after the last fetch completed.
	Busy
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Building:
		return "building"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Request asks a worker to build a style, or one tile of a style when
// Tile is set.
type Request struct {
	StyleID string
	Tile    *maptile.Tile
}

// Mode names the kind of build, used in logs and metrics.
func (r Request) Mode() string {
	if r.Tile != nil {
		return "tile"
	}
	return "prepare"
}

// Result is the single terminal outcome of an accepted request. Exactly
// one of Err or a built Summary is meaningful.
type Result struct {
	BuildID  string
	StyleID  string
	Summary  style.Summary
	Tile     *Tile
	Cached   bool
	Duration time.Duration
	Err      error

	// Package is the package instance the build attached payloads to.
	// After a failure every attachment on it has been discarded.
	Package *style.Package
}

// OK reports whether the build succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Tile is an assembled tile: the layers visible at its zoom, in paint
// order, with the payload of each layer's source.
type Tile struct {
	StyleID string
	Coord   maptile.Tile
	Digest  uint32
	Layers  []TileLayer
}

// TileLayer pairs a layer with its source payload.
type TileLayer struct {
	style.LayerSummary
	Path        string
	Fingerprint uint32
	Data        []byte
}

// Size is the number of distinct payload bytes referenced by the tile.
func (t *Tile) Size() int {
	seen := make(map[string]bool)
	n := 0
	for _, l := range t.Layers {
		if l.Path == "" || seen[l.Path] {
			continue
		}
		seen[l.Path] = true
		n += len(l.Data)
	}
	return n
}

// Fetched is the outcome of a Prefetch.
type Fetched struct {
	Path       string
	Attachment style.Attachment
	// Hit reports that an identical fingerprint was already cached and the
	// newly fetched buffer was discarded.
	Hit bool
}
