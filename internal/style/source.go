package style

import (
	"fmt"
	"sync"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/fetch"
)

// SourceDetail carries the fields specific to one kind of resource.
type SourceDetail interface {
	Kind() SourceKind
}

// VectorDetail describes a vector data source.
type VectorDetail struct {
	Extent int // tile extent in integer units, e.g. 4096
}

func (VectorDetail) Kind() SourceKind { return KindVector }

// RasterDetail describes a raster data source.
type RasterDetail struct {
	TileSize int // pixels per tile edge
}

func (RasterDetail) Kind() SourceKind { return KindRaster }

// FontDetail describes a font (glyph) resource.
type FontDetail struct {
	Family string
}

func (FontDetail) Kind() SourceKind { return KindFont }

// BillboardDetail describes a billboard (sprite) asset.
type BillboardDetail struct {
	Width      int
	Height     int
	PixelRatio float64
}

func (BillboardDetail) Kind() SourceKind { return KindBillboard }

// AttachState tracks whether a resource payload has been retrieved.
type AttachState int

const (
	StatePending AttachState = iota
	StateAttached
	StateFailed
)

func (s AttachState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAttached:
		return "attached"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("AttachState(%d)", int(s))
	}
}

// Source is one fetchable resource of a style package. Its descriptor
// fields are fixed at construction; only the attachment changes.
type Source struct {
	Name     string
	Path     string
	Format   string
	Required bool
	Detail   SourceDetail

	mu    sync.RWMutex
	state AttachState
	att   Attachment
}

// NewSource creates a required source. Detail must be non-nil.
func NewSource(name, path, format string, detail SourceDetail) (*Source, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidSource)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: source %q has no path", ErrInvalidSource, name)
	}
	if detail == nil {
		return nil, fmt.Errorf("%w: source %q has no kind", ErrInvalidSource, name)
	}
	return &Source{
		Name:     name,
		Path:     path,
		Format:   format,
		Required: true,
		Detail:   detail,
	}, nil
}

func (s *Source) clone() *Source {
	return &Source{
		Name:     s.Name,
		Path:     s.Path,
		Format:   s.Format,
		Required: s.Required,
		Detail:   s.Detail,
	}
}

// Kind returns the resource kind derived from its detail variant.
func (s *Source) Kind() SourceKind { return s.Detail.Kind() }

// Tiled reports whether the path is a per-tile template. Tiled sources are
// fetched per tile and never attached to the package.
func (s *Source) Tiled() bool { return fetch.IsTemplate(s.Path) }

// Attach stores a fetched payload on the source.
func (s *Source) Attach(att Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.att = att
	s.state = StateAttached
}

// MarkFailed records that retrieval failed and drops any payload.
func (s *Source) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.att = Attachment{}
	s.state = StateFailed
}

// Detach returns the source to pending.
func (s *Source) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.att = Attachment{}
	s.state = StatePending
}

// State returns the attachment state.
func (s *Source) State() AttachState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attachment returns the attached payload, if any.
func (s *Source) Attachment() (Attachment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.att, s.state == StateAttached
}
