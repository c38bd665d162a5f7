package style

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/withObsrvr/obsrvr-tile-worker/internal/fingerprint"
)

// Resource set names, used in error messages and summaries.
const (
	SetSources    = "sources"
	SetFonts      = "fonts"
	SetBillboards = "billboards"
)

// Package is the aggregate a worker builds: one style's sources, fonts,
// billboards and ordered layers.
type Package struct {
	StyleID string

	mu         sync.RWMutex
	sources    map[string]*Source
	fonts      map[string]*Source
	billboards map[string]*Source
	layers     []Layer
}

// NewPackage creates an empty package for styleID.
func NewPackage(styleID string) *Package {
	return &Package{
		StyleID:    styleID,
		sources:    make(map[string]*Source),
		fonts:      make(map[string]*Source),
		billboards: make(map[string]*Source),
	}
}

// Clone returns a copy with the same descriptors and layers and every
// resource pending. Workers build on clones so concurrent builds of one
// style never share attachment state.
func (p *Package) Clone() *Package {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := NewPackage(p.StyleID)
	for n, s := range p.sources {
		c.sources[n] = s.clone()
	}
	for n, s := range p.fonts {
		c.fonts[n] = s.clone()
	}
	for n, s := range p.billboards {
		c.billboards[n] = s.clone()
	}
	c.layers = slices.Clone(p.layers)
	return c
}

// AddSource adds a vector or raster data source.
func (p *Package) AddSource(s *Source) error {
	return p.add(SetSources, p.sources, s, KindVector, KindRaster)
}

// AddFont adds a font resource.
func (p *Package) AddFont(s *Source) error {
	return p.add(SetFonts, p.fonts, s, KindFont)
}

// AddBillboard adds a billboard asset.
func (p *Package) AddBillboard(s *Source) error {
	return p.add(SetBillboards, p.billboards, s, KindBillboard)
}

func (p *Package) add(set string, m map[string]*Source, s *Source, kinds ...SourceKind) error {
	if s == nil || s.Detail == nil {
		return fmt.Errorf("%w: nil source for %s", ErrInvalidSource, set)
	}
	if !slices.Contains(kinds, s.Kind()) {
		return fmt.Errorf("%w: %s resource %q cannot be added to %s", ErrInvalidSource, s.Kind(), s.Name, set)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := m[s.Name]; exists {
		return &DuplicateResourceError{StyleID: p.StyleID, Set: set, Name: s.Name}
	}
	m[s.Name] = s
	return nil
}

// AddLayer appends a layer; layer order is paint order.
func (p *Package) AddLayer(l Layer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.layers = append(p.layers, l)
}

// Source returns the named data source.
func (p *Package) Source(name string) (*Source, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sources[name]
	return s, ok
}

// Font returns the named font.
func (p *Package) Font(name string) (*Source, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.fonts[name]
	return s, ok
}

// Billboard returns the named billboard.
func (p *Package) Billboard(name string) (*Source, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.billboards[name]
	return s, ok
}

// Layers returns the layers in paint order.
func (p *Package) Layers() []Layer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.layers)
}

// LayersAt returns the layers visible at zoom z, in paint order.
func (p *Package) LayersAt(z int) []Layer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Layer
	for _, l := range p.layers {
		if l.VisibleAt(z) {
			out = append(out, l)
		}
	}
	return out
}

// Resources returns every source, font and billboard, in that order,
// each set sorted by name.
func (p *Package) Resources() []*Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Source, 0, len(p.sources)+len(p.fonts)+len(p.billboards))
	out = append(out, sortedByName(p.sources)...)
	out = append(out, sortedByName(p.fonts)...)
	out = append(out, sortedByName(p.billboards)...)
	return out
}

// Detach returns every resource to pending.
func (p *Package) Detach() {
	for _, r := range p.Resources() {
		r.Detach()
	}
}

// Digest combines the fingerprints of attached non-tiled resources in
// Resources order.
func (p *Package) Digest() uint32 {
	var fps []uint32
	for _, r := range p.Resources() {
		if r.Tiled() {
			continue
		}
		if att, ok := r.Attachment(); ok {
			fps = append(fps, att.Fingerprint)
		}
	}
	return fingerprint.Combine(fps...)
}

func sortedByName(m map[string]*Source) []*Source {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Source, 0, len(names))
	for _, n := range names {
		out = append(out, m[n])
	}
	return out
}
