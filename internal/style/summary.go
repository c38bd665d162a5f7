package style

import (
	"github.com/withObsrvr/obsrvr-tile-worker/internal/fingerprint"
)

// Summary describes a built package. It is what workers report and what
// storage publishes as the style manifest.
type Summary struct {
	StyleID   string            `json:"style_id"`
	Digest    string            `json:"digest"`
	Resources []ResourceSummary `json:"resources"`
	Layers    []LayerSummary    `json:"layers"`
}

// ResourceSummary describes one resource and its attachment.
type ResourceSummary struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	Format      string `json:"format,omitempty"`
	Required    bool   `json:"required"`
	Tiled       bool   `json:"tiled,omitempty"`
	State       string `json:"state"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Size        int    `json:"size,omitempty"`
}

// LayerSummary describes one layer.
type LayerSummary struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Source      string `json:"source,omitempty"`
	SourceLayer string `json:"source_layer,omitempty"`
	MinZoom     int    `json:"minzoom"`
	MaxZoom     int    `json:"maxzoom"`
}

// Summary snapshots the package.
func (p *Package) Summary() Summary {
	s := Summary{
		StyleID: p.StyleID,
		Digest:  fingerprint.Format(p.Digest()),
	}
	for _, r := range p.Resources() {
		rs := ResourceSummary{
			Name:     r.Name,
			Kind:     r.Kind().String(),
			Path:     r.Path,
			Format:   r.Format,
			Required: r.Required,
			Tiled:    r.Tiled(),
			State:    r.State().String(),
		}
		if att, ok := r.Attachment(); ok {
			rs.Fingerprint = fingerprint.Format(att.Fingerprint)
			rs.Size = att.Size
		}
		s.Resources = append(s.Resources, rs)
	}
	for _, l := range p.Layers() {
		s.Layers = append(s.Layers, SummarizeLayer(l))
	}
	return s
}

// SummarizeLayer describes a single layer.
func SummarizeLayer(l Layer) LayerSummary {
	return LayerSummary{
		ID:          l.ID(),
		Type:        l.RenderType().String(),
		Source:      l.SourceID(),
		SourceLayer: l.SourceLayer(),
		MinZoom:     l.MinZoom(),
		MaxZoom:     l.MaxZoom(),
	}
}
