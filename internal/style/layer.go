package style

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// MaxZoom is the deepest zoom level a layer may declare.
const MaxZoom = 24

// Expression is an opaque encoded style expression. It is carried
// through the package unchanged and never evaluated here.
type Expression []byte

// ExpressionFromNode re-encodes a YAML node as canonical YAML bytes.
// A nil or empty node yields a nil Expression.
func ExpressionFromNode(n *yaml.Node) (Expression, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	b, err := yaml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode expression: %w", err)
	}
	return Expression(b), nil
}

// Empty reports whether the expression carries no payload.
func (e Expression) Empty() bool { return len(e) == 0 }

// Layer is one render layer. Layers are immutable after construction.
type Layer interface {
	ID() string
	SourceID() string
	SourceLayer() string
	MinZoom() int
	MaxZoom() int
	VisibleAt(z int) bool
	Filter() Expression
	Layout() Expression
	Paint() Expression
	RenderType() RenderType
}

// LayerSpec is the construction input for NewLayer. Only the fields
// belonging to Type are used.
type LayerSpec struct {
	ID          string
	Type        RenderType
	SourceID    string
	SourceLayer string
	MinZoom     int
	MaxZoom     int
	Filter      Expression
	Layout      Expression
	Paint       Expression

	Invert     bool     // fill
	Cap        string   // line, line3d
	Join       string   // line, line3d
	Billboards []string // billboard
	Fonts      []string // text
}

type baseLayer struct {
	id          string
	sourceID    string
	sourceLayer string
	minZoom     int
	maxZoom     int
	filter      Expression
	layout      Expression
	paint       Expression
}

func (b *baseLayer) ID() string          { return b.id }
func (b *baseLayer) SourceID() string    { return b.sourceID }
func (b *baseLayer) SourceLayer() string { return b.sourceLayer }
func (b *baseLayer) MinZoom() int        { return b.minZoom }
func (b *baseLayer) MaxZoom() int        { return b.maxZoom }
func (b *baseLayer) Filter() Expression  { return slices.Clone(b.filter) }
func (b *baseLayer) Layout() Expression  { return slices.Clone(b.layout) }
func (b *baseLayer) Paint() Expression   { return slices.Clone(b.paint) }

// VisibleAt reports whether z lies within [MinZoom, MaxZoom].
func (b *baseLayer) VisibleAt(z int) bool {
	return z >= b.minZoom && z <= b.maxZoom
}

// FillLayer fills polygons.
type FillLayer struct {
	baseLayer
	invert bool
}

func (*FillLayer) RenderType() RenderType { return RenderFill }

// Invert reports whether the fill covers everything outside the polygons.
func (l *FillLayer) Invert() bool { return l.invert }

// LineLayer strokes lines.
type LineLayer struct {
	baseLayer
	lineStyle
}

func (*LineLayer) RenderType() RenderType { return RenderLine }

type lineStyle struct {
	cap  string
	join string
}

// Cap returns the line cap.
func (s lineStyle) Cap() string { return s.cap }

// Join returns the line join.
func (s lineStyle) Join() string { return s.join }

// Line3DLayer strokes lines with elevation.
type Line3DLayer struct {
	baseLayer
	lineStyle
}

func (*Line3DLayer) RenderType() RenderType { return RenderLine3D }

// BillboardLayer places billboard assets.
type BillboardLayer struct {
	baseLayer
	billboards []string
}

func (*BillboardLayer) RenderType() RenderType { return RenderBillboard }

// Billboards returns a copy of the billboard names the layer places.
func (l *BillboardLayer) Billboards() []string { return slices.Clone(l.billboards) }

// TextLayer places labels using the listed fonts.
type TextLayer struct {
	baseLayer
	fonts []string
}

func (*TextLayer) RenderType() RenderType { return RenderText }

// Fonts returns a copy of the font names the layer uses.
func (l *TextLayer) Fonts() []string { return slices.Clone(l.fonts) }

// NewLayer validates spec and builds the layer variant for spec.Type.
func NewLayer(spec LayerSpec) (Layer, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: empty layer id", ErrInvalidLayer)
	}
	if spec.MinZoom < 0 || spec.MaxZoom > MaxZoom {
		return nil, fmt.Errorf("%w: layer %q zoom range [%d, %d] outside [0, %d]",
			ErrInvalidLayer, spec.ID, spec.MinZoom, spec.MaxZoom, MaxZoom)
	}
	if spec.MinZoom > spec.MaxZoom {
		return nil, fmt.Errorf("%w: layer %q minzoom %d > maxzoom %d",
			ErrInvalidLayer, spec.ID, spec.MinZoom, spec.MaxZoom)
	}

	base := baseLayer{
		id:          spec.ID,
		sourceID:    spec.SourceID,
		sourceLayer: spec.SourceLayer,
		minZoom:     spec.MinZoom,
		maxZoom:     spec.MaxZoom,
		filter:      slices.Clone(spec.Filter),
		layout:      slices.Clone(spec.Layout),
		paint:       slices.Clone(spec.Paint),
	}

	switch spec.Type {
	case RenderFill:
		return &FillLayer{baseLayer: base, invert: spec.Invert}, nil
	case RenderLine:
		return &LineLayer{baseLayer: base, lineStyle: lineStyle{cap: spec.Cap, join: spec.Join}}, nil
	case RenderLine3D:
		return &Line3DLayer{baseLayer: base, lineStyle: lineStyle{cap: spec.Cap, join: spec.Join}}, nil
	case RenderBillboard:
		return &BillboardLayer{baseLayer: base, billboards: slices.Clone(spec.Billboards)}, nil
	case RenderText:
		return &TextLayer{baseLayer: base, fonts: slices.Clone(spec.Fonts)}, nil
	default:
		return nil, fmt.Errorf("%w: layer %q has unknown type %v", ErrInvalidLayer, spec.ID, spec.Type)
	}
}
