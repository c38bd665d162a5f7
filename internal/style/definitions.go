package style

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the root of a style definitions file.
type File struct {
	Styles []Definition `yaml:"styles"`
}

// Definition declares one style package.
type Definition struct {
	ID         string               `yaml:"id"`
	Sources    []ResourceDefinition `yaml:"sources"`
	Fonts      []ResourceDefinition `yaml:"fonts"`
	Billboards []ResourceDefinition `yaml:"billboards"`
	Layers     []LayerDefinition    `yaml:"layers"`
}

// ResourceDefinition declares a source, font or billboard. Kind-specific
// fields are read according to Kind.
type ResourceDefinition struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path"`
	Format   string `yaml:"format"`
	Required *bool  `yaml:"required"`

	Extent     int     `yaml:"extent"`
	TileSize   int     `yaml:"tile_size"`
	Family     string  `yaml:"family"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	PixelRatio float64 `yaml:"pixel_ratio"`
}

// LayerDefinition declares a render layer. Filter, layout and paint are
// kept as raw YAML nodes and stored as opaque expressions.
type LayerDefinition struct {
	ID          string    `yaml:"id"`
	Type        string    `yaml:"type"`
	Source      string    `yaml:"source"`
	SourceLayer string    `yaml:"source_layer"`
	MinZoom     int       `yaml:"minzoom"`
	MaxZoom     *int      `yaml:"maxzoom"`
	Filter      yaml.Node `yaml:"filter"`
	Layout      yaml.Node `yaml:"layout"`
	Paint       yaml.Node `yaml:"paint"`

	Invert     bool     `yaml:"invert"`
	Cap        string   `yaml:"cap"`
	Join       string   `yaml:"join"`
	Billboards []string `yaml:"billboards"`
	Fonts      []string `yaml:"fonts"`
}

// LoadDefinitions parses a style definitions document.
func LoadDefinitions(r io.Reader) ([]Definition, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode style definitions: %w", err)
	}
	return f.Styles, nil
}

// LoadDefinitionsFile parses the style definitions file at path.
func LoadDefinitionsFile(path string) ([]Definition, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open style definitions: %w", err)
	}
	defer fh.Close()
	return LoadDefinitions(fh)
}

// LoadRegistry builds every definition in path and registers it.
func LoadRegistry(path string) (*Registry, error) {
	defs, err := LoadDefinitionsFile(path)
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	for _, d := range defs {
		pkg, err := d.Build()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(pkg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Build constructs the package declared by d.
func (d Definition) Build() (*Package, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("style definition without id")
	}
	pkg := NewPackage(d.ID)

	for _, rd := range d.Sources {
		s, err := rd.build("vector")
		if err != nil {
			return nil, fmt.Errorf("style %s: %w", d.ID, err)
		}
		if err := pkg.AddSource(s); err != nil {
			return nil, err
		}
	}
	for _, rd := range d.Fonts {
		s, err := rd.build("font")
		if err != nil {
			return nil, fmt.Errorf("style %s: %w", d.ID, err)
		}
		if err := pkg.AddFont(s); err != nil {
			return nil, err
		}
	}
	for _, rd := range d.Billboards {
		s, err := rd.build("billboard")
		if err != nil {
			return nil, fmt.Errorf("style %s: %w", d.ID, err)
		}
		if err := pkg.AddBillboard(s); err != nil {
			return nil, err
		}
	}

	for _, ld := range d.Layers {
		spec, err := ld.spec()
		if err != nil {
			return nil, fmt.Errorf("style %s: %w", d.ID, err)
		}
		l, err := NewLayer(spec)
		if err != nil {
			return nil, fmt.Errorf("style %s: %w", d.ID, err)
		}
		pkg.AddLayer(l)
	}
	return pkg, nil
}

func (rd ResourceDefinition) build(defaultKind string) (*Source, error) {
	kindName := rd.Kind
	if kindName == "" {
		kindName = defaultKind
	}
	kind, err := ParseSourceKind(kindName)
	if err != nil {
		return nil, err
	}

	var detail SourceDetail
	switch kind {
	case KindVector:
		detail = VectorDetail{Extent: rd.Extent}
	case KindRaster:
		detail = RasterDetail{TileSize: rd.TileSize}
	case KindFont:
		detail = FontDetail{Family: rd.Family}
	case KindBillboard:
		detail = BillboardDetail{Width: rd.Width, Height: rd.Height, PixelRatio: rd.PixelRatio}
	}

	s, err := NewSource(rd.Name, rd.Path, rd.Format, detail)
	if err != nil {
		return nil, err
	}
	if rd.Required != nil {
		s.Required = *rd.Required
	}
	return s, nil
}

func (ld LayerDefinition) spec() (LayerSpec, error) {
	rt, err := ParseRenderType(ld.Type)
	if err != nil {
		return LayerSpec{}, err
	}
	maxZoom := MaxZoom
	if ld.MaxZoom != nil {
		maxZoom = *ld.MaxZoom
	}

	spec := LayerSpec{
		ID:          ld.ID,
		Type:        rt,
		SourceID:    ld.Source,
		SourceLayer: ld.SourceLayer,
		MinZoom:     ld.MinZoom,
		MaxZoom:     maxZoom,
		Invert:      ld.Invert,
		Cap:         ld.Cap,
		Join:        ld.Join,
		Billboards:  ld.Billboards,
		Fonts:       ld.Fonts,
	}
	if spec.Filter, err = ExpressionFromNode(&ld.Filter); err != nil {
		return LayerSpec{}, err
	}
	if spec.Layout, err = ExpressionFromNode(&ld.Layout); err != nil {
		return LayerSpec{}, err
	}
	if spec.Paint, err = ExpressionFromNode(&ld.Paint); err != nil {
		return LayerSpec{}, err
	}
	return spec, nil
}
