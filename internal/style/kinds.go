package style

import (
	"fmt"
	"strings"
)

// SourceKind classifies a fetchable resource.
type SourceKind int

const (
	KindVector SourceKind = iota
	KindRaster
	KindFont
	KindBillboard
)

func (k SourceKind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindRaster:
		return "raster"
	case KindFont:
		return "font"
	case KindBillboard:
		return "billboard"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// ParseSourceKind converts a configuration string to a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(s) {
	case "vector":
		return KindVector, nil
	case "raster":
		return KindRaster, nil
	case "font":
		return KindFont, nil
	case "billboard":
		return KindBillboard, nil
	default:
		return 0, fmt.Errorf("%w: unknown source kind %q", ErrInvalidSource, s)
	}
}

// RenderType classifies a render layer.
type RenderType int

const (
	RenderFill RenderType = iota
	RenderLine
	RenderLine3D
	RenderBillboard
	RenderText
)

func (r RenderType) String() string {
	switch r {
	case RenderFill:
		return "fill"
	case RenderLine:
		return "line"
	case RenderLine3D:
		return "line3d"
	case RenderBillboard:
		return "billboard"
	case RenderText:
		return "text"
	default:
		return fmt.Sprintf("RenderType(%d)", int(r))
	}
}

// ParseRenderType converts a configuration string to a RenderType.
func ParseRenderType(s string) (RenderType, error) {
	switch strings.ToLower(s) {
	case "fill":
		return RenderFill, nil
	case "line":
		return RenderLine, nil
	case "line3d":
		return RenderLine3D, nil
	case "billboard":
		return RenderBillboard, nil
	case "text":
		return RenderText, nil
	default:
		return 0, fmt.Errorf("%w: unknown render type %q", ErrInvalidLayer, s)
	}
}
