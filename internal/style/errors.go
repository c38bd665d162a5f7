package style

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateResource is returned when a resource name collides within a package.
	ErrDuplicateResource = errors.New("duplicate resource")

	// ErrDanglingReference is returned when a layer references a missing resource.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrUnknownStyle is returned for a style id with no registered package.
	ErrUnknownStyle = errors.New("unknown style")

	// ErrDuplicateStyle is returned when a style id is registered twice.
	ErrDuplicateStyle = errors.New("duplicate style")

	// ErrInvalidLayer is returned for a layer that cannot be constructed.
	ErrInvalidLayer = errors.New("invalid layer")

	// ErrInvalidSource is returned for a source that cannot be constructed
	// or is added to the wrong set.
	ErrInvalidSource = errors.New("invalid source")

	// ErrMissingResource is returned when a required resource has no payload
	// at validation time.
	ErrMissingResource = errors.New("missing required resource")
)

// DuplicateResourceError reports a resource name collision.
type DuplicateResourceError struct {
	StyleID string
	Set     string // "sources" | "fonts" | "billboards"
	Name    string
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("style %s: %s: duplicate resource name %q", e.StyleID, e.Set, e.Name)
}

func (e *DuplicateResourceError) Unwrap() error { return ErrDuplicateResource }

// DanglingReferenceError reports a layer whose declared resource does not
// exist in the same package.
type DanglingReferenceError struct {
	StyleID string
	LayerID string
	Set     string
	Name    string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("style %s: layer %q references missing %s entry %q", e.StyleID, e.LayerID, e.Set, e.Name)
}

func (e *DanglingReferenceError) Unwrap() error { return ErrDanglingReference }

// MissingResourceError reports a required resource left without payload.
type MissingResourceError struct {
	StyleID string
	Name    string
	Path    string
}

func (e *MissingResourceError) Error() string {
	return fmt.Sprintf("style %s: required resource %q (%s) not attached", e.StyleID, e.Name, e.Path)
}

func (e *MissingResourceError) Unwrap() error { return ErrMissingResource }
