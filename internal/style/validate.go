package style

import (
	"errors"
	"fmt"
)

// ValidationResult contains the outcome of package validation.
type ValidationResult struct {
	Passed   bool
	Errors   []error
	Warnings []string
}

// Err joins the validation errors, or returns nil when validation passed.
func (r ValidationResult) Err() error {
	if r.Passed {
		return nil
	}
	return errors.Join(r.Errors...)
}

func (r *ValidationResult) fail(err error) {
	r.Errors = append(r.Errors, err)
	r.Passed = false
}

// Validate checks the package before it is assembled:
//   - every layer's source, fonts and billboards exist in this package
//   - every required non-tiled resource is attached
//
// Missing optional resources and sources no layer uses are warnings.
func (p *Package) Validate() ValidationResult {
	result := ValidationResult{Passed: true}

	used := make(map[string]bool)
	for _, l := range p.Layers() {
		if id := l.SourceID(); id != "" {
			if _, ok := p.Source(id); !ok {
				result.fail(&DanglingReferenceError{StyleID: p.StyleID, LayerID: l.ID(), Set: SetSources, Name: id})
			}
			used[id] = true
		}

		switch v := l.(type) {
		case *TextLayer:
			for _, f := range v.fonts {
				if _, ok := p.Font(f); !ok {
					result.fail(&DanglingReferenceError{StyleID: p.StyleID, LayerID: l.ID(), Set: SetFonts, Name: f})
				}
			}
		case *BillboardLayer:
			for _, b := range v.billboards {
				if _, ok := p.Billboard(b); !ok {
					result.fail(&DanglingReferenceError{StyleID: p.StyleID, LayerID: l.ID(), Set: SetBillboards, Name: b})
				}
			}
		}
	}

	for _, r := range p.Resources() {
		if r.Tiled() {
			continue
		}
		if r.State() == StateAttached {
			continue
		}
		if r.Required {
			result.fail(&MissingResourceError{StyleID: p.StyleID, Name: r.Name, Path: r.Path})
		} else {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("optional resource %q (%s) is %s", r.Name, r.Path, r.State()))
		}
	}

	p.mu.RLock()
	for _, s := range sortedByName(p.sources) {
		if !used[s.Name] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("source %q is not used by any layer", s.Name))
		}
	}
	p.mu.RUnlock()

	return result
}
