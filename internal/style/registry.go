package style

import (
	"sort"
	"sync"
	"time"
)

// Attachment is a fetched payload together with its fingerprint.
type Attachment struct {
	Fingerprint uint32
	Data        []byte
	Size        int
	FetchedAt   time.Time
}

// NewAttachment wraps data fetched now.
func NewAttachment(fp uint32, data []byte) Attachment {
	return Attachment{
		Fingerprint: fp,
		Data:        data,
		Size:        len(data),
		FetchedAt:   time.Now().UTC(),
	}
}

// Registry holds the style packages known to a process together with the
// fingerprint cache shared by every worker. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	packages map[string]*Package

	cacheMu sync.Mutex
	cache   map[string]Attachment
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		packages: make(map[string]*Package),
		cache:    make(map[string]Attachment),
	}
}

// Register adds pkg under its StyleID.
func (r *Registry) Register(pkg *Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.packages[pkg.StyleID]; exists {
		return &styleError{id: pkg.StyleID, err: ErrDuplicateStyle}
	}
	r.packages[pkg.StyleID] = pkg
	return nil
}

// Package returns the package registered for styleID.
func (r *Registry) Package(styleID string) (*Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pkg, ok := r.packages[styleID]
	if !ok {
		return nil, &styleError{id: styleID, err: ErrUnknownStyle}
	}
	return pkg, nil
}

// Commit replaces the registered package for pkg.StyleID with a built
// instance. The style must already be registered.
func (r *Registry) Commit(pkg *Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[pkg.StyleID]; !ok {
		return &styleError{id: pkg.StyleID, err: ErrUnknownStyle}
	}
	r.packages[pkg.StyleID] = pkg
	return nil
}

// StyleIDs returns the registered style ids, sorted.
func (r *Registry) StyleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops styleID from the registry.
func (r *Registry) Remove(styleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.packages, styleID)
}

// Lookup returns the cached attachment for path.
func (r *Registry) Lookup(path string) (Attachment, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	att, ok := r.cache[path]
	return att, ok
}

// AttachIfAbsent stores att for path unless an entry already exists. It
// returns the entry now in the cache and whether att was stored.
func (r *Registry) AttachIfAbsent(path string, att Attachment) (Attachment, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if cur, ok := r.cache[path]; ok {
		return cur, false
	}
	r.cache[path] = att
	return att, true
}

// CompareAndSwap replaces the entry for path with next only if the current
// entry carries fingerprint old.
func (r *Registry) CompareAndSwap(path string, old uint32, next Attachment) bool {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	cur, ok := r.cache[path]
	if !ok || cur.Fingerprint != old {
		return false
	}
	r.cache[path] = next
	return true
}

// Forget drops the cache entry for path.
func (r *Registry) Forget(path string) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	delete(r.cache, path)
}

// Len returns the number of cached paths.
func (r *Registry) Len() int {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return len(r.cache)
}

type styleError struct {
	id  string
	err error
}

func (e *styleError) Error() string { return e.err.Error() + ": " + e.id }
func (e *styleError) Unwrap() error { return e.err }
