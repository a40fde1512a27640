package shortshider

import (
	"slices"
	"sync"

	"github.com/hazyhaar/shortshider/internal/channel"
)

// Registry tracks the running hiders by page ID. The first page added is
// the default one. It implements channel.Registry.
type Registry struct {
	mu     sync.RWMutex
	hiders map[string]*Hider
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hiders: make(map[string]*Hider)}
}

// Add registers h under its page ID, replacing any previous hider there.
func (r *Registry) Add(h *Hider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hiders[h.PageID()]; !ok {
		r.order = append(r.order, h.PageID())
	}
	r.hiders[h.PageID()] = h
}

// Remove unregisters h. It does nothing when another hider has replaced
// it in the meantime.
func (r *Registry) Remove(h *Hider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hiders[h.PageID()] != h {
		return
	}
	delete(r.hiders, h.PageID())
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == h.PageID() })
}

// Get returns the hider for id. An empty id selects the default page.
func (r *Registry) Get(id string) (*Hider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		if len(r.order) == 0 {
			return nil, false
		}
		id = r.order[0]
	}
	h, ok := r.hiders[id]
	return h, ok
}

// Target implements channel.Registry.
func (r *Registry) Target(id string) (channel.Target, bool) {
	h, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return h, true
}

// IDs implements channel.Registry.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

var _ channel.Registry = (*Registry)(nil)
