package catalog

import (
	"sort"
	"sync"
)

// Registry holds the descriptors known to the page, keyed by name.
// Registering a name twice replaces the earlier descriptor.
type Registry struct {
	mu       sync.RWMutex
	games    map[string]*Descriptor
	watchers []func(*Descriptor)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]*Descriptor)}
}

// Register adds or replaces a descriptor and notifies watchers.
func (r *Registry) Register(d *Descriptor) {
	if d == nil {
		return
	}
	r.mu.Lock()
	r.games[d.Name()] = d
	watchers := append([]func(*Descriptor){}, r.watchers...)
	r.mu.Unlock()

	for _, w := range watchers {
		w(d)
	}
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.games[name]
	return d, ok
}

// GetAll returns every descriptor sorted by name.
func (r *Registry) GetAll() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.games))
	for _, d := range r.games {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the registered names sorted.
func (r *Registry) Names() []string {
	all := r.GetAll()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = d.Name()
	}
	return names
}

// Len reports the number of registered games.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Watch registers fn to be called after every Register. Plugins may arrive
// after the selector is constructed, so menus use this to refresh.
func (r *Registry) Watch(fn func(*Descriptor)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}
