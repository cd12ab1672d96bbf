package core

import "sort"

// Registry tracks the packet IDs that currently own a live hop. It is owned
// by a Coordinator and touched only from the frame loop.
type Registry struct {
	active map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// Register claims id. It returns false, and changes nothing, when id is
// already active or empty.
func (r *Registry) Register(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := r.active[id]; ok {
		return false
	}
	r.active[id] = struct{}{}
	return true
}

// Unregister releases id. Unknown IDs are ignored.
func (r *Registry) Unregister(id string) {
	delete(r.active, id)
}

// Has reports whether id is active.
func (r *Registry) Has(id string) bool {
	_, ok := r.active[id]
	return ok
}

// Len returns the number of active IDs.
func (r *Registry) Len() int { return len(r.active) }

// IDs returns the active IDs in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear releases every ID and returns how many were active.
func (r *Registry) Clear() int {
	n := len(r.active)
	clear(r.active)
	return n
}
