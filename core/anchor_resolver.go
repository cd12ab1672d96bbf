package core

import "github.com/signalsfoundry/netsec-simulator/model"

// AnchorLookup finds the current world position of a named scene point.
// Implementations must return false, not panic, for anchors that are not
// mounted yet.
type AnchorLookup interface {
	Lookup(name string) (model.Vec3, bool)
}

// AnchorLookupFunc adapts a function to AnchorLookup.
type AnchorLookupFunc func(name string) (model.Vec3, bool)

// Lookup calls f(name).
func (f AnchorLookupFunc) Lookup(name string) (model.Vec3, bool) { return f(name) }

// AnchorResolver resolves anchor names against a lookup, retrying with a
// conventional suffix (e.g. "firewall" -> "firewall-center").
type AnchorResolver struct {
	lookup AnchorLookup
	suffix string
}

// NewAnchorResolver wraps lookup. An empty suffix disables the fallback.
func NewAnchorResolver(lookup AnchorLookup, suffix string) *AnchorResolver {
	return &AnchorResolver{lookup: lookup, suffix: suffix}
}

// Resolve returns the position of name, or false when neither name nor its
// suffixed variant is mounted. Results are never cached.
func (r *AnchorResolver) Resolve(name string) (model.Vec3, bool) {
	if r == nil || r.lookup == nil || name == "" {
		return model.Vec3{}, false
	}
	if p, ok := r.lookup.Lookup(name); ok && p.IsFinite() {
		return p, true
	}
	if r.suffix == "" {
		return model.Vec3{}, false
	}
	if p, ok := r.lookup.Lookup(name + r.suffix); ok && p.IsFinite() {
		return p, true
	}
	return model.Vec3{}, false
}
