// Package registry holds the declarative capability list the dispatch graph
// is compiled from. Registration order is preserved and semantically
// significant: it is the tie-break for dispatch order, independent of the
// order the router reports intents.
package registry

import (
	"fmt"
	"sync"

	"github.com/hupe1980/intentmesh/core"
)

// Registry is an ordered, append-only collection of capabilities. It is safe
// for concurrent use, though registration is expected to happen once at
// startup before the graph is compiled.
type Registry struct {
	mu     sync.RWMutex
	caps   []core.Capability
	byTag  map[string]core.Capability
	byName map[string]struct{}
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		byTag:  make(map[string]core.Capability),
		byName: make(map[string]struct{}),
	}
}

// Register adds a capability. It fails with a ConfigurationError when the
// name or intent tag is empty, the handler is nil, the name or tag is already
// taken, or the tag collides with a reserved system tag.
func (r *Registry) Register(c core.Capability) error {
	if c.Name == "" {
		return &core.ConfigurationError{Name: c.Name, Reason: "name must not be empty"}
	}
	if c.IntentTag == "" {
		return &core.ConfigurationError{Name: c.Name, Reason: "intent tag must not be empty"}
	}
	if c.Handler == nil {
		return &core.ConfigurationError{Name: c.Name, Reason: "handler must not be nil"}
	}
	if core.IsReservedTag(c.Name) || core.IsReservedTag(c.IntentTag) {
		return &core.ConfigurationError{Name: c.Name, Reason: fmt.Sprintf("%q is a reserved system tag", c.IntentTag)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.Name]; exists {
		return &core.ConfigurationError{Name: c.Name, Reason: "name already registered"}
	}
	if _, exists := r.byTag[c.IntentTag]; exists {
		return &core.ConfigurationError{Name: c.Name, Reason: fmt.Sprintf("intent tag %q already registered", c.IntentTag)}
	}

	r.caps = append(r.caps, c)
	r.byTag[c.IntentTag] = c
	r.byName[c.Name] = struct{}{}

	return nil
}

// List returns the capabilities in registration order. The returned slice is
// a copy; mutating it does not affect the registry.
func (r *Registry) List() []core.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Capability, len(r.caps))
	copy(out, r.caps)
	return out
}

// ByTag returns the capability bound to the given intent tag.
func (r *Registry) ByTag(tag string) (core.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byTag[tag]
	return c, ok
}

// Tags returns the registered intent vocabulary in registration order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, len(r.caps))
	for i, c := range r.caps {
		tags[i] = c.IntentTag
	}
	return tags
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}
