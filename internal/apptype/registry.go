package apptype

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GenericName is the fallback application type.
const GenericName = "generic"

// Registry maps application type names to capabilities. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]Capability
	order []string
}

// NewRegistry creates a registry holding caps. Nil entries are skipped.
func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{caps: make(map[string]Capability)}
	for _, c := range caps {
		if c == nil {
			continue
		}
		_ = r.Register(c)
	}
	return r
}

// DefaultRegistry returns a registry with the built-in application types.
// Detection order is Logic Pro, Blender, SketchUp, then Generic.
func DefaultRegistry() *Registry {
	return NewRegistry(LogicPro{}, Blender{}, SketchUp{}, Generic{})
}

// Register adds c. Names are case-insensitive and must be unique.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return fmt.Errorf("capability is nil")
	}
	name := strings.ToLower(strings.TrimSpace(c.Name()))
	if name == "" {
		return fmt.Errorf("capability name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("application type %q already registered", name)
	}
	r.caps[name] = c
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Detect returns the first registered capability, in registration order,
// that recognizes root. Generic is only consulted last.
func (r *Registry) Detect(root string) Capability {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	caps := make(map[string]Capability, len(r.caps))
	for k, v := range r.caps {
		caps[k] = v
	}
	r.mu.RUnlock()

	for _, name := range order {
		if name == GenericName {
			continue
		}
		if caps[name].Detect(root) {
			return caps[name]
		}
	}
	if g, ok := caps[GenericName]; ok {
		return g
	}
	return Generic{}
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
