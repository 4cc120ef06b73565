// Package registry maps (component type, flavor) pairs to the factories
// that build stack components. A Registry is an explicit value handed to
// the stack assembler and the configuration resolver; there is no
// process-wide table.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/pipestack/internal/domain"
)

var (
	ErrFlavorNotFound   = errors.New("component flavor not registered")
	ErrFlavorRegistered = errors.New("component flavor already registered")
)

// Component is anything a stack can hold.
type Component interface {
	Descriptor() domain.ComponentDescriptor
}

// Factory builds a component from its descriptor. Factories must not perform
// I/O; connections are opened lazily by the component.
type Factory func(desc domain.ComponentDescriptor) (Component, error)

// Flavor describes one implementation of a component type.
type Flavor struct {
	Type        domain.ComponentType
	Name        string
	Integration string
	Description string
	Factory     Factory
}

type key struct {
	typ    domain.ComponentType
	flavor string
}

type Registry struct {
	mu      sync.RWMutex
	flavors map[key]Flavor
}

func New() *Registry {
	return &Registry{flavors: make(map[key]Flavor)}
}

func (r *Registry) Register(f Flavor) error {
	f.Name = strings.ToLower(strings.TrimSpace(f.Name))
	if !f.Type.Valid() {
		return fmt.Errorf("register flavor %q: invalid component type %q", f.Name, f.Type)
	}
	if f.Name == "" {
		return fmt.Errorf("register %s flavor: name is required", f.Type.Display())
	}
	if f.Factory == nil {
		return fmt.Errorf("register %s flavor %q: factory is required", f.Type.Display(), f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{typ: f.Type, flavor: f.Name}
	if _, exists := r.flavors[k]; exists {
		return fmt.Errorf("%w: %s flavor %q", ErrFlavorRegistered, f.Type.Display(), f.Name)
	}
	r.flavors[k] = f
	return nil
}

func (r *Registry) Lookup(t domain.ComponentType, flavor string) (Flavor, error) {
	r.mu.RLock()
	f, ok := r.flavors[key{typ: t, flavor: strings.ToLower(strings.TrimSpace(flavor))}]
	r.mu.RUnlock()
	if !ok {
		return Flavor{}, fmt.Errorf("%w: %s flavor %q", ErrFlavorNotFound, t.Display(), flavor)
	}
	return f, nil
}

// Has reports whether a flavor is registered for the type.
func (r *Registry) Has(t domain.ComponentType, flavor string) bool {
	_, err := r.Lookup(t, flavor)
	return err == nil
}

// Create looks up the descriptor's flavor and runs its factory.
func (r *Registry) Create(desc domain.ComponentDescriptor) (Component, error) {
	f, err := r.Lookup(desc.Type, desc.Flavor)
	if err != nil {
		return nil, err
	}
	c, err := f.Factory(desc)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", desc, err)
	}
	if c == nil {
		return nil, fmt.Errorf("create %s: factory returned no component", desc)
	}
	return c, nil
}

// Flavors lists the registered flavors of a type sorted by name. An empty
// type lists every flavor, ordered by type then name.
func (r *Registry) Flavors(t domain.ComponentType) []Flavor {
	r.mu.RLock()
	out := make([]Flavor, 0, len(r.flavors))
	for k, f := range r.flavors {
		if t == "" || k.typ == t {
			out = append(out, f)
		}
	}
	r.mu.RUnlock()

	order := make(map[domain.ComponentType]int, len(domain.ComponentTypes))
	for i, ct := range domain.ComponentTypes {
		order[ct] = i
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return order[out[i].Type] < order[out[j].Type]
		}
		return out[i].Name < out[j].Name
	})
	return out
}
