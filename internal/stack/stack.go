// Package stack assembles and validates the set of infrastructure
// components a pipeline runs on.
package stack

import (
	"fmt"
	"strings"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/registry"
)

// Stack holds at most one component per type. It is immutable after New;
// reconfiguring means assembling a new Stack.
type Stack struct {
	name       string
	components map[domain.ComponentType]registry.Component
}

func New(name string, components ...registry.Component) (*Stack, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("stack name is required")
	}
	byType := make(map[domain.ComponentType]registry.Component, len(components))
	for _, c := range components {
		if c == nil {
			return nil, fmt.Errorf("stack %q: nil component", name)
		}
		t := c.Descriptor().Type
		if !t.Valid() {
			return nil, fmt.Errorf("stack %q: invalid component type %q", name, t)
		}
		if existing, ok := byType[t]; ok {
			return nil, fmt.Errorf("stack %q: %s already set to %q", name, t.Display(), existing.Descriptor().Name)
		}
		byType[t] = c
	}
	return &Stack{name: name, components: byType}, nil
}

func (s *Stack) Name() string {
	return s.name
}

func (s *Stack) Component(t domain.ComponentType) (registry.Component, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.components[t]
	return c, ok
}

// Components returns the components in stack display order.
func (s *Stack) Components() []registry.Component {
	if s == nil {
		return nil
	}
	out := make([]registry.Component, 0, len(s.components))
	for _, t := range domain.ComponentTypes {
		if c, ok := s.components[t]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Stack) Orchestrator() registry.Component {
	c, _ := s.Component(domain.ComponentOrchestrator)
	return c
}

func (s *Stack) ArtifactStore() registry.Component {
	c, _ := s.Component(domain.ComponentArtifactStore)
	return c
}

func (s *Stack) ContainerRegistry() registry.Component {
	c, _ := s.Component(domain.ComponentContainerRegistry)
	return c
}

func (s *Stack) SecretsManager() registry.Component {
	c, _ := s.Component(domain.ComponentSecretsManager)
	return c
}

func (s *Stack) MetadataStore() registry.Component {
	c, _ := s.Component(domain.ComponentMetadataStore)
	return c
}

// Requirements collects the package requirements advertised by components.
func (s *Stack) Requirements() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range s.Components() {
		rp, ok := c.(interface{ Requirements() []string })
		if !ok {
			continue
		}
		for _, r := range rp.Requirements() {
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
