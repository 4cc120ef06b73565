package stack

import (
	"fmt"
	"strings"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/registry"
)

// Rule is a backend-specific consistency check. It must not have side
// effects; a false result carries a message shown to the user as is.
type Rule func(st *Stack) (bool, string)

// RequirementProvider is implemented by components that need other
// component types or an extra rule in the stack they run on.
type RequirementProvider interface {
	RequiredComponents() []domain.ComponentType
	StackRule() Rule
}

// AlwaysRequired are present in every valid stack.
var AlwaysRequired = []domain.ComponentType{domain.ComponentOrchestrator, domain.ComponentArtifactStore}

type Validator struct {
	Required []domain.ComponentType
	Custom   Rule

	registry *registry.Registry
}

func NewValidator(reg *registry.Registry, required []domain.ComponentType, custom Rule) Validator {
	return Validator{Required: required, Custom: custom, registry: reg}
}

// ValidatorFor combines the always-required types with whatever the stack's
// components ask for. Component rules run in stack display order.
func ValidatorFor(reg *registry.Registry, st *Stack) Validator {
	var required []domain.ComponentType
	var rules []Rule
	for _, c := range st.Components() {
		rp, ok := c.(RequirementProvider)
		if !ok {
			continue
		}
		required = append(required, rp.RequiredComponents()...)
		if r := rp.StackRule(); r != nil {
			rules = append(rules, r)
		}
	}
	return NewValidator(reg, required, chain(rules))
}

func chain(rules []Rule) Rule {
	if len(rules) == 0 {
		return nil
	}
	return func(st *Stack) (bool, string) {
		for _, r := range rules {
			if ok, reason := r(st); !ok {
				return false, reason
			}
		}
		return true, ""
	}
}

// Validate runs the structural check and then the custom rule.
func (v Validator) Validate(st *Stack) (bool, string) {
	if st == nil {
		return false, "no stack is configured"
	}

	var missing []string
	seen := map[domain.ComponentType]struct{}{}
	for _, t := range append(append([]domain.ComponentType{}, AlwaysRequired...), v.Required...) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := st.Component(t); !ok {
			missing = append(missing, t.Display())
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("stack %q is missing required components: %s", st.Name(), strings.Join(missing, ", "))
	}

	if v.registry != nil {
		for _, c := range st.Components() {
			desc := c.Descriptor()
			if !v.registry.Has(desc.Type, desc.Flavor) {
				return false, fmt.Sprintf("stack %q: %s %q uses unknown flavor %q", st.Name(), desc.Type.Display(), desc.Name, desc.Flavor)
			}
		}
	}

	if v.Custom != nil {
		return v.Custom(st)
	}
	return true, ""
}

// IsLocal prefers a component's own notion of locality (container
// registries judge by URI) and falls back to its local path.
func IsLocal(c registry.Component) bool {
	if l, ok := c.(interface{ IsLocal() bool }); ok {
		return l.IsLocal()
	}
	return c.Descriptor().IsLocal()
}

// RegistryURI returns a container registry component's URI.
func RegistryURI(c registry.Component) string {
	if u, ok := c.(interface{ URI() string }); ok {
		return u.URI()
	}
	return c.Descriptor().ConfigString("uri", "")
}

// LocalityRule keeps a stack uniformly local or uniformly remote around an
// orchestrator. A remote orchestrator cannot see local paths and a
// self-managed local cluster cannot authenticate to an outside registry.
func LocalityRule(selfManagedLocal bool) Rule {
	return func(st *Stack) (bool, string) {
		cr, hasRegistry := st.Component(domain.ComponentContainerRegistry)
		if !hasRegistry {
			return false, "the orchestrator requires a container registry in the stack"
		}

		if !selfManagedLocal {
			for _, c := range st.Components() {
				desc := c.Descriptor()
				if !desc.IsLocal() {
					continue
				}
				return false, fmt.Sprintf(
					"the orchestrator is not running in a local cluster; the %q %s is a local stack component (local path %s) "+
						"and will not be available inside pipeline steps. Use only non-local components with a remote orchestrator.",
					desc.Name, desc.Type.Display(), desc.LocalPath)
			}
			if IsLocal(cr) {
				return false, fmt.Sprintf(
					"the orchestrator is not running in a local cluster but the %q container registry URI %q points to a local registry. "+
						"Use only non-local components with a remote orchestrator.",
					cr.Descriptor().Name, RegistryURI(cr))
			}
			return true, ""
		}

		if !IsLocal(cr) {
			return false, fmt.Sprintf(
				"the container registry URI %q does not match the expected format 'localhost:$PORT'. "+
					"A local orchestrator only works with a local container registry because it cannot authenticate to external registries.",
				RegistryURI(cr))
		}
		return true, ""
	}
}
