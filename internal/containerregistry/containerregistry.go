// Package containerregistry provides the default container registry flavor.
package containerregistry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/registry"
)

const FlavorName = "default"

var localURI = regexp.MustCompile(`^localhost:[0-9]{4,5}$`)

// Registry is a container registry addressed by URI, for example
// localhost:5000 or ghcr.io/team.
type Registry struct {
	desc domain.ComponentDescriptor
	uri  string
}

func Flavor() registry.Flavor {
	return registry.Flavor{
		Type:        domain.ComponentContainerRegistry,
		Name:        FlavorName,
		Description: "container registry addressed by URI",
		Factory: func(desc domain.ComponentDescriptor) (registry.Component, error) {
			return New(desc)
		},
	}
}

func New(desc domain.ComponentDescriptor) (*Registry, error) {
	uri := strings.TrimRight(desc.ConfigString("uri", ""), "/")
	if uri == "" {
		return nil, fmt.Errorf("container registry %q: uri is required", desc.Name)
	}
	if strings.Contains(uri, "://") {
		return nil, fmt.Errorf("container registry %q: uri must not include a scheme: %q", desc.Name, uri)
	}
	return &Registry{desc: desc, uri: uri}, nil
}

func (r *Registry) Descriptor() domain.ComponentDescriptor { return r.desc }

func (r *Registry) URI() string { return r.uri }

// IsLocal reports whether the URI has the form localhost:$PORT.
func (r *Registry) IsLocal() bool { return localURI.MatchString(r.uri) }
