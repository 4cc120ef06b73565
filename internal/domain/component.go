package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ComponentType is the kind of infrastructure a stack component provides.
type ComponentType string

const (
	ComponentOrchestrator      ComponentType = "orchestrator"
	ComponentArtifactStore     ComponentType = "artifact_store"
	ComponentContainerRegistry ComponentType = "container_registry"
	ComponentSecretsManager    ComponentType = "secrets_manager"
	ComponentMetadataStore     ComponentType = "metadata_store"
	ComponentModelDeployer     ComponentType = "model_deployer"
	ComponentStepOperator      ComponentType = "step_operator"
)

// ComponentTypes lists every known type in stack display order.
var ComponentTypes = []ComponentType{
	ComponentOrchestrator,
	ComponentArtifactStore,
	ComponentContainerRegistry,
	ComponentSecretsManager,
	ComponentMetadataStore,
	ComponentModelDeployer,
	ComponentStepOperator,
}

func (t ComponentType) Valid() bool {
	for _, known := range ComponentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Display renders the type the way it is written in messages ("artifact store").
func (t ComponentType) Display() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func ParseComponentType(raw string) (ComponentType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	t := ComponentType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("unknown component type %q", raw)
	}
	return t, nil
}

// ComponentDescriptor identifies one configured stack component. UUID is
// assigned once and never changes; LocalPath marks components that persist
// state on the local filesystem.
type ComponentDescriptor struct {
	Type      ComponentType
	Flavor    string
	Name      string
	UUID      uuid.UUID
	LocalPath string
	Config    map[string]any
}

// IsLocal reports whether the component keeps state under a local path.
func (d ComponentDescriptor) IsLocal() bool {
	return strings.TrimSpace(d.LocalPath) != ""
}

func (d ComponentDescriptor) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Type.Display(), d.Name, d.Flavor)
}

// ConfigString returns a trimmed string config value or def.
func (d ComponentDescriptor) ConfigString(key, def string) string {
	if v, ok := d.Config[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// ConfigBool returns a boolean config value or def.
func (d ComponentDescriptor) ConfigBool(key string, def bool) bool {
	if v, ok := d.Config[key].(bool); ok {
		return v
	}
	return def
}

// ConfigInt returns an integer config value or def. YAML decodes small
// integers as int, JSON as float64; both are accepted.
func (d ComponentDescriptor) ConfigInt(key string, def int) int {
	switch v := d.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
