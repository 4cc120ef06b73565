package stack

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/registry"
)

// componentNamespace seeds the deterministic UUIDs of components whose
// definition omits one.
var componentNamespace = uuid.MustParse("5c1d8f0e-7a52-4b8e-9f0b-3e6d2a7c4b19")

// Config is the on-disk stack definition.
type Config struct {
	Name       string            `yaml:"name"`
	Components []ComponentConfig `yaml:"components"`
}

type ComponentConfig struct {
	Type      string         `yaml:"type"`
	Flavor    string         `yaml:"flavor"`
	Name      string         `yaml:"name"`
	UUID      string         `yaml:"uuid,omitempty"`
	LocalPath string         `yaml:"local_path,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"`
}

// ValidationError aggregates stack definition issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "stack definition invalid"
	}
	return "stack definition invalid: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

func ParseConfig(input []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode stack definition: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read stack definition: %w", err)
	}
	return ParseConfig(data)
}

func (c Config) Validate() error {
	issues := &ValidationError{}
	if strings.TrimSpace(c.Name) == "" {
		issues.Add("name is required")
	}
	if len(c.Components) == 0 {
		issues.Add("components must be non-empty")
	}
	seen := map[domain.ComponentType]string{}
	for i, comp := range c.Components {
		label := fmt.Sprintf("components[%d]", i)
		if strings.TrimSpace(comp.Name) == "" {
			issues.Add(label + ".name is required")
		} else {
			label = fmt.Sprintf("components[%s]", comp.Name)
		}
		if strings.TrimSpace(comp.Flavor) == "" {
			issues.Add(label + ".flavor is required")
		}
		t, err := domain.ParseComponentType(comp.Type)
		if err != nil {
			issues.Add(fmt.Sprintf("%s.type: %v", label, err))
			continue
		}
		if prev, dup := seen[t]; dup {
			issues.Add(fmt.Sprintf("%s: %s already provided by %q", label, t.Display(), prev))
		}
		seen[t] = comp.Name
		if raw := strings.TrimSpace(comp.UUID); raw != "" {
			if _, err := uuid.Parse(raw); err != nil {
				issues.Add(fmt.Sprintf("%s.uuid invalid: %v", label, err))
			}
		}
	}
	return issues.OrNil()
}

// Descriptors converts the definition into component descriptors. A missing
// UUID is derived from the stack, type and component names so it stays the
// same across runs.
func (c Config) Descriptors() ([]domain.ComponentDescriptor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make([]domain.ComponentDescriptor, 0, len(c.Components))
	for _, comp := range c.Components {
		t, _ := domain.ParseComponentType(comp.Type)
		name := strings.TrimSpace(comp.Name)
		id := componentUUID(c.Name, t, name)
		if raw := strings.TrimSpace(comp.UUID); raw != "" {
			id = uuid.MustParse(raw)
		}
		cfg := comp.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		out = append(out, domain.ComponentDescriptor{
			Type:      t,
			Flavor:    strings.ToLower(strings.TrimSpace(comp.Flavor)),
			Name:      name,
			UUID:      id,
			LocalPath: strings.TrimSpace(comp.LocalPath),
			Config:    cfg,
		})
	}
	return out, nil
}

func componentUUID(stackName string, t domain.ComponentType, name string) uuid.UUID {
	return uuid.NewSHA1(componentNamespace, []byte(strings.TrimSpace(stackName)+"/"+string(t)+"/"+name))
}

// Assemble builds every component through the registry and returns the stack.
func Assemble(reg *registry.Registry, cfg Config) (*Stack, error) {
	descs, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}
	components := make([]registry.Component, 0, len(descs))
	for _, desc := range descs {
		c, err := reg.Create(desc)
		if err != nil {
			return nil, fmt.Errorf("assemble stack %q: %w", cfg.Name, err)
		}
		components = append(components, c)
	}
	return New(cfg.Name, components...)
}
