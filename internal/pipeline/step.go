// Package pipeline defines steps, pipelines and the hand-off of a
// configured pipeline to the stack's orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultOutput is the name of a step's output when it declares none.
const DefaultOutput = "output"

// Materializer turns a step output into the bytes stored for it.
type Materializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
}

// YAMLMaterializer stores outputs as YAML documents. Outputs without a
// binding use it.
type YAMLMaterializer struct{}

func (YAMLMaterializer) Name() string { return "YAMLMaterializer" }

func (YAMLMaterializer) Marshal(v any) ([]byte, error) { return yaml.Marshal(v) }

// StepFunc is a step body. It receives the step's resolved parameters.
type StepFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// StepDefinition is what a namespace registers for a step symbol.
type StepDefinition struct {
	Symbol  string
	Run     StepFunc
	Params  map[string]any
	Outputs []string
}

// Step is one instance of a step definition. Instances never share mutable
// state; every With* method returns a copy.
type Step struct {
	symbol        string
	run           StepFunc
	defaults      map[string]any
	explicit      map[string]any
	configured    map[string]any
	outputs       []string
	materializers map[string]Materializer
}

// New instantiates the definition. params are values set in code; they take
// precedence over the definition's defaults and are tracked so a document
// cannot silently override them unless asked to.
func (d StepDefinition) New(params map[string]any) (*Step, error) {
	if strings.TrimSpace(d.Symbol) == "" {
		return nil, fmt.Errorf("step symbol is required")
	}
	if d.Run == nil {
		return nil, fmt.Errorf("step %q: run function is required", d.Symbol)
	}
	for k := range params {
		if _, ok := d.Params[k]; !ok {
			return nil, fmt.Errorf("step %q: unknown parameter %q", d.Symbol, k)
		}
	}
	outputs := append([]string(nil), d.Outputs...)
	if len(outputs) == 0 {
		outputs = []string{DefaultOutput}
	}
	return &Step{
		symbol:   d.Symbol,
		run:      d.Run,
		defaults: copyMap(d.Params),
		explicit: copyMap(params),
		outputs:  outputs,
	}, nil
}

func (s *Step) Symbol() string { return s.symbol }

func (s *Step) Outputs() []string { return append([]string(nil), s.outputs...) }

// Params returns the effective parameters: configured values over explicit
// code values over definition defaults.
func (s *Step) Params() map[string]any {
	out := copyMap(s.defaults)
	for k, v := range s.explicit {
		out[k] = v
	}
	for k, v := range s.configured {
		out[k] = v
	}
	return out
}

// Materializers returns the output name to materializer bindings.
func (s *Step) Materializers() map[string]Materializer {
	out := make(map[string]Materializer, len(s.materializers))
	for k, v := range s.materializers {
		out[k] = v
	}
	return out
}

func (s *Step) clone() *Step {
	c := *s
	c.defaults = copyMap(s.defaults)
	c.explicit = copyMap(s.explicit)
	c.configured = copyMap(s.configured)
	c.outputs = append([]string(nil), s.outputs...)
	c.materializers = make(map[string]Materializer, len(s.materializers))
	for k, v := range s.materializers {
		c.materializers[k] = v
	}
	return &c
}

// MaterializerFor returns the materializer bound to output, or the YAML
// default.
func (s *Step) MaterializerFor(output string) Materializer {
	if m, ok := s.materializers[output]; ok && m != nil {
		return m
	}
	return YAMLMaterializer{}
}

// WithMaterializer binds m to every declared output.
func (s *Step) WithMaterializer(m Materializer) (*Step, error) {
	if m == nil {
		return nil, fmt.Errorf("step %q: nil materializer", s.symbol)
	}
	bindings := make(map[string]Materializer, len(s.outputs))
	for _, out := range s.outputs {
		bindings[out] = m
	}
	return s.WithReturnMaterializers(bindings)
}

// WithReturnMaterializers binds materializers per output name.
func (s *Step) WithReturnMaterializers(bindings map[string]Materializer) (*Step, error) {
	declared := make(map[string]struct{}, len(s.outputs))
	for _, out := range s.outputs {
		declared[out] = struct{}{}
	}
	var unknown []string
	for name, m := range bindings {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		if m == nil {
			return nil, fmt.Errorf("step %q: nil materializer for output %q", s.symbol, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("step %q has no outputs named %s (declared: %s)",
			s.symbol, strings.Join(unknown, ", "), strings.Join(s.outputs, ", "))
	}
	c := s.clone()
	for name, m := range bindings {
		c.materializers[name] = m
	}
	return c, nil
}

// configure applies document parameters. Without overwrite, a parameter that
// was set in code is a conflict.
func (s *Step) configure(slot string, params map[string]any, overwrite bool) (*Step, error) {
	c := s.clone()
	if c.configured == nil {
		c.configured = map[string]any{}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, known := c.defaults[k]; !known {
			if _, set := c.explicit[k]; !set {
				return nil, fmt.Errorf("step %q (%s): unknown parameter %q", slot, c.symbol, k)
			}
		}
		if _, set := c.explicit[k]; set && !overwrite {
			return nil, &DuplicatedConfigurationError{Step: slot, Param: k}
		}
		c.configured[k] = params[k]
	}
	return c, nil
}

// Execute runs the step body with its effective parameters.
func (s *Step) Execute(ctx context.Context) (map[string]any, error) {
	return s.run(ctx, s.Params())
}

// DuplicatedConfigurationError reports a parameter set both in code and in
// the document when overriding was not requested.
type DuplicatedConfigurationError struct {
	Step  string
	Param string
}

func (e *DuplicatedConfigurationError) Error() string {
	return fmt.Sprintf("parameter %q of step %q is set both in code and in the configuration document", e.Param, e.Step)
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
