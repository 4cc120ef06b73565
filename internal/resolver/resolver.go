// Package resolver turns a declarative pipeline document into a pipeline
// bound to concrete steps and materializers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/platform/logging"
	"github.com/animus-labs/pipestack/internal/platform/metrics"
	"github.com/animus-labs/pipestack/internal/registry"
	"github.com/animus-labs/pipestack/internal/stack"
)

const (
	sourceKeyName = "name"
	sourceKeyFile = "file"
)

// RunnablePipeline is the result of a resolution. Stack is set only when the
// document defines its stack inline.
type RunnablePipeline struct {
	Pipeline *pipeline.Pipeline
	Stack    *stack.Stack
}

type Resolver struct {
	loader   Loader
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func New(loader Loader, reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{loader: loader, registry: reg, logger: logging.OrDiscard(logger), metrics: m}
}

// resolution holds the namespaces loaded by one Resolve call.
type resolution struct {
	r     *Resolver
	ctx   context.Context
	base  *Namespace
	cache map[string]*Namespace
}

// Resolve checks required keys, resolves every source reference and
// assembles the pipeline with document parameters winning over code
// defaults. Nothing is assembled when any reference fails.
func (r *Resolver) Resolve(ctx context.Context, base *Namespace, doc Document) (*RunnablePipeline, error) {
	rp, err := r.resolve(ctx, base, doc)
	r.metrics.ObserveResolution(err)
	return rp, err
}

func (r *Resolver) resolve(ctx context.Context, base *Namespace, doc Document) (*RunnablePipeline, error) {
	if base == nil {
		return nil, fmt.Errorf("base namespace is required")
	}
	if err := KeyCheck(doc); err != nil {
		return nil, err
	}

	res := &resolution{r: r, ctx: ctx, base: base, cache: map[string]*Namespace{}}

	name, ok := doc[pipeline.KeyName].(string)
	if !ok {
		return nil, &domain.ConfigurationError{Key: pipeline.KeyName, Message: fmt.Sprintf("must be a string, got %T", doc[pipeline.KeyName])}
	}
	def, err := res.pipelineDefinition(name)
	if err != nil {
		return nil, err
	}

	stepsDoc, ok := doc[pipeline.KeySteps].(map[string]any)
	if !ok {
		return nil, &domain.ConfigurationError{
			Key:     pipeline.KeySteps,
			Message: fmt.Sprintf("must be a mapping, got %T", doc[pipeline.KeySteps]),
			Hint:    "map[string]any keyed by slot name",
		}
	}
	slots := make([]string, 0, len(stepsDoc))
	for slot := range stepsDoc {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	steps := make(map[string]*pipeline.Step, len(slots))
	for _, slot := range slots {
		stepDoc, ok := stepsDoc[slot].(map[string]any)
		if !ok {
			return nil, &domain.ConfigurationError{
				Key:     pipeline.KeySteps + "." + slot,
				Message: fmt.Sprintf("must be a mapping, got %T", stepsDoc[slot]),
				Hint:    "map[string]any with a source entry",
			}
		}
		step, err := res.step(slot, stepDoc)
		if err != nil {
			return nil, err
		}
		steps[slot] = step
	}

	p, err := def.New(steps)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: pipeline.KeySteps, Message: err.Error(), Err: err}
	}
	p, err = p.WithConfig(doc, true)
	if err != nil {
		return nil, &domain.ConfigurationError{Message: err.Error(), Err: err}
	}

	out := &RunnablePipeline{Pipeline: p}
	if inline, ok := doc[pipeline.KeyStack].(map[string]any); ok {
		st, err := r.inlineStack(inline)
		if err != nil {
			return nil, err
		}
		out.Stack = st
	}

	r.logger.Debug("resolved pipeline", "pipeline", name, "steps", len(steps), "namespaces_loaded", len(res.cache))
	return out, nil
}

func (res *resolution) pipelineDefinition(name string) (pipeline.Definition, error) {
	if err := res.expectKind(res.base, name, KindPipeline); err != nil {
		return pipeline.Definition{}, err
	}
	def, _ := res.base.Pipeline(name)
	return def, nil
}

func (res *resolution) step(slot string, stepDoc map[string]any) (*pipeline.Step, error) {
	key := pipeline.KeySteps + "." + slot + "." + pipeline.KeyStepSource
	ns, name, err := res.source(key, stepDoc[pipeline.KeyStepSource])
	if err != nil {
		return nil, err
	}
	if err := res.expectKind(ns, name, KindStep); err != nil {
		return nil, err
	}
	def, _ := ns.Step(name)
	step, err := def.New(nil)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: key, Message: err.Error(), Err: err}
	}

	raw, ok := stepDoc[pipeline.KeyMaterializers]
	if !ok || raw == nil {
		return step, nil
	}
	return res.attachMaterializers(slot, step, raw)
}

func (res *resolution) attachMaterializers(slot string, step *pipeline.Step, raw any) (*pipeline.Step, error) {
	key := pipeline.KeySteps + "." + slot + "." + pipeline.KeyMaterializers

	var (
		bound *pipeline.Step
		err   error
	)
	switch v := raw.(type) {
	case string:
		_, _, err := res.source(key, v)
		return nil, err
	case map[string]any:
		if isSourceRef(v) {
			m, merr := res.materializer(key, v)
			if merr != nil {
				return nil, merr
			}
			bound, err = step.WithMaterializer(m)
			break
		}
		outputs := make([]string, 0, len(v))
		for out := range v {
			outputs = append(outputs, out)
		}
		sort.Strings(outputs)
		bindings := make(map[string]pipeline.Materializer, len(v))
		for _, out := range outputs {
			m, merr := res.materializer(key+"."+out, v[out])
			if merr != nil {
				return nil, merr
			}
			bindings[out] = m
		}
		bound, err = step.WithReturnMaterializers(bindings)
	default:
		return nil, &domain.ConfigurationError{
			Key:     key,
			Message: fmt.Sprintf("only a source mapping or a mapping of output names to sources is allowed; got %v (type %T)", raw, raw),
		}
	}
	if err != nil {
		return nil, &domain.ConfigurationError{Key: key, Message: err.Error(), Err: err}
	}
	return bound, nil
}

func (res *resolution) materializer(key string, ref any) (pipeline.Materializer, error) {
	ns, name, err := res.source(key, ref)
	if err != nil {
		return nil, err
	}
	if err := res.expectKind(ns, name, KindMaterializer); err != nil {
		return nil, err
	}
	m, _ := ns.Materializer(name)
	return m, nil
}

// isSourceRef tells a single {name, file} reference apart from an output
// mapping: only the reference has a string name and no other keys.
func isSourceRef(m map[string]any) bool {
	if _, ok := m[sourceKeyName].(string); !ok {
		return false
	}
	for k := range m {
		if k != sourceKeyName && k != sourceKeyFile {
			return false
		}
	}
	return true
}

// source resolves a reference to its namespace and symbol name.
func (res *resolution) source(key string, ref any) (*Namespace, string, error) {
	switch v := ref.(type) {
	case map[string]any:
		name, _ := v[sourceKeyName].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, "", &domain.ConfigurationError{Key: key, Missing: []string{key + "." + sourceKeyName}}
		}
		rawFile, hasFile := v[sourceKeyFile]
		if !hasFile || rawFile == nil {
			return res.base, name, nil
		}
		file, ok := rawFile.(string)
		if !ok {
			return nil, "", &domain.ConfigurationError{
				Key:     key + "." + sourceKeyFile,
				Message: fmt.Sprintf("file must be a string, got %v (type %T)", rawFile, rawFile),
			}
		}
		ns, err := res.namespace(key, file)
		if err != nil {
			return nil, "", err
		}
		return ns, name, nil
	case string:
		return nil, "", &domain.ConfigurationError{
			Key: key,
			Message: fmt.Sprintf("plain strings are no longer accepted to define steps or materializers; "+
				"pass a mapping with a %q naming the symbol and, if the symbol is defined outside the main namespace, "+
				"a %q with the relative forward-slash-separated path to its source file. You passed %q", sourceKeyName, sourceKeyFile, v),
			Hint: fmt.Sprintf("specify it like this:\n  %s: %s\n  %s: optional/path/to/file.go", sourceKeyName, v, sourceKeyFile),
		}
	default:
		return nil, "", &domain.ConfigurationError{
			Key:     key,
			Message: fmt.Sprintf("only mappings are allowed to reference a source; got %v (type %T)", ref, ref),
		}
	}
}

func (res *resolution) namespace(key, file string) (*Namespace, error) {
	p, err := CleanPath(file)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: key + "." + sourceKeyFile, Message: err.Error(), Err: err}
	}
	if ns, ok := res.cache[p]; ok {
		return ns, nil
	}
	if res.r.loader == nil {
		return nil, &domain.ConfigurationError{Key: key, Message: fmt.Sprintf("cannot load %q: no namespace loader configured", p)}
	}
	ns, err := res.r.loader.Load(res.ctx, p)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: key + "." + sourceKeyFile, Message: fmt.Sprintf("unable to load file %q", p), Err: err}
	}
	res.cache[p] = ns
	return ns, nil
}

func (res *resolution) expectKind(ns *Namespace, name string, want SymbolKind) error {
	kind, err := ns.Kind(name)
	if errors.Is(err, ErrSymbolNotFound) {
		return &domain.ConfigurationError{Key: name, Message: fmt.Sprintf("unable to load %q from %q", name, ns.Origin()), Err: err}
	}
	if kind != want {
		return &domain.ConfigurationError{Key: name, Message: fmt.Sprintf("%q in %q is a %s, not a %s", name, ns.Origin(), kind, want)}
	}
	return nil
}

func (r *Resolver) inlineStack(m map[string]any) (*stack.Stack, error) {
	cfg, err := stackConfigFromDocument(m)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: pipeline.KeyStack, Message: err.Error(), Err: err}
	}
	if r.registry == nil {
		return nil, &domain.ConfigurationError{Key: pipeline.KeyStack, Message: "inline stacks need a component registry"}
	}
	st, err := stack.Assemble(r.registry, cfg)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: pipeline.KeyStack, Message: err.Error(), Err: err}
	}
	return st, nil
}
