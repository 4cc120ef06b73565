package resolver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/pipestack/internal/pipeline"
)

var (
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// SymbolKind tells what a namespace symbol refers to.
type SymbolKind string

const (
	KindStep         SymbolKind = "step"
	KindPipeline     SymbolKind = "pipeline"
	KindMaterializer SymbolKind = "materializer"
)

// Namespace is a statically registered set of symbols, the unit a source
// reference points into.
type Namespace struct {
	origin        string
	kinds         map[string]SymbolKind
	steps         map[string]pipeline.StepDefinition
	pipelines     map[string]pipeline.Definition
	materializers map[string]pipeline.Materializer
}

func NewNamespace(origin string) *Namespace {
	return &Namespace{
		origin:        origin,
		kinds:         map[string]SymbolKind{},
		steps:         map[string]pipeline.StepDefinition{},
		pipelines:     map[string]pipeline.Definition{},
		materializers: map[string]pipeline.Materializer{},
	}
}

// Origin names where the namespace came from, for error messages.
func (n *Namespace) Origin() string { return n.origin }

func (n *Namespace) claim(name string, kind SymbolKind) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s: %s symbol name is required", n.origin, kind)
	}
	if existing, ok := n.kinds[name]; ok {
		return fmt.Errorf("%s: symbol %q already registered as %s", n.origin, name, existing)
	}
	n.kinds[name] = kind
	return nil
}

func (n *Namespace) RegisterStep(def pipeline.StepDefinition) error {
	if def.Run == nil {
		return fmt.Errorf("%s: step %q has no run function", n.origin, def.Symbol)
	}
	if err := n.claim(def.Symbol, KindStep); err != nil {
		return err
	}
	n.steps[def.Symbol] = def
	return nil
}

func (n *Namespace) RegisterPipeline(def pipeline.Definition) error {
	if err := n.claim(def.Name, KindPipeline); err != nil {
		return err
	}
	n.pipelines[def.Name] = def
	return nil
}

func (n *Namespace) RegisterMaterializer(m pipeline.Materializer) error {
	if m == nil {
		return fmt.Errorf("%s: nil materializer", n.origin)
	}
	if err := n.claim(m.Name(), KindMaterializer); err != nil {
		return err
	}
	n.materializers[m.Name()] = m
	return nil
}

// Kind reports what name refers to, wrapping ErrSymbolNotFound when absent.
func (n *Namespace) Kind(name string) (SymbolKind, error) {
	k, ok := n.kinds[name]
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrSymbolNotFound, name, n.origin)
	}
	return k, nil
}

func (n *Namespace) Step(name string) (pipeline.StepDefinition, bool) {
	d, ok := n.steps[name]
	return d, ok
}

func (n *Namespace) Pipeline(name string) (pipeline.Definition, bool) {
	d, ok := n.pipelines[name]
	return d, ok
}

func (n *Namespace) Materializer(name string) (pipeline.Materializer, bool) {
	m, ok := n.materializers[name]
	return m, ok
}

// Loader loads the namespace registered under a relative forward-slash path.
type Loader interface {
	Load(ctx context.Context, file string) (*Namespace, error)
}

// Builder populates a fresh namespace.
type Builder func(ns *Namespace) error

// Catalog is a Loader over namespaces compiled into the binary. Every Load
// builds a new Namespace, so nothing leaks between resolutions.
type Catalog struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewCatalog() *Catalog {
	return &Catalog{builders: map[string]Builder{}}
}

// CleanPath normalizes a source file reference. Paths are relative and use
// forward slashes.
func CleanPath(file string) (string, error) {
	file = strings.TrimSpace(strings.ReplaceAll(file, "\\", "/"))
	if file == "" {
		return "", fmt.Errorf("file path is required")
	}
	if strings.HasPrefix(file, "/") {
		return "", fmt.Errorf("file path %q must be relative", file)
	}
	cleaned := path.Clean(file)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("file path %q escapes the source root", file)
	}
	return cleaned, nil
}

func (c *Catalog) Add(file string, build Builder) error {
	p, err := CleanPath(file)
	if err != nil {
		return err
	}
	if build == nil {
		return fmt.Errorf("namespace %q: builder is required", p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.builders[p]; exists {
		return fmt.Errorf("namespace %q already registered", p)
	}
	c.builders[p] = build
	return nil
}

func (c *Catalog) Load(ctx context.Context, file string) (*Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := CleanPath(file)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	build, ok := c.builders[p]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNamespaceNotFound, p)
	}
	ns := NewNamespace(p)
	if err := build(ns); err != nil {
		return nil, fmt.Errorf("build namespace %q: %w", p, err)
	}
	return ns, nil
}

func (c *Catalog) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.builders))
	for p := range c.builders {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
