package resolver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/platform/metrics"
	"github.com/animus-labs/pipestack/internal/registry"
)

type countingLoader struct {
	inner Loader
	loads map[string]int
}

func (l *countingLoader) Load(ctx context.Context, file string) (*Namespace, error) {
	l.loads[file]++
	return l.inner.Load(ctx, file)
}

type mat string

func (m mat) Name() string { return string(m) }

func (m mat) Marshal(v any) ([]byte, error) { return []byte(fmt.Sprint(v)), nil }

type callCounter struct {
	calls map[string]int
}

func (c *callCounter) step(symbol string, params map[string]any, outputs ...string) pipeline.StepDefinition {
	return pipeline.StepDefinition{
		Symbol:  symbol,
		Params:  params,
		Outputs: outputs,
		Run: func(context.Context, map[string]any) (map[string]any, error) {
			c.calls[symbol]++
			return nil, nil
		},
	}
}

func fixture(t *testing.T) (*Namespace, *countingLoader, *callCounter) {
	t.Helper()
	calls := &callCounter{calls: map[string]int{}}

	base := NewNamespace("main")
	mustOK(t, base.RegisterPipeline(pipeline.Definition{Name: "P", Slots: []string{"s1"}}))
	mustOK(t, base.RegisterPipeline(pipeline.Definition{Name: "Two", Slots: []string{"a", "b"}}))
	mustOK(t, base.RegisterStep(calls.step("Step1", map[string]any{"ratio": 0.5})))
	mustOK(t, base.RegisterStep(calls.step("Split", nil, "train", "test")))
	mustOK(t, base.RegisterMaterializer(mat("Pickle")))

	catalog := NewCatalog()
	mustOK(t, catalog.Add("steps/extra.go", func(ns *Namespace) error {
		if err := ns.RegisterStep(calls.step("Remote", nil)); err != nil {
			return err
		}
		return ns.RegisterMaterializer(mat("Arrow"))
	}))
	return base, &countingLoader{inner: catalog, loads: map[string]int{}}, calls
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected err=%v", err)
	}
}

func mustDoc(t *testing.T, src string) Document {
	t.Helper()
	doc, err := ParseDocument([]byte(src))
	if err != nil {
		t.Fatalf("ParseDocument() err=%v", err)
	}
	return doc
}

func configErr(t *testing.T, err error) *domain.ConfigurationError {
	t.Helper()
	var cerr *domain.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err=%v (%T), want ConfigurationError", err, err)
	}
	return cerr
}

func TestResolveSingleStepAndRun(t *testing.T) {
	base, loader, calls := fixture(t)
	r := New(loader, registry.New(), nil, nil)

	rp, err := r.Resolve(context.Background(), base, mustDoc(t, `
name: P
steps:
  s1:
    source:
      name: Step1
`))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	step, ok := rp.Pipeline.Step("s1")
	if !ok || step.Symbol() != "Step1" {
		t.Fatalf("Step(s1)=%v,%v", step, ok)
	}
	if _, err := step.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if calls.calls["Step1"] != 1 {
		t.Fatalf("Step1 calls=%d, want 1", calls.calls["Step1"])
	}
	if rp.Stack != nil {
		t.Fatalf("Stack should be nil without inline definition")
	}
}

func TestResolveKeyCheck(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)

	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"empty document", `{}`, []string{"name", "steps"}},
		{"missing steps", `name: P`, []string{"steps"}},
		{"missing step sources", "name: P\nsteps:\n  s1: {}\n  s2:\n    materializers: {name: Pickle}\n", []string{"steps.s1.source", "steps.s2.source"}},
	}
	for _, tt := range tests {
		_, err := r.Resolve(context.Background(), base, mustDoc(t, tt.doc))
		cerr := configErr(t, err)
		if !reflect.DeepEqual(cerr.Missing, tt.want) {
			t.Fatalf("%s: Missing=%v, want %v", tt.name, cerr.Missing, tt.want)
		}
	}
	if len(loader.loads) != 0 {
		t.Fatalf("loader used before key check passed: %v", loader.loads)
	}
}

func TestResolveBareStringSource(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)
	_, err := r.Resolve(context.Background(), base, mustDoc(t, "name: P\nsteps:\n  s1:\n    source: Step1\n"))
	cerr := configErr(t, err)
	if cerr.Key != "steps.s1.source" || !strings.Contains(cerr.Hint, "name: Step1") {
		t.Fatalf("err=%v", cerr)
	}
}

func TestResolveSourceTypeMismatch(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)
	_, err := r.Resolve(context.Background(), base, mustDoc(t, "name: P\nsteps:\n  s1:\n    source: [Step1]\n"))
	cerr := configErr(t, err)
	if !strings.Contains(cerr.Message, "[]interface {}") {
		t.Fatalf("message %q does not name the type", cerr.Message)
	}
}

type pipelineLabel string

func TestResolveProgrammaticDocumentShapes(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)

	tests := []struct {
		name    string
		doc     Document
		wantKey string
	}{
		{
			name:    "typed name",
			doc:     Document{"name": pipelineLabel("P"), "steps": map[string]any{"s1": map[string]any{"source": map[string]any{"name": "Step1"}}}},
			wantKey: "name",
		},
		{
			name:    "typed steps mapping",
			doc:     Document{"name": "P", "steps": map[string]map[string]any{"s1": {"source": map[string]any{"name": "Step1"}}}},
			wantKey: "steps",
		},
		{
			name:    "typed step mapping",
			doc:     Document{"name": "P", "steps": map[string]any{"s1": map[string]map[string]any{"source": {"name": "Step1"}}}},
			wantKey: "steps.s1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), base, tt.doc)
			cerr := configErr(t, err)
			if cerr.Key != tt.wantKey {
				t.Fatalf("Key=%q, want %q (err=%v)", cerr.Key, tt.wantKey, cerr)
			}
		})
	}
}

func TestResolveMissingSymbol(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)
	_, err := r.Resolve(context.Background(), base, mustDoc(t, "name: P\nsteps:\n  s1:\n    source: {name: Nope, file: steps/extra.go}\n"))
	cerr := configErr(t, err)
	if !strings.Contains(cerr.Message, `"Nope"`) || !strings.Contains(cerr.Message, "steps/extra.go") {
		t.Fatalf("message %q should name symbol and origin", cerr.Message)
	}
	if !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("err should wrap ErrSymbolNotFound")
	}

	_, err = r.Resolve(context.Background(), base, mustDoc(t, "name: Step1\nsteps:\n  s1:\n    source: {name: Step1}\n"))
	if cerr := configErr(t, err); !strings.Contains(cerr.Message, "not a pipeline") {
		t.Fatalf("message %q", cerr.Message)
	}
}

func TestResolveLoadsFileOncePerResolution(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)
	doc := mustDoc(t, `
name: Two
steps:
  a:
    source: {name: Remote, file: steps/extra.go}
  b:
    source: {name: Remote, file: ./steps/extra.go}
    materializers: {name: Arrow, file: steps/extra.go}
`)
	rp, err := r.Resolve(context.Background(), base, doc)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if loader.loads["steps/extra.go"] != 1 {
		t.Fatalf("loads=%v, want one load", loader.loads)
	}
	b, _ := rp.Pipeline.Step("b")
	if b.Materializers()[pipeline.DefaultOutput].Name() != "Arrow" {
		t.Fatalf("materializers=%v", b.Materializers())
	}
	a, _ := rp.Pipeline.Step("a")
	if len(a.Materializers()) != 0 {
		t.Fatalf("materializer leaked to step a: %v", a.Materializers())
	}

	if _, err := r.Resolve(context.Background(), base, doc); err != nil {
		t.Fatalf("second Resolve() err=%v", err)
	}
	if loader.loads["steps/extra.go"] != 2 {
		t.Fatalf("cache shared across resolutions: loads=%v", loader.loads)
	}
}

func TestResolveMissingFile(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)
	_, err := r.Resolve(context.Background(), base, mustDoc(t, "name: P\nsteps:\n  s1:\n    source: {name: X, file: nowhere.go}\n"))
	configErr(t, err)
	if !errors.Is(err, ErrNamespaceNotFound) {
		t.Fatalf("err=%v, want ErrNamespaceNotFound", err)
	}
}

func TestResolveMaterializerMapping(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)

	rp, err := r.Resolve(context.Background(), base, mustDoc(t, `
name: P
steps:
  s1:
    source: {name: Split}
    materializers:
      train: {name: Pickle}
      test: {name: Arrow, file: steps/extra.go}
`))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	s1, _ := rp.Pipeline.Step("s1")
	m := s1.Materializers()
	if m["train"].Name() != "Pickle" || m["test"].Name() != "Arrow" {
		t.Fatalf("materializers=%v", m)
	}

	tests := []struct {
		name string
		mats string
		want string
	}{
		{"unknown output", "{weights: {name: Pickle}}", "weights"},
		{"bare string", "Pickle", "plain strings"},
		{"list", "[Pickle]", "type []interface {}"},
		{"step as materializer", "{name: Step1}", "not a materializer"},
	}
	for _, tt := range tests {
		doc := "name: P\nsteps:\n  s1:\n    source: {name: Split}\n    materializers: " + tt.mats + "\n"
		_, err := r.Resolve(context.Background(), base, mustDoc(t, doc))
		if cerr := configErr(t, err); !strings.Contains(cerr.Error(), tt.want) {
			t.Fatalf("%s: err=%q, want mention of %q", tt.name, cerr.Error(), tt.want)
		}
	}
}

func TestResolveSlotMismatch(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)
	_, err := r.Resolve(context.Background(), base, mustDoc(t, "name: Two\nsteps:\n  a:\n    source: {name: Step1}\n  c:\n    source: {name: Step1}\n"))
	var slotErr *pipeline.SlotError
	if !errors.As(err, &slotErr) {
		t.Fatalf("err=%v, want SlotError", err)
	}
	configErr(t, err)
}

func TestResolveDocumentParametersWin(t *testing.T) {
	base, loader, _ := fixture(t)
	r := New(loader, nil, nil, nil)
	rp, err := r.Resolve(context.Background(), base, mustDoc(t, `
name: P
steps:
  s1:
    source: {name: Step1}
    parameters:
      ratio: 0.9
`))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	s1, _ := rp.Pipeline.Step("s1")
	if s1.Params()["ratio"] != 0.9 {
		t.Fatalf("ratio=%v, want 0.9", s1.Params()["ratio"])
	}
}

func TestResolveInlineStack(t *testing.T) {
	base, loader, _ := fixture(t)
	reg := registry.New()
	factory := func(desc domain.ComponentDescriptor) (registry.Component, error) { return inlineComponent{desc}, nil }
	mustOK(t, reg.Register(registry.Flavor{Type: domain.ComponentOrchestrator, Name: "local", Factory: factory}))
	mustOK(t, reg.Register(registry.Flavor{Type: domain.ComponentArtifactStore, Name: "local", Factory: factory}))

	r := New(loader, reg, nil, nil)
	rp, err := r.Resolve(context.Background(), base, mustDoc(t, `
name: P
steps:
  s1:
    source: {name: Step1}
stack:
  name: inline
  components:
    - {type: orchestrator, flavor: local, name: o}
    - {type: artifact_store, flavor: local, name: a, local_path: /tmp/a}
`))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if rp.Stack == nil || rp.Stack.Name() != "inline" || rp.Pipeline.StackName() != "inline" {
		t.Fatalf("inline stack not assembled: %+v", rp)
	}
}

type inlineComponent struct{ desc domain.ComponentDescriptor }

func (c inlineComponent) Descriptor() domain.ComponentDescriptor { return c.desc }

func TestResolveObservesMetrics(t *testing.T) {
	base, loader, _ := fixture(t)
	m := metrics.New()
	r := New(loader, nil, nil, m)
	_, _ = r.Resolve(context.Background(), base, mustDoc(t, "name: P\nsteps:\n  s1:\n    source: {name: Step1}\n"))
	_, _ = r.Resolve(context.Background(), base, mustDoc(t, "name: P\n"))

	got, err := testutil.GatherAndCount(m.Registry(), "pipestack_config_resolutions_total")
	if err != nil {
		t.Fatalf("GatherAndCount() err=%v", err)
	}
	if got != 2 {
		t.Fatalf("resolution series=%d, want 2", got)
	}
}

func TestCatalogPaths(t *testing.T) {
	c := NewCatalog()
	mustOK(t, c.Add("b/x.go", func(*Namespace) error { return nil }))
	mustOK(t, c.Add("a.go", func(*Namespace) error { return nil }))
	if err := c.Add("./a.go", func(*Namespace) error { return nil }); err == nil {
		t.Fatalf("expected duplicate path error")
	}
	if err := c.Add("../up.go", func(*Namespace) error { return nil }); err == nil {
		t.Fatalf("expected escaping path error")
	}
	if got := c.Paths(); !reflect.DeepEqual(got, []string{"a.go", "b/x.go"}) {
		t.Fatalf("Paths()=%v", got)
	}
}
