package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/platform/metrics"
	"github.com/animus-labs/pipestack/internal/registry"
	"github.com/animus-labs/pipestack/internal/stack"
)

type namedMaterializer string

func (m namedMaterializer) Name() string { return string(m) }

func (m namedMaterializer) Marshal(v any) ([]byte, error) { return []byte(fmt.Sprint(v)), nil }

func noop(context.Context, map[string]any) (map[string]any, error) { return nil, nil }

func trainerDef() StepDefinition {
	return StepDefinition{
		Symbol:  "Trainer",
		Run:     noop,
		Params:  map[string]any{"epochs": 1, "lr": 0.1},
		Outputs: []string{"model", "metrics"},
	}
}

func mustStep(t *testing.T, d StepDefinition, params map[string]any) *Step {
	t.Helper()
	s, err := d.New(params)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return s
}

func TestStepDefaultOutput(t *testing.T) {
	s := mustStep(t, StepDefinition{Symbol: "Loader", Run: noop}, nil)
	if got := s.Outputs(); len(got) != 1 || got[0] != DefaultOutput {
		t.Fatalf("Outputs()=%v", got)
	}
	if _, err := (StepDefinition{Symbol: "x", Run: noop}).New(map[string]any{"nope": 1}); err == nil {
		t.Fatalf("expected unknown parameter error")
	}
}

func TestWithMaterializerDoesNotMutateOriginal(t *testing.T) {
	orig := mustStep(t, trainerDef(), nil)
	bound, err := orig.WithMaterializer(namedMaterializer("pickle"))
	if err != nil {
		t.Fatalf("WithMaterializer() err=%v", err)
	}
	if len(orig.Materializers()) != 0 {
		t.Fatalf("original step mutated: %v", orig.Materializers())
	}
	got := bound.Materializers()
	if got["model"].Name() != "pickle" || got["metrics"].Name() != "pickle" {
		t.Fatalf("Materializers()=%v", got)
	}
}

func TestWithReturnMaterializersUnknownOutput(t *testing.T) {
	s := mustStep(t, trainerDef(), nil)
	_, err := s.WithReturnMaterializers(map[string]Materializer{"weights": namedMaterializer("npz")})
	if err == nil || !strings.Contains(err.Error(), "weights") {
		t.Fatalf("WithReturnMaterializers() err=%v", err)
	}
}

func TestDefinitionNewSlots(t *testing.T) {
	def := Definition{Name: "P", Slots: []string{"load", "train"}}
	step := mustStep(t, trainerDef(), nil)

	_, err := def.New(map[string]*Step{"train": step, "evaluate": step})
	var slotErr *SlotError
	if !errors.As(err, &slotErr) {
		t.Fatalf("New() err=%v, want SlotError", err)
	}
	if len(slotErr.Missing) != 1 || slotErr.Missing[0] != "load" {
		t.Fatalf("Missing=%v", slotErr.Missing)
	}
	if len(slotErr.Unexpected) != 1 || slotErr.Unexpected[0] != "evaluate" {
		t.Fatalf("Unexpected=%v", slotErr.Unexpected)
	}

	p, err := def.New(map[string]*Step{"load": step, "train": step})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if !p.EnableCache() {
		t.Fatalf("cache should default to enabled")
	}
}

func TestWithConfigOverridesParameters(t *testing.T) {
	def := Definition{Name: "P", Slots: []string{"train"}}
	p, err := def.New(map[string]*Step{"train": mustStep(t, trainerDef(), map[string]any{"epochs": 5})})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	doc := map[string]any{
		"name":         "P",
		"enable_cache": false,
		"run_name":     "nightly",
		"secrets":      []any{"aws"},
		"requirements": []any{"numpy"},
		"steps": map[string]any{
			"train": map[string]any{"parameters": map[string]any{"epochs": 10}},
		},
	}

	if _, err := p.WithConfig(doc, false); err == nil {
		t.Fatalf("expected duplicated configuration error without overwrite")
	} else {
		var dup *DuplicatedConfigurationError
		if !errors.As(err, &dup) || dup.Param != "epochs" {
			t.Fatalf("WithConfig() err=%v", err)
		}
	}

	configured, err := p.WithConfig(doc, true)
	if err != nil {
		t.Fatalf("WithConfig() err=%v", err)
	}
	step, _ := configured.Step("train")
	params := step.Params()
	if params["epochs"] != 10 {
		t.Fatalf("epochs=%v, want 10", params["epochs"])
	}
	if params["lr"] != 0.1 {
		t.Fatalf("lr=%v, want code default 0.1", params["lr"])
	}
	if configured.EnableCache() || configured.RunName(time.Now()) != "nightly" {
		t.Fatalf("pipeline attributes not applied")
	}
	if got := configured.Secrets(); len(got) != 1 || got[0] != "aws" {
		t.Fatalf("Secrets()=%v", got)
	}

	orig, _ := p.Step("train")
	if orig.Params()["epochs"] != 5 {
		t.Fatalf("original pipeline mutated: %v", orig.Params())
	}
}

func TestWithConfigSchedule(t *testing.T) {
	p, _ := Definition{Name: "P"}.New(nil)
	configured, err := p.WithConfig(map[string]any{
		"schedule": map[string]any{"start_time": "2024-01-02T03:04:05Z", "interval_second": 3600, "catchup": true},
	}, true)
	if err != nil {
		t.Fatalf("WithConfig() err=%v", err)
	}
	s := configured.Schedule()
	if s == nil || s.IntervalSecond != 3600 || !s.Catchup || s.StartTime.Year() != 2024 {
		t.Fatalf("Schedule()=%+v", s)
	}

	if _, err := p.WithConfig(map[string]any{"schedule": map[string]any{"interval_second": 10}}, true); err == nil {
		t.Fatalf("expected error for schedule without start_time")
	}
}

func TestRunNameDefault(t *testing.T) {
	p, _ := Definition{Name: "P"}.New(nil)
	got := p.RunName(time.Date(2024, 3, 9, 13, 4, 5, 6000, time.UTC))
	if got != "P-09_Mar_24-13_04_05_000006" {
		t.Fatalf("RunName()=%q", got)
	}
}

type fakeRunner struct {
	desc     domain.ComponentDescriptor
	calls    []string
	failPrep bool
}

func (r *fakeRunner) Descriptor() domain.ComponentDescriptor { return r.desc }

func (r *fakeRunner) EnsureRunning(context.Context, *stack.Stack) error {
	r.calls = append(r.calls, "ensure")
	return nil
}

func (r *fakeRunner) PrepareDeployment(context.Context, *Pipeline, *stack.Stack) error {
	r.calls = append(r.calls, "prepare")
	if r.failPrep {
		return errors.New("docker unavailable")
	}
	return nil
}

func (r *fakeRunner) RunPipeline(_ context.Context, p *Pipeline, _ *stack.Stack, _ string) (Submission, error) {
	r.calls = append(r.calls, "run:"+p.Name())
	return Submission{RunID: "r-1", Kind: SubmissionOneOff}, nil
}

type fakeStore struct {
	desc    domain.ComponentDescriptor
	records []RunRecord
}

func (s *fakeStore) Descriptor() domain.ComponentDescriptor { return s.desc }

func (s *fakeStore) RecordRun(_ context.Context, rec RunRecord) error {
	s.records = append(s.records, rec)
	return nil
}

type plain struct{ desc domain.ComponentDescriptor }

func (p plain) Descriptor() domain.ComponentDescriptor { return p.desc }

func TestRunHandsOffToOrchestrator(t *testing.T) {
	reg := registry.New()
	factory := func(desc domain.ComponentDescriptor) (registry.Component, error) { return plain{desc}, nil }
	_ = reg.Register(registry.Flavor{Type: domain.ComponentOrchestrator, Name: "fake", Factory: factory})
	_ = reg.Register(registry.Flavor{Type: domain.ComponentArtifactStore, Name: "local", Factory: factory})
	_ = reg.Register(registry.Flavor{Type: domain.ComponentMetadataStore, Name: "fake", Factory: factory})

	runner := &fakeRunner{desc: domain.ComponentDescriptor{Type: domain.ComponentOrchestrator, Flavor: "fake", Name: "o"}}
	store := &fakeStore{desc: domain.ComponentDescriptor{Type: domain.ComponentMetadataStore, Flavor: "fake", Name: "m"}}
	st, err := stack.New("s", runner, store, plain{domain.ComponentDescriptor{Type: domain.ComponentArtifactStore, Flavor: "local", Name: "a"}})
	if err != nil {
		t.Fatalf("stack.New() err=%v", err)
	}

	p, _ := Definition{Name: "P"}.New(nil)
	m := metrics.New()
	rec, err := p.Run(context.Background(), st, RunOptions{Registry: reg, Metrics: m})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if strings.Join(runner.calls, ",") != "ensure,prepare,run:P" {
		t.Fatalf("calls=%v", runner.calls)
	}
	if len(store.records) != 1 || store.records[0].ID != rec.ID || rec.Submission.RunID != "r-1" {
		t.Fatalf("records=%+v rec=%+v", store.records, rec)
	}

	runner.calls = nil
	runner.failPrep = true
	if _, err := p.Run(context.Background(), st, RunOptions{Registry: reg}); err == nil {
		t.Fatalf("expected prepare failure")
	}
	if len(runner.calls) != 2 {
		t.Fatalf("run should stop after prepare failure: %v", runner.calls)
	}
}

func TestRunAbortsOnInvalidStack(t *testing.T) {
	runner := &fakeRunner{desc: domain.ComponentDescriptor{Type: domain.ComponentOrchestrator, Flavor: "fake", Name: "o"}}
	st, _ := stack.New("s", runner)
	p, _ := Definition{Name: "P"}.New(nil)
	_, err := p.Run(context.Background(), st, RunOptions{})
	if !errors.Is(err, ErrStackInvalid) || !strings.Contains(err.Error(), "artifact store") {
		t.Fatalf("Run() err=%v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("orchestrator touched on invalid stack: %v", runner.calls)
	}
}
