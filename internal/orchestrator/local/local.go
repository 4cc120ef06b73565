// Package local is an orchestrator that runs pipeline steps in process, one
// after another in slot order.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/animus-labs/pipestack/internal/artifactstore"
	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/platform/logging"
	"github.com/animus-labs/pipestack/internal/registry"
	"github.com/animus-labs/pipestack/internal/stack"
)

const FlavorName = "local"

var _ pipeline.Runner = (*Orchestrator)(nil)

type Orchestrator struct {
	desc   domain.ComponentDescriptor
	logger *slog.Logger
}

func Flavor(logger *slog.Logger) registry.Flavor {
	return registry.Flavor{
		Type:        domain.ComponentOrchestrator,
		Name:        FlavorName,
		Description: "runs steps in process",
		Factory: func(desc domain.ComponentDescriptor) (registry.Component, error) {
			return New(desc, logger), nil
		},
	}
}

func New(desc domain.ComponentDescriptor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{desc: desc, logger: logging.OrDiscard(logger).With("orchestrator", desc.Name)}
}

func (o *Orchestrator) Descriptor() domain.ComponentDescriptor { return o.desc }

// OutputKey is where one output of a step is stored in the artifact store.
func OutputKey(runName, slot, output string) string {
	return path.Join("runs", runName, slot, output)
}

func (o *Orchestrator) RunPipeline(ctx context.Context, p *pipeline.Pipeline, st *stack.Stack, runName string) (pipeline.Submission, error) {
	sub := pipeline.Submission{RunID: runName, Kind: pipeline.SubmissionLocal}
	env, err := orchestrator.EnvironmentFromSecrets(ctx, st, p.Secrets())
	if err != nil {
		return sub, err
	}
	ctx = pipeline.WithEnvironment(ctx, env)
	store, _ := st.ArtifactStore().(artifactstore.Store)

	for _, slot := range p.Slots() {
		step, _ := p.Step(slot)
		o.logger.Info("running step", "pipeline", p.Name(), "step", slot, "symbol", step.Symbol())
		outputs, err := step.Execute(ctx)
		if err != nil {
			sub.Status = "failed"
			return sub, fmt.Errorf("step %q: %w", slot, err)
		}
		if store == nil {
			continue
		}
		if err := storeOutputs(ctx, store, runName, slot, step, outputs); err != nil {
			sub.Status = "failed"
			return sub, err
		}
	}
	sub.Status = "completed"
	return sub, nil
}

// storeOutputs writes every output through the materializer bound to it.
func storeOutputs(ctx context.Context, store artifactstore.Store, runName, slot string, step *pipeline.Step, outputs map[string]any) error {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := step.MaterializerFor(name)
		data, err := m.Marshal(outputs[name])
		if err != nil {
			return fmt.Errorf("materialize output %q of step %q with %s: %w", name, slot, m.Name(), err)
		}
		if err := store.Put(ctx, OutputKey(runName, slot, name), data); err != nil {
			return fmt.Errorf("store output %q of step %q: %w", name, slot, err)
		}
	}
	return nil
}
