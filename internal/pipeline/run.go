package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/pipestack/internal/platform/logging"
	"github.com/animus-labs/pipestack/internal/platform/metrics"
	"github.com/animus-labs/pipestack/internal/registry"
	"github.com/animus-labs/pipestack/internal/stack"
)

// ErrStackInvalid wraps a failed stack validation. The reason follows the
// sentinel verbatim.
var ErrStackInvalid = errors.New("stack validation failed")

type SubmissionKind string

const (
	SubmissionOneOff    SubmissionKind = "one_off"
	SubmissionRecurring SubmissionKind = "recurring"
	SubmissionLocal     SubmissionKind = "local"
)

// Submission describes what the orchestrator did with a run.
type Submission struct {
	RunID      string
	Kind       SubmissionKind
	Experiment string
	Image      string
	Status     string
}

// Runner is an orchestrator able to execute a pipeline.
type Runner interface {
	registry.Component
	RunPipeline(ctx context.Context, p *Pipeline, st *stack.Stack, runName string) (Submission, error)
}

// Provisioner is implemented by orchestrators with a backend that must be
// running before work is submitted.
type Provisioner interface {
	EnsureRunning(ctx context.Context, st *stack.Stack) error
}

// Preparer is implemented by orchestrators that build a deployable artifact
// before submission.
type Preparer interface {
	PrepareDeployment(ctx context.Context, p *Pipeline, st *stack.Stack) error
}

// RunRecord is what a metadata store keeps about a submitted run.
type RunRecord struct {
	ID           uuid.UUID
	Pipeline     string
	RunName      string
	Stack        string
	Orchestrator string
	Submission   Submission
	SubmittedAt  time.Time
}

// RunRecorder is implemented by metadata stores.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

type RunOptions struct {
	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Run validates st, makes sure its orchestrator is up and hands the pipeline
// over. A failed validation aborts before anything is touched.
func (p *Pipeline) Run(ctx context.Context, st *stack.Stack, opts RunOptions) (RunRecord, error) {
	logger := logging.OrDiscard(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if ok, reason := stack.ValidatorFor(opts.Registry, st).Validate(st); !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrStackInvalid, reason)
	}
	runner, ok := st.Orchestrator().(Runner)
	if !ok {
		return RunRecord{}, fmt.Errorf("orchestrator %s cannot run pipelines", st.Orchestrator().Descriptor())
	}

	if prov, ok := runner.(Provisioner); ok {
		if err := prov.EnsureRunning(ctx, st); err != nil {
			return RunRecord{}, err
		}
	}
	if prep, ok := runner.(Preparer); ok {
		if err := prep.PrepareDeployment(ctx, p, st); err != nil {
			opts.Metrics.ObserveSubmission("prepare", "error")
			return RunRecord{}, fmt.Errorf("prepare pipeline %q: %w", p.name, err)
		}
	}

	startedAt := now().UTC()
	runName := p.RunName(startedAt)
	logger.Info("running pipeline", "pipeline", p.name, "run_name", runName, "stack", st.Name(), "orchestrator", runner.Descriptor().Name)
	sub, err := runner.RunPipeline(ctx, p, st, runName)
	if err != nil {
		opts.Metrics.ObserveSubmission(string(sub.Kind), "error")
		return RunRecord{}, fmt.Errorf("run pipeline %q: %w", p.name, err)
	}
	opts.Metrics.ObserveSubmission(string(sub.Kind), "ok")

	rec := RunRecord{
		ID:           uuid.New(),
		Pipeline:     p.name,
		RunName:      runName,
		Stack:        st.Name(),
		Orchestrator: runner.Descriptor().Name,
		Submission:   sub,
		SubmittedAt:  startedAt,
	}
	if recorder, ok := st.MetadataStore().(RunRecorder); ok {
		if err := recorder.RecordRun(ctx, rec); err != nil {
			logger.Warn("record pipeline run failed", "pipeline", p.name, "error", err)
		}
	}
	return rec, nil
}
