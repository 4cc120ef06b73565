package kubeflow

import (
	"context"
	"fmt"

	"github.com/animus-labs/pipestack/internal/kfp"
	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/stack"
)

// StatusUnconfirmed marks a submission whose outcome the backend did not
// confirm.
const StatusUnconfirmed = "unconfirmed"

// RunPipeline compiles p into a pipeline package and submits it. Scheduled
// pipelines become recurring runs in an experiment named after the
// pipeline. Failures talking to the backend are logged and reported as an
// unconfirmed submission, never returned.
func (o *Orchestrator) RunPipeline(ctx context.Context, p *pipeline.Pipeline, st *stack.Stack, runName string) (pipeline.Submission, error) {
	o.mu.Lock()
	prep, ok := o.prepared[p.Name()]
	o.mu.Unlock()
	if !ok {
		return pipeline.Submission{}, fmt.Errorf("pipeline %q was not prepared for deployment", p.Name())
	}

	in := CompileInput{Pipeline: p, Image: prep.image, Env: prep.env, RunName: runName}
	if as := st.ArtifactStore(); as != nil && o.selfManaged && as.Descriptor().IsLocal() {
		in.ArtifactPath = as.Descriptor().LocalPath
	}
	manifest, err := Compile(in)
	if err != nil {
		return pipeline.Submission{}, fmt.Errorf("compile pipeline: %w", err)
	}
	pkg, err := WritePackage(o.rootDir, p.Name(), manifest)
	if err != nil {
		return pipeline.Submission{}, err
	}
	o.logger.Info("compiled pipeline package", "pipeline", p.Name(), "path", pkg)

	sub := pipeline.Submission{Kind: pipeline.SubmissionOneOff, Image: prep.image, Status: StatusUnconfirmed}
	if p.Schedule() != nil {
		sub.Kind = pipeline.SubmissionRecurring
	}
	client, err := o.pipelines(ctx)
	if err != nil {
		o.logger.Warn("unable to reach kubeflow pipelines, run not submitted", "pipeline", p.Name(), "package", pkg, "error", err)
		return sub, nil
	}
	spec := kfp.PipelineSpec{WorkflowManifest: string(manifest)}

	if sched := p.Schedule(); sched != nil {
		return o.submitRecurring(ctx, client, p, runName, spec, sched, sub), nil
	}
	return o.submitOneOff(ctx, client, p, runName, spec, sub), nil
}

func (o *Orchestrator) submitRecurring(ctx context.Context, client pipelinesClient, p *pipeline.Pipeline, runName string,
	spec kfp.PipelineSpec, sched *pipeline.Schedule, sub pipeline.Submission) pipeline.Submission {
	// Experiments are keyed by pipeline name alone, so pipelines sharing a
	// name share an experiment.
	exp, err := client.EnsureExperiment(ctx, p.Name())
	if err != nil {
		o.logger.Warn("failed to get or create experiment", "experiment", p.Name(), "error", err)
		return sub
	}
	sub.Experiment = exp.Name
	periodic := kfp.PeriodicSchedule{
		StartTime:      sched.StartTime,
		IntervalSecond: int64(sched.IntervalSecond),
	}
	if !sched.EndTime.IsZero() {
		end := sched.EndTime
		periodic.EndTime = &end
	}
	job, err := client.CreateRecurringRun(ctx, runName, exp.ID, spec, periodic, sched.Catchup)
	if err != nil {
		o.logger.Warn("failed to create scheduled run", "pipeline", p.Name(), "error", err)
		return sub
	}
	sub.RunID = job.ID
	sub.Status = "scheduled"
	o.logger.Info("scheduled recurring run", "pipeline", p.Name(), "job_id", job.ID, "experiment", exp.Name,
		"interval_second", sched.IntervalSecond)
	return sub
}

func (o *Orchestrator) submitOneOff(ctx context.Context, client pipelinesClient, p *pipeline.Pipeline, runName string,
	spec kfp.PipelineSpec, sub pipeline.Submission) pipeline.Submission {
	run, err := client.CreateRun(ctx, runName, "", spec)
	if err != nil {
		o.logger.Warn("failed to create run", "pipeline", p.Name(), "run_name", runName, "error", err)
		return sub
	}
	sub.RunID = run.ID
	sub.Status = run.Status
	if sub.Status == "" {
		sub.Status = "submitted"
	}
	o.logger.Info("started one-off run", "pipeline", p.Name(), "run_id", run.ID, "run_name", runName)

	if !o.settings.Synchronous {
		return sub
	}
	done, err := client.WaitForRunCompletion(ctx, run.ID, o.settings.Timeout, o.poll)
	if err != nil {
		o.logger.Warn("run did not complete", "run_id", run.ID, "timeout", o.settings.Timeout, "error", err)
		return sub
	}
	sub.Status = done.Status
	return sub
}

// PackagePath is where the compiled package of a pipeline is written.
func (o *Orchestrator) PackagePath(pipelineName string) string {
	return packagePath(o.rootDir, pipelineName)
}
