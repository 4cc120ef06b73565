// Package kubeflow is the orchestrator flavor that runs pipelines on
// Kubeflow Pipelines, either in a self-managed local k3d cluster or on an
// externally managed installation.
package kubeflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/imagebuild"
	"github.com/animus-labs/pipestack/internal/kfp"
	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/orchestrator/k3d"
	"github.com/animus-labs/pipestack/internal/orchestrator/remote"
	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/platform/auth"
	"github.com/animus-labs/pipestack/internal/platform/cmdexec"
	"github.com/animus-labs/pipestack/internal/platform/logging"
	"github.com/animus-labs/pipestack/internal/platform/metrics"
	"github.com/animus-labs/pipestack/internal/registry"
	"github.com/animus-labs/pipestack/internal/stack"
)

// Options carry process-level dependencies into the factory.
type Options struct {
	// ConfigDir is the pipestack configuration directory. Orchestrator
	// state lives under ConfigDir/kubeflow/<uuid> and ConfigDir is mounted
	// into the local cluster.
	ConfigDir string
	// BuildContext is the directory baked into pipeline images.
	BuildContext string
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Runner       cmdexec.Runner
}

// pipelinesClient is the part of the KFP API used for submission.
type pipelinesClient interface {
	Healthz(ctx context.Context) error
	EnsureExperiment(ctx context.Context, name string) (kfp.Experiment, error)
	CreateRun(ctx context.Context, name, experimentID string, spec kfp.PipelineSpec) (kfp.Run, error)
	CreateRecurringRun(ctx context.Context, name, experimentID string, spec kfp.PipelineSpec, schedule kfp.PeriodicSchedule, catchup bool) (kfp.Job, error)
	WaitForRunCompletion(ctx context.Context, id string, timeout, interval time.Duration) (kfp.Run, error)
}

type imageBuilder interface {
	Build(ctx context.Context, spec imagebuild.Spec) error
	Push(ctx context.Context, tag string) error
	Digest(ctx context.Context, tag string) (string, error)
}

// prepared is the outcome of PrepareDeployment for one pipeline.
type prepared struct {
	image string
	env   map[string]string
}

type Orchestrator struct {
	desc         domain.ComponentDescriptor
	settings     Settings
	cluster      string
	rootDir      string
	buildContext string
	selfManaged  bool
	controller   *orchestrator.Controller
	builder      imageBuilder
	logger       *slog.Logger

	mu        sync.Mutex
	client    pipelinesClient
	newClient func(ctx context.Context) (pipelinesClient, error)
	prepared  map[string]prepared
	poll      time.Duration
}

var (
	_ pipeline.Runner             = (*Orchestrator)(nil)
	_ pipeline.Provisioner        = (*Orchestrator)(nil)
	_ pipeline.Preparer           = (*Orchestrator)(nil)
	_ stack.RequirementProvider   = (*Orchestrator)(nil)
	_ orchestrator.LifecycleOwner = (*Orchestrator)(nil)
)

// Flavor declares the kubeflow orchestrator.
func Flavor(opts Options) registry.Flavor {
	return registry.Flavor{
		Type:        domain.ComponentOrchestrator,
		Name:        FlavorName,
		Integration: "kubeflow",
		Description: "Kubeflow Pipelines on a local k3d cluster or a remote installation",
		Factory: func(desc domain.ComponentDescriptor) (registry.Component, error) {
			return New(desc, opts)
		},
	}
}

func New(desc domain.ComponentDescriptor, opts Options) (*Orchestrator, error) {
	settings, err := SettingsFromDescriptor(desc)
	if err != nil {
		return nil, fmt.Errorf("kubeflow orchestrator %q: %w", desc.Name, err)
	}
	if opts.ConfigDir == "" {
		return nil, fmt.Errorf("kubeflow orchestrator %q: config directory is required", desc.Name)
	}
	runner := opts.Runner
	if runner == nil {
		runner = cmdexec.Exec{}
	}
	o := &Orchestrator{
		desc:         desc,
		settings:     settings,
		cluster:      k3d.ClusterName(desc.UUID.String()),
		rootDir:      filepath.Join(opts.ConfigDir, "kubeflow", desc.UUID.String()),
		buildContext: opts.BuildContext,
		builder:      imagebuild.New(runner),
		logger:       logging.OrDiscard(opts.Logger).With("orchestrator", desc.Name),
		prepared:     map[string]prepared{},
		poll:         5 * time.Second,
	}
	o.newClient = o.dialPipelines
	o.selfManaged = settings.SelfManagedLocal(o.cluster)

	var backend orchestrator.Backend
	if o.selfManaged {
		backend, err = k3d.New(k3d.Config{ClusterName: o.cluster, RootDir: o.rootDir}, runner)
		if err != nil {
			return nil, err
		}
	} else {
		var health remote.HealthChecker
		if settings.Host != "" {
			health = healthFunc(func(ctx context.Context) error {
				c, err := o.pipelines(ctx)
				if err != nil {
					return err
				}
				return c.Healthz(ctx)
			})
		}
		backend = remote.New(settings.KubernetesContext, health, runner)
	}

	cfg := orchestrator.Config{
		ID:      desc.UUID,
		Name:    desc.Name,
		RootDir: o.rootDir,
		UIPort:  settings.UIPort,
	}
	if o.selfManaged {
		cfg.SharedDir = opts.ConfigDir
	}
	o.controller, err = orchestrator.NewController(cfg, backend, nil, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, err
	}
	return o, nil
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Healthz(ctx context.Context) error { return f(ctx) }

func (o *Orchestrator) Descriptor() domain.ComponentDescriptor { return o.desc }

func (o *Orchestrator) Settings() Settings { return o.settings }

func (o *Orchestrator) Controller() *orchestrator.Controller { return o.controller }

// SelfManagedLocal reports whether the orchestrator runs its own k3d cluster.
func (o *Orchestrator) SelfManagedLocal() bool { return o.selfManaged }

func (o *Orchestrator) ClusterName() string { return o.cluster }

// KubernetesContext is the configured context, or the k3d one.
func (o *Orchestrator) KubernetesContext() string {
	return o.controller.Backend().KubernetesContext()
}

func (o *Orchestrator) RequiredComponents() []domain.ComponentType {
	return []domain.ComponentType{domain.ComponentContainerRegistry}
}

func (o *Orchestrator) StackRule() stack.Rule {
	return stack.LocalityRule(o.selfManaged)
}

func (o *Orchestrator) EnsureRunning(ctx context.Context, st *stack.Stack) error {
	return o.controller.Up(ctx, st)
}

// PrepareDeployment builds and pushes the pipeline image and resolves the
// secrets injected into every step.
func (o *Orchestrator) PrepareDeployment(ctx context.Context, p *pipeline.Pipeline, st *stack.Stack) error {
	if !o.selfManaged {
		for _, c := range st.Components() {
			if d := c.Descriptor(); d.IsLocal() {
				o.logger.Warn("stack component is local and will not be available inside pipeline steps",
					"component", d.Name, "type", d.Type, "local_path", d.LocalPath,
					"kubernetes_context", o.settings.KubernetesContext)
			}
		}
	}

	env, err := orchestrator.EnvironmentFromSecrets(ctx, st, p.Secrets())
	if err != nil {
		return err
	}

	cr := st.ContainerRegistry()
	if cr == nil {
		return fmt.Errorf("stack %q has no container registry", st.Name())
	}
	tag := ImageName(stack.RegistryURI(cr), p.Name())
	requirements := append(st.Requirements(), p.Requirements()...)
	if err := o.builder.Build(ctx, imagebuild.Spec{
		ContextDir:   o.buildContext,
		Tag:          tag,
		BaseImage:    o.settings.CustomBaseImage,
		Requirements: requirements,
	}); err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	if err := o.builder.Push(ctx, tag); err != nil {
		return fmt.Errorf("push image: %w", err)
	}
	image := tag
	if digest, err := o.builder.Digest(ctx, tag); err == nil {
		image = digest
	} else {
		o.logger.Debug("image digest unavailable, using tag", "image", tag, "error", err)
	}

	o.mu.Lock()
	o.prepared[p.Name()] = prepared{image: image, env: env}
	o.mu.Unlock()
	return nil
}

// pipelines returns the API client, dialing it on first use.
func (o *Orchestrator) pipelines(ctx context.Context) (pipelinesClient, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return o.client, nil
	}
	c, err := o.newClient(ctx)
	if err != nil {
		return nil, err
	}
	// Without a host the client follows the daemon port, which may move.
	if o.settings.Host != "" {
		o.client = c
	}
	return c, nil
}

func (o *Orchestrator) dialPipelines(ctx context.Context) (pipelinesClient, error) {
	host := o.settings.Host
	if host == "" {
		port := o.controller.DaemonPort()
		if port == 0 {
			port = o.settings.UIPort
		}
		host = fmt.Sprintf("http://localhost:%d", port)
	}
	var httpClient *http.Client
	if o.settings.Auth.Mode != auth.ModeNone {
		var err error
		httpClient, err = auth.NewHTTPClient(ctx, o.settings.Auth)
		if err != nil {
			return nil, err
		}
	}
	return kfp.NewClient(host, httpClient)
}
