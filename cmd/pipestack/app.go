package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/animus-labs/pipestack/internal/demo"
	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/integrations"
	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/platform/metrics"
	"github.com/animus-labs/pipestack/internal/registry"
	repo "github.com/animus-labs/pipestack/internal/repo/postgres"
	"github.com/animus-labs/pipestack/internal/resolver"
	"github.com/animus-labs/pipestack/internal/stack"
)

var errNoStack = errors.New("no stack configured: pass --stack or set PIPESTACK_STACK_FILE")

type app struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	catalog  *resolver.Catalog
	out      io.Writer
}

func newApp(cfg Config, logger *slog.Logger, out io.Writer) (*app, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := metrics.New()
	reg := registry.New()
	if err := integrations.Register(reg, integrations.Options{
		ConfigDir:    cfg.ConfigDir,
		BuildContext: cfg.BuildContext,
		Logger:       logger,
		Metrics:      m,
	}); err != nil {
		return nil, err
	}
	catalog, err := demo.Catalog()
	if err != nil {
		return nil, fmt.Errorf("load source catalog: %w", err)
	}
	return &app{cfg: cfg, logger: logger, metrics: m, registry: reg, catalog: catalog, out: out}, nil
}

func (a *app) loadStack(path string) (*stack.Stack, error) {
	if strings.TrimSpace(path) == "" {
		path = a.cfg.StackFile
	}
	if strings.TrimSpace(path) == "" {
		return nil, errNoStack
	}
	cfg, err := stack.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return stack.Assemble(a.registry, cfg)
}

// closeStack releases connections opened lazily by stack components.
func (a *app) closeStack(st *stack.Stack) {
	if st == nil {
		return
	}
	for _, c := range st.Components() {
		closer, ok := c.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			a.logger.Warn("close stack component failed", "component", c.Descriptor().Name, "error", err)
		}
	}
}

func (a *app) pushMetrics(ctx context.Context, job string) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, job); err != nil {
		a.logger.Warn("push metrics failed", "pushgateway", a.cfg.PushgatewayURL, "error", err)
	}
}

// runPipeline resolves the document against the namespace at source and
// hands the pipeline to the stack. An inline stack wins over the stack file.
func (a *app) runPipeline(ctx context.Context, source, configPath, stackPath string) (pipeline.RunRecord, error) {
	if strings.TrimSpace(source) == "" {
		return pipeline.RunRecord{}, errors.New("source file is required")
	}
	if strings.TrimSpace(configPath) == "" {
		return pipeline.RunRecord{}, errors.New("--config is required")
	}
	doc, err := resolver.LoadDocument(configPath)
	if err != nil {
		return pipeline.RunRecord{}, err
	}
	base, err := a.catalog.Load(ctx, source)
	if err != nil {
		return pipeline.RunRecord{}, fmt.Errorf("load source %q: %w", source, err)
	}
	rp, err := resolver.New(a.catalog, a.registry, a.logger, a.metrics).Resolve(ctx, base, doc)
	if err != nil {
		return pipeline.RunRecord{}, err
	}

	st := rp.Stack
	if st == nil {
		if st, err = a.loadStack(stackPath); err != nil {
			return pipeline.RunRecord{}, err
		}
	}
	defer a.closeStack(st)
	if want := rp.Pipeline.StackName(); want != "" && want != st.Name() {
		return pipeline.RunRecord{}, fmt.Errorf("pipeline %q asks for stack %q but the active stack is %q", rp.Pipeline.Name(), want, st.Name())
	}
	return rp.Pipeline.Run(ctx, st, pipeline.RunOptions{Registry: a.registry, Logger: a.logger, Metrics: a.metrics})
}

func (a *app) stackCommand(ctx context.Context, verb, stackPath string) error {
	st, err := a.loadStack(stackPath)
	if err != nil {
		return err
	}
	defer a.closeStack(st)

	if verb == "validate" {
		if ok, reason := stack.ValidatorFor(a.registry, st).Validate(st); !ok {
			return fmt.Errorf("%w: %s", pipeline.ErrStackInvalid, reason)
		}
		fmt.Fprintf(a.out, "==> stack %q is valid\n", st.Name())
		return nil
	}

	owner, ok := st.Orchestrator().(orchestrator.LifecycleOwner)
	if !ok {
		if verb == "status" {
			fmt.Fprintf(a.out, "==> orchestrator %q has no managed deployment\n", st.Orchestrator().Descriptor().Name)
			return nil
		}
		return fmt.Errorf("orchestrator %q has no managed deployment to %s", st.Orchestrator().Descriptor().Name, verb)
	}
	ctrl := owner.Controller()

	var res orchestrator.Result
	switch verb {
	case "status":
		state := ctrl.State(ctx)
		fmt.Fprintf(a.out, "==> orchestrator %q: %s\n", st.Orchestrator().Descriptor().Name, state)
		if port := ctrl.DaemonPort(); port > 0 {
			fmt.Fprintf(a.out, "==> pipelines UI: http://localhost:%d\n", port)
		}
		return nil
	case "up":
		if err := ctrl.Up(ctx, st); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "==> orchestrator %q: %s\n", st.Orchestrator().Descriptor().Name, ctrl.State(ctx))
		return nil
	case "down":
		res, err = ctrl.Deprovision(ctx, st)
	case "suspend":
		res, err = ctrl.Suspend(ctx, st)
	case "resume":
		res, err = ctrl.Resume(ctx, st)
	default:
		return fmt.Errorf("unknown stack command %q", verb)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "==> %s: %s (%s -> %s)\n", res.Operation, res.Message, res.From, res.To)
	return nil
}

func (a *app) listFlavors() error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFLAVOR\tINTEGRATION\tDESCRIPTION")
	for _, t := range domain.ComponentTypes {
		for _, f := range a.registry.Flavors(t) {
			integration := f.Integration
			if integration == "" {
				integration = "built-in"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Display(), f.Name, integration, f.Description)
		}
	}
	return tw.Flush()
}

// stepRequest is what a workflow container passes to `pipestack step`.
type stepRequest struct {
	Symbol string
	// Params and Materializers are JSON objects; Materializers maps output
	// names to materializer symbols.
	Params        string
	Materializers string
	// OutputDir receives one file per output. Outputs go to stdout without it.
	OutputDir string
}

// runStep executes one step symbol the way a workflow container does:
// definition defaults overlaid with the JSON parameters it was compiled with.
func (a *app) runStep(ctx context.Context, req stepRequest) error {
	params := map[string]any{}
	if strings.TrimSpace(req.Params) != "" {
		if err := json.Unmarshal([]byte(req.Params), &params); err != nil {
			return fmt.Errorf("decode --params: %w", err)
		}
	}
	bound := map[string]string{}
	if strings.TrimSpace(req.Materializers) != "" {
		if err := json.Unmarshal([]byte(req.Materializers), &bound); err != nil {
			return fmt.Errorf("decode --materializers: %w", err)
		}
	}
	def, err := a.findStep(ctx, req.Symbol)
	if err != nil {
		return err
	}
	materializers := make(map[string]pipeline.Materializer, len(bound))
	for output, name := range bound {
		m, err := a.findMaterializer(ctx, name)
		if err != nil {
			return err
		}
		materializers[output] = m
	}

	merged := make(map[string]any, len(def.Params))
	for k, v := range def.Params {
		merged[k] = v
	}
	for k, v := range params {
		if _, ok := def.Params[k]; !ok {
			return fmt.Errorf("step %q: unknown parameter %q", req.Symbol, k)
		}
		merged[k] = v
	}
	outputs, err := def.Run(ctx, merged)
	if err != nil {
		return fmt.Errorf("step %q: %w", req.Symbol, err)
	}
	return a.writeOutputs(req, outputs, materializers)
}

func (a *app) writeOutputs(req stepRequest, outputs map[string]any, materializers map[string]pipeline.Materializer) error {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	if req.OutputDir != "" {
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	for _, name := range names {
		m, ok := materializers[name]
		if !ok {
			m = pipeline.YAMLMaterializer{}
		}
		data, err := m.Marshal(outputs[name])
		if err != nil {
			return fmt.Errorf("materialize output %q of step %q with %s: %w", name, req.Symbol, m.Name(), err)
		}
		if req.OutputDir == "" {
			fmt.Fprintf(a.out, "--- %s (%s)\n", name, m.Name())
			if _, err := a.out.Write(data); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(filepath.Join(req.OutputDir, name), data, 0o644); err != nil {
			return fmt.Errorf("write output %q of step %q: %w", name, req.Symbol, err)
		}
	}
	return nil
}

func (a *app) findMaterializer(ctx context.Context, name string) (pipeline.Materializer, error) {
	for _, p := range a.catalog.Paths() {
		ns, err := a.catalog.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		if m, ok := ns.Materializer(name); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: materializer %q in %s", resolver.ErrSymbolNotFound, name, strings.Join(a.catalog.Paths(), ", "))
}

func (a *app) findStep(ctx context.Context, symbol string) (pipeline.StepDefinition, error) {
	for _, p := range a.catalog.Paths() {
		ns, err := a.catalog.Load(ctx, p)
		if err != nil {
			return pipeline.StepDefinition{}, err
		}
		if def, ok := ns.Step(symbol); ok {
			return def, nil
		}
	}
	return pipeline.StepDefinition{}, fmt.Errorf("%w: step %q in %s", resolver.ErrSymbolNotFound, symbol, strings.Join(a.catalog.Paths(), ", "))
}

type runLister interface {
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]pipeline.RunRecord, error)
}

func (a *app) listRuns(ctx context.Context, stackPath string, filter repo.RunFilter) error {
	st, err := a.loadStack(stackPath)
	if err != nil {
		return err
	}
	defer a.closeStack(st)
	lister, ok := st.MetadataStore().(runLister)
	if !ok {
		return fmt.Errorf("stack %q has no metadata store that records runs", st.Name())
	}
	runs, err := lister.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].SubmittedAt.After(runs[j].SubmittedAt) })

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPIPELINE\tSTACK\tKIND\tSTATUS\tSUBMITTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunName, r.Pipeline, r.Stack, r.Submission.Kind, r.Submission.Status, r.SubmittedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
