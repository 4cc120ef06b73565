package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/platform/logging"
	"github.com/animus-labs/pipestack/internal/platform/metrics"
	"github.com/animus-labs/pipestack/internal/stack"
)

const (
	pidFileName = "kubeflow_daemon.pid"
	logFileName = "kubeflow_daemon.log"
)

type Config struct {
	ID   uuid.UUID
	Name string
	// RootDir holds the daemon PID and log files and the backend's own
	// configuration files.
	RootDir string
	UIPort  int
	// SharedDir is bind-mounted into a self-managed cluster so local
	// components stored under it stay visible to pipeline steps.
	SharedDir string
}

func (c Config) Validate() error {
	if c.ID == uuid.Nil {
		return errors.New("orchestrator id is required")
	}
	if strings.TrimSpace(c.RootDir) == "" {
		return errors.New("orchestrator root directory is required")
	}
	if c.UIPort < 0 || c.UIPort > 65535 {
		return fmt.Errorf("ui port %d out of range", c.UIPort)
	}
	return nil
}

func (c Config) PIDFile() string { return filepath.Join(c.RootDir, pidFileName) }

func (c Config) LogFile() string { return filepath.Join(c.RootDir, logFileName) }

// TransitionRecord describes one lifecycle operation for the metadata store.
type TransitionRecord struct {
	OrchestratorID uuid.UUID
	Orchestrator   string
	Operation      Operation
	From           domain.DeploymentState
	To             domain.DeploymentState
	Outcome        Outcome
	Message        string
	OccurredAt     time.Time
}

// TransitionRecorder is implemented by metadata stores that keep an audit
// trail of lifecycle operations.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, rec TransitionRecord) error
}

// LifecycleOwner is implemented by orchestrator components backed by a
// Controller.
type LifecycleOwner interface {
	Controller() *Controller
}

// Controller runs lifecycle operations against one backend. Callers must
// serialize operations on the same orchestrator; observations and actions are not
// atomic with respect to each other.
type Controller struct {
	cfg     Config
	backend Backend
	daemon  Daemon
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewController(cfg Config, backend Backend, daemon Daemon, logger *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.UIPort == 0 {
		cfg.UIPort = DefaultUIPort
	}
	if daemon == nil {
		daemon = &ProcessDaemon{
			PIDFile: cfg.PIDFile(),
			LogFile: cfg.LogFile(),
			Binary:  "kubectl",
			Args:    UIDaemonArgs(backend.KubernetesContext()),
		}
	}
	return &Controller{
		cfg:     cfg,
		backend: backend,
		daemon:  daemon,
		logger:  logging.OrDiscard(logger).With("orchestrator", cfg.Name, "orchestrator_id", cfg.ID.String()),
		metrics: m,
		now:     time.Now,
	}, nil
}

func (c *Controller) Config() Config { return c.cfg }

func (c *Controller) Backend() Backend { return c.backend }

// DaemonPort is the port the UI daemon listens on, 0 when it is down.
func (c *Controller) DaemonPort() int { return c.daemon.Port() }

// Observe gathers the observations the deployment state is derived from. It
// is read-only and safe to call when the tooling is absent.
func (c *Controller) Observe(ctx context.Context) domain.DeploymentObservation {
	provisioned := c.backend.CheckPrerequisites(ctx) == nil &&
		c.backend.ClusterExists(ctx) &&
		dirExists(c.cfg.RootDir)
	return domain.DeploymentObservation{
		Provisioned:    provisioned,
		ClusterRunning: provisioned && c.backend.ClusterRunning(ctx),
		DaemonRunning:  c.daemon.Running(),
	}
}

func (c *Controller) State(ctx context.Context) domain.DeploymentState {
	return domain.DeriveDeploymentState(c.Observe(ctx))
}

func (c *Controller) IsProvisioned(ctx context.Context) bool { return c.Observe(ctx).Provisioned }

func (c *Controller) IsRunning(ctx context.Context) bool {
	return c.State(ctx) == domain.DeploymentRunning
}

func (c *Controller) IsSuspended(ctx context.Context) bool {
	return c.State(ctx) == domain.DeploymentProvisionedSuspended
}

func (c *Controller) IsClusterRunning(ctx context.Context) bool { return c.Observe(ctx).ClusterRunning }

func (c *Controller) IsDaemonRunning() bool { return c.daemon.Running() }

func (c *Controller) Provision(ctx context.Context, st *stack.Stack) (Result, error) {
	return c.apply(ctx, OpProvision, st)
}

func (c *Controller) Resume(ctx context.Context, st *stack.Stack) (Result, error) {
	return c.apply(ctx, OpResume, st)
}

func (c *Controller) Suspend(ctx context.Context, st *stack.Stack) (Result, error) {
	return c.apply(ctx, OpSuspend, st)
}

func (c *Controller) Deprovision(ctx context.Context, st *stack.Stack) (Result, error) {
	return c.apply(ctx, OpDeprovision, st)
}

// Up provisions when needed and then resumes, leaving the deployment
// running.
func (c *Controller) Up(ctx context.Context, st *stack.Stack) error {
	if _, err := c.Provision(ctx, st); err != nil {
		return err
	}
	if c.State(ctx) == domain.DeploymentRunning {
		return nil
	}
	_, err := c.Resume(ctx, st)
	return err
}

func (c *Controller) apply(ctx context.Context, op Operation, st *stack.Stack) (Result, error) {
	from := c.State(ctx)
	act := lookupAction(from, op)

	msg, applied, err := act(ctx, c, st)
	res := Result{Operation: op, From: from, Message: msg, Outcome: OutcomeNoop}
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
	case applied:
		res.Outcome = OutcomeApplied
	}
	res.To = c.State(ctx)

	c.metrics.ObserveTransition(string(op), string(from), string(res.Outcome))
	c.record(ctx, st, res, err)

	if err != nil {
		c.logger.Error("lifecycle operation failed", "operation", op, "state", from, "error", err)
		return res, err
	}
	c.logger.Info(msg, "operation", op, "from_state", from, "to_state", res.To, "outcome", res.Outcome)
	return res, nil
}

func (c *Controller) record(ctx context.Context, st *stack.Stack, res Result, opErr error) {
	recorder, ok := st.MetadataStore().(TransitionRecorder)
	if !ok {
		return
	}
	msg := res.Message
	if opErr != nil {
		msg = opErr.Error()
	}
	rec := TransitionRecord{
		OrchestratorID: c.cfg.ID,
		Orchestrator:   c.cfg.Name,
		Operation:      res.Operation,
		From:           res.From,
		To:             res.To,
		Outcome:        res.Outcome,
		Message:        msg,
		OccurredAt:     c.now().UTC(),
	}
	if err := recorder.RecordTransition(ctx, rec); err != nil {
		c.logger.Warn("record lifecycle transition failed", "operation", res.Operation, "error", err)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
