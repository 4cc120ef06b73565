package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/stack"
)

type Operation string

const (
	OpProvision   Operation = "provision"
	OpResume      Operation = "resume"
	OpSuspend     Operation = "suspend"
	OpDeprovision Operation = "deprovision"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeFailed  Outcome = "failed"
)

// Result reports what a lifecycle operation found and left behind.
type Result struct {
	Operation Operation
	From      domain.DeploymentState
	To        domain.DeploymentState
	Outcome   Outcome
	Message   string
}

// action performs one transition. applied is false for informational no-ops.
type action func(ctx context.Context, c *Controller, st *stack.Stack) (msg string, applied bool, err error)

var dispatch = map[domain.DeploymentState]map[Operation]action{
	domain.DeploymentNotProvisioned: {
		OpProvision:   provisionAction,
		OpResume:      notProvisionedAction,
		OpSuspend:     noop("deployment not provisioned"),
		OpDeprovision: cleanupAction,
	},
	domain.DeploymentProvisionedSuspended: {
		OpProvision:   noop("deployment already provisioned and suspended; resume it to start it"),
		OpResume:      resumeAction,
		OpSuspend:     noop("deployment already suspended"),
		OpDeprovision: deprovisionAction,
	},
	domain.DeploymentRunning: {
		OpProvision:   noop("found an existing deployment; if it misbehaves, deprovision it and provision again"),
		OpResume:      noop("deployment already running"),
		OpSuspend:     suspendAction,
		OpDeprovision: deprovisionAction,
	},
	domain.DeploymentPartial: {
		OpProvision:   repairAction,
		OpResume:      resumeAction,
		OpSuspend:     suspendAction,
		OpDeprovision: deprovisionAction,
	},
}

func lookupAction(state domain.DeploymentState, op Operation) action {
	if byOp, ok := dispatch[state]; ok {
		if act, ok := byOp[op]; ok {
			return act
		}
	}
	return func(context.Context, *Controller, *stack.Stack) (string, bool, error) {
		return "", false, fmt.Errorf("no %s transition from state %s", op, state)
	}
}

func noop(msg string) action {
	return func(context.Context, *Controller, *stack.Stack) (string, bool, error) {
		return msg, false, nil
	}
}

func notProvisionedAction(context.Context, *Controller, *stack.Stack) (string, bool, error) {
	return "", false, &domain.ProvisioningError{
		Op:      string(OpResume),
		Message: "no resources provisioned for the deployment",
	}
}

func provisionAction(ctx context.Context, c *Controller, st *stack.Stack) (string, bool, error) {
	if err := c.backend.CheckPrerequisites(ctx); err != nil {
		return "", false, &domain.ProvisioningError{
			Op:      string(OpProvision),
			Message: "install k3d and kubectl and try again",
			Err:     err,
		}
	}
	cr := st.ContainerRegistry()
	if cr == nil {
		return "", false, &domain.ProvisioningError{
			Op:      string(OpProvision),
			Message: "the stack has no container registry",
		}
	}
	if err := os.MkdirAll(c.cfg.RootDir, 0o755); err != nil {
		return "", false, &domain.ProvisioningError{Op: string(OpProvision), Message: "create root directory", Err: err}
	}
	if !c.backend.SelfManaged() {
		return "using an externally managed deployment; no resources provisioned", true, nil
	}

	spec := ClusterSpec{RegistryURI: stack.RegistryURI(cr)}
	if c.cfg.SharedDir != "" {
		spec.Volumes = []string{c.cfg.SharedDir + ":" + c.cfg.SharedDir}
	}
	c.logger.Info("provisioning local deployment", "kubernetes_context", c.backend.KubernetesContext())

	if err := c.provisionResources(ctx, st, spec); err != nil {
		steps := c.backend.ManualSteps(spec, c.cfg.UIPort)
		c.logger.Error("unable to provision local deployment, rolling back", "error", err)
		if _, _, derr := deprovisionAction(ctx, c, st); derr != nil {
			c.logger.Warn("rollback incomplete", "error", derr)
		}
		return "", false, &domain.ProvisioningError{
			Op:          string(OpProvision),
			Message:     "local deployment could not be created and was rolled back",
			ManualSteps: steps,
			Err:         err,
		}
	}
	return "local deployment provisioned", true, nil
}

func (c *Controller) provisionResources(ctx context.Context, st *stack.Stack, spec ClusterSpec) error {
	if !c.backend.ClusterExists(ctx) {
		if err := c.backend.CreateCluster(ctx, spec); err != nil {
			return fmt.Errorf("create cluster: %w", err)
		}
	}
	if err := c.backend.DeployPlatform(ctx); err != nil {
		return fmt.Errorf("deploy platform: %w", err)
	}
	if as := st.ArtifactStore(); as != nil && as.Descriptor().IsLocal() {
		if err := c.backend.MountLocalPath(ctx, as.Descriptor().LocalPath); err != nil {
			return fmt.Errorf("mount artifact store path: %w", err)
		}
	}
	return c.startDaemon()
}

// repairAction finishes a half-provisioned self-managed deployment. An
// externally managed one is left alone; provisioning it only creates the
// root directory.
func repairAction(ctx context.Context, c *Controller, st *stack.Stack) (string, bool, error) {
	if !c.backend.SelfManaged() {
		return "using an externally managed deployment; nothing to provision", false, nil
	}
	return resumeAction(ctx, c, st)
}

func resumeAction(ctx context.Context, c *Controller, _ *stack.Stack) (string, bool, error) {
	if !c.backend.ClusterRunning(ctx) {
		if err := c.backend.StartCluster(ctx); err != nil {
			return "", false, &domain.ProvisioningError{Op: string(OpResume), Message: "start cluster", Err: err}
		}
		if err := c.backend.WaitUntilReady(ctx); err != nil {
			return "", false, &domain.ProvisioningError{Op: string(OpResume), Message: "wait for platform", Err: err}
		}
	}
	if err := c.startDaemon(); err != nil {
		return "", false, &domain.ProvisioningError{Op: string(OpResume), Message: "start ui daemon", Err: err}
	}
	return fmt.Sprintf("deployment running, ui on port %d", c.daemon.Port()), true, nil
}

func (c *Controller) startDaemon() error {
	if c.daemon.Running() {
		return nil
	}
	port, err := SelectPort(c.cfg.UIPort)
	if err != nil {
		return err
	}
	if port != c.cfg.UIPort {
		c.logger.Warn("ui port occupied, using another", "configured_port", c.cfg.UIPort, "port", port)
	}
	return c.daemon.Start(port)
}

func suspendAction(ctx context.Context, c *Controller, _ *stack.Stack) (string, bool, error) {
	if c.daemon.Running() {
		if err := c.daemon.Stop(); err != nil {
			return "", false, &domain.ProvisioningError{Op: string(OpSuspend), Message: "stop ui daemon", Err: err}
		}
	}
	if c.backend.SelfManaged() && c.backend.ClusterRunning(ctx) {
		if err := c.backend.StopCluster(ctx); err != nil {
			return "", false, &domain.ProvisioningError{Op: string(OpSuspend), Message: "stop cluster", Err: err}
		}
	}
	return "deployment suspended", true, nil
}

// cleanupAction stops the daemon and drops its log. It never touches the
// cluster, which is not considered ours without a provisioned root directory.
func cleanupAction(_ context.Context, c *Controller, _ *stack.Stack) (string, bool, error) {
	var errs []string
	if c.daemon.Running() {
		if err := c.daemon.Stop(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := os.Remove(c.cfg.LogFile()); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return "", false, &domain.ProvisioningError{Op: string(OpDeprovision), Message: strings.Join(errs, "; ")}
	}
	return "deployment not provisioned; cleaned up daemon state", false, nil
}

// deprovisionAction tears down whatever exists. Every step checks first, so
// it is safe from any state.
func deprovisionAction(ctx context.Context, c *Controller, _ *stack.Stack) (string, bool, error) {
	var errs []string
	if c.daemon.Running() {
		if err := c.daemon.Stop(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.backend.SelfManaged() && c.backend.ClusterExists(ctx) {
		if err := c.backend.DeleteCluster(ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := os.Remove(c.cfg.LogFile()); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return "", false, &domain.ProvisioningError{Op: string(OpDeprovision), Message: strings.Join(errs, "; ")}
	}
	return "deployment deprovisioned", true, nil
}
