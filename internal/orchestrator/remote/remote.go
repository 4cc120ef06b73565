// Package remote is the backend for an externally managed Kubeflow
// Pipelines installation. It never creates, starts, stops or deletes
// anything.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/platform/cmdexec"
)

var _ orchestrator.Backend = (*Backend)(nil)

// HealthChecker reaches the installation's API.
type HealthChecker interface {
	Healthz(ctx context.Context) error
}

type Backend struct {
	kubeContext  string
	health       HealthChecker
	run          cmdexec.Runner
	readyTimeout time.Duration
	pollInterval time.Duration
}

// New builds a remote backend. health may be nil when no API host is
// configured; the installation is then assumed to be running and the UI is
// reached through the port-forward daemon.
func New(kubeContext string, health HealthChecker, runner cmdexec.Runner) *Backend {
	if runner == nil {
		runner = cmdexec.Exec{}
	}
	return &Backend{
		kubeContext:  kubeContext,
		health:       health,
		run:          runner,
		readyTimeout: 2 * time.Minute,
		pollInterval: 5 * time.Second,
	}
}

func (b *Backend) SelfManaged() bool         { return false }
func (b *Backend) KubernetesContext() string { return b.kubeContext }

// CheckPrerequisites needs kubectl for the UI port-forward.
func (b *Backend) CheckPrerequisites(context.Context) error {
	return b.run.LookPath("kubectl")
}

func (b *Backend) ClusterExists(context.Context) bool { return true }

func (b *Backend) ClusterRunning(ctx context.Context) bool {
	if b.health == nil {
		return true
	}
	return b.health.Healthz(ctx) == nil
}

func (b *Backend) CreateCluster(context.Context, orchestrator.ClusterSpec) error { return nil }
func (b *Backend) DeleteCluster(context.Context) error                           { return nil }
func (b *Backend) StartCluster(context.Context) error                            { return nil }
func (b *Backend) StopCluster(context.Context) error                             { return nil }
func (b *Backend) DeployPlatform(context.Context) error                          { return nil }
func (b *Backend) MountLocalPath(context.Context, string) error                  { return nil }

// WaitUntilReady polls the health endpoint until it answers or the ready
// timeout passes.
func (b *Backend) WaitUntilReady(ctx context.Context) error {
	if b.health == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.readyTimeout)
	defer cancel()
	for {
		err := b.health.Healthz(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("kubeflow pipelines at context %q not reachable: %w", b.kubeContext, err)
		case <-time.After(b.pollInterval):
		}
	}
}

func (b *Backend) ManualSteps(_ orchestrator.ClusterSpec, uiPort int) []string {
	return []string{cmdexec.Command("kubectl", orchestrator.UIDaemonArgs(b.kubeContext)(uiPort)...)}
}
