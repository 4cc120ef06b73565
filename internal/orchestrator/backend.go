// Package orchestrator drives an orchestration backend through its
// provisioning lifecycle. The Controller owns policy; backends only expose
// capabilities.
package orchestrator

import "context"

// ClusterSpec carries what a self-managed backend needs to create its
// cluster.
type ClusterSpec struct {
	// RegistryURI is the stack's container registry, e.g. localhost:5000.
	RegistryURI string
	// Volumes are host:container bind mounts.
	Volumes []string
}

// Backend is the capability surface of an orchestration backend. Status checks
// (ClusterExists, ClusterRunning) never fail; they report false when the
// tooling is missing or the backend cannot be reached.
type Backend interface {
	// SelfManaged reports whether this controller owns the backend's
	// create/start/stop/delete lifecycle.
	SelfManaged() bool
	KubernetesContext() string

	CheckPrerequisites(ctx context.Context) error
	ClusterExists(ctx context.Context) bool
	ClusterRunning(ctx context.Context) bool

	CreateCluster(ctx context.Context, spec ClusterSpec) error
	DeleteCluster(ctx context.Context) error
	StartCluster(ctx context.Context) error
	StopCluster(ctx context.Context) error
	DeployPlatform(ctx context.Context) error
	WaitUntilReady(ctx context.Context) error
	MountLocalPath(ctx context.Context, path string) error

	// ManualSteps lists commands an operator can run to set the backend up
	// by hand.
	ManualSteps(spec ClusterSpec, uiPort int) []string
}
