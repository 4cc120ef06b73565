package domain

// DeploymentState is the composite state of an orchestrator's backend. It is
// never stored; it is derived from three observations on every operation.
type DeploymentState string

const (
	DeploymentNotProvisioned       DeploymentState = "NOT_PROVISIONED"
	DeploymentProvisionedSuspended DeploymentState = "PROVISIONED_SUSPENDED"
	DeploymentRunning              DeploymentState = "RUNNING"
	// DeploymentPartial means resources exist but the cluster and the UI
	// daemon disagree. It needs repair and is never reported as clean.
	DeploymentPartial DeploymentState = "PARTIAL"
)

// DeploymentObservation holds the raw observations a state is derived from.
type DeploymentObservation struct {
	Provisioned    bool
	ClusterRunning bool
	DaemonRunning  bool
}

func DeriveDeploymentState(p DeploymentObservation) DeploymentState {
	switch {
	case !p.Provisioned:
		return DeploymentNotProvisioned
	case p.ClusterRunning && p.DaemonRunning:
		return DeploymentRunning
	case !p.ClusterRunning && !p.DaemonRunning:
		return DeploymentProvisionedSuspended
	default:
		return DeploymentPartial
	}
}
