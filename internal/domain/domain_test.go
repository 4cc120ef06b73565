package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestDeriveDeploymentState(t *testing.T) {
	tests := []struct {
		name string
		obs  DeploymentObservation
		want DeploymentState
	}{
		{"nothing", DeploymentObservation{}, DeploymentNotProvisioned},
		{"observations ignored without resources", DeploymentObservation{ClusterRunning: true, DaemonRunning: true}, DeploymentNotProvisioned},
		{"running", DeploymentObservation{Provisioned: true, ClusterRunning: true, DaemonRunning: true}, DeploymentRunning},
		{"suspended", DeploymentObservation{Provisioned: true}, DeploymentProvisionedSuspended},
		{"cluster only", DeploymentObservation{Provisioned: true, ClusterRunning: true}, DeploymentPartial},
		{"daemon only", DeploymentObservation{Provisioned: true, DaemonRunning: true}, DeploymentPartial},
	}
	for _, tt := range tests {
		if got := DeriveDeploymentState(tt.obs); got != tt.want {
			t.Fatalf("%s: DeriveDeploymentState()=%s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestParseComponentType(t *testing.T) {
	got, err := ParseComponentType("Container-Registry")
	if err != nil || got != ComponentContainerRegistry {
		t.Fatalf("ParseComponentType()=%q err=%v", got, err)
	}
	if _, err := ParseComponentType("feature_store"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if ComponentArtifactStore.Display() != "artifact store" {
		t.Fatalf("Display()=%q", ComponentArtifactStore.Display())
	}
}

func TestDescriptorConfigAccessors(t *testing.T) {
	d := ComponentDescriptor{Config: map[string]any{
		"uri":     " localhost:5000 ",
		"sync":    true,
		"port":    8081,
		"timeout": float64(90),
	}}
	if d.ConfigString("uri", "") != "localhost:5000" {
		t.Fatalf("ConfigString uri")
	}
	if d.ConfigString("missing", "def") != "def" {
		t.Fatalf("ConfigString default")
	}
	if !d.ConfigBool("sync", false) || d.ConfigBool("missing", false) {
		t.Fatalf("ConfigBool")
	}
	if d.ConfigInt("port", 0) != 8081 || d.ConfigInt("timeout", 0) != 90 || d.ConfigInt("missing", 7) != 7 {
		t.Fatalf("ConfigInt")
	}
	if d.IsLocal() {
		t.Fatalf("descriptor without local path must not be local")
	}
	d.LocalPath = "/tmp/store"
	if !d.IsLocal() {
		t.Fatalf("descriptor with local path must be local")
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Key: "steps", Missing: []string{"name", "steps.trainer.source"}}
	msg := err.Error()
	if !strings.Contains(msg, "name, steps.trainer.source") {
		t.Fatalf("message %q does not list missing keys", msg)
	}
}

func TestProvisioningErrorUnwrap(t *testing.T) {
	cause := errors.New("k3d exited 1")
	err := &ProvisioningError{Op: "provision", Message: "cluster creation failed", ManualSteps: []string{"> k3d cluster create"}, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause")
	}
	if !strings.Contains(err.Error(), "> k3d cluster create") {
		t.Fatalf("manual steps missing from %q", err.Error())
	}
}
