package stack

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/registry"
)

type testComponent struct {
	desc domain.ComponentDescriptor
}

func (c testComponent) Descriptor() domain.ComponentDescriptor { return c.desc }

type testRegistry struct {
	testComponent
	uri string
}

func (r testRegistry) URI() string { return r.uri }

func (r testRegistry) IsLocal() bool { return strings.HasPrefix(r.uri, "localhost:") }

type testOrchestrator struct {
	testComponent
	local bool
}

func (o testOrchestrator) RequiredComponents() []domain.ComponentType {
	return []domain.ComponentType{domain.ComponentContainerRegistry}
}

func (o testOrchestrator) StackRule() Rule { return LocalityRule(o.local) }

func comp(t domain.ComponentType, flavor, name, localPath string) testComponent {
	return testComponent{desc: domain.ComponentDescriptor{Type: t, Flavor: flavor, Name: name, LocalPath: localPath}}
}

func containerRegistry(uri string) testRegistry {
	return testRegistry{testComponent: comp(domain.ComponentContainerRegistry, "default", "reg", ""), uri: uri}
}

func orchestrator(local bool) testOrchestrator {
	return testOrchestrator{testComponent: comp(domain.ComponentOrchestrator, "kubeflow", "kf", ""), local: local}
}

func testRegistryWithFlavors(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	factory := func(desc domain.ComponentDescriptor) (registry.Component, error) {
		return testComponent{desc: desc}, nil
	}
	for _, f := range []registry.Flavor{
		{Type: domain.ComponentOrchestrator, Name: "kubeflow", Factory: factory},
		{Type: domain.ComponentArtifactStore, Name: "local", Factory: factory},
		{Type: domain.ComponentArtifactStore, Name: "s3", Factory: factory},
		{Type: domain.ComponentContainerRegistry, Name: "default", Factory: factory},
	} {
		if err := reg.Register(f); err != nil {
			t.Fatalf("Register() err=%v", err)
		}
	}
	return reg
}

func mustStack(t *testing.T, components ...registry.Component) *Stack {
	t.Helper()
	st, err := New("test", components...)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return st
}

func TestNewRejectsDuplicateType(t *testing.T) {
	_, err := New("dup",
		comp(domain.ComponentArtifactStore, "local", "a", "/tmp/a"),
		comp(domain.ComponentArtifactStore, "s3", "b", ""),
	)
	if err == nil {
		t.Fatalf("expected duplicate type error")
	}
}

func TestComponentsDisplayOrder(t *testing.T) {
	st := mustStack(t,
		containerRegistry("localhost:5000"),
		comp(domain.ComponentArtifactStore, "local", "store", "/tmp/store"),
		orchestrator(true),
	)
	got := st.Components()
	want := []domain.ComponentType{domain.ComponentOrchestrator, domain.ComponentArtifactStore, domain.ComponentContainerRegistry}
	for i, c := range got {
		if c.Descriptor().Type != want[i] {
			t.Fatalf("Components()[%d]=%s, want %s", i, c.Descriptor().Type, want[i])
		}
	}
	if st.SecretsManager() != nil {
		t.Fatalf("SecretsManager() should be nil")
	}
}

func TestValidateStructural(t *testing.T) {
	reg := testRegistryWithFlavors(t)
	v := NewValidator(reg, []domain.ComponentType{domain.ComponentContainerRegistry}, nil)

	st := mustStack(t, orchestrator(true))
	ok, reason := v.Validate(st)
	if ok {
		t.Fatalf("Validate() ok for stack without artifact store")
	}
	if !strings.Contains(reason, "artifact store") || !strings.Contains(reason, "container registry") {
		t.Fatalf("reason %q does not list missing types", reason)
	}

	st = mustStack(t, orchestrator(true), comp(domain.ComponentArtifactStore, "local", "s", "/tmp/s"), containerRegistry("localhost:5000"))
	if ok, reason := v.Validate(st); !ok {
		t.Fatalf("Validate() = false, %q", reason)
	}
}

func TestValidateUnknownFlavor(t *testing.T) {
	reg := testRegistryWithFlavors(t)
	st := mustStack(t, orchestrator(true), comp(domain.ComponentArtifactStore, "gcs", "s", ""))
	ok, reason := NewValidator(reg, nil, nil).Validate(st)
	if ok || !strings.Contains(reason, `"gcs"`) {
		t.Fatalf("Validate() = %v, %q", ok, reason)
	}
}

func TestLocalityRule(t *testing.T) {
	tests := []struct {
		name       string
		local      bool
		components []registry.Component
		wantOK     bool
		wantReason string
	}{
		{
			name:       "remote with local artifact store",
			local:      false,
			components: []registry.Component{comp(domain.ComponentArtifactStore, "local", "local_store", "/tmp/x"), containerRegistry("gcr.io/acme")},
			wantReason: "local_store",
		},
		{
			name:       "remote with local registry",
			local:      false,
			components: []registry.Component{comp(domain.ComponentArtifactStore, "s3", "s3_store", ""), containerRegistry("localhost:5000")},
			wantReason: "localhost:5000",
		},
		{
			name:       "remote all remote",
			local:      false,
			components: []registry.Component{comp(domain.ComponentArtifactStore, "s3", "s3_store", ""), containerRegistry("gcr.io/acme")},
			wantOK:     true,
		},
		{
			name:       "local with remote registry",
			local:      true,
			components: []registry.Component{comp(domain.ComponentArtifactStore, "local", "local_store", "/tmp/x"), containerRegistry("gcr.io/acme")},
			wantReason: "gcr.io/acme",
		},
		{
			name:       "local with local registry and local store",
			local:      true,
			components: []registry.Component{comp(domain.ComponentArtifactStore, "local", "local_store", "/tmp/x"), containerRegistry("localhost:5000")},
			wantOK:     true,
		},
	}
	for _, tt := range tests {
		st := mustStack(t, tt.components...)
		ok, reason := LocalityRule(tt.local)(st)
		if ok != tt.wantOK {
			t.Fatalf("%s: ok=%v, want %v (reason %q)", tt.name, ok, tt.wantOK, reason)
		}
		if !tt.wantOK && !strings.Contains(reason, tt.wantReason) {
			t.Fatalf("%s: reason %q does not mention %q", tt.name, reason, tt.wantReason)
		}
	}
}

func TestValidatorForUsesComponentRequirements(t *testing.T) {
	reg := testRegistryWithFlavors(t)

	st := mustStack(t, orchestrator(false), comp(domain.ComponentArtifactStore, "local", "local_store", "/tmp/x"))
	ok, reason := ValidatorFor(reg, st).Validate(st)
	if ok || !strings.Contains(reason, "container registry") {
		t.Fatalf("Validate() = %v, %q; want missing container registry", ok, reason)
	}

	st = mustStack(t, orchestrator(false), comp(domain.ComponentArtifactStore, "local", "local_store", "/tmp/x"), containerRegistry("gcr.io/acme"))
	ok, reason = ValidatorFor(reg, st).Validate(st)
	if ok || !strings.Contains(reason, "local_store") {
		t.Fatalf("Validate() = %v, %q; want locality failure", ok, reason)
	}

	// Replacing the local component makes the same orchestrator valid.
	st = mustStack(t, orchestrator(false), comp(domain.ComponentArtifactStore, "s3", "s3_store", ""), containerRegistry("gcr.io/acme"))
	if ok, reason := ValidatorFor(reg, st).Validate(st); !ok {
		t.Fatalf("Validate() = false, %q", reason)
	}
}

const stackYAML = `
name: dev
components:
  - type: orchestrator
    flavor: kubeflow
    name: kf
  - type: artifact-store
    flavor: local
    name: store
    local_path: /tmp/store
  - type: container_registry
    flavor: default
    name: reg
    uuid: 0b5a5b2e-8f3c-4d8e-a1a0-6c1f9b0d2e11
    config:
      uri: localhost:5000
`

func TestParseConfigAndAssemble(t *testing.T) {
	cfg, err := ParseConfig([]byte(stackYAML))
	if err != nil {
		t.Fatalf("ParseConfig() err=%v", err)
	}
	descs, err := cfg.Descriptors()
	if err != nil {
		t.Fatalf("Descriptors() err=%v", err)
	}
	if descs[1].Type != domain.ComponentArtifactStore || !descs[1].IsLocal() {
		t.Fatalf("artifact store descriptor = %+v", descs[1])
	}
	if descs[2].UUID.String() != "0b5a5b2e-8f3c-4d8e-a1a0-6c1f9b0d2e11" {
		t.Fatalf("explicit uuid not kept: %s", descs[2].UUID)
	}

	again, _ := cfg.Descriptors()
	if descs[0].UUID != again[0].UUID {
		t.Fatalf("derived uuid changed between calls: %s vs %s", descs[0].UUID, again[0].UUID)
	}

	st, err := Assemble(testRegistryWithFlavors(t), cfg)
	if err != nil {
		t.Fatalf("Assemble() err=%v", err)
	}
	if st.Name() != "dev" || len(st.Components()) != 3 {
		t.Fatalf("Assemble() = %s with %d components", st.Name(), len(st.Components()))
	}
}

func TestParseConfigAggregatesIssues(t *testing.T) {
	_, err := ParseConfig([]byte(`
components:
  - type: feature_store
    flavor: feast
    name: fs
  - type: orchestrator
    name: kf
  - type: orchestrator
    flavor: local
    name: other
    uuid: nope
`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ParseConfig() err=%v, want ValidationError", err)
	}
	if len(verr.Issues) != 5 {
		t.Fatalf("issues=%v, want 5", verr.Issues)
	}
}

func TestAssembleUnknownFlavor(t *testing.T) {
	cfg := Config{Name: "x", Components: []ComponentConfig{{Type: "orchestrator", Flavor: "airflow", Name: "a"}}}
	_, err := Assemble(testRegistryWithFlavors(t), cfg)
	if !errors.Is(err, registry.ErrFlavorNotFound) {
		t.Fatalf("Assemble() err=%v, want ErrFlavorNotFound", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.yaml")
	if err := os.WriteFile(path, []byte(stackYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() err=%v", err)
	}
	if cfg.Name != "dev" {
		t.Fatalf("Name=%q", cfg.Name)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
