package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/resolver"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a, err := newApp(Config{ConfigDir: t.TempDir(), BuildContext: t.TempDir()}, nil, &out)
	if err != nil {
		t.Fatalf("newApp() err=%v", err)
	}
	return a, &out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func localStackFile(t *testing.T, dir, artifacts string) string {
	t.Helper()
	return writeFile(t, dir, "stack.yaml", `
name: dev
components:
  - type: orchestrator
    flavor: local
    name: runner
  - type: artifact_store
    flavor: local
    name: files
    local_path: `+artifacts+`
`)
}

const trainingDoc = `
name: training_pipeline
run_name: nightly
steps:
  importer:
    source: {name: importer}
    parameters: {rows: 10}
  trainer:
    source: {name: trainer}
  evaluator:
    source: {name: evaluator}
`

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ok", cfg: Config{ConfigDir: "/tmp/p", BuildContext: "/src"}},
		{name: "missing config dir", cfg: Config{BuildContext: "/src"}, wantErr: true},
		{name: "bad pushgateway", cfg: Config{ConfigDir: "/tmp/p", BuildContext: "/src", PushgatewayURL: "localhost:9091"}, wantErr: true},
		{name: "pushgateway", cfg: Config{ConfigDir: "/tmp/p", BuildContext: "/src", PushgatewayURL: "http://localhost:9091"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIPESTACK_CONFIG_DIR", dir)
	t.Setenv("PIPESTACK_STACK_FILE", filepath.Join(dir, "stack.yaml"))
	t.Setenv("PIPESTACK_BUILD_CONTEXT", dir)
	t.Setenv("PIPESTACK_PUSHGATEWAY_URL", "")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.ConfigDir != dir || cfg.StackFile != filepath.Join(dir, "stack.yaml") {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestRunLocalStack(t *testing.T) {
	a, out := newTestApp(t)
	dir := t.TempDir()
	artifacts := filepath.Join(dir, "artifacts")
	stackFile := localStackFile(t, dir, artifacts)
	doc := writeFile(t, dir, "run.yaml", trainingDoc)

	err := a.dispatch(context.Background(), []string{"run", "pipelines/training.go", "--config", doc, "--stack", stackFile})
	if err != nil {
		t.Fatalf("run err=%v", err)
	}
	if !strings.Contains(out.String(), "==> submitted run: nightly") {
		t.Fatalf("output=%q", out.String())
	}
	data, err := os.ReadFile(filepath.Join(artifacts, "runs", "nightly", "importer", "dataset"))
	if err != nil {
		t.Fatalf("read importer outputs: %v", err)
	}
	if !strings.Contains(string(data), "rows: 10") {
		t.Fatalf("importer outputs=%q", data)
	}
}

func TestRunRequiresStack(t *testing.T) {
	a, _ := newTestApp(t)
	doc := writeFile(t, t.TempDir(), "run.yaml", trainingDoc)

	_, err := a.runPipeline(context.Background(), "pipelines/training.go", doc, "")
	if !errors.Is(err, errNoStack) {
		t.Fatalf("err=%v, want errNoStack", err)
	}
}

func TestRunInlineStackWithoutArtifactStoreFailsValidation(t *testing.T) {
	a, _ := newTestApp(t)
	doc := writeFile(t, t.TempDir(), "run.yaml", trainingDoc+`
stack:
  name: inline
  components:
    - type: orchestrator
      flavor: local
      name: runner
`)
	_, err := a.runPipeline(context.Background(), "pipelines/training.go", doc, "")
	if !errors.Is(err, pipeline.ErrStackInvalid) {
		t.Fatalf("err=%v, want ErrStackInvalid", err)
	}
	if !strings.Contains(err.Error(), "artifact store") {
		t.Fatalf("err=%v, want the missing artifact store named", err)
	}
}

func TestRunUsageErrors(t *testing.T) {
	a, _ := newTestApp(t)
	for _, args := range [][]string{nil, {"run"}, {"stack"}, {"flavor"}, {"step"}, {"bogus"}} {
		if err := a.dispatch(context.Background(), args); !errors.Is(err, errUsage) {
			t.Fatalf("dispatch(%v) err=%v, want errUsage", args, err)
		}
	}
}

func TestStackValidateAndStatus(t *testing.T) {
	a, out := newTestApp(t)
	dir := t.TempDir()
	stackFile := localStackFile(t, dir, filepath.Join(dir, "artifacts"))

	if err := a.dispatch(context.Background(), []string{"stack", "validate", "--stack", stackFile}); err != nil {
		t.Fatalf("stack validate err=%v", err)
	}
	if !strings.Contains(out.String(), `stack "dev" is valid`) {
		t.Fatalf("output=%q", out.String())
	}

	if err := a.dispatch(context.Background(), []string{"stack", "status", "--stack", stackFile}); err != nil {
		t.Fatalf("stack status err=%v", err)
	}
	if !strings.Contains(out.String(), "has no managed deployment") {
		t.Fatalf("output=%q", out.String())
	}
	if err := a.dispatch(context.Background(), []string{"stack", "up", "--stack", stackFile}); err == nil {
		t.Fatalf("stack up on a local orchestrator should fail")
	}
}

func TestFlavorList(t *testing.T) {
	a, out := newTestApp(t)
	if err := a.dispatch(context.Background(), []string{"flavor", "list"}); err != nil {
		t.Fatalf("flavor list err=%v", err)
	}
	for _, want := range []string{"kubeflow", "postgres", "secrets manager", "artifact store"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("flavor list missing %q:\n%s", want, out.String())
		}
	}
}

func TestStepCommand(t *testing.T) {
	a, out := newTestApp(t)
	err := a.dispatch(context.Background(), []string{"step", "--pipeline", "training_pipeline", "--slot", "trainer", "--symbol", "trainer", "--params", `{"epochs": 2, "learning_rate": 0.5}`})
	if err != nil {
		t.Fatalf("step err=%v", err)
	}
	if !strings.Contains(out.String(), "score: 0.75") {
		t.Fatalf("output=%q", out.String())
	}

	if err := a.runStep(context.Background(), stepRequest{Symbol: "trainer", Params: `{"momentum": 1}`}); err == nil {
		t.Fatalf("expected unknown parameter error")
	}
	if err := a.runStep(context.Background(), stepRequest{Symbol: "missing"}); !errors.Is(err, resolver.ErrSymbolNotFound) {
		t.Fatalf("err=%v, want ErrSymbolNotFound", err)
	}
}

func TestStepCommandWritesBoundMaterializer(t *testing.T) {
	a, _ := newTestApp(t)
	dir := filepath.Join(t.TempDir(), "outputs")
	err := a.dispatch(context.Background(), []string{"step", "--symbol", "trainer",
		"--params", `{"epochs": 2, "learning_rate": 0.5}`,
		"--materializers", `{"model": "JSONMaterializer"}`,
		"--output-dir", dir})
	if err != nil {
		t.Fatalf("step err=%v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "model"))
	if err != nil {
		t.Fatalf("read model output: %v", err)
	}
	var model map[string]any
	if err := json.Unmarshal(data, &model); err != nil {
		t.Fatalf("model output is not JSON: %v (%q)", err, data)
	}
	if model["score"] != 0.75 {
		t.Fatalf("model=%v", model)
	}
}

func TestStepCommandUnknownMaterializer(t *testing.T) {
	a, _ := newTestApp(t)
	err := a.runStep(context.Background(), stepRequest{Symbol: "trainer", Materializers: `{"model": "ParquetMaterializer"}`})
	if !errors.Is(err, resolver.ErrSymbolNotFound) {
		t.Fatalf("err=%v, want ErrSymbolNotFound", err)
	}
}
