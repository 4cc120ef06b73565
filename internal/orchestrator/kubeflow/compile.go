package kubeflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipestack/internal/orchestrator/k3d"
	"github.com/animus-labs/pipestack/internal/pipeline"
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// dnsName lowercases name into a Kubernetes-safe identifier.
func dnsName(name string) string {
	out := invalidNameChars.ReplaceAllString(strings.ToLower(name), "-")
	out = strings.Trim(out, "-")
	if len(out) > 63 {
		out = strings.TrimRight(out[:63], "-")
	}
	if out == "" {
		out = "step"
	}
	return out
}

// CompileInput is what the workflow manifest is built from.
type CompileInput struct {
	Pipeline *pipeline.Pipeline
	Image    string
	Env      map[string]string
	// ArtifactPath is the local artifact store path mounted into every
	// step, empty for remote artifact stores.
	ArtifactPath string
	// RunName places step outputs under ArtifactPath/runs/<RunName>.
	RunName string
}

// Compile renders the pipeline as an Argo workflow that runs its steps one
// after another, in slot order.
func Compile(in CompileInput) ([]byte, error) {
	p := in.Pipeline
	if p == nil {
		return nil, errors.New("pipeline is required")
	}
	if strings.TrimSpace(in.Image) == "" {
		return nil, errors.New("image is required")
	}

	var env []map[string]any
	keys := make([]string, 0, len(in.Env))
	for k := range in.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, map[string]any{"name": k, "value": in.Env[k]})
	}

	entry := dnsName(p.Name())
	var sequence []any
	templates := []any{nil}
	for _, slot := range p.Slots() {
		step, _ := p.Step(slot)
		params, err := json.Marshal(step.Params())
		if err != nil {
			return nil, fmt.Errorf("encode parameters of step %q: %w", slot, err)
		}
		name := dnsName(slot)
		command := []string{
			"pipestack", "step",
			"--pipeline", p.Name(),
			"--slot", slot,
			"--symbol", step.Symbol(),
			"--params", string(params),
		}
		if bound := materializerNames(step); len(bound) > 0 {
			data, err := json.Marshal(bound)
			if err != nil {
				return nil, fmt.Errorf("encode materializers of step %q: %w", slot, err)
			}
			command = append(command, "--materializers", string(data))
		}
		if in.ArtifactPath != "" && in.RunName != "" {
			command = append(command, "--output-dir", path.Join(in.ArtifactPath, "runs", in.RunName, slot))
		}
		container := map[string]any{
			"image":   in.Image,
			"command": command,
		}
		if len(env) > 0 {
			container["env"] = env
		}
		if in.ArtifactPath != "" {
			container["volumeMounts"] = []map[string]any{{"name": k3d.ArtifactVolumeName, "mountPath": in.ArtifactPath}}
		}
		templates = append(templates, map[string]any{"name": name, "container": container})
		sequence = append(sequence, []map[string]any{{"name": name, "template": name}})
	}
	templates[0] = map[string]any{"name": entry, "steps": sequence}

	spec := map[string]any{
		"entrypoint":         entry,
		"serviceAccountName": "pipeline-runner",
		"templates":          templates,
	}
	if in.ArtifactPath != "" {
		spec["volumes"] = []map[string]any{{
			"name":                  k3d.ArtifactVolumeName,
			"persistentVolumeClaim": map[string]any{"claimName": k3d.ArtifactVolumeName},
		}}
	}
	cache := "true"
	if !p.EnableCache() {
		cache = "false"
	}
	wf := map[string]any{
		"apiVersion": "argoproj.io/v1alpha1",
		"kind":       "Workflow",
		"metadata": map[string]any{
			"generateName": entry + "-",
			"labels":       map[string]any{"pipelines.kubeflow.org/cache_enabled": cache},
		},
		"spec": spec,
	}
	return yaml.Marshal(wf)
}

// materializerNames maps each bound output to its materializer symbol.
func materializerNames(step *pipeline.Step) map[string]string {
	bound := step.Materializers()
	out := make(map[string]string, len(bound))
	for output, m := range bound {
		out[output] = m.Name()
	}
	return out
}

// WritePackage stores a compiled manifest under dir/pipelines.
func WritePackage(dir, pipelineName string, manifest []byte) (string, error) {
	path := packagePath(dir, pipelineName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, manifest, 0o644); err != nil {
		return "", fmt.Errorf("write pipeline package: %w", err)
	}
	return path, nil
}

func packagePath(dir, pipelineName string) string {
	return filepath.Join(dir, "pipelines", dnsName(pipelineName)+".yaml")
}
