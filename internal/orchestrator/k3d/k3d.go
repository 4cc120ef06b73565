// Package k3d is the self-managed local backend: a k3d cluster running
// Kubeflow Pipelines next to a local container registry.
package k3d

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/platform/cmdexec"
)

const (
	K3sImage   = "rancher/k3s:v1.21.14-k3s1"
	KFPVersion = "1.8.1"
	Namespace  = "kubeflow"

	RegistryConfigFile = "k3d_registry.yaml"
	ArtifactVolumeFile = "local_artifact_store.yaml"
	ArtifactVolumeName = "local-artifact-store"

	clusterPrefix = "pipestack-kubeflow-"
)

var _ orchestrator.Backend = (*Backend)(nil)

// ClusterName derives the cluster name from an orchestrator id.
func ClusterName(orchestratorID string) string {
	id := strings.ReplaceAll(orchestratorID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return clusterPrefix + id
}

func ContextFor(cluster string) string { return "k3d-" + cluster }

func RegistryName(port int) string {
	return fmt.Sprintf("k3d-pipestack-kubeflow-registry.localhost:%d", port)
}

type Config struct {
	ClusterName string
	// RootDir holds the generated registry config and volume manifests.
	RootDir      string
	ReadyTimeout time.Duration
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.ClusterName, clusterPrefix) {
		return fmt.Errorf("cluster name %q must start with %s", c.ClusterName, clusterPrefix)
	}
	if strings.TrimSpace(c.RootDir) == "" {
		return errors.New("root directory is required")
	}
	return nil
}

type Backend struct {
	cfg Config
	run cmdexec.Runner
}

func New(cfg Config, runner cmdexec.Runner) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Minute
	}
	if runner == nil {
		runner = cmdexec.Exec{}
	}
	return &Backend{cfg: cfg, run: runner}, nil
}

func (b *Backend) ClusterName() string       { return b.cfg.ClusterName }
func (b *Backend) SelfManaged() bool         { return true }
func (b *Backend) KubernetesContext() string { return ContextFor(b.cfg.ClusterName) }

func (b *Backend) CheckPrerequisites(context.Context) error {
	var errs []error
	for _, bin := range []string{"k3d", "kubectl"} {
		if err := b.run.LookPath(bin); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) ClusterExists(ctx context.Context) bool {
	_, err := b.run.Run(ctx, "k3d", "cluster", "get", b.cfg.ClusterName)
	return err == nil
}

type clusterStatus struct {
	Name           string `json:"name"`
	ServersRunning int    `json:"serversRunning"`
}

func (b *Backend) ClusterRunning(ctx context.Context) bool {
	out, err := b.run.Run(ctx, "k3d", "cluster", "list", "--output", "json")
	if err != nil {
		return false
	}
	var clusters []clusterStatus
	if err := json.Unmarshal(out, &clusters); err != nil {
		return false
	}
	for _, c := range clusters {
		if c.Name == b.cfg.ClusterName {
			return c.ServersRunning > 0
		}
	}
	return false
}

func (b *Backend) registryConfigPath() string {
	return filepath.Join(b.cfg.RootDir, RegistryConfigFile)
}

func registryPort(uri string) (int, error) {
	idx := strings.LastIndex(uri, ":")
	if idx < 0 {
		return 0, fmt.Errorf("registry uri %q has no port", uri)
	}
	port, err := strconv.Atoi(uri[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("registry uri %q has an invalid port", uri)
	}
	return port, nil
}

// WriteRegistryConfig writes the k3d registries file mirroring uri to the
// in-cluster registry.
func WriteRegistryConfig(path, registryName, uri string) error {
	doc := map[string]any{
		"mirrors": map[string]any{
			uri: map[string]any{"endpoint": []string{"http://" + registryName}},
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode registry config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (b *Backend) createArgs(spec orchestrator.ClusterSpec, registryName string) []string {
	args := []string{
		"cluster", "create", b.cfg.ClusterName,
		"--image", K3sImage,
		"--registry-create", registryName,
		"--registry-config", b.registryConfigPath(),
	}
	for _, v := range spec.Volumes {
		args = append(args, "--volume", v)
	}
	return args
}

func (b *Backend) CreateCluster(ctx context.Context, spec orchestrator.ClusterSpec) error {
	port, err := registryPort(spec.RegistryURI)
	if err != nil {
		return err
	}
	name := RegistryName(port)
	if err := WriteRegistryConfig(b.registryConfigPath(), name, spec.RegistryURI); err != nil {
		return err
	}
	_, err = b.run.Run(ctx, "k3d", b.createArgs(spec, name)...)
	return err
}

func (b *Backend) DeleteCluster(ctx context.Context) error {
	_, err := b.run.Run(ctx, "k3d", "cluster", "delete", b.cfg.ClusterName)
	return err
}

func (b *Backend) StartCluster(ctx context.Context) error {
	_, err := b.run.Run(ctx, "k3d", "cluster", "start", b.cfg.ClusterName)
	return err
}

func (b *Backend) StopCluster(ctx context.Context) error {
	_, err := b.run.Run(ctx, "k3d", "cluster", "stop", b.cfg.ClusterName)
	return err
}

func kustomizeURL(path string) string {
	return fmt.Sprintf("github.com/kubeflow/pipelines/manifests/kustomize/%s?ref=%s&timeout=1m", path, KFPVersion)
}

func (b *Backend) deployCommands() [][]string {
	kctx := b.KubernetesContext()
	return [][]string{
		{"--context", kctx, "apply", "-k", kustomizeURL("cluster-scoped-resources")},
		{"--context", kctx, "wait", "--timeout=60s", "--for", "condition=established", "crd/applications.app.k8s.io"},
		{"--context", kctx, "apply", "-k", kustomizeURL("env/platform-agnostic-pns")},
	}
}

func (b *Backend) DeployPlatform(ctx context.Context) error {
	for _, args := range b.deployCommands() {
		if _, err := b.run.Run(ctx, "kubectl", args...); err != nil {
			return err
		}
	}
	return b.WaitUntilReady(ctx)
}

func (b *Backend) WaitUntilReady(ctx context.Context) error {
	_, err := b.run.Run(ctx, "kubectl",
		"--context", b.KubernetesContext(),
		"--namespace", Namespace,
		"wait", "--for", "condition=available",
		fmt.Sprintf("--timeout=%ds", int(b.cfg.ReadyTimeout.Seconds())),
		"deployment", "--all",
	)
	return err
}

// artifactVolumeManifest is a hostPath volume and claim exposing path to
// pipeline pods at the same location.
func artifactVolumeManifest(path string) ([]byte, error) {
	pv := map[string]any{
		"apiVersion": "v1",
		"kind":       "PersistentVolume",
		"metadata":   map[string]any{"name": ArtifactVolumeName},
		"spec": map[string]any{
			"capacity":                      map[string]any{"storage": "10Gi"},
			"accessModes":                   []string{"ReadWriteMany"},
			"persistentVolumeReclaimPolicy": "Retain",
			"storageClassName":              "manual",
			"hostPath":                      map[string]any{"path": path, "type": "DirectoryOrCreate"},
		},
	}
	pvc := map[string]any{
		"apiVersion": "v1",
		"kind":       "PersistentVolumeClaim",
		"metadata":   map[string]any{"name": ArtifactVolumeName, "namespace": Namespace},
		"spec": map[string]any{
			"accessModes":      []string{"ReadWriteMany"},
			"storageClassName": "manual",
			"volumeName":       ArtifactVolumeName,
			"resources":        map[string]any{"requests": map[string]any{"storage": "10Gi"}},
		},
	}
	var out []byte
	for i, doc := range []map[string]any{pv, pvc} {
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out = append(out, "---\n"...)
		}
		out = append(out, data...)
	}
	return out, nil
}

func (b *Backend) MountLocalPath(ctx context.Context, path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("local path %q must be absolute", path)
	}
	manifest, err := artifactVolumeManifest(path)
	if err != nil {
		return fmt.Errorf("encode volume manifest: %w", err)
	}
	file := filepath.Join(b.cfg.RootDir, ArtifactVolumeFile)
	if err := os.WriteFile(file, manifest, 0o644); err != nil {
		return err
	}
	_, err = b.run.Run(ctx, "kubectl", "--context", b.KubernetesContext(), "apply", "-f", file)
	return err
}

func (b *Backend) ManualSteps(spec orchestrator.ClusterSpec, uiPort int) []string {
	name := "REGISTRY_NAME"
	if port, err := registryPort(spec.RegistryURI); err == nil {
		name = RegistryName(port)
	}
	steps := []string{cmdexec.Command("k3d", b.createArgs(spec, name)...)}
	for _, args := range b.deployCommands() {
		steps = append(steps, cmdexec.Command("kubectl", args...))
	}
	steps = append(steps, cmdexec.Command("kubectl", orchestrator.UIDaemonArgs(b.KubernetesContext())(uiPort)...))
	return steps
}
