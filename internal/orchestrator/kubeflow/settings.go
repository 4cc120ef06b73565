package kubeflow

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/orchestrator/k3d"
	"github.com/animus-labs/pipestack/internal/platform/auth"
)

const (
	FlavorName     = "kubeflow"
	DefaultTimeout = 1200 * time.Second
	imageRepo      = "pipestack-kubeflow"
)

// Settings are the kubeflow orchestrator's component config values.
type Settings struct {
	KubernetesContext string
	UIPort            int
	CustomBaseImage   string
	Synchronous       bool
	Timeout           time.Duration
	// Host is the Kubeflow Pipelines API endpoint. Empty means the API is
	// reached through the local UI port-forward.
	Host string
	Auth auth.Config
}

func SettingsFromDescriptor(desc domain.ComponentDescriptor) (Settings, error) {
	s := Settings{
		KubernetesContext: desc.ConfigString("kubernetes_context", ""),
		UIPort:            desc.ConfigInt("kubeflow_pipelines_ui_port", orchestrator.DefaultUIPort),
		CustomBaseImage:   desc.ConfigString("custom_docker_base_image_name", ""),
		Synchronous:       desc.ConfigBool("synchronous", false),
		Timeout:           time.Duration(desc.ConfigInt("timeout", int(DefaultTimeout.Seconds()))) * time.Second,
		Host:              strings.TrimRight(desc.ConfigString("host", ""), "/"),
	}
	authCfg, err := auth.ConfigFromValues(desc.Config)
	if err != nil {
		return Settings{}, err
	}
	s.Auth = authCfg
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.UIPort <= 0 || s.UIPort > 65535 {
		return fmt.Errorf("kubeflow_pipelines_ui_port %d out of range", s.UIPort)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if s.Host != "" {
		u, err := url.Parse(s.Host)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid host %q", s.Host)
		}
	}
	return nil
}

// SelfManagedLocal reports whether this orchestrator owns a local k3d
// cluster: no context was configured or the context is its own k3d one.
func (s Settings) SelfManagedLocal(clusterName string) bool {
	return s.KubernetesContext == "" || s.KubernetesContext == k3d.ContextFor(clusterName)
}

// ImageName is the tag a pipeline's image is pushed under.
func ImageName(registryURI, pipelineName string) string {
	return fmt.Sprintf("%s/%s:%s", strings.TrimRight(registryURI, "/"), imageRepo, strings.ToLower(pipelineName))
}
