// Package integrations declares every built-in component flavor.
package integrations

import (
	"fmt"

	"github.com/animus-labs/pipestack/internal/artifactstore"
	"github.com/animus-labs/pipestack/internal/containerregistry"
	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/metadatastore"
	"github.com/animus-labs/pipestack/internal/orchestrator/kubeflow"
	"github.com/animus-labs/pipestack/internal/orchestrator/local"
	"github.com/animus-labs/pipestack/internal/registry"
	"github.com/animus-labs/pipestack/internal/secrets"
)

// Options are passed to flavors that need process-level dependencies.
type Options = kubeflow.Options

// Register declares all built-in flavors on reg.
func Register(reg *registry.Registry, opts Options) error {
	flavors := []registry.Flavor{
		local.Flavor(opts.Logger),
		kubeflow.Flavor(opts),
		{Type: domain.ComponentArtifactStore, Name: "local", Description: "artifacts in a local directory", Factory: artifactstore.NewLocal},
		{Type: domain.ComponentArtifactStore, Name: "s3", Integration: "s3", Description: "artifacts in an S3-compatible bucket", Factory: artifactstore.NewS3},
		containerregistry.Flavor(),
		{Type: domain.ComponentSecretsManager, Name: "local", Description: "secrets in a local YAML file", Factory: secrets.NewLocal},
		{Type: domain.ComponentSecretsManager, Name: "s3", Integration: "s3", Description: "secrets as YAML objects in an S3-compatible bucket", Factory: secrets.NewS3},
		metadatastore.Flavor(),
	}
	for _, f := range flavors {
		if err := reg.Register(f); err != nil {
			return fmt.Errorf("register integrations: %w", err)
		}
	}
	return nil
}
