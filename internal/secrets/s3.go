package secrets

import (
	"context"
	"errors"
	"fmt"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/platform/objectstore"
	"github.com/animus-labs/pipestack/internal/registry"
)

type blobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3Manager reads each secret from secrets/<name>.yaml in a bucket.
type S3Manager struct {
	base
	blobs blobReader
	uri   string
}

func NewS3(desc domain.ComponentDescriptor) (registry.Component, error) {
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg = cfg.Merge(desc.Config)
	store, err := objectstore.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 secrets manager %q: %w", desc.Name, err)
	}
	return &S3Manager{base: base{desc: desc}, blobs: store, uri: cfg.URI()}, nil
}

func (m *S3Manager) URI() string { return m.uri }

func (m *S3Manager) GetSecret(ctx context.Context, name string) (Secret, error) {
	if err := validateName(name); err != nil {
		return Secret{}, err
	}
	data, err := m.blobs.Get(ctx, path.Join("secrets", name+".yaml"))
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return Secret{}, fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	if err != nil {
		return Secret{}, err
	}
	content := map[string]string{}
	if err := yaml.Unmarshal(data, &content); err != nil {
		return Secret{}, fmt.Errorf("decode secret %q: %w", name, err)
	}
	return Secret{Name: name, Content: content}, nil
}
