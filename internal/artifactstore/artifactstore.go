// Package artifactstore provides the local and s3 artifact store flavors.
package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/platform/objectstore"
	"github.com/animus-labs/pipestack/internal/registry"
)

var ErrNotFound = errors.New("artifact not found")

// Store is implemented by every artifact store flavor. Keys are slash
// separated and relative to the store root.
type Store interface {
	registry.Component
	URI() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("artifact key is required")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.Trim(key, "/") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return cleaned, nil
}

// Local keeps artifacts in a directory on this machine.
type Local struct {
	desc domain.ComponentDescriptor
	root string
}

func NewLocal(desc domain.ComponentDescriptor) (registry.Component, error) {
	root := desc.LocalPath
	if root == "" {
		return nil, errors.New("local artifact store needs a local_path")
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("local artifact store path %q must be absolute", root)
	}
	return &Local{desc: desc, root: filepath.Clean(root)}, nil
}

func (s *Local) Descriptor() domain.ComponentDescriptor { return s.desc }
func (s *Local) URI() string                            { return s.root }

func (s *Local) Put(_ context.Context, key string, data []byte) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s *Local) Get(_ context.Context, key string) ([]byte, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}

type blobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// S3 keeps artifacts in an S3-compatible bucket.
type S3 struct {
	desc  domain.ComponentDescriptor
	blobs blobStore
	uri   string
}

func NewS3(desc domain.ComponentDescriptor) (registry.Component, error) {
	if desc.IsLocal() {
		return nil, errors.New("s3 artifact store cannot have a local_path")
	}
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg = cfg.Merge(desc.Config)
	store, err := objectstore.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 artifact store %q: %w", desc.Name, err)
	}
	return &S3{desc: desc, blobs: store, uri: cfg.URI()}, nil
}

func (s *S3) Descriptor() domain.ComponentDescriptor { return s.desc }
func (s *S3) URI() string                            { return s.uri }

func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, key, data, "application/octet-stream")
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}
