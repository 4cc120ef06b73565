package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/registry"
)

const localFileName = "secrets.yaml"

// LocalManager reads secrets from a YAML file mapping secret names to
// key/value pairs. It keeps state on the local filesystem.
type LocalManager struct {
	base
	path string
}

func NewLocal(desc domain.ComponentDescriptor) (registry.Component, error) {
	dir := desc.LocalPath
	if dir == "" {
		return nil, errors.New("local secrets manager needs a local_path")
	}
	return &LocalManager{base: base{desc: desc}, path: filepath.Join(dir, desc.ConfigString("file", localFileName))}, nil
}

func (m *LocalManager) Path() string { return m.path }

func (m *LocalManager) load() (map[string]map[string]string, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	out := map[string]map[string]string{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode secrets file %s: %w", m.path, err)
	}
	return out, nil
}

func (m *LocalManager) GetSecret(_ context.Context, name string) (Secret, error) {
	if err := validateName(name); err != nil {
		return Secret{}, err
	}
	all, err := m.load()
	if err != nil {
		return Secret{}, err
	}
	content, ok := all[name]
	if !ok {
		return Secret{}, fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	return Secret{Name: name, Content: content}, nil
}

// Names lists the stored secret names.
func (m *LocalManager) Names() ([]string, error) {
	all, err := m.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for name := range all {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
