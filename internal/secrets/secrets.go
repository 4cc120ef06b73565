// Package secrets provides the secrets manager flavors. Managers only read;
// secrets are created with the storage's own tooling.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/animus-labs/pipestack/internal/domain"
)

var ErrSecretNotFound = errors.New("secret not found")

var secretName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Secret is a named set of key/value pairs.
type Secret struct {
	Name    string
	Content map[string]string
}

type Manager interface {
	GetSecret(ctx context.Context, name string) (Secret, error)
}

func validateName(name string) error {
	if !secretName.MatchString(name) {
		return fmt.Errorf("invalid secret name %q", name)
	}
	return nil
}

type base struct {
	desc domain.ComponentDescriptor
}

func (b base) Descriptor() domain.ComponentDescriptor { return b.desc }
