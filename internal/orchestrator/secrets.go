package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/secrets"
	"github.com/animus-labs/pipestack/internal/stack"
)

// EnvironmentFromSecrets flattens the named secrets into environment
// variables. Later secrets win on key collisions. Asking for secrets on a
// stack without a secrets manager is a provisioning error.
func EnvironmentFromSecrets(ctx context.Context, st *stack.Stack, names []string) (map[string]string, error) {
	env := map[string]string{}
	if len(names) == 0 {
		return env, nil
	}
	manager, ok := st.SecretsManager().(secrets.Manager)
	if !ok {
		return nil, &domain.ProvisioningError{
			Op: "provision",
			Message: fmt.Sprintf("you passed in the following secrets: %s, however no secrets manager is registered for the current stack",
				strings.Join(names, ", ")),
		}
	}
	for _, name := range names {
		secret, err := manager.GetSecret(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve secret %q: %w", name, err)
		}
		keys := make([]string, 0, len(secret.Content))
		for k := range secret.Content {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env[k] = secret.Content[k]
		}
	}
	return env, nil
}
