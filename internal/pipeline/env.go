package pipeline

import "context"

type envKey struct{}

// WithEnvironment attaches secret-derived environment values for step
// bodies run in process.
func WithEnvironment(ctx context.Context, env map[string]string) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// Environment returns the values attached by WithEnvironment.
func Environment(ctx context.Context) map[string]string {
	env, _ := ctx.Value(envKey{}).(map[string]string)
	return env
}
