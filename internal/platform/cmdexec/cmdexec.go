// Package cmdexec runs external tools (docker, k3d, kubectl).
package cmdexec

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner runs a command to completion and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) error
}

type Exec struct{}

func (Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s failed: %w: %s", describe(name, args), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (Exec) LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s binary not found: %w", name, err)
	}
	return nil
}

func describe(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	sub := args[0]
	if strings.HasPrefix(sub, "-") {
		return name
	}
	if len(args) > 1 && !strings.HasPrefix(args[1], "-") {
		return name + " " + sub + " " + args[1]
	}
	return name + " " + sub
}

// Command renders a command line for logs and manual instructions.
func Command(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t&?*") {
			a = "'" + a + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
