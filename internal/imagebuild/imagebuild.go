// Package imagebuild builds and pushes the container image a pipeline runs
// in, using the docker CLI.
package imagebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/animus-labs/pipestack/internal/platform/cmdexec"
)

const DefaultBaseImage = "golang:1.25-bookworm"

var ErrNoDigest = errors.New("image has no repository digest")

// Spec describes one image build.
type Spec struct {
	// ContextDir is copied into the image as /app.
	ContextDir   string
	Tag          string
	BaseImage    string
	Requirements []string
	Env          map[string]string
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.ContextDir) == "" {
		return errors.New("build context is required")
	}
	if strings.TrimSpace(s.Tag) == "" {
		return errors.New("image tag is required")
	}
	return nil
}

type Builder struct {
	docker string
	run    cmdexec.Runner
}

func New(runner cmdexec.Runner) *Builder {
	if runner == nil {
		runner = cmdexec.Exec{}
	}
	return &Builder{docker: "docker", run: runner}
}

// Dockerfile renders the build recipe for spec.
func Dockerfile(spec Spec) string {
	base := spec.BaseImage
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseImage
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", base)
	b.WriteString("WORKDIR /app\n")
	if len(spec.Requirements) > 0 {
		reqs := append([]string(nil), spec.Requirements...)
		sort.Strings(reqs)
		fmt.Fprintf(&b, "LABEL io.pipestack.requirements=%q\n", strings.Join(reqs, ","))
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "ENV %s=%q\n", k, spec.Env[k])
	}
	b.WriteString("COPY . /app\n")
	return b.String()
}

// Build writes a Dockerfile next to the context and runs docker build.
func (b *Builder) Build(ctx context.Context, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := b.run.LookPath(b.docker); err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "pipestack-build-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	dockerfile := filepath.Join(dir, "Dockerfile")
	if err := os.WriteFile(dockerfile, []byte(Dockerfile(spec)), 0o644); err != nil {
		return fmt.Errorf("write dockerfile: %w", err)
	}
	_, err = b.run.Run(ctx, b.docker, "build", "--tag", spec.Tag, "--file", dockerfile, spec.ContextDir)
	return err
}

func (b *Builder) Push(ctx context.Context, tag string) error {
	_, err := b.run.Run(ctx, b.docker, "push", tag)
	return err
}

// Digest returns the pushed repository digest of tag, e.g.
// localhost:5000/app@sha256:....
func (b *Builder) Digest(ctx context.Context, tag string) (string, error) {
	out, err := b.run.Run(ctx, b.docker, "image", "inspect", "--format", "{{range .RepoDigests}}{{println .}}{{end}}", tag)
	if err != nil {
		return "", err
	}
	repo := tag
	if i := strings.LastIndex(tag, ":"); i > strings.LastIndex(tag, "/") {
		repo = tag[:i]
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, repo+"@") {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoDigest, tag)
}
