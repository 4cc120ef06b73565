package imagebuild

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

type fakeRunner struct {
	calls      []string
	dockerfile string
	out        string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	for i, a := range args {
		if a == "--file" && i+1 < len(args) {
			data, err := os.ReadFile(args[i+1])
			if err != nil {
				return nil, err
			}
			f.dockerfile = string(data)
		}
	}
	return []byte(f.out), nil
}

func (f *fakeRunner) LookPath(string) error { return nil }

func TestDockerfile(t *testing.T) {
	got := Dockerfile(Spec{ContextDir: ".", Tag: "t", Requirements: []string{"b", "a"}, Env: map[string]string{"B": "2", "A": "1"}})
	want := "FROM " + DefaultBaseImage + "\nWORKDIR /app\nLABEL io.pipestack.requirements=\"a,b\"\nENV A=\"1\"\nENV B=\"2\"\nCOPY . /app\n"
	if got != want {
		t.Fatalf("Dockerfile()=\n%s\nwant\n%s", got, want)
	}
	if got := Dockerfile(Spec{BaseImage: "custom:1"}); !strings.HasPrefix(got, "FROM custom:1\n") {
		t.Fatalf("Dockerfile()=%q", got)
	}
}

func TestBuildAndPush(t *testing.T) {
	run := &fakeRunner{}
	b := New(run)
	ctx := context.Background()
	if err := b.Build(ctx, Spec{ContextDir: "/src", Tag: "localhost:5000/pipestack-kubeflow:p"}); err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if !strings.HasPrefix(run.calls[0], "docker build --tag localhost:5000/pipestack-kubeflow:p --file ") || !strings.HasSuffix(run.calls[0], " /src") {
		t.Fatalf("call=%q", run.calls[0])
	}
	if !strings.Contains(run.dockerfile, "COPY . /app") {
		t.Fatalf("dockerfile=%q", run.dockerfile)
	}
	if err := b.Push(ctx, "localhost:5000/pipestack-kubeflow:p"); err != nil || run.calls[1] != "docker push localhost:5000/pipestack-kubeflow:p" {
		t.Fatalf("Push() err=%v call=%q", err, run.calls[1])
	}
	if err := b.Build(ctx, Spec{Tag: "x"}); err == nil {
		t.Fatalf("expected error without context")
	}
}

func TestDigest(t *testing.T) {
	run := &fakeRunner{out: "other/repo@sha256:aaa\nlocalhost:5000/pipestack-kubeflow@sha256:bbb\n"}
	got, err := New(run).Digest(context.Background(), "localhost:5000/pipestack-kubeflow:p")
	if err != nil || got != "localhost:5000/pipestack-kubeflow@sha256:bbb" {
		t.Fatalf("Digest()=%q, %v", got, err)
	}

	run.out = ""
	if _, err := New(run).Digest(context.Background(), "localhost:5000/pipestack-kubeflow:p"); !errors.Is(err, ErrNoDigest) {
		t.Fatalf("err=%v", err)
	}
}
