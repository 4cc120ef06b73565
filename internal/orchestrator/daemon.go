package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Daemon is the background process that makes the pipelines UI reachable.
type Daemon interface {
	Running() bool
	// Port is the port of the running daemon, 0 when it is not running.
	Port() int
	Start(port int) error
	Stop() error
}

// ProcessDaemon runs a detached command and tracks it through a PID file.
// The PID file holds the process id and the port on separate lines.
type ProcessDaemon struct {
	PIDFile string
	LogFile string
	Binary  string
	Args    func(port int) []string
}

func (d *ProcessDaemon) state() (pid, port int, ok bool) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		return 0, 0, false
	}
	lines := strings.Fields(string(data))
	if len(lines) == 0 {
		return 0, 0, false
	}
	pid, err = strconv.Atoi(lines[0])
	if err != nil || pid <= 0 {
		return 0, 0, false
	}
	if len(lines) > 1 {
		port, _ = strconv.Atoi(lines[1])
	}
	return pid, port, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (d *ProcessDaemon) Running() bool {
	pid, _, ok := d.state()
	return ok && processAlive(pid)
}

func (d *ProcessDaemon) Port() int {
	pid, port, ok := d.state()
	if !ok || !processAlive(pid) {
		return 0
	}
	return port
}

func (d *ProcessDaemon) Start(port int) error {
	if d.Running() {
		return nil
	}
	logFile, err := os.OpenFile(d.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(d.Binary, d.Args(port)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := os.WriteFile(d.PIDFile, []byte(fmt.Sprintf("%d\n%d\n", pid, port)), 0o644); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("write daemon pid file: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (d *ProcessDaemon) Stop() error {
	pid, _, ok := d.state()
	if !ok {
		return nil
	}
	if processAlive(pid) {
		proc, _ := os.FindProcess(pid)
		if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("stop daemon %d: %w", pid, err)
		}
		deadline := time.Now().Add(5 * time.Second)
		for processAlive(pid) && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if err := os.Remove(d.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove daemon pid file: %w", err)
	}
	return nil
}

// UIDaemonArgs forwards the pipelines UI service in kubeContext to port.
func UIDaemonArgs(kubeContext string) func(port int) []string {
	return func(port int) []string {
		args := []string{}
		if kubeContext != "" {
			args = append(args, "--context", kubeContext)
		}
		return append(args, "--namespace", "kubeflow", "port-forward", "svc/ml-pipeline-ui", fmt.Sprintf("%d:80", port))
	}
}
