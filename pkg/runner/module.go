package runner

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ModuleRunner invokes a Python module (`python -m <module>`) with the
// environment computed by the activation step. One invocation, one
// blocking wait, one captured status; retries and backoff are the
// caller's non-problem.
type ModuleRunner struct{}

func NewModuleRunner() *ModuleRunner {
	return &ModuleRunner{}
}

func (m *ModuleRunner) Run(ctx context.Context, inv Invocation) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, inv.Interpreter, "-m", inv.Module)
	cmd.Env = inv.Env
	cmd.Dir = inv.Dir

	// Capture output while still streaming it through, so the child's
	// own lines interleave naturally with the runner's markers. With
	// passthrough writers set, os/exec copies stdout and stderr on two
	// goroutines, so writes onto the shared buffer must be serialized.
	var captured bytes.Buffer
	capture := &syncWriter{w: &captured}
	cmd.Stdout = teeWriter(capture, inv.Stdout)
	cmd.Stderr = teeWriter(capture, inv.Stderr)

	// New process group so the whole child tree can be signalled as one.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err := cmd.Run()
	duration := time.Since(start)

	return Result{
		ExitStatus: exitStatus(err),
		Duration:   duration,
		Output:     captured.String(),
		Error:      err,
	}
}

// exitStatus extracts the integer termination code from a Wait error.
// Children killed by a signal report 128+signal, matching what a shell
// wrapper would have observed in $?.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		// Failed to start: no child ever ran, no status exists.
		return -1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

func teeWriter(capture io.Writer, passthrough io.Writer) io.Writer {
	if passthrough == nil {
		return capture
	}
	return io.MultiWriter(capture, passthrough)
}

// syncWriter guards a writer shared between the stdout and stderr copy
// goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
