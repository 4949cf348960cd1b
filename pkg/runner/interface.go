package runner

import (
	"context"
	"io"
	"time"
)

// Invocation describes exactly one external program launch: the active
// environment's interpreter running a fully-qualified module path with
// no further arguments.
type Invocation struct {
	Interpreter string
	Module      string
	Env         []string
	Dir         string

	// Stdout and Stderr, when set, receive the child's output as it is
	// produced in addition to the captured copy in Result.
	Stdout io.Writer
	Stderr io.Writer
}

// Result captures the outcome of a single invocation.
type Result struct {
	// ExitStatus is the child's integer termination code. Signal deaths
	// map to 128+signal; -1 means the child never started.
	ExitStatus int
	Duration   time.Duration
	Output     string // combined captured stdout+stderr
	Error      error  // detailed go error if any
}

// Started reports whether the child process ever ran.
func (r Result) Started() bool {
	return r.ExitStatus >= 0
}

// Runner executes a single external program and observes its termination.
type Runner interface {
	// Run blocks until the child terminates and returns the captured status.
	Run(ctx context.Context, inv Invocation) Result
}
