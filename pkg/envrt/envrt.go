// Package envrt models a named conda-style execution environment as a
// scoped resource: Acquire validates the environment and yields the
// child process environment, Release is the deactivation step. Nothing
// here mutates the runner's own process environment, so no activation
// state can leak into the invoking shell.
package envrt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrActivation is the single fatal setup error: the named environment
// cannot be resolved, so the wrapped program must never be invoked.
var ErrActivation = errors.New("environment activation failed")

// Manager resolves named environments under a conda base directory.
type Manager struct {
	base string
	tz   string
}

// NewManager creates a manager rooted at the conda base directory.
// tz is exported as TZ to every child environment.
func NewManager(base, tz string) *Manager {
	return &Manager{base: base, tz: tz}
}

// Acquire activates the named environment. It fails with ErrActivation
// when the environment directory or its interpreter is missing.
func (m *Manager) Acquire(name string) (*ActiveEnv, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: environment name is empty", ErrActivation)
	}

	prefix := filepath.Join(m.base, "envs", name)
	if fi, err := os.Stat(prefix); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: environment %q not found under %s", ErrActivation, name, m.base)
	}

	python := filepath.Join(prefix, "bin", "python")
	if _, err := os.Stat(python); err != nil {
		return nil, fmt.Errorf("%w: no interpreter at %s", ErrActivation, python)
	}

	return &ActiveEnv{name: name, prefix: prefix, python: python, tz: m.tz}, nil
}

// ActiveEnv is an acquired environment. It must be released on every
// exit path; releasing twice is a no-op.
type ActiveEnv struct {
	name     string
	prefix   string
	python   string
	tz       string
	released bool
}

// Name returns the environment name.
func (e *ActiveEnv) Name() string { return e.name }

// Python returns the environment's interpreter path.
func (e *ActiveEnv) Python() string { return e.python }

// Environ computes the child process environment: the environment's bin
// directory leads PATH, conda marker variables are set, and TZ is pinned.
func (e *ActiveEnv) Environ() []string {
	binDir := filepath.Join(e.prefix, "bin")
	path := binDir
	if parent := os.Getenv("PATH"); parent != "" {
		path = binDir + string(os.PathListSeparator) + parent
	}

	env := make([]string, 0, len(os.Environ())+4)
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		switch key {
		case "PATH", "CONDA_PREFIX", "CONDA_DEFAULT_ENV", "TZ":
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"PATH="+path,
		"CONDA_PREFIX="+e.prefix,
		"CONDA_DEFAULT_ENV="+e.name,
	)
	if e.tz != "" {
		env = append(env, "TZ="+e.tz)
	}
	return env
}

// Release deactivates the environment. It reports an error when the
// environment vanished while the job ran; callers treat that as
// best-effort unless configured strict.
func (e *ActiveEnv) Release() error {
	if e.released {
		return nil
	}
	e.released = true

	if _, err := os.Stat(e.prefix); err != nil {
		return fmt.Errorf("environment %q disappeared during run: %w", e.name, err)
	}
	return nil
}
