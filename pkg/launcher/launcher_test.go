package launcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"runwrap/pkg/diag"
	"runwrap/pkg/envrt"
	"runwrap/pkg/models"
	"runwrap/pkg/runner"
	"runwrap/pkg/storage"
)

// stubRunner stands in for the external program.
type stubRunner struct {
	result runner.Result
	output string
	called bool
}

func (s *stubRunner) Run(ctx context.Context, inv runner.Invocation) runner.Result {
	s.called = true
	if s.output != "" && inv.Stdout != nil {
		inv.Stdout.Write([]byte(s.output))
	}
	res := s.result
	res.Output = s.output
	return res
}

func newCondaTree(t *testing.T, envName string) string {
	t.Helper()
	base := t.TempDir()
	binDir := filepath.Join(base, "envs", envName, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "python"), []byte("#!/bin/sh\nexit 0\n"), 0755))
	return base
}

func spec() models.JobSpec {
	return models.JobSpec{
		Name:     "fetch-historical-data",
		Module:   "mining.concretum_strategy.fetch_historical_data_daily",
		CondaEnv: "trading",
	}
}

func TestLaunchSuccess(t *testing.T) {
	base := newCondaTree(t, "trading")
	store := storage.NewMemoryStore()
	var out bytes.Buffer

	l := New(Config{
		Envs:     envrt.NewManager(base, "UTC"),
		Runner:   &stubRunner{},
		Reporter: diag.NewReporter(&out, time.UTC, zap.NewNop()),
		Store:    store,
		Stdout:   &out,
		Stderr:   &out,
	})

	outcome := l.Launch(context.Background(), spec())

	assert.Equal(t, models.RunSucceeded, outcome.Status)
	assert.Equal(t, 0, outcome.ExitStatus)
	assert.Contains(t, out.String(), "Exit status: 0")

	rec, err := store.GetRun(context.Background(), outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, rec.Status)
	assert.Equal(t, 0, rec.ExitStatus)
	require.NotNil(t, rec.FinishedAt)
}

func TestLaunchChildFailureIsNotFatal(t *testing.T) {
	base := newCondaTree(t, "trading")
	store := storage.NewMemoryStore()
	var out bytes.Buffer

	l := New(Config{
		Envs:     envrt.NewManager(base, "UTC"),
		Runner:   &stubRunner{result: runner.Result{ExitStatus: 7, Error: errors.New("exit status 7")}},
		Reporter: diag.NewReporter(&out, time.UTC, zap.NewNop()),
		Store:    store,
		Stdout:   &out,
		Stderr:   &out,
	})

	outcome := l.Launch(context.Background(), spec())

	// Non-zero child exit is recorded, and the completion sequence
	// still runs to the finish marker.
	assert.Equal(t, models.RunFailed, outcome.Status)
	assert.Equal(t, 7, outcome.ExitStatus)
	assert.Contains(t, out.String(), "Exit status: 7")
	assert.Contains(t, out.String(), "Job finished: ")

	rec, err := store.GetRun(context.Background(), outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, rec.Status)
	assert.Equal(t, 7, rec.ExitStatus)
}

func TestLaunchActivationFailureNeverInvokesChild(t *testing.T) {
	base := newCondaTree(t, "trading")
	store := storage.NewMemoryStore()
	stub := &stubRunner{}
	var out bytes.Buffer

	l := New(Config{
		Envs:     envrt.NewManager(base, "UTC"),
		Runner:   stub,
		Reporter: diag.NewReporter(&out, time.UTC, zap.NewNop()),
		Store:    store,
	})

	badSpec := spec()
	badSpec.CondaEnv = "missing"
	outcome := l.Launch(context.Background(), badSpec)

	assert.False(t, stub.called, "child must never run after activation failure")
	assert.Equal(t, models.RunAborted, outcome.Status)
	assert.ErrorIs(t, outcome.Err, envrt.ErrActivation)
	assert.NotContains(t, out.String(), "Exit status:")

	rec, err := store.GetRun(context.Background(), outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunAborted, rec.Status)
}

func TestLaunchMarkerOrdering(t *testing.T) {
	base := newCondaTree(t, "trading")
	var out bytes.Buffer

	l := New(Config{
		Envs: envrt.NewManager(base, "UTC"),
		Runner: &stubRunner{
			result: runner.Result{ExitStatus: 7, Error: errors.New("exit status 7")},
			output: "stub program output\n",
		},
		Reporter: diag.NewReporter(&out, time.UTC, zap.NewNop()),
		Stdout:   &out,
		Stderr:   &out,
	})

	l.Launch(context.Background(), spec())

	text := out.String()
	started := strings.Index(text, "Job started: ")
	child := strings.Index(text, "stub program output")
	status := strings.Index(text, "Exit status: 7")
	finished := strings.Index(text, "Job finished: ")

	require.NotEqual(t, -1, started)
	require.NotEqual(t, -1, child)
	require.NotEqual(t, -1, status)
	require.NotEqual(t, -1, finished)

	assert.Less(t, started, child)
	assert.Less(t, child, status)
	assert.Less(t, status, finished)
}

func TestLaunchArchivesOutput(t *testing.T) {
	base := newCondaTree(t, "trading")
	logDir := t.TempDir()
	logs, err := storage.NewLocalLogStore(logDir)
	require.NoError(t, err)
	store := storage.NewMemoryStore()

	l := New(Config{
		Envs:     envrt.NewManager(base, "UTC"),
		Runner:   &stubRunner{output: "bars written: 1440\n"},
		Reporter: diag.NewReporter(&bytes.Buffer{}, time.UTC, zap.NewNop()),
		Store:    store,
		Logs:     logs,
	})

	outcome := l.Launch(context.Background(), spec())
	require.NotEmpty(t, outcome.LogURI)

	data, err := logs.Retrieve(context.Background(), outcome.LogURI)
	require.NoError(t, err)
	assert.Equal(t, "bars written: 1440\n", string(data))

	rec, err := store.GetRun(context.Background(), outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, outcome.LogURI, rec.LogURI)
}

func TestLaunchReleaseFailureIsSwallowedByDefault(t *testing.T) {
	base := newCondaTree(t, "trading")
	var out bytes.Buffer

	// The runner removes the environment mid-run, so Release fails.
	destructive := runnerFunc(func(ctx context.Context, inv runner.Invocation) runner.Result {
		os.RemoveAll(filepath.Join(base, "envs", "trading"))
		return runner.Result{ExitStatus: 0}
	})

	l := New(Config{
		Envs:     envrt.NewManager(base, "UTC"),
		Runner:   destructive,
		Reporter: diag.NewReporter(&out, time.UTC, zap.NewNop()),
	})

	outcome := l.Launch(context.Background(), spec())

	assert.Equal(t, models.RunSucceeded, outcome.Status)
	assert.NoError(t, outcome.ReleaseErr)
	assert.Contains(t, out.String(), "Exit status: 0")
}

func TestLaunchReleaseFailureStrict(t *testing.T) {
	base := newCondaTree(t, "trading")

	destructive := runnerFunc(func(ctx context.Context, inv runner.Invocation) runner.Result {
		os.RemoveAll(filepath.Join(base, "envs", "trading"))
		return runner.Result{ExitStatus: 0}
	})

	l := New(Config{
		Envs:             envrt.NewManager(base, "UTC"),
		Runner:           destructive,
		Reporter:         diag.NewReporter(&bytes.Buffer{}, time.UTC, zap.NewNop()),
		StrictDeactivate: true,
	})

	outcome := l.Launch(context.Background(), spec())

	// The captured child status is untouched; only the release error
	// surfaces on the outcome.
	assert.Equal(t, 0, outcome.ExitStatus)
	assert.Error(t, outcome.ReleaseErr)
}

type runnerFunc func(ctx context.Context, inv runner.Invocation) runner.Result

func (f runnerFunc) Run(ctx context.Context, inv runner.Invocation) runner.Result {
	return f(ctx, inv)
}
