// Package launcher implements the job supervision sequence: pin the
// environment, emit the start marker, acquire the execution
// environment, invoke exactly one external program, capture its
// termination status, release the environment, emit the finish marker.
// The flow is strictly linear; activation failure is the only branch
// and the only fatal error.
package launcher

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"runwrap/pkg/diag"
	"runwrap/pkg/envrt"
	"runwrap/pkg/metrics"
	"runwrap/pkg/models"
	tracing "runwrap/pkg/observability"
	"runwrap/pkg/runner"
	"runwrap/pkg/storage"
)

// Config wires a Launcher. Envs, Runner and Reporter are required;
// Store, Logs and Tracer are optional (the one-shot CLI runs without
// persistence).
type Config struct {
	Envs     *envrt.Manager
	Runner   runner.Runner
	Reporter *diag.Reporter
	Store    storage.RunStore
	Logs     storage.LogStore
	Tracer   *tracing.Provider
	Logger   *zap.Logger

	// Child output passthrough; defaults to the runner's own streams.
	Stdout io.Writer
	Stderr io.Writer

	// StrictDeactivate makes environment release failure count against
	// the run outcome instead of being logged and swallowed.
	StrictDeactivate bool
}

// Outcome is the observable result of one supervised run.
type Outcome struct {
	RunID      uuid.UUID
	Status     models.RunStatus
	ExitStatus int
	Duration   time.Duration
	LogURI     string
	Err        error
	ReleaseErr error
}

type Launcher struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) *Launcher {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{cfg: cfg, log: log}
}

// Launch supervises one run of the given job and blocks until the
// external program terminates. The child's non-zero exit is not an
// error of the launcher; only activation failure aborts the sequence.
func (l *Launcher) Launch(ctx context.Context, spec models.JobSpec) Outcome {
	startedAt := time.Now()
	rec := &models.RunRecord{
		ID:        uuid.New(),
		JobName:   spec.Name,
		Module:    spec.Module,
		CondaEnv:  spec.CondaEnv,
		Host:      hostname(),
		StartedAt: startedAt,
		Status:    models.RunRunning,
	}
	l.createRecord(ctx, rec)

	ctx, span := l.startSpan(ctx, "run")
	defer span.end()
	tracing.SetAttributes(ctx,
		attribute.String("job.name", spec.Name),
		attribute.String("job.module", spec.Module),
		attribute.String("job.env", spec.CondaEnv),
	)

	l.cfg.Reporter.Start(spec.Name, startedAt)

	// ENV_ACTIVATED, or fatal abort.
	env, err := l.acquire(ctx, spec)
	if err != nil {
		metrics.ActivationFailures.WithLabelValues(spec.Name).Inc()
		tracing.SetError(ctx, err)
		l.cfg.Reporter.Aborted(spec.Name, err, time.Now())
		l.finishRecord(ctx, rec.ID, models.RunAborted, -1, "", err.Error())
		metrics.RecordRun(spec.Name, string(models.RunAborted), -1, time.Since(startedAt).Seconds())
		return Outcome{RunID: rec.ID, Status: models.RunAborted, ExitStatus: -1, Err: err}
	}
	// Release on every exit path. The explicit call below keeps the
	// happy-path ordering (deactivate before the finish marker);
	// Release is idempotent so the deferred call is then a no-op.
	defer func() { _ = env.Release() }()

	// CHILD_RUNNING: the single blocking operation.
	result := l.invoke(ctx, spec, env)

	// ENV_DEACTIVATED: best-effort unless configured strict.
	releaseErr := env.Release()
	if releaseErr != nil {
		l.log.Warn("environment release failed",
			zap.String("job", spec.Name),
			zap.Error(releaseErr))
		if !l.cfg.StrictDeactivate {
			releaseErr = nil
		}
	}

	logURI := l.archiveOutput(ctx, spec, rec.ID, result)

	status := models.RunSucceeded
	if result.ExitStatus != 0 {
		status = models.RunFailed
	}

	l.cfg.Reporter.Finish(spec.Name, result.ExitStatus, time.Now())
	l.finishRecord(ctx, rec.ID, status, result.ExitStatus, logURI, errString(result.Error))
	metrics.RecordRun(spec.Name, string(status), result.ExitStatus, result.Duration.Seconds())

	return Outcome{
		RunID:      rec.ID,
		Status:     status,
		ExitStatus: result.ExitStatus,
		Duration:   result.Duration,
		LogURI:     logURI,
		Err:        result.Error,
		ReleaseErr: releaseErr,
	}
}

func (l *Launcher) acquire(ctx context.Context, spec models.JobSpec) (*envrt.ActiveEnv, error) {
	ctx, span := l.startSpan(ctx, "activate")
	defer span.end()

	env, err := l.cfg.Envs.Acquire(spec.CondaEnv)
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, err
	}
	return env, nil
}

func (l *Launcher) invoke(ctx context.Context, spec models.JobSpec, env *envrt.ActiveEnv) runner.Result {
	ctx, span := l.startSpan(ctx, "exec")
	defer span.end()

	runCtx := ctx
	if timeout, _ := spec.TimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	result := l.cfg.Runner.Run(runCtx, runner.Invocation{
		Interpreter: env.Python(),
		Module:      spec.Module,
		Env:         env.Environ(),
		Stdout:      l.cfg.Stdout,
		Stderr:      l.cfg.Stderr,
	})
	if result.Error != nil {
		tracing.SetError(ctx, result.Error)
	}
	return result
}

func (l *Launcher) archiveOutput(ctx context.Context, spec models.JobSpec, runID uuid.UUID, result runner.Result) string {
	if l.cfg.Logs == nil || result.Output == "" {
		return ""
	}
	ctx, span := l.startSpan(ctx, "archive")
	defer span.end()

	uri, err := l.cfg.Logs.Store(ctx, spec.Name, runID, []byte(result.Output))
	if err != nil {
		tracing.SetError(ctx, err)
		l.log.Warn("failed to archive run output",
			zap.String("job", spec.Name),
			zap.Error(err))
		return ""
	}
	return uri
}

func (l *Launcher) createRecord(ctx context.Context, rec *models.RunRecord) {
	if l.cfg.Store == nil {
		return
	}
	if err := l.cfg.Store.CreateRun(ctx, rec); err != nil {
		l.log.Warn("failed to persist run record", zap.Error(err))
	}
}

func (l *Launcher) finishRecord(ctx context.Context, id uuid.UUID, status models.RunStatus, exitStatus int, logURI, errMsg string) {
	if l.cfg.Store == nil {
		return
	}
	if err := l.cfg.Store.FinishRun(ctx, id, status, exitStatus, time.Now(), logURI, errMsg); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.log.Warn("failed to finalize run record", zap.Error(err))
		}
	}
}

// span wraps the optional tracer so call sites stay linear.
type span struct{ end func() }

func (l *Launcher) startSpan(ctx context.Context, name string) (context.Context, span) {
	if l.cfg.Tracer == nil {
		return ctx, span{end: func() {}}
	}
	ctx, s := l.cfg.Tracer.StartSpan(ctx, name)
	return ctx, span{end: func() { s.End() }}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
