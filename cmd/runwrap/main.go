package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "runwrap/configs"
	"runwrap/pkg/diag"
	"runwrap/pkg/envrt"
	"runwrap/pkg/launcher"
	"runwrap/pkg/logger"
	"runwrap/pkg/models"
	tracing "runwrap/pkg/observability"
	"runwrap/pkg/runner"
)

// runwrap runs exactly one configured job and exits. It leaves no
// state behind: no database writes, no environment leakage into the
// invoking shell.
func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.LoadConfig()

	// Pin the timezone before any timestamp is produced; children
	// inherit it through the activated environment.
	os.Setenv("TZ", cfg.Timezone)

	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   "console",
		OutputPath: "stderr",
		Service:    "runwrap",
		Location:   loc,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	spec, err := resolveJob(cfg)
	if err != nil {
		log.Error("cannot resolve job", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "runwrap",
		Endpoint:    cfg.OTLPEndpoint,
		Enabled:     cfg.TracingEnabled,
	})
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
		tracer = nil
	} else {
		defer tracer.Shutdown(context.Background())
	}

	l := launcher.New(launcher.Config{
		Envs:             envrt.NewManager(cfg.CondaBase, cfg.Timezone),
		Runner:           runner.NewModuleRunner(),
		Reporter:         diag.NewReporter(os.Stdout, loc, log),
		Tracer:           tracer,
		Logger:           log,
		StrictDeactivate: cfg.StrictDeactivate,
	})

	outcome := l.Launch(ctx, spec)

	return exitCode(cfg, outcome)
}

// resolveJob picks the job to run: first positional argument, falling
// back to RUNWRAP_JOB.
func resolveJob(cfg *config.Config) (models.JobSpec, error) {
	name := os.Getenv("RUNWRAP_JOB")
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	if name == "" {
		return models.JobSpec{}, fmt.Errorf("no job given: pass a job name or set RUNWRAP_JOB")
	}

	jobs, err := config.LoadJobs(cfg.JobsFile)
	if err != nil {
		return models.JobSpec{}, err
	}
	for _, spec := range jobs {
		if spec.Name == name {
			return spec, nil
		}
	}
	return models.JobSpec{}, fmt.Errorf("job %q not found in %s", name, cfg.JobsFile)
}

// exitCode maps the run outcome onto the runner's own exit code.
func exitCode(cfg *config.Config, outcome launcher.Outcome) int {
	if outcome.Status == models.RunAborted {
		return 1
	}
	if outcome.ReleaseErr != nil && outcome.ExitStatus == 0 {
		return 1
	}
	if !cfg.PropagateExitCode {
		return 0
	}
	if outcome.ExitStatus < 0 {
		return 1
	}
	return outcome.ExitStatus
}
