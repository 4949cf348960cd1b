package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "runwrap/configs"
	"runwrap/pkg/api"
	"runwrap/pkg/diag"
	"runwrap/pkg/envrt"
	"runwrap/pkg/launcher"
	"runwrap/pkg/logger"
	tracing "runwrap/pkg/observability"
	"runwrap/pkg/runner"
	"runwrap/pkg/scheduler"
	"runwrap/pkg/storage"
	"runwrap/pkg/storage/gormstore"
)

// runwrapd schedules the configured jobs and serves the ops API.
func main() {
	cfg := config.LoadConfig()
	os.Setenv("TZ", cfg.Timezone)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stderr",
		Service:    "runwrapd",
		Location:   loc,
	})
	if err != nil {
		logger.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	jobs, err := config.LoadJobs(cfg.JobsFile)
	if err != nil {
		log.Fatal("failed to load jobs", zap.Error(err))
	}
	log.Info("jobs loaded", zap.Int("count", len(jobs)), zap.String("file", cfg.JobsFile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run history store.
	var store storage.RunStore
	switch cfg.DBDriver {
	case "postgres":
		store, err = gormstore.NewPostgresStore(cfg.PostgresDSN())
	default:
		store, err = gormstore.NewSqliteStore(cfg.DBPath)
	}
	if err != nil {
		log.Fatal("failed to initialize run store", zap.Error(err))
	}
	defer store.Close()
	log.Info("run store ready", zap.String("driver", cfg.DBDriver))

	// Output archive: S3 when a bucket is configured, local disk otherwise.
	var logs storage.LogStore
	if cfg.S3Bucket != "" {
		logs, err = storage.NewS3LogStore(storage.S3LogStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
	} else {
		logs, err = storage.NewLocalLogStore(cfg.RunLogDir)
	}
	if err != nil {
		log.Fatal("failed to initialize log store", zap.Error(err))
	}

	tracer, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "runwrapd",
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
		Store:            store,
		Logs:             logs,
		Tracer:           tracer,
		Logger:           log,
		StrictDeactivate: cfg.StrictDeactivate,
	})

	sched := scheduler.NewCore(loc, l, log)
	for _, spec := range jobs {
		if err := sched.Register(spec); err != nil {
			log.Fatal("failed to register job", zap.Error(err))
		}
	}
	sched.Start()

	server := api.NewServer(api.Config{
		Port:      cfg.APIPort,
		APIKey:    cfg.APIKey,
		Jobs:      jobs,
		Store:     store,
		Logs:      logs,
		Scheduler: sched,
		Logger:    log,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("API server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("API shutdown error", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("scheduler did not drain in time", zap.Error(err))
	}

	cancel()
	log.Info("shutdown complete")
}
