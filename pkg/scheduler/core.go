// Package scheduler drives the daemon mode: each configured job with a
// cron schedule gets an entry firing a supervised launch. Runs of the
// same job never overlap; a tick that lands while the previous run is
// still going is skipped and counted.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"runwrap/pkg/launcher"
	"runwrap/pkg/metrics"
	"runwrap/pkg/models"
)

type Core struct {
	cron     *cron.Cron
	launcher *launcher.Launcher
	log      *zap.Logger

	mu      sync.Mutex
	running map[string]bool
	// inFlight covers every dispatched run, cron-fired or manually
	// triggered, so Stop can drain them all.
	inFlight sync.WaitGroup
}

// NewCore creates a scheduler whose cron expressions evaluate in loc,
// the same zone the run markers are stamped in.
func NewCore(loc *time.Location, l *launcher.Launcher, log *zap.Logger) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	return &Core{
		cron:     cron.New(cron.WithLocation(loc)),
		launcher: l,
		log:      log,
		running:  make(map[string]bool),
	}
}

// Register adds a cron entry for the job. Jobs without a schedule are
// trigger-only and get no entry.
func (c *Core) Register(spec models.JobSpec) error {
	if spec.Schedule == "" {
		return nil
	}

	_, err := c.cron.AddFunc(spec.Schedule, func() {
		metrics.ScheduledDispatches.WithLabelValues(spec.Name).Inc()
		if _, ok := c.Dispatch(context.Background(), spec); !ok {
			metrics.ScheduledSkips.WithLabelValues(spec.Name).Inc()
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", spec.Schedule, spec.Name, err)
	}

	c.log.Info("job scheduled",
		zap.String("job", spec.Name),
		zap.String("schedule", spec.Schedule))
	return nil
}

// Dispatch runs the job once, blocking until the child terminates.
// It returns ok=false without launching when a run of the same job is
// already in progress.
func (c *Core) Dispatch(ctx context.Context, spec models.JobSpec) (launcher.Outcome, bool) {
	if !c.tryAcquire(spec.Name) {
		c.log.Warn("skipping dispatch, previous run still in progress",
			zap.String("job", spec.Name))
		return launcher.Outcome{}, false
	}
	c.inFlight.Add(1)
	defer c.inFlight.Done()
	defer c.release(spec.Name)

	return c.launcher.Launch(ctx, spec), true
}

// Start begins firing cron entries.
func (c *Core) Start() {
	c.cron.Start()
}

// Stop halts the cron loop and waits for in-flight runs, including
// manually triggered ones, to finish.
func (c *Core) Stop(ctx context.Context) error {
	stopCtx := c.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		c.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) tryAcquire(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[name] {
		return false
	}
	c.running[name] = true
	return true
}

func (c *Core) release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, name)
}
