package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the runwrap daemon, registered with the default registry
// via promauto.
var (
	// --- Run Metrics ---

	// RunsTotal counts completed runs by job and final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runwrap",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of supervised runs by job and status",
		},
		[]string{"job", "status"},
	)

	// RunDuration tracks wall-clock run duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "runwrap",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of supervised runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"job", "status"},
	)

	// RunsInFlight tracks currently running jobs.
	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "runwrap",
			Subsystem: "runs",
			Name:      "in_flight",
			Help:      "Number of currently running jobs",
		},
	)

	// LastExitStatus exposes the most recent captured status per job.
	LastExitStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runwrap",
			Subsystem: "runs",
			Name:      "last_exit_status",
			Help:      "Exit status captured from the most recent run of each job",
		},
		[]string{"job"},
	)

	// ActivationFailures counts fatal environment activation failures.
	ActivationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runwrap",
			Subsystem: "envrt",
			Name:      "activation_failures_total",
			Help:      "Total environment activation failures (child never launched)",
		},
		[]string{"job"},
	)

	// --- Scheduler Metrics ---

	// ScheduledDispatches counts cron-triggered launches.
	ScheduledDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runwrap",
			Subsystem: "scheduler",
			Name:      "dispatches_total",
			Help:      "Total cron-triggered job dispatches",
		},
		[]string{"job"},
	)

	// ScheduledSkips counts dispatches skipped because the previous run
	// of the same job was still in progress.
	ScheduledSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runwrap",
			Subsystem: "scheduler",
			Name:      "skips_total",
			Help:      "Total dispatches skipped due to an overlapping run",
		},
		[]string{"job"},
	)
)

// RecordRun records metrics for a completed run.
func RecordRun(job, status string, exitStatus int, durationSeconds float64) {
	RunsTotal.WithLabelValues(job, status).Inc()
	RunDuration.WithLabelValues(job, status).Observe(durationSeconds)
	LastExitStatus.WithLabelValues(job).Set(float64(exitStatus))
}
