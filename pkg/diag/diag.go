// Package diag emits the operational start/finish markers around a run.
// The markers are plain lines on an injected writer (stdout in
// production) so the sequence around the child's own output is exactly
// observable; the same facts also go to the structured log.
package diag

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const stampLayout = "2006-01-02 15:04:05 MST"

// Reporter writes job lifecycle markers.
type Reporter struct {
	out io.Writer
	loc *time.Location
	log *zap.Logger
}

// NewReporter creates a reporter rendering timestamps in loc.
func NewReporter(out io.Writer, loc *time.Location, log *zap.Logger) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{out: out, loc: loc, log: log}
}

// Start emits the start marker: the same instant stamped in the
// configured zone and in UTC, plus working directory, effective user,
// search path and host capacity.
func (r *Reporter) Start(job string, now time.Time) {
	cwd, _ := os.Getwd()
	username := effectiveUser()
	path := os.Getenv("PATH")
	hostname, _ := os.Hostname()

	fmt.Fprintf(r.out, "Job started: %s\n", now.In(r.loc).Format(stampLayout))
	fmt.Fprintf(r.out, "Job started (UTC): %s\n", now.UTC().Format(stampLayout))
	fmt.Fprintf(r.out, "Working directory: %s\n", cwd)
	fmt.Fprintf(r.out, "User: %s\n", username)
	fmt.Fprintf(r.out, "PATH: %s\n", path)

	r.log.Info("job started",
		zap.String("job", job),
		zap.String("host", hostname),
		zap.String("cwd", cwd),
		zap.String("user", username),
		zap.Int("cpus", runtime.NumCPU()),
		zap.Uint64("total_mem_mb", detectTotalMemory()),
	)
}

// Finish emits the completion marker with the literal captured status.
func (r *Reporter) Finish(job string, status int, now time.Time) {
	fmt.Fprintf(r.out, "Exit status: %d\n", status)
	fmt.Fprintf(r.out, "Job finished: %s\n", now.In(r.loc).Format(stampLayout))

	r.log.Info("job finished",
		zap.String("job", job),
		zap.Int("exit_status", status),
	)
}

// Aborted marks a run whose environment activation failed. The child
// never ran, so no exit status line is printed for it.
func (r *Reporter) Aborted(job string, err error, now time.Time) {
	fmt.Fprintf(r.out, "Job aborted: %s\n", now.In(r.loc).Format(stampLayout))

	r.log.Error("job aborted before launch",
		zap.String("job", job),
		zap.Error(err),
	)
}

func effectiveUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.Total / 1024 / 1024
}
