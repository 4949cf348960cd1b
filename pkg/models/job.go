package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobSpec describes one wrapped program: a Python module executed inside
// a named conda environment. Specs are configuration data loaded from the
// jobs file; the modules themselves are opaque external collaborators.
type JobSpec struct {
	Name     string `yaml:"name" json:"name"`
	Module   string `yaml:"module" json:"module"`
	CondaEnv string `yaml:"env" json:"env"`
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks the fields required to launch the job.
func (s JobSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if s.Module == "" {
		return fmt.Errorf("job %q: module path is required", s.Name)
	}
	if s.CondaEnv == "" {
		return fmt.Errorf("job %q: conda env is required", s.Name)
	}
	if _, err := s.TimeoutDuration(); err != nil {
		return fmt.Errorf("job %q: %w", s.Name, err)
	}
	return nil
}

// TimeoutDuration parses the optional timeout. Zero means wait
// unconditionally for the child, which is the default.
func (s JobSpec) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
	}
	return d, nil
}

// RunStatus represents the state of a single supervised run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	// RunAborted means environment activation failed and the child was
	// never invoked, so no exit status exists for it.
	RunAborted RunStatus = "ABORTED"
)

// RunRecord is the persisted history of one launch.
type RunRecord struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	JobName    string     `json:"job_name" gorm:"not null;index"`
	Module     string     `json:"module" gorm:"not null"`
	CondaEnv   string     `json:"conda_env" gorm:"not null"`
	Host       string     `json:"host"`
	StartedAt  time.Time  `json:"started_at" gorm:"not null;index"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     RunStatus  `json:"status" gorm:"type:varchar(20);default:'PENDING'"`
	// ExitStatus is the literal integer termination code captured from
	// the child. Meaningless while Status is PENDING/RUNNING/ABORTED.
	ExitStatus int    `json:"exit_status"`
	LogURI     string `json:"log_uri"`
	Error      string `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID if not present
func (r *RunRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}
