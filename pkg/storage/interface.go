package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"runwrap/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// RunStore defines the data access layer for run history.
type RunStore interface {
	// CreateRun persists a new run record.
	CreateRun(ctx context.Context, rec *models.RunRecord) error

	// FinishRun records the terminal state of a run.
	FinishRun(ctx context.Context, id uuid.UUID, status models.RunStatus, exitStatus int, finishedAt time.Time, logURI, errMsg string) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error)

	// ListRuns returns run history, newest first. jobName filters when
	// non-empty.
	ListRuns(ctx context.Context, jobName string, limit, offset int) ([]models.RunRecord, error)

	Close() error
}

// LogStore provides an interface for archiving captured child output.
type LogStore interface {
	// Store saves the captured output and returns a reference URI.
	Store(ctx context.Context, jobName string, runID uuid.UUID, logs []byte) (string, error)
	// Retrieve fetches output by reference.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}
