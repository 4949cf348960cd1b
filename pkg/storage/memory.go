package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"runwrap/pkg/models"
)

// MemoryStore keeps run history in memory. Used by tests and by the
// daemon when persistence is disabled.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]models.RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]models.RunRecord)}
}

func (s *MemoryStore) CreateRun(ctx context.Context, rec *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	s.runs[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, id uuid.UUID, status models.RunStatus, exitStatus int, finishedAt time.Time, logURI, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.ExitStatus = exitStatus
	rec.FinishedAt = &finishedAt
	rec.LogURI = logURI
	rec.Error = errMsg
	rec.UpdatedAt = time.Now()
	s.runs[id] = rec
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, jobName string, limit, offset int) ([]models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.RunRecord
	for _, rec := range s.runs {
		if jobName != "" && rec.JobName != jobName {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
