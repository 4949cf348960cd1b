// Package gormstore persists run history through GORM. Sqlite is the
// default for a host-local daemon; postgres is available for shared
// deployments.
package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"runwrap/pkg/models"
	"runwrap/pkg/storage"
)

type Store struct {
	db *gorm.DB
}

// NewSqliteStore opens (or creates) a sqlite database at path.
func NewSqliteStore(path string) (*Store, error) {
	return newStore(sqlite.Open(path))
}

// NewPostgresStore connects to postgres with the given DSN.
func NewPostgresStore(dsn string) (*Store, error) {
	return newStore(postgres.Open(dsn))
}

func newStore(dialector gorm.Dialector) (*Store, error) {
	config := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.RunRecord{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun persists a new run record.
func (s *Store) CreateRun(ctx context.Context, rec *models.RunRecord) error {
	result := s.db.WithContext(ctx).Create(rec)
	if result.Error != nil {
		return fmt.Errorf("failed to create run: %w", result.Error)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status models.RunStatus, exitStatus int, finishedAt time.Time, logURI, errMsg string) error {
	result := s.db.WithContext(ctx).
		Model(&models.RunRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"exit_status": exitStatus,
			"finished_at": finishedAt,
			"log_uri":     logURI,
			"error":       errMsg,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to finish run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	var rec models.RunRecord
	result := s.db.WithContext(ctx).First(&rec, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &rec, nil
}

// ListRuns returns run history, newest first.
func (s *Store) ListRuns(ctx context.Context, jobName string, limit, offset int) ([]models.RunRecord, error) {
	var recs []models.RunRecord

	query := s.db.WithContext(ctx).Order("started_at desc")
	if jobName != "" {
		query = query.Where("job_name = ?", jobName)
	}
	result := query.Limit(limit).Offset(offset).Find(&recs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return recs, nil
}
