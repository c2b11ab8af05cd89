// Package store persists classification runs in Postgres through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/miradorstack/mirador-ephys/internal/models"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("classification run not found")

// RunStore saves and retrieves classification runs.
type RunStore interface {
	SaveRun(ctx context.Context, run models.ClassificationRun) error
	GetRun(ctx context.Context, id string) (models.ClassificationRun, error)
}

// GormStore implements RunStore on a gorm database.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to Postgres at dsn and optionally migrates the schema.
func Open(dsn string, autoMigrate bool, log *slog.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)

	s := NewGormStore(db, log)
	if autoMigrate {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewGormStore wraps an open database.
func NewGormStore(db *gorm.DB, log *slog.Logger) *GormStore {
	if log == nil {
		log = slog.Default()
	}
	return &GormStore{db: db, logger: log}
}

// Migrate creates or updates the run tables.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&RunRecord{}, &ClassificationRecord{}); err != nil {
		return fmt.Errorf("migrate classification tables: %w", err)
	}
	return nil
}

// SaveRun writes a run and its classifications in one transaction.
func (s *GormStore) SaveRun(ctx context.Context, run models.ClassificationRun) error {
	rec, err := toRecords(run)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	s.logger.Debug("classification run stored", slog.String("run_id", run.RunID), slog.Int("cells", len(run.Results)))
	return nil
}

// GetRun loads a run with its classifications in their original order.
func (s *GormStore) GetRun(ctx context.Context, id string) (models.ClassificationRun, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).
		Preload("Classifications", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ClassificationRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return models.ClassificationRun{}, fmt.Errorf("load run %s: %w", id, err)
	}
	return fromRecords(rec)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
