// Package store archives terminal workflow run results in SQLite so they
// survive process restarts and stay queryable from the dashboard.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/miniclaw/miniclaw/types"
	"github.com/miniclaw/miniclaw/workflow"
)

// RunRecord is the persisted shape of one terminal run.
type RunRecord struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"uniqueIndex;size:64"`
	Recipe     string `gorm:"index;size:128"`
	Mode       string `gorm:"size:16"`
	Status     string `gorm:"index;size:16"`
	DurationMS int64
	// Steps holds the per-step results as a JSON array.
	Steps      string `gorm:"type:text"`
	FinishedAt time.Time
}

// Store persists run results through gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema. Use ":memory:" for a throwaway database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "open run store").WithCause(err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, types.NewError(types.ErrInternalError, "migrate run store").WithCause(err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "run_store")),
	}, nil
}

// SaveResult implements workflow.ResultStore.
func (s *Store) SaveResult(ctx context.Context, result *workflow.RunResult) error {
	steps, err := json.Marshal(result.Steps)
	if err != nil {
		return types.NewError(types.ErrInternalError, "encode step results").WithCause(err)
	}
	record := RunRecord{
		RunID:      result.RunID,
		Recipe:     result.Recipe,
		Mode:       string(result.Mode),
		Status:     string(result.Status),
		DurationMS: result.Duration.Milliseconds(),
		Steps:      string(steps),
		FinishedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return types.NewError(types.ErrInternalError, "archive run result").WithCause(err)
	}
	s.logger.Debug("run archived",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
	)
	return nil
}

// Get returns the archived result for a run id. The boolean is false when
// no record exists.
func (s *Store) Get(ctx context.Context, runID string) (*workflow.RunResult, bool, error) {
	var record RunRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.NewError(types.ErrInternalError, "load run result").WithCause(err)
	}
	result, err := record.toResult()
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// List returns up to limit archived results, most recent first. A limit
// of 0 or less uses 50.
func (s *Store) List(ctx context.Context, limit int) ([]*workflow.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []RunRecord
	err := s.db.WithContext(ctx).Order("finished_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list run results").WithCause(err)
	}
	out := make([]*workflow.RunResult, 0, len(records))
	for _, record := range records {
		result, err := record.toResult()
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

func (r *RunRecord) toResult() (*workflow.RunResult, error) {
	var steps []workflow.StepResult
	if err := json.Unmarshal([]byte(r.Steps), &steps); err != nil {
		return nil, types.NewError(types.ErrInternalError, "decode step results").WithCause(err)
	}
	return &workflow.RunResult{
		RunID:    r.RunID,
		Recipe:   r.Recipe,
		Mode:     workflow.Mode(r.Mode),
		Status:   workflow.RunStatus(r.Status),
		Duration: time.Duration(r.DurationMS) * time.Millisecond,
		Steps:    steps,
	}, nil
}
