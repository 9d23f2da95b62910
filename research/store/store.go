// Package store persists completed research runs to the configured
// relational database, behind internal/database's PoolManager.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fenwicklabs/atomicresearch/internal/database"
	"github.com/fenwicklabs/atomicresearch/research"
)

// Record is the persisted row for one completed (or failed) research run.
type Record struct {
	RunID                 string    `gorm:"primaryKey;size:36" json:"run_id"`
	Question              string    `gorm:"type:text;not null" json:"question"`
	FinalAnswer           string    `gorm:"type:text" json:"final_answer"`
	SourcesJSON           string    `gorm:"type:text" json:"-"`
	CitationsJSON         string    `gorm:"type:text" json:"-"`
	ResearchLoopsExecuted int       `json:"research_loops_executed"`
	TotalQueries          int       `json:"total_queries"`
	QualityOverall        float64   `json:"quality_overall"`
	CreatedAt             time.Time `json:"created_at"`
}

func (Record) TableName() string {
	return "research_records"
}

// Store wraps a database.PoolManager with research-domain persistence.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// New runs AutoMigrate for Record and returns a ready Store.
func New(pool *database.PoolManager, logger *zap.Logger) (*Store, error) {
	if err := pool.DB().AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate research store: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Save persists a completed Result keyed by its RunID, upserting if the
// same run ID is saved twice (e.g. a retried webhook delivery).
func (s *Store) Save(ctx context.Context, question string, result research.Result) error {
	sourcesJSON, err := json.Marshal(result.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	citationsJSON, err := json.Marshal(result.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	record := Record{
		RunID:                 result.RunID,
		Question:              question,
		FinalAnswer:           result.FinalAnswer,
		SourcesJSON:           string(sourcesJSON),
		CitationsJSON:         string(citationsJSON),
		ResearchLoopsExecuted: result.ResearchLoopsExecuted,
		TotalQueries:          result.TotalQueries,
		CreatedAt:             time.Now(),
	}
	if result.QualitySummary != nil {
		record.QualityOverall = result.QualitySummary.Overall
	}

	err = s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Save(&record).Error
	})
	if err != nil {
		s.logger.Error("failed to persist research record", zap.String("run_id", result.RunID), zap.Error(err))
		return fmt.Errorf("failed to save research record: %w", err)
	}
	return nil
}

// Get loads a persisted record by run ID.
func (s *Store) Get(ctx context.Context, runID string) (Record, error) {
	var record Record
	err := s.pool.DB().WithContext(ctx).First(&record, "run_id = ?", runID).Error
	if err != nil {
		return Record{}, fmt.Errorf("failed to load research record %s: %w", runID, err)
	}
	return record, nil
}

// List returns the most recently created records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []Record
	err := s.pool.DB().WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list research records: %w", err)
	}
	return records, nil
}
