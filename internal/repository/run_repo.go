package repository

import (
	"context"
	"time"

	"github.com/timmy/factcorpus/internal/domain"
	"gorm.io/gorm"
)

// RunRepository handles ingestion run rows.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run. A second RUNNING run fails with a duplicate-key
// error, see IsDuplicateKey.
func (r *RunRepository) Create(ctx context.Context, run *domain.IngestionRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.IngestionRun, error) {
	var run domain.IngestionRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// ListStale returns RUNNING runs started before cutoff.
func (r *RunRepository) ListStale(ctx context.Context, cutoff time.Time) ([]domain.IngestionRun, error) {
	var runs []domain.IngestionRun
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", domain.RunStatusRunning, cutoff).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Finish moves a RUNNING run to a terminal status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
//   - status: terminal status to set.
//   - errorDetails: optional reason.
//   - now: completion timestamp.
// Returns:
//   - bool: false when the run was no longer RUNNING.
//   - error: non-nil if the update fails.
func (r *RunRepository) Finish(ctx context.Context, id string, status domain.RunStatus, errorDetails string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.IngestionRun{}).
		Where("id = ? AND status = ?", id, domain.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":        status,
			"error_details": errorDetails,
			"completed_at":  now,
		})
	return res.RowsAffected > 0, res.Error
}

// SetTasksEnqueued records how many task messages reached the queue.
func (r *RunRepository) SetTasksEnqueued(ctx context.Context, id string, count int) error {
	return r.db.WithContext(ctx).Model(&domain.IngestionRun{}).
		Where("id = ?", id).
		Update("tasks_enqueued", count).Error
}

// ListRecent returns the latest runs first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	var runs []domain.IngestionRun
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
