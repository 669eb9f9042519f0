package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/factcorpus/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LogRepository handles ingestion log rows. Completion is monotonic: every
// write that ends a log is conditional on completed_at being NULL.
type LogRepository struct {
	db *gorm.DB
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

// CreateBatch inserts logs in one statement.
func (r *LogRepository) CreateBatch(ctx context.Context, logs []domain.IngestionLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&logs).Error
}

// GetByRunAndEndpoint retrieves the log for a (run, endpoint) pair.
func (r *LogRepository) GetByRunAndEndpoint(ctx context.Context, runID, endpointID string) (*domain.IngestionLog, error) {
	var log domain.IngestionLog
	if err := r.db.WithContext(ctx).
		First(&log, "run_id = ? AND source_endpoint_id = ?", runID, endpointID).Error; err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

// FindOrCreate returns the log for (run, endpoint), inserting a STARTED row
// when none exists. Concurrent callers converge on a single row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runID: run ID.
//   - endpointID: endpoint ID.
//   - correlationID: correlation id for a newly created row.
//   - now: start timestamp for a newly created row.
// Returns:
//   - *domain.IngestionLog: existing or new log.
//   - error: non-nil if the insert or lookup fails.
func (r *LogRepository) FindOrCreate(ctx context.Context, runID, endpointID, correlationID string, now time.Time) (*domain.IngestionLog, error) {
	log := &domain.IngestionLog{
		ID:               uuid.New().String(),
		RunID:            runID,
		SourceEndpointID: endpointID,
		CorrelationID:    correlationID,
		Status:           domain.LogStatusStarted,
		StartedAt:        now,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "source_endpoint_id"}},
		DoNothing: true,
	}).Create(log).Error; err != nil {
		return nil, err
	}
	return r.GetByRunAndEndpoint(ctx, runID, endpointID)
}

// ListByRun returns every log of a run ordered by start time.
func (r *LogRepository) ListByRun(ctx context.Context, runID string) ([]domain.IngestionLog, error) {
	var logs []domain.IngestionLog
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("started_at, id").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// CountIncomplete counts logs of a run that have no completion timestamp.
func (r *LogRepository) CountIncomplete(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.IngestionLog{}).
		Where("run_id = ? AND completed_at IS NULL", runID).
		Count(&count).Error
	return count, err
}

// SetCorrelationID adopts a correlation id on a log that has none.
func (r *LogRepository) SetCorrelationID(ctx context.Context, id, correlationID string) error {
	return r.db.WithContext(ctx).Model(&domain.IngestionLog{}).
		Where("id = ? AND (correlation_id IS NULL OR correlation_id = '')", id).
		Update("correlation_id", correlationID).Error
}

// Claim takes a lease on an incomplete log. Only one concurrent claimant can
// succeed; an unexpired lease held by anyone blocks the claim.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: log ID.
//   - owner: lease owner identifier.
//   - now: current time.
//   - lease: lease duration.
// Returns:
//   - bool: true when this caller now owns the log.
//   - error: non-nil if the update fails.
func (r *LogRepository) Claim(ctx context.Context, id, owner string, now time.Time, lease time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.IngestionLog{}).
		Where("id = ? AND completed_at IS NULL", id).
		Where("lease_expires_at IS NULL OR lease_expires_at < ?", now).
		Updates(map[string]interface{}{
			"lease_owner":      owner,
			"lease_expires_at": now.Add(lease),
			"status":           domain.LogStatusProcessing,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Complete writes terminal values to a log unless it is already completed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: log ID.
//   - c: terminal status and counters.
//   - now: completion timestamp.
// Returns:
//   - bool: false when the log had already completed.
//   - error: non-nil if the update fails.
func (r *LogRepository) Complete(ctx context.Context, id string, c domain.LogCompletion, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.IngestionLog{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{
			"status":             c.Status,
			"articles_fetched":   c.ArticlesFetched,
			"articles_processed": c.ArticlesProcessed,
			"articles_failed":    c.ArticlesFailed,
			"error_details":      c.ErrorDetails,
			"completed_at":       now,
			"lease_expires_at":   nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailIncomplete force-fails incomplete logs of a run. When endpointIDs is
// non-empty only those endpoints' logs are affected.
// Returns the number of logs that were failed.
func (r *LogRepository) FailIncomplete(ctx context.Context, runID string, endpointIDs []string, reason string, now time.Time) (int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.IngestionLog{}).
		Where("run_id = ? AND completed_at IS NULL", runID)
	if len(endpointIDs) > 0 {
		query = query.Where("source_endpoint_id IN ?", endpointIDs)
	}
	res := query.Updates(map[string]interface{}{
		"status":           domain.LogStatusFailed,
		"error_details":    reason,
		"completed_at":     now,
		"lease_expires_at": nil,
	})
	return res.RowsAffected, res.Error
}
