package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/repository"
)

// Finalizer closes runs whose every log has completed.
type Finalizer struct {
	store  *repository.Store
	filter *FailureFilter
	now    func() time.Time
}

// NewFinalizer creates a finalizer.
func NewFinalizer(store *repository.Store, filter *FailureFilter) *Finalizer {
	return &Finalizer{
		store:  store,
		filter: filter,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ClassifyRun derives the terminal run status from its logs.
// FAILED logs matching filter count as neither failures nor successes.
func ClassifyRun(logs []domain.IngestionLog, filter *FailureFilter) (domain.RunStatus, string) {
	var success, partial, failed int
	for _, l := range logs {
		switch l.Status {
		case domain.LogStatusSuccess:
			success++
		case domain.LogStatusPartial:
			partial++
		case domain.LogStatusFailed:
			if filter == nil || !filter.Ignorable(l.ErrorDetails) {
				failed++
			}
		}
	}

	switch {
	case failed == 0 && partial == 0:
		return domain.RunStatusCompleted, ""
	case success == 0 && partial == 0:
		return domain.RunStatusFailed, fmt.Sprintf("%d of %d endpoints failed", failed, len(logs))
	default:
		return domain.RunStatusPartial, fmt.Sprintf("%d failed, %d partial of %d endpoints", failed, partial, len(logs))
	}
}

// FinalizeIfDone finishes the run once no log is left incomplete.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runID: run to check.
// Returns:
//   - bool: true when this call moved the run to a terminal status.
//   - error: non-nil on storage failure.
func (f *Finalizer) FinalizeIfDone(ctx context.Context, runID string) (bool, error) {
	remaining, err := f.store.Logs.CountIncomplete(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to count incomplete logs: %w", err)
	}
	if remaining > 0 {
		return false, nil
	}

	logs, err := f.store.Logs.ListByRun(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to list run logs: %w", err)
	}
	status, details := ClassifyRun(logs, f.filter)

	finished, err := f.store.Runs.Finish(ctx, runID, status, details, f.now())
	if err != nil {
		return false, fmt.Errorf("failed to finish run: %w", err)
	}
	if finished {
		logger.With(logger.Fields{
			logger.FieldRunID:  runID,
			logger.FieldStatus: string(status),
			logger.FieldCount:  len(logs),
		}).Info(ctx, "Ingestion run finished")
	}
	return finished, nil
}
