package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/queue"
	"github.com/timmy/factcorpus/internal/repository"
)

// ErrRunAlreadyActive is returned when another run is still RUNNING.
var ErrRunAlreadyActive = errors.New("an ingestion run is already running")

// Publisher sends task messages to workers.
type Publisher interface {
	Publish(ctx context.Context, msg queue.TaskMessage) error
}

// RunResult summarizes a started run.
type RunResult struct {
	RunID         string           `json:"run_id"`
	TasksEnqueued int              `json:"tasks_enqueued"`
	Status        domain.RunStatus `json:"status"`
}

// Runner starts ingestion runs and fans them out as task messages.
type Runner struct {
	store      *repository.Store
	publisher  Publisher
	finalizer  *Finalizer
	runTimeout time.Duration
	now        func() time.Time
}

// NewRunner creates a runner.
func NewRunner(store *repository.Store, publisher Publisher, finalizer *Finalizer, runTimeout time.Duration) *Runner {
	return &Runner{
		store:      store,
		publisher:  publisher,
		finalizer:  finalizer,
		runTimeout: runTimeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartRun creates a run over every eligible endpoint, or over one endpoint
// when scopeEndpointID is set, and enqueues one task per endpoint.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - correlationID: caller-supplied trace id; generated when empty.
//   - scopeEndpointID: restricts the run to a single endpoint when non-empty.
// Returns:
//   - *RunResult: run id, enqueued task count and run status.
//   - error: ErrRunAlreadyActive, repository.ErrNotFound for an unknown
//     scoped endpoint, or a storage failure.
func (r *Runner) StartRun(ctx context.Context, correlationID, scopeEndpointID string) (*RunResult, error) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx = logger.WithField(ctx, logger.FieldCorrelationID, correlationID)

	if err := r.SweepStale(ctx); err != nil {
		logger.CtxError(ctx, "Stale run sweep failed: %v", err)
	}

	now := r.now()
	run := &domain.IngestionRun{
		ID:              uuid.New().String(),
		Status:          domain.RunStatusRunning,
		CorrelationID:   correlationID,
		ScopeEndpointID: scopeEndpointID,
		StartedAt:       now,
	}
	ctx = logger.WithField(ctx, logger.FieldRunID, run.ID)

	var endpoints []domain.SourceEndpoint
	err := r.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Runs.Create(ctx, run); err != nil {
			if repository.IsDuplicateKey(err) {
				return ErrRunAlreadyActive
			}
			return fmt.Errorf("failed to create run: %w", err)
		}

		selected, err := r.selectEndpoints(ctx, tx, scopeEndpointID, now)
		if err != nil {
			return err
		}
		endpoints = selected

		if len(endpoints) == 0 {
			if _, err := tx.Runs.Finish(ctx, run.ID, domain.RunStatusCompleted, "no eligible endpoints", now); err != nil {
				return fmt.Errorf("failed to finish empty run: %w", err)
			}
			run.Status = domain.RunStatusCompleted
			return nil
		}

		logs := make([]domain.IngestionLog, 0, len(endpoints))
		for _, ep := range endpoints {
			logs = append(logs, domain.IngestionLog{
				ID:               uuid.New().String(),
				RunID:            run.ID,
				SourceEndpointID: ep.ID,
				CorrelationID:    correlationID,
				Status:           domain.LogStatusStarted,
				StartedAt:        now,
			})
		}
		if err := tx.Logs.CreateBatch(ctx, logs); err != nil {
			return fmt.Errorf("failed to create run logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &RunResult{RunID: run.ID, Status: run.Status}
	if len(endpoints) == 0 {
		logger.CtxInfo(ctx, "No eligible endpoints, run completed immediately")
		return result, nil
	}

	result.TasksEnqueued, result.Status = r.enqueue(ctx, run, endpoints)
	logger.With(logger.Fields{logger.FieldCount: result.TasksEnqueued}).
		WithStatus(string(result.Status)).
		Info(ctx, "Ingestion run started for %d endpoints", len(endpoints))
	return result, nil
}

func (r *Runner) selectEndpoints(ctx context.Context, tx *repository.Store, scopeEndpointID string, now time.Time) ([]domain.SourceEndpoint, error) {
	var candidates []domain.SourceEndpoint
	if scopeEndpointID != "" {
		ep, err := tx.Endpoints.GetByID(ctx, scopeEndpointID)
		if err != nil {
			return nil, fmt.Errorf("failed to load endpoint %s: %w", scopeEndpointID, err)
		}
		// A scoped run ignores the fetch interval but not the block state.
		if ep.IsEligible(now, true) {
			candidates = append(candidates, *ep)
		}
	} else {
		eligible, err := tx.Endpoints.ListEligible(ctx, now, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list eligible endpoints: %w", err)
		}
		candidates = eligible
	}

	seen := make(map[string]bool, len(candidates))
	unique := candidates[:0]
	for _, ep := range candidates {
		if seen[ep.ID] {
			continue
		}
		seen[ep.ID] = true
		unique = append(unique, ep)
	}
	return unique, nil
}

// enqueue publishes one task per endpoint. Endpoints whose task could not be
// published get their log failed; the run fails only when nothing went out.
func (r *Runner) enqueue(ctx context.Context, run *domain.IngestionRun, endpoints []domain.SourceEndpoint) (int, domain.RunStatus) {
	enqueued := 0
	var publishErr error
	for _, ep := range endpoints {
		msg := queue.TaskMessage{RunID: run.ID, SourceEndpointID: ep.ID, CorrelationID: run.CorrelationID}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			publishErr = err
			break
		}
		enqueued++
	}

	if err := r.store.Runs.SetTasksEnqueued(ctx, run.ID, enqueued); err != nil {
		logger.CtxError(ctx, "Failed to record enqueued task count: %v", err)
	}
	if publishErr == nil {
		return enqueued, domain.RunStatusRunning
	}

	reason := fmt.Sprintf("enqueue failed: %v", publishErr)
	logger.CtxError(ctx, "Enqueued %d of %d tasks: %v", enqueued, len(endpoints), publishErr)

	remaining := make([]string, 0, len(endpoints)-enqueued)
	for _, ep := range endpoints[enqueued:] {
		remaining = append(remaining, ep.ID)
	}
	if _, err := r.store.Logs.FailIncomplete(ctx, run.ID, remaining, reason, r.now()); err != nil {
		logger.CtxError(ctx, "Failed to fail unenqueued logs: %v", err)
	}

	if enqueued == 0 {
		if _, err := r.store.Runs.Finish(ctx, run.ID, domain.RunStatusFailed, reason, r.now()); err != nil {
			logger.CtxError(ctx, "Failed to fail run: %v", err)
		}
		return 0, domain.RunStatusFailed
	}

	// Tasks that made it out may already be done.
	if finished, err := r.finalizer.FinalizeIfDone(ctx, run.ID); err != nil {
		logger.CtxError(ctx, "Failed to finalize run: %v", err)
	} else if finished {
		if current, err := r.store.Runs.GetByID(ctx, run.ID); err == nil {
			return enqueued, current.Status
		}
	}
	return enqueued, domain.RunStatusRunning
}

// SweepStale fails RUNNING runs older than the run timeout together with
// their incomplete logs.
func (r *Runner) SweepStale(ctx context.Context) error {
	if r.runTimeout <= 0 {
		return nil
	}
	now := r.now()
	stale, err := r.store.Runs.ListStale(ctx, now.Add(-r.runTimeout))
	if err != nil {
		return fmt.Errorf("failed to list stale runs: %w", err)
	}

	reason := fmt.Sprintf("run exceeded timeout of %s", r.runTimeout)
	for _, run := range stale {
		failed, err := r.store.Logs.FailIncomplete(ctx, run.ID, nil, reason, now)
		if err != nil {
			return fmt.Errorf("failed to fail logs of stale run %s: %w", run.ID, err)
		}
		if _, err := r.store.Runs.Finish(ctx, run.ID, domain.RunStatusFailed, reason, now); err != nil {
			return fmt.Errorf("failed to fail stale run %s: %w", run.ID, err)
		}
		logger.With(logger.Fields{
			logger.FieldRunID: run.ID,
			logger.FieldCount: failed,
		}).Warn(ctx, "Failed stale ingestion run")
	}
	return nil
}
