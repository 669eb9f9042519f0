package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/queue"
	"github.com/timmy/factcorpus/internal/repository"
)

// Job executes the pipeline for one claimed log.
type Job interface {
	Run(ctx context.Context, log *domain.IngestionLog, endpoint *domain.SourceEndpoint) error
}

// BatchResetter drops cached fetch batches between runs.
type BatchResetter interface {
	ResetBatches()
}

// TaskHandler claims and executes task messages.
type TaskHandler struct {
	store     *repository.Store
	job       Job
	batches   BatchResetter
	finalizer *Finalizer
	owner     string
	lease     time.Duration
	now       func() time.Time

	mu        sync.Mutex
	lastRunID string
}

// NewTaskHandler creates a task handler. batches may be nil.
func NewTaskHandler(store *repository.Store, job Job, batches BatchResetter, finalizer *Finalizer, lease time.Duration) *TaskHandler {
	host, _ := os.Hostname()
	return &TaskHandler{
		store:     store,
		job:       job,
		batches:   batches,
		finalizer: finalizer,
		owner:     fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8]),
		lease:     lease,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one task message. It is safe to call more than once for
// the same message: only the first claimant of the log executes the job.
func (h *TaskHandler) Handle(ctx context.Context, msg queue.TaskMessage) {
	ctx = logger.WithTask(ctx, msg.RunID, msg.SourceEndpointID, msg.CorrelationID)
	ctx = logger.WithField(ctx, logger.FieldWorkerID, h.owner)

	outcome, err := h.claim(ctx, msg)
	if err != nil {
		logger.CtxError(ctx, "Failed to claim task: %v", err)
		return
	}
	if outcome.log == nil {
		// A duplicate or a lost claim race may be the last chance to settle
		// a run whose earlier finalization failed.
		if outcome.runActive {
			h.finalize(ctx, msg.RunID)
		}
		return
	}

	h.observeRun(msg.RunID)

	start := h.now()
	if err := h.execute(ctx, outcome.log, outcome.endpoint); err != nil {
		logger.With(logger.Fields{logger.FieldStatus: string(domain.LogStatusFailed)}).
			WithDuration(h.now().Sub(start).Milliseconds()).
			Error(ctx, "Endpoint ingestion failed: %v", err)
		// The job may have stopped because ctx was cancelled; the failure
		// must still be recorded.
		if _, cerr := h.store.Logs.Complete(context.WithoutCancel(ctx), outcome.log.ID, domain.LogCompletion{
			Status:       domain.LogStatusFailed,
			ErrorDetails: err.Error(),
		}, h.now()); cerr != nil {
			logger.CtxError(ctx, "Failed to record task failure: %v", cerr)
		}
	}

	h.finalize(ctx, msg.RunID)
}

func (h *TaskHandler) finalize(ctx context.Context, runID string) {
	if _, err := h.finalizer.FinalizeIfDone(context.WithoutCancel(ctx), runID); err != nil {
		logger.CtxError(ctx, "Failed to finalize run: %v", err)
	}
}

// claimOutcome is the result of the claim protocol. log is nil when there is
// nothing for this worker to execute; runActive reports whether the run was
// still RUNNING.
type claimOutcome struct {
	log       *domain.IngestionLog
	endpoint  *domain.SourceEndpoint
	runActive bool
}

// claim runs the claim protocol in one transaction. A nil log means there
// is nothing for this worker to do.
func (h *TaskHandler) claim(ctx context.Context, msg queue.TaskMessage) (claimOutcome, error) {
	var outcome claimOutcome
	err := h.store.Transaction(ctx, func(tx *repository.Store) error {
		now := h.now()

		run, err := tx.Runs.GetByID(ctx, msg.RunID)
		if errors.Is(err, repository.ErrNotFound) {
			logger.CtxWarn(ctx, "Run not found, dropping task")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}
		ep, err := tx.Endpoints.GetByID(ctx, msg.SourceEndpointID)
		if errors.Is(err, repository.ErrNotFound) {
			logger.CtxWarn(ctx, "Endpoint not found, dropping task")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load endpoint: %w", err)
		}

		log, err := tx.Logs.FindOrCreate(ctx, run.ID, ep.ID, msg.CorrelationID, now)
		if err != nil {
			return fmt.Errorf("failed to load log: %w", err)
		}

		if run.Status != domain.RunStatusRunning {
			if !log.IsCompleted() {
				if _, err := tx.Logs.Complete(ctx, log.ID, domain.LogCompletion{
					Status:       domain.LogStatusSkipped,
					ErrorDetails: fmt.Sprintf("run is %s", run.Status),
				}, now); err != nil {
					return fmt.Errorf("failed to skip log: %w", err)
				}
			}
			logger.CtxInfo(ctx, "Run is %s, task skipped", run.Status)
			return nil
		}

		outcome.runActive = true
		if log.IsCompleted() {
			logger.CtxDebug(ctx, "Log already completed, duplicate delivery")
			return nil
		}

		switch {
		case log.CorrelationID == "" && msg.CorrelationID != "":
			if err := tx.Logs.SetCorrelationID(ctx, log.ID, msg.CorrelationID); err != nil {
				return fmt.Errorf("failed to set correlation id: %w", err)
			}
			log.CorrelationID = msg.CorrelationID
		case msg.CorrelationID != "" && log.CorrelationID != msg.CorrelationID:
			logger.CtxWarn(ctx, "Correlation id mismatch, keeping %s over %s", log.CorrelationID, msg.CorrelationID)
		}

		ok, err := tx.Logs.Claim(ctx, log.ID, h.owner, now, h.lease)
		if err != nil {
			return fmt.Errorf("failed to claim log: %w", err)
		}
		if !ok {
			logger.CtxDebug(ctx, "Log claimed by another worker")
			return nil
		}
		log.Status = domain.LogStatusProcessing
		log.LeaseOwner = h.owner
		outcome.log = log
		outcome.endpoint = ep
		return nil
	})
	if err != nil {
		return claimOutcome{}, err
	}
	return outcome, nil
}

// execute runs the job, converting a panic into an error.
func (h *TaskHandler) execute(ctx context.Context, log *domain.IngestionLog, endpoint *domain.SourceEndpoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Endpoint ingestion panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()
	return h.job.Run(ctx, log, endpoint)
}

// observeRun drops cached fetch batches the first time a run is seen.
func (h *TaskHandler) observeRun(runID string) {
	if h.batches == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastRunID == runID {
		return
	}
	h.lastRunID = runID
	h.batches.ResetBatches()
}
