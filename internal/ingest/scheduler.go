package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/factcorpus/internal/logger"
)

// Schedule starts a run every interval until ctx is cancelled. A run that is
// still active when the next tick fires is left alone.
func (r *Runner) Schedule(ctx context.Context, interval time.Duration) {
	ctx = logger.SetComponent(ctx, "scheduler")
	logger.CtxInfo(ctx, "Scheduling ingestion every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := r.StartRun(ctx, "", "")
			switch {
			case errors.Is(err, ErrRunAlreadyActive):
				logger.CtxInfo(ctx, "Previous run still active, skipping tick")
			case err != nil:
				logger.CtxError(ctx, "Scheduled run failed to start: %v", err)
			default:
				logger.CtxInfo(ctx, "Scheduled run %s started with %d tasks", result.RunID, result.TasksEnqueued)
			}
		}
	}
}
