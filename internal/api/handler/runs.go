package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/factcorpus/internal/api/middleware"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/ingest"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/repository"
)

// RunStarter starts ingestion runs.
type RunStarter interface {
	StartRun(ctx context.Context, correlationID, scopeEndpointID string) (*ingest.RunResult, error)
}

// RunHandler exposes ingestion runs.
type RunHandler struct {
	runner RunStarter
	store  *repository.Store
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runner RunStarter, store *repository.Store) *RunHandler {
	return &RunHandler{runner: runner, store: store}
}

// StartRunRequest is the optional body of POST /runs.
type StartRunRequest struct {
	EndpointID    string `json:"endpoint_id"`
	CorrelationID string `json:"correlation_id"`
}

// RunDetailResponse is a run with its per-endpoint logs.
type RunDetailResponse struct {
	Run  *domain.IngestionRun  `json:"run"`
	Logs []domain.IngestionLog `json:"logs"`
}

// StartRun starts a run over every eligible endpoint or one scoped endpoint.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes 202 with the run result, 409 when a run is active).
func (h *RunHandler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.CorrelationID == "" {
		req.CorrelationID = c.GetHeader(middleware.HeaderCorrelationID)
	}
	if req.CorrelationID == "" {
		// Untraced callers can still find their run by the request id.
		req.CorrelationID = logger.GetRequestID(c.Request.Context())
	}

	result, err := h.runner.StartRun(c.Request.Context(), req.CorrelationID, req.EndpointID)
	switch {
	case errors.Is(err, ingest.ErrRunAlreadyActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return
	case err != nil:
		middleware.GetLogger(c).WithError(err).Error("Failed to start ingestion run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// GetRun returns a run and its logs.
func (h *RunHandler) GetRun(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.store.Runs.GetByID(ctx, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to load run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	logs, err := h.store.Logs.ListByRun(ctx, run.ID)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to load run logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run logs"})
		return
	}
	c.JSON(http.StatusOK, RunDetailResponse{Run: run, Logs: logs})
}

// ListRuns returns the most recent runs.
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit := queryInt(c, "limit", 20, 1, 200)
	runs, err := h.store.Runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// queryInt parses an integer query parameter clamped to [lo, hi].
func queryInt(c *gin.Context, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return min(max(v, lo), hi)
}
