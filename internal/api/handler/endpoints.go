package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/factcorpus/internal/api/middleware"
	"github.com/timmy/factcorpus/internal/repository"
)

// EndpointHandler exposes source endpoints and their block state.
type EndpointHandler struct {
	store *repository.Store
}

// NewEndpointHandler creates a new endpoint handler.
func NewEndpointHandler(store *repository.Store) *EndpointHandler {
	return &EndpointHandler{store: store}
}

// UnblockRequest is the optional body of POST /endpoints/:id/unblock.
type UnblockRequest struct {
	ClearRobots bool `json:"clear_robots"`
}

// ListEndpoints returns endpoints page by page.
func (h *EndpointHandler) ListEndpoints(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 1, 500)
	offset := queryInt(c, "offset", 0, 0, 1<<30)
	endpoints, err := h.store.Endpoints.List(c.Request.Context(), limit, offset)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to list endpoints")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list endpoints"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints, "limit": limit, "offset": offset})
}

// GetEndpoint returns one endpoint.
func (h *EndpointHandler) GetEndpoint(c *gin.Context) {
	endpoint, err := h.store.Endpoints.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return
	}
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to load endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load endpoint"})
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// Unblock clears an endpoint's block state. Robots disallow is only cleared
// when the request asks for it explicitly.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes the updated endpoint).
func (h *EndpointHandler) Unblock(c *gin.Context) {
	var req UnblockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.store.Endpoints.ClearBlock(ctx, id, req.ClearRobots); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Failed to unblock endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock endpoint"})
		return
	}
	middleware.GetLogger(c).WithField("clear_robots", req.ClearRobots).Infof("Endpoint %s unblocked", id)

	endpoint, err := h.store.Endpoints.GetByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load endpoint"})
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// Stats returns article counts by processing status.
func (h *EndpointHandler) Stats(c *gin.Context) {
	counts, err := h.store.Articles.CountByStatus(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to count articles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count articles"})
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"articles": counts, "total": total})
}
