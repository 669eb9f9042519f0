package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/ingest"
	"github.com/timmy/factcorpus/internal/queue"
	"github.com/timmy/factcorpus/internal/repository"
	"github.com/timmy/factcorpus/internal/repository/repotest"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.TaskMessage) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *repository.Store) {
	t.Helper()
	store := repotest.OpenStore(t)
	runner := ingest.NewRunner(store, nopPublisher{}, ingest.NewFinalizer(store, ingest.NewFailureFilter(nil)), 2*time.Hour)
	sqlDB, err := store.DB().DB()
	require.NoError(t, err)
	return SetupRouter(Dependencies{Runner: runner, Store: store, DB: sqlDB}, "test"), store
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)
	w := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStartRunLifecycle(t *testing.T) {
	h, store := newTestRouter(t)
	require.NoError(t, store.Endpoints.Create(context.Background(), &domain.SourceEndpoint{
		ID: "ep-1", PublisherID: "pub", Name: "Example", Kind: domain.SourceKindRSS,
		URL: "https://news.example/feed.xml", Enabled: true,
	}))

	w := do(h, http.MethodPost, "/api/v1/runs", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var result ingest.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.TasksEnqueued)
	assert.Equal(t, domain.RunStatusRunning, result.Status)

	w = do(h, http.MethodPost, "/api/v1/runs", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(h, http.MethodGet, "/api/v1/runs/"+result.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Run  domain.IngestionRun   `json:"run"`
		Logs []domain.IngestionLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, result.RunID, detail.Run.ID)
	assert.Len(t, detail.Logs, 1)

	w = do(h, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartRunScopedToMissingEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	w := do(h, http.MethodPost, "/api/v1/runs", `{"endpoint_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnblockEndpoint(t *testing.T) {
	h, store := newTestRouter(t)
	until := time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.Endpoints.Create(context.Background(), &domain.SourceEndpoint{
		ID: "ep-1", PublisherID: "pub", Name: "Example", Kind: domain.SourceKindRSS, Enabled: true,
		RobotsDisallowed: true, BlockCount: 3, BlockReason: "blocked: http status 403", BlockedUntil: &until,
	}))

	w := do(h, http.MethodPost, "/api/v1/endpoints/ep-1/unblock", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ep domain.SourceEndpoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ep))
	assert.Zero(t, ep.BlockCount)
	assert.Nil(t, ep.BlockedUntil)
	assert.True(t, ep.RobotsDisallowed, "robots stays unless asked")

	w = do(h, http.MethodPost, "/api/v1/endpoints/ep-1/unblock", `{"clear_robots":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ep))
	assert.False(t, ep.RobotsDisallowed)

	w = do(h, http.MethodPost, "/api/v1/endpoints/missing/unblock", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEndpointsAndStats(t *testing.T) {
	h, store := newTestRouter(t)
	require.NoError(t, store.Endpoints.Create(context.Background(), &domain.SourceEndpoint{
		ID: "ep-1", PublisherID: "pub", Name: "Example", Kind: domain.SourceKindNewsAPI, Enabled: true,
	}))

	w := do(h, http.MethodGet, "/api/v1/endpoints?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ep-1"`)

	w = do(h, http.MethodGet, "/api/v1/endpoints/ep-1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestStartRunUsesCorrelationHeader(t *testing.T) {
	h, store := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	req.Header.Set("X-Correlation-ID", "trace-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var result ingest.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	run, err := store.Runs.GetByID(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "trace-42", run.CorrelationID)
}

func TestStartRunFallsBackToRequestID(t *testing.T) {
	h, store := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "req-7", w.Header().Get("X-Request-ID"))

	var result ingest.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	run, err := store.Runs.GetByID(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "req-7", run.CorrelationID)
}
