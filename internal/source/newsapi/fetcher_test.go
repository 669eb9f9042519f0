package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/factcorpus/internal/config"
	"github.com/timmy/factcorpus/internal/domain"
)

type staticLister struct {
	endpoints []domain.SourceEndpoint
}

func (l *staticLister) ListEligible(_ context.Context, _ time.Time, kind domain.SourceKind) ([]domain.SourceEndpoint, error) {
	var out []domain.SourceEndpoint
	for _, e := range l.endpoints {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

type staticCounter map[string]int64

func (c staticCounter) CountByEndpoints(_ context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, id := range ids {
		if n, ok := c[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

// fakeProvider answers /everything with full pages and an effectively
// unlimited total, so paging only stops at the configured limits.
type fakeProvider struct {
	requests   atomic.Int32
	status     int
	repeatURLs bool
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.requests.Add(1)
	if p.status != 0 {
		w.WriteHeader(p.status)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "code": "rateLimited", "message": "slow down"})
		return
	}
	sources := strings.Split(r.URL.Query().Get("sources"), ",")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	// Always a full page, cycling through the requested sources.
	articles := make([]map[string]interface{}, 0, pageSize)
	for i := 0; i < pageSize; i++ {
		src := sources[i%len(sources)]
		url := fmt.Sprintf("https://news.example.com/%s/%d/%d", src, page, i)
		if p.repeatURLs {
			url = fmt.Sprintf("https://news.example.com/%s/same", src)
		}
		articles = append(articles, map[string]interface{}{
			"source":      map[string]string{"id": src, "name": src},
			"url":         url,
			"title":       "Story from " + src,
			"publishedAt": "2026-03-02T10:00:00Z",
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"totalResults": 100000,
		"articles":     articles,
	})
}

func makeEndpoints(n int) []domain.SourceEndpoint {
	endpoints := make([]domain.SourceEndpoint, n)
	for i := range endpoints {
		endpoints[i] = domain.SourceEndpoint{
			ID:               fmt.Sprintf("ep-%02d", i),
			PublisherID:      fmt.Sprintf("pub-%02d", i),
			Kind:             domain.SourceKindNewsAPI,
			ProviderSourceID: fmt.Sprintf("src-%02d", i),
			Enabled:          true,
		}
	}
	return endpoints
}

func newTestFetcher(baseURL string, endpoints []domain.SourceEndpoint, counts staticCounter, sources, pages, requests int) *Fetcher {
	return NewFetcher(&config.NewsAPIConfig{
		BaseURL:                 baseURL,
		APIKey:                  "key",
		PageSize:                sources,
		MaxSourcesPerRequest:    sources,
		MaxPagesPerBatch:        pages,
		MaxRequestsPerIngestion: requests,
		Timeout:                 5 * time.Second,
	}, &staticLister{endpoints: endpoints}, counts)
}

func TestBatchCoversAllEndpointsWithinLimits(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	endpoints := makeEndpoints(45)
	f := newTestFetcher(srv.URL, endpoints, staticCounter{}, 20, 5, 100)
	ctx := context.Background()

	for i := range endpoints {
		items, err := f.Fetch(ctx, &endpoints[i])
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(items), 5, endpoints[i].ID)
		assert.Contains(t, items[0].URL, endpoints[i].ProviderSourceID)
	}

	// 3 chunks of at most 20 sources, 5 pages each.
	assert.EqualValues(t, 15, provider.requests.Load())
	assert.Nil(t, f.batch, "batch is discarded once every member was served")

	// The next miss builds a fresh batch.
	_, err := f.Fetch(ctx, &endpoints[0])
	require.NoError(t, err)
	assert.EqualValues(t, 30, provider.requests.Load())
}

func TestBatchDefersEndpointsPastRequestCap(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	endpoints := makeEndpoints(45)
	counts := staticCounter{"ep-44": 100}
	f := newTestFetcher(srv.URL, endpoints, counts, 20, 2, 4)
	ctx := context.Background()

	// The highest-volume endpoint is scanned in the first chunk.
	items, err := f.Fetch(ctx, &endpoints[44])
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.True(t, f.batch.requestLimitReached)

	for i := 0; i < 44; i++ {
		items, err := f.Fetch(ctx, &endpoints[i])
		require.NoError(t, err, endpoints[i].ID)
		if i >= 39 {
			assert.Empty(t, items, "%s is deferred", endpoints[i].ID)
		} else {
			assert.Len(t, items, 2, endpoints[i].ID)
		}
	}

	assert.EqualValues(t, 4, provider.requests.Load())
	assert.Nil(t, f.batch)
}

func TestBatchErrorIsReportedToEachMemberOnce(t *testing.T) {
	provider := &fakeProvider{status: http.StatusTooManyRequests}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	endpoints := makeEndpoints(3)
	f := newTestFetcher(srv.URL, endpoints, staticCounter{}, 20, 5, 100)
	ctx := context.Background()

	for i := range endpoints {
		_, err := f.Fetch(ctx, &endpoints[i])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slow down")
	}
	assert.EqualValues(t, 1, provider.requests.Load())
	assert.Nil(t, f.batch)
}

func TestBatchDeduplicatesURLsPerEndpoint(t *testing.T) {
	provider := &fakeProvider{repeatURLs: true}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	endpoints := makeEndpoints(2)
	f := newTestFetcher(srv.URL, endpoints, staticCounter{}, 20, 3, 100)

	items, err := f.Fetch(context.Background(), &endpoints[0])
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.EqualValues(t, 3, provider.requests.Load())
}

func TestResetBatchForcesRebuild(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	endpoints := makeEndpoints(2)
	f := newTestFetcher(srv.URL, endpoints, staticCounter{}, 20, 1, 100)
	ctx := context.Background()

	_, err := f.Fetch(ctx, &endpoints[0])
	require.NoError(t, err)
	require.NotNil(t, f.batch)

	f.ResetBatch()
	assert.Nil(t, f.batch)

	_, err = f.Fetch(ctx, &endpoints[1])
	require.NoError(t, err)
	assert.EqualValues(t, 2, provider.requests.Load())
}

func TestConcurrentFetchesShareOneBatch(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	endpoints := makeEndpoints(10)
	f := newTestFetcher(srv.URL, endpoints, staticCounter{}, 20, 1, 100)

	var wg sync.WaitGroup
	for i := range endpoints {
		wg.Add(1)
		go func(e *domain.SourceEndpoint) {
			defer wg.Done()
			items, err := f.Fetch(context.Background(), e)
			assert.NoError(t, err)
			assert.NotEmpty(t, items)
		}(&endpoints[i])
	}
	wg.Wait()

	assert.EqualValues(t, 1, provider.requests.Load())
}

func TestEndpointWithoutProviderIDGetsEmptyResult(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	endpoints := makeEndpoints(1)
	endpoints[0].ProviderSourceID = ""
	f := newTestFetcher(srv.URL, endpoints, staticCounter{}, 20, 1, 100)

	items, err := f.Fetch(context.Background(), &endpoints[0])
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, provider.requests.Load())
}
