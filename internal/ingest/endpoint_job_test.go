package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/repository"
	"github.com/timmy/factcorpus/internal/repository/repotest"
	"github.com/timmy/factcorpus/internal/service"
	"github.com/timmy/factcorpus/internal/source"
)

type jobFixture struct {
	store     *repository.Store
	fetcher   *fakeFetcher
	extractor *urlExtractor
	indexer   *fakeIndexer
	job       *EndpointJob
	clock     time.Time
}

func newJobFixture(t *testing.T, robots RobotsChecker, threshold int) *jobFixture {
	t.Helper()
	store := repotest.OpenStore(t)
	f := &jobFixture{
		store:     store,
		fetcher:   &fakeFetcher{},
		extractor: newURLExtractor(),
		indexer:   &fakeIndexer{fail: map[string]bool{}},
		clock:     time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	f.job = NewEndpointJob(store,
		source.NewRegistry(f.fetcher),
		robots,
		service.NewDiscoveryService(store.Articles),
		service.NewEnrichmentService(store.Articles, f.extractor, nil),
		f.indexer,
		BlockPolicy{Threshold: threshold, Duration: 6 * time.Hour},
	)
	f.job.now = func() time.Time { return f.clock }
	return f
}

// attempt runs the job for endpoint id with a fresh log and returns the
// reloaded log and endpoint.
func (f *jobFixture) attempt(t *testing.T, id string) (*domain.IngestionLog, *domain.SourceEndpoint) {
	t.Helper()
	log := createLog(t, f.store, id)
	ep := reloadEndpoint(t, f.store, id)
	require.NoError(t, f.job.Run(context.Background(), log, ep))
	return reloadLog(t, f.store, log), reloadEndpoint(t, f.store, id)
}

func TestEndpointJobSuccess(t *testing.T) {
	f := newJobFixture(t, stubRobots{allowed: true}, 3)
	createEndpoint(t, f.store, "ep", nil)
	f.fetcher.set(nil, "https://news.example/a", "https://news.example/b")

	log, ep := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusSuccess, log.Status)
	assert.Equal(t, 2, log.ArticlesFetched)
	assert.Equal(t, 2, log.ArticlesProcessed)
	assert.Equal(t, 0, log.ArticlesFailed)
	assert.NotNil(t, log.CompletedAt)
	require.NotNil(t, ep.LastFetchedAt)
	require.NotNil(t, ep.LastSuccessAt)
	assert.Equal(t, 0, ep.FailureCount)

	// Second attempt sees only known items.
	log, _ = f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusSuccess, log.Status)
	assert.Equal(t, 0, log.ArticlesProcessed)
	assert.Len(t, f.indexer.seen, 2)
}

func TestEndpointJobSkipsBlockedEndpoint(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", func(e *domain.SourceEndpoint) { e.RobotsDisallowed = true })

	log, ep := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusSkipped, log.Status)
	assert.Equal(t, "robots disallowed", log.ErrorDetails)
	assert.Equal(t, 0, f.fetcher.calls)
	assert.Nil(t, ep.LastFetchedAt)
}

func TestEndpointJobFetchFailure(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", nil)
	f.fetcher.set(errors.New("connection refused"))

	log, ep := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusFailed, log.Status)
	assert.Equal(t, "fetch failed: connection refused", log.ErrorDetails)
	assert.Equal(t, 1, ep.FailureCount)
	assert.Nil(t, ep.LastFetchedAt)
}

func TestEndpointJobRecordsFetchInterruptedByShutdown(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", nil)
	f.fetcher.set(context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log := createLog(t, f.store, "ep")
	require.NoError(t, f.job.Run(ctx, log, reloadEndpoint(t, f.store, "ep")))

	stored := reloadLog(t, f.store, log)
	assert.Equal(t, domain.LogStatusFailed, stored.Status)
	assert.True(t, stored.IsCompleted())
	assert.Equal(t, "fetch failed: context canceled", stored.ErrorDetails)
	assert.Equal(t, 1, reloadEndpoint(t, f.store, "ep").FailureCount)
}

func TestEndpointJobRobotsSampleDisablesEndpoint(t *testing.T) {
	f := newJobFixture(t, stubRobots{allowed: false}, 3)
	createEndpoint(t, f.store, "ep", func(e *domain.SourceEndpoint) { e.BlockCount = 1 })
	f.fetcher.set(nil, "https://news.example/a")

	log, ep := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusSkipped, log.Status)
	assert.True(t, ep.RobotsDisallowed)
	assert.Equal(t, 0, ep.BlockCount)
	assert.NotNil(t, ep.LastFetchedAt)
	assert.Empty(t, f.extractor.calls)
	assert.False(t, ep.IsEligible(f.clock.Add(365*24*time.Hour), true))
}

func TestEndpointJobBlockEscalatesAndClears(t *testing.T) {
	f := newJobFixture(t, nil, 2)
	createEndpoint(t, f.store, "ep", nil)

	f.fetcher.set(nil, "https://news.example/a1")
	f.extractor.results["https://news.example/a1"] = blockedResult()
	log, ep := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusFailed, log.Status)
	assert.Equal(t, 1, ep.BlockCount)
	assert.Nil(t, ep.BlockedUntil)

	f.clock = f.clock.Add(2 * time.Hour)
	f.fetcher.set(nil, "https://news.example/a2")
	f.extractor.results["https://news.example/a2"] = blockedResult()
	_, ep = f.attempt(t, "ep")
	assert.Equal(t, 2, ep.BlockCount)
	require.NotNil(t, ep.BlockedUntil)
	assert.True(t, f.clock.Add(6*time.Hour).Equal(*ep.BlockedUntil))
	assert.Equal(t, "blocked: http status 403", ep.BlockReason)
	assert.Equal(t, 2, ep.FailureCount)

	// Still blocked an hour later.
	f.clock = f.clock.Add(time.Hour)
	log, _ = f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusSkipped, log.Status)

	f.clock = f.clock.Add(6 * time.Hour)
	f.fetcher.set(nil, "https://news.example/a3")
	log, ep = f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusSuccess, log.Status)
	assert.Equal(t, 0, ep.BlockCount)
	assert.Empty(t, ep.BlockReason)
	assert.Nil(t, ep.BlockedUntil)
	assert.Equal(t, 0, ep.FailureCount)
}

func TestEndpointJobStopsAfterBlockedItem(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", nil)
	f.fetcher.set(nil, "https://news.example/a", "https://news.example/b", "https://news.example/c")
	f.extractor.results["https://news.example/b"] = blockedResult()

	log, ep := f.attempt(t, "ep")
	assert.Equal(t, []string{"https://news.example/a", "https://news.example/b"}, f.extractor.calls)
	assert.Equal(t, domain.LogStatusPartial, log.Status)
	assert.Equal(t, 1, log.ArticlesProcessed)
	assert.Equal(t, 1, log.ArticlesFailed)
	assert.True(t, strings.HasPrefix(log.ErrorDetails, "blocked"))
	assert.Equal(t, 1, ep.BlockCount)
}

func TestEndpointJobLowQualityContinues(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", func(e *domain.SourceEndpoint) { e.BlockCount = 2; e.BlockReason = "old" })
	f.fetcher.set(nil, "https://news.example/a", "https://news.example/b")
	f.extractor.results["https://news.example/a"] = lowQualityResult()

	log, ep := f.attempt(t, "ep")
	assert.Len(t, f.extractor.calls, 2)
	assert.Equal(t, domain.LogStatusPartial, log.Status)
	assert.Equal(t, 0, ep.BlockCount, "a success clears block state")
	assert.Equal(t, 1, ep.FailureCount)
}

func TestEndpointJobLowQualityOnlyEscalates(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", nil)
	f.fetcher.set(nil, "https://news.example/a")
	f.extractor.results["https://news.example/a"] = lowQualityResult()

	log, ep := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusFailed, log.Status)
	assert.Equal(t, 1, ep.BlockCount)
	assert.True(t, strings.HasPrefix(ep.BlockReason, "low quality"))
}

func TestEndpointJobIndexingFailureCounts(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", nil)
	f.fetcher.set(nil, "https://news.example/a", "https://news.example/b")
	f.indexer.fail["https://news.example/b"] = true

	log, ep := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusPartial, log.Status)
	assert.Equal(t, 1, log.ArticlesProcessed)
	assert.Equal(t, 1, log.ArticlesFailed)
	assert.Contains(t, log.ErrorDetails, "embedding API error: status 500")
	assert.Equal(t, 0, ep.BlockCount)
}

func TestEndpointJobSkipsMediaItems(t *testing.T) {
	f := newJobFixture(t, nil, 3)
	createEndpoint(t, f.store, "ep", nil)
	f.fetcher.set(nil, "https://news.example/video/clip", "https://news.example/story")

	log, _ := f.attempt(t, "ep")
	assert.Equal(t, domain.LogStatusSuccess, log.Status)
	assert.Equal(t, 2, log.ArticlesFetched)
	assert.Equal(t, 1, log.ArticlesProcessed)
	assert.Equal(t, []string{"https://news.example/story"}, f.extractor.calls)
}
