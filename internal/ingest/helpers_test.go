package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/extract"
	"github.com/timmy/factcorpus/internal/queue"
	"github.com/timmy/factcorpus/internal/repository"
	"github.com/timmy/factcorpus/internal/source"
)

type fakeFetcher struct {
	mu    sync.Mutex
	items []source.RawArticle
	err   error
	calls int
}

func (f *fakeFetcher) Supports(*domain.SourceEndpoint) bool { return true }

func (f *fakeFetcher) Fetch(context.Context, *domain.SourceEndpoint) ([]source.RawArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.items, f.err
}

func (f *fakeFetcher) set(err error, urls ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.items = nil
	for _, u := range urls {
		f.items = append(f.items, source.RawArticle{URL: u, Title: u})
	}
}

// urlExtractor returns a preset result per URL and defaults to success.
type urlExtractor struct {
	mu      sync.Mutex
	results map[string]*extract.FetchResult
	calls   []string
}

func newURLExtractor() *urlExtractor {
	return &urlExtractor{results: map[string]*extract.FetchResult{}}
}

func (e *urlExtractor) FetchAndExtract(_ context.Context, rawURL string) *extract.FetchResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, rawURL)
	if r, ok := e.results[rawURL]; ok {
		return r
	}
	return &extract.FetchResult{HTTPStatus: 200, FinalURL: rawURL, ExtractedText: "Extracted article body for " + rawURL}
}

func blockedResult() *extract.FetchResult {
	return &extract.FetchResult{HTTPStatus: 403, BlockedSuspected: true, FetchError: "blocked: http status 403"}
}

func lowQualityResult() *extract.FetchResult {
	return &extract.FetchResult{HTTPStatus: 200, ExtractionError: "low quality: extracted 40 chars, need 300"}
}

type fakeIndexer struct {
	mu   sync.Mutex
	fail map[string]bool
	seen []string
}

func (f *fakeIndexer) Index(_ context.Context, article *domain.Article, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, article.CanonicalURL)
	if f.fail[article.CanonicalURL] {
		article.ErrorMessage = "embedding API error: status 500"
		return false
	}
	return true
}

type stubRobots struct{ allowed bool }

func (s stubRobots) IsAllowed(context.Context, string) (bool, error) { return s.allowed, nil }

type recordingPublisher struct {
	mu     sync.Mutex
	msgs   []queue.TaskMessage
	failAt int // 1-based publish call that fails; 0 never
	calls  int
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.TaskMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAt > 0 && p.calls >= p.failAt {
		return errors.New("broker unavailable")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func createEndpoint(t *testing.T, store *repository.Store, id string, mutate func(*domain.SourceEndpoint)) *domain.SourceEndpoint {
	t.Helper()
	ep := &domain.SourceEndpoint{
		ID:                   id,
		PublisherID:          "pub-" + id,
		Name:                 id,
		Kind:                 domain.SourceKindRSS,
		URL:                  "https://news.example/" + id + "/feed.xml",
		FetchIntervalMinutes: 60,
		Enabled:              true,
	}
	if mutate != nil {
		mutate(ep)
	}
	require.NoError(t, store.Endpoints.Create(context.Background(), ep))
	return ep
}

func createLog(t *testing.T, store *repository.Store, endpointID string) *domain.IngestionLog {
	t.Helper()
	log, err := store.Logs.FindOrCreate(context.Background(), uuid.New().String(), endpointID, "corr", time.Now().UTC())
	require.NoError(t, err)
	return log
}

func reloadLog(t *testing.T, store *repository.Store, log *domain.IngestionLog) *domain.IngestionLog {
	t.Helper()
	got, err := store.Logs.GetByRunAndEndpoint(context.Background(), log.RunID, log.SourceEndpointID)
	require.NoError(t, err)
	return got
}

func reloadEndpoint(t *testing.T, store *repository.Store, id string) *domain.SourceEndpoint {
	t.Helper()
	got, err := store.Endpoints.GetByID(context.Background(), id)
	require.NoError(t, err)
	return got
}
