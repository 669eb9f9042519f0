package newsapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timmy/factcorpus/internal/config"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/source"
)

// EndpointLister lists endpoints currently eligible for scheduling.
type EndpointLister interface {
	ListEligible(ctx context.Context, now time.Time, kind domain.SourceKind) ([]domain.SourceEndpoint, error)
}

// ArticleCounter reports how many articles each endpoint has produced.
type ArticleCounter interface {
	CountByEndpoints(ctx context.Context, endpointIDs []string) (map[string]int64, error)
}

// Fetcher serves NEWS_API endpoints from a shared batch. The first Fetch that
// misses the cache fetches articles for every eligible endpoint of the
// provider at once; later calls are answered from the cached batch until each
// member has been served exactly once.
type Fetcher struct {
	api       *client
	endpoints EndpointLister
	counter   ArticleCounter
	limits    config.NewsAPIConfig
	now       func() time.Time

	mu    sync.Mutex
	batch *batch
}

// NewFetcher creates a news API fetcher.
// Parameters:
//   - cfg: API location, credentials and batching limits.
//   - endpoints: source of eligible batch members.
//   - counter: article volume used to prioritize members.
// Returns:
//   - *Fetcher: fetcher with an empty batch cache.
func NewFetcher(cfg *config.NewsAPIConfig, endpoints EndpointLister, counter ArticleCounter) *Fetcher {
	return &Fetcher{
		api:       newClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		endpoints: endpoints,
		counter:   counter,
		limits:    *cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Supports reports whether endpoint is a news API endpoint.
func (f *Fetcher) Supports(endpoint *domain.SourceEndpoint) bool {
	return endpoint.Kind == domain.SourceKindNewsAPI
}

// Fetch returns endpoint's share of the current batch, building a new batch
// on a cache miss. Endpoints left uncovered because the request cap was hit
// receive an empty result.
func (f *Fetcher) Fetch(ctx context.Context, endpoint *domain.SourceEndpoint) ([]source.RawArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.batch == nil || !f.batch.isPending(endpoint.ID) {
		b, err := f.buildBatch(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		f.batch = b
	}

	items, err := f.batch.take(endpoint.ID)
	if f.batch.exhausted() {
		f.batch = nil
	}
	return items, err
}

// ResetBatch drops the cached batch.
func (f *Fetcher) ResetBatch() {
	f.mu.Lock()
	f.batch = nil
	f.mu.Unlock()
}

// buildBatch must be called with f.mu held.
func (f *Fetcher) buildBatch(ctx context.Context, requester *domain.SourceEndpoint) (*batch, error) {
	members, err := f.members(ctx, requester)
	if err != nil {
		return nil, err
	}

	b := newBatch(members)
	byProvider := make(map[string][]string)
	var providerIDs []string
	for _, m := range members {
		pid := strings.TrimSpace(m.ProviderSourceID)
		if pid == "" {
			// Nothing to query for; the member is served an empty result.
			b.cover(m.ID)
			continue
		}
		if _, seen := byProvider[pid]; !seen {
			providerIDs = append(providerIDs, pid)
		}
		byProvider[pid] = append(byProvider[pid], m.ID)
	}

	for start := 0; start < len(providerIDs); start += f.limits.MaxSourcesPerRequest {
		end := min(start+f.limits.MaxSourcesPerRequest, len(providerIDs))
		chunk := providerIDs[start:end]

		if b.requests >= f.limits.MaxRequestsPerIngestion {
			b.requestLimitReached = true
			break
		}
		if err := f.fetchChunk(ctx, b, chunk, byProvider); err != nil {
			// The failing chunk and every chunk after it report the error.
			for _, pid := range providerIDs[start:] {
				for _, id := range byProvider[pid] {
					b.fail(id, err)
				}
			}
			break
		}
		if b.requestLimitReached {
			break
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(members),
		"requests":        b.requests,
		"limit_reached":   b.requestLimitReached,
	}).Info(ctx, "Built news API batch")

	return b, nil
}

// fetchChunk pages through one group of provider sources.
func (f *Fetcher) fetchChunk(ctx context.Context, b *batch, chunk []string, byProvider map[string][]string) error {
	fetched := 0
	for page := 1; page <= f.limits.MaxPagesPerBatch; page++ {
		if b.requests >= f.limits.MaxRequestsPerIngestion {
			b.requestLimitReached = true
			return nil
		}
		if b.requests > 0 && f.limits.RequestDelay > 0 {
			if err := sleep(ctx, f.limits.RequestDelay); err != nil {
				return err
			}
		}

		b.requests++
		resp, err := f.api.everything(ctx, chunk, page, f.limits.PageSize)
		if err != nil {
			return err
		}
		if page == 1 {
			for _, pid := range chunk {
				for _, id := range byProvider[pid] {
					b.cover(id)
				}
			}
		}

		for _, a := range resp.Articles {
			for _, id := range byProvider[a.Source.ID] {
				b.add(id, toRawArticle(a))
			}
		}

		fetched += len(resp.Articles)
		if len(resp.Articles) < f.limits.PageSize || fetched >= resp.TotalResults {
			return nil
		}
	}
	return nil
}

// members returns the batch members in priority order: most articles first,
// ties broken by id. The requester is always a member.
func (f *Fetcher) members(ctx context.Context, requester *domain.SourceEndpoint) ([]domain.SourceEndpoint, error) {
	eligible, err := f.endpoints.ListEligible(ctx, f.now(), domain.SourceKindNewsAPI)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch members: %w", err)
	}

	seen := make(map[string]bool, len(eligible)+1)
	members := make([]domain.SourceEndpoint, 0, len(eligible)+1)
	for _, e := range eligible {
		if !seen[e.ID] {
			seen[e.ID] = true
			members = append(members, e)
		}
	}
	if !seen[requester.ID] {
		members = append(members, *requester)
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	counts, err := f.counter.CountByEndpoints(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles per endpoint: %w", err)
	}

	sort.SliceStable(members, func(i, j int) bool {
		ci, cj := counts[members[i].ID], counts[members[j].ID]
		if ci != cj {
			return ci > cj
		}
		return members[i].ID < members[j].ID
	})
	return members, nil
}

func toRawArticle(a apiArticle) source.RawArticle {
	raw := source.RawArticle{
		URL:         strings.TrimSpace(a.URL),
		Title:       strings.TrimSpace(a.Title),
		Description: strings.TrimSpace(a.Description),
	}
	if a.PublishedAt != nil {
		t := a.PublishedAt.UTC()
		raw.PublishedAt = &t
	}
	// content is a truncated teaser ending in "[+N chars]"; leave Text empty so
	// enrichment fetches the full page.
	return raw
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
