package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/repository"
	"github.com/timmy/factcorpus/internal/service"
	"github.com/timmy/factcorpus/internal/source"
)

// FetcherResolver finds the fetcher for an endpoint.
type FetcherResolver interface {
	Resolve(endpoint *domain.SourceEndpoint) (source.Fetcher, error)
}

// RobotsChecker answers robots.txt permission for a URL.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
}

// Discoverer maps raw items to articles.
type Discoverer interface {
	Discover(ctx context.Context, endpoint *domain.SourceEndpoint, raw source.RawArticle) (*service.DiscoveryResult, error)
}

// Enricher obtains article text.
type Enricher interface {
	Enrich(ctx context.Context, article *domain.Article, raw source.RawArticle) (*service.EnrichmentResult, error)
}

// Indexer makes article text searchable.
type Indexer interface {
	Index(ctx context.Context, article *domain.Article, text string) bool
}

// BlockPolicy configures block escalation.
type BlockPolicy struct {
	Threshold int
	Duration  time.Duration
}

// EndpointJob ingests one endpoint for one claimed log.
type EndpointJob struct {
	store      *repository.Store
	fetchers   FetcherResolver
	robots     RobotsChecker
	discovery  Discoverer
	enrichment Enricher
	indexing   Indexer
	block      BlockPolicy
	now        func() time.Time
}

// NewEndpointJob creates an endpoint job. robots may be nil.
func NewEndpointJob(
	store *repository.Store,
	fetchers FetcherResolver,
	robots RobotsChecker,
	discovery Discoverer,
	enrichment Enricher,
	indexing Indexer,
	block BlockPolicy,
) *EndpointJob {
	if block.Threshold <= 0 {
		block.Threshold = 3
	}
	return &EndpointJob{
		store:      store,
		fetchers:   fetchers,
		robots:     robots,
		discovery:  discovery,
		enrichment: enrichment,
		indexing:   indexing,
		block:      block,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// itemTally accumulates the per-item outcomes of one endpoint attempt.
type itemTally struct {
	fetched    int
	processed  int
	failed     int
	firstError string
	signal     FailureKind
	signalMsg  string
	lowQuality bool
	qualityMsg string
}

func (t *itemTally) fail(msg string) {
	t.failed++
	if t.firstError == "" {
		t.firstError = msg
	}
}

func (t *itemTally) status() domain.LogStatus {
	switch {
	case t.failed == 0:
		return domain.LogStatusSuccess
	case t.processed > 0:
		return domain.LogStatusPartial
	default:
		return domain.LogStatusFailed
	}
}

func (t *itemTally) errorDetails() string {
	if t.failed == 0 {
		return ""
	}
	if t.signal.stopsEndpoint() {
		return fmt.Sprintf("%s (stopped after %d failed of %d fetched)", t.signalMsg, t.failed, t.fetched)
	}
	return fmt.Sprintf("%d of %d articles failed; first error: %s", t.failed, t.fetched, t.firstError)
}

// Run executes the endpoint state machine and completes log. The returned
// error is reserved for unexpected failures; the caller turns it into a
// FAILED completion.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - log: claimed log of this attempt.
//   - endpoint: endpoint to ingest; updated in place.
// Returns:
//   - error: non-nil only for storage or other unexpected failures.
func (j *EndpointJob) Run(ctx context.Context, log *domain.IngestionLog, endpoint *domain.SourceEndpoint) error {
	start := j.now()

	if endpoint.IsBlocked(start) {
		reason := endpoint.SkipReason(start)
		logger.CtxInfo(ctx, "Skipping endpoint %s: %s", endpoint.Name, reason)
		return j.complete(ctx, log, domain.LogCompletion{Status: domain.LogStatusSkipped, ErrorDetails: reason})
	}

	fetcher, err := j.fetchers.Resolve(endpoint)
	if err != nil {
		return j.failFetch(ctx, log, endpoint, err)
	}
	items, err := fetcher.Fetch(ctx, endpoint)
	if err != nil {
		return j.failFetch(ctx, log, endpoint, err)
	}
	fetchedAt := j.now()
	endpoint.LastFetchedAt = &fetchedAt

	if len(items) > 0 && j.robots != nil {
		allowed, err := j.robots.IsAllowed(ctx, items[0].URL)
		if err != nil {
			logger.CtxWarn(ctx, "Robots sample check failed for %s: %v", items[0].URL, err)
		} else if !allowed {
			logger.CtxWarn(ctx, "Robots disallows %s, disabling endpoint %s", items[0].URL, endpoint.Name)
			endpoint.RobotsDisallowed = true
			endpoint.ClearBlock()
			return j.finish(ctx, log, endpoint, domain.LogCompletion{
				Status:          domain.LogStatusSkipped,
				ArticlesFetched: len(items),
				ErrorDetails:    "robots disallowed",
			})
		}
	}

	tally := &itemTally{fetched: len(items)}
	for _, raw := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if j.processItem(ctx, endpoint, raw, tally) {
			break
		}
	}

	j.applyBlockState(endpoint, tally)
	if tally.failed == 0 {
		endpoint.FailureCount = 0
		endpoint.LastSuccessAt = &fetchedAt
	} else {
		endpoint.FailureCount++
	}

	logger.With(logger.Fields{logger.FieldStatus: string(tally.status())}).
		WithCount(tally.processed).
		WithDuration(j.now().Sub(start).Milliseconds()).
		Info(ctx, "Endpoint %s ingested: fetched=%d processed=%d failed=%d",
		endpoint.Name, tally.fetched, tally.processed, tally.failed)

	return j.finish(ctx, log, endpoint, domain.LogCompletion{
		Status:            tally.status(),
		ArticlesFetched:   tally.fetched,
		ArticlesProcessed: tally.processed,
		ArticlesFailed:    tally.failed,
		ErrorDetails:      tally.errorDetails(),
	})
}

// processItem runs one raw item through discovery, enrichment and indexing.
// It returns true when the remaining items of the endpoint must be skipped.
func (j *EndpointJob) processItem(ctx context.Context, endpoint *domain.SourceEndpoint, raw source.RawArticle, tally *itemTally) bool {
	if service.ShouldSkip(raw) {
		logger.CtxDebug(ctx, "Skipping media item %s", raw.URL)
		return false
	}

	discovered, err := j.discovery.Discover(ctx, endpoint, raw)
	if err != nil {
		logger.CtxWarn(ctx, "Discovery failed for %s: %v", raw.URL, err)
		tally.fail(err.Error())
		return false
	}
	if discovered == nil || !discovered.IsNew {
		return false
	}
	article := discovered.Article

	enriched, err := j.enrichment.Enrich(ctx, article, raw)
	if err != nil {
		logger.CtxWarn(ctx, "Enrichment errored for %s: %v", article.CanonicalURL, err)
		tally.fail(err.Error())
		return false
	}
	if !enriched.Success {
		msg := failureMessage(enriched.Fetch)
		tally.fail(msg)
		switch kind := classifyFetch(enriched.Fetch); kind {
		case FailureRobots, FailureBlocked:
			tally.signal = kind
			tally.signalMsg = msg
			logger.CtxWarn(ctx, "Endpoint %s signalled %s on %s, stopping", endpoint.Name, kind, article.CanonicalURL)
			return true
		case FailureLowQuality:
			tally.lowQuality = true
			if tally.qualityMsg == "" {
				tally.qualityMsg = msg
			}
		}
		return false
	}

	if j.indexing.Index(ctx, article, enriched.Text) {
		tally.processed++
	} else {
		tally.fail(article.ErrorMessage)
	}
	return false
}

// applyBlockState escalates or clears the endpoint's block state. Block
// signals escalate; any success without a signal clears.
func (j *EndpointJob) applyBlockState(endpoint *domain.SourceEndpoint, tally *itemTally) {
	switch {
	case tally.signal == FailureRobots:
		endpoint.RobotsDisallowed = true
		endpoint.ClearBlock()
	case tally.signal == FailureBlocked:
		j.escalate(endpoint, tally.signalMsg)
	case tally.lowQuality && tally.processed == 0:
		j.escalate(endpoint, tally.qualityMsg)
	case tally.processed > 0:
		endpoint.ClearBlock()
	}
}

func (j *EndpointJob) escalate(endpoint *domain.SourceEndpoint, reason string) {
	endpoint.BlockCount++
	endpoint.BlockReason = reason
	if endpoint.BlockCount >= j.block.Threshold {
		until := j.now().Add(j.block.Duration)
		endpoint.BlockedUntil = &until
	}
}

// failFetch records an endpoint-level fetch failure.
func (j *EndpointJob) failFetch(ctx context.Context, log *domain.IngestionLog, endpoint *domain.SourceEndpoint, err error) error {
	logger.CtxWarn(ctx, "Fetch failed for endpoint %s: %v", endpoint.Name, err)
	endpoint.FailureCount++
	return j.finish(ctx, log, endpoint, domain.LogCompletion{
		Status:       domain.LogStatusFailed,
		ErrorDetails: fmt.Sprintf("fetch failed: %v", err),
	})
}

// finish saves endpoint and completes log in one transaction. The write is
// detached from ctx cancellation so an interrupted attempt is still recorded.
func (j *EndpointJob) finish(ctx context.Context, log *domain.IngestionLog, endpoint *domain.SourceEndpoint, c domain.LogCompletion) error {
	ctx = context.WithoutCancel(ctx)
	return j.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Endpoints.Save(ctx, endpoint); err != nil {
			return fmt.Errorf("failed to save endpoint: %w", err)
		}
		if _, err := tx.Logs.Complete(ctx, log.ID, c, j.now()); err != nil {
			return fmt.Errorf("failed to complete log: %w", err)
		}
		return nil
	})
}

func (j *EndpointJob) complete(ctx context.Context, log *domain.IngestionLog, c domain.LogCompletion) error {
	if _, err := j.store.Logs.Complete(context.WithoutCancel(ctx), log.ID, c, j.now()); err != nil {
		return fmt.Errorf("failed to complete log: %w", err)
	}
	return nil
}
