package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/repository"
	"github.com/timmy/factcorpus/internal/source"
)

// mediaPathPattern matches URL paths of pages that carry little or no
// extractable article text.
var mediaPathPattern = regexp.MustCompile(`(?i)/(video|videos|gallery|galleries|live|podcast|podcasts|photos|slideshow|audio)(/|$)`)

// DiscoveryResult is the article an item maps to and whether it was created.
type DiscoveryResult struct {
	Article *domain.Article
	IsNew   bool
}

// DiscoveryService maps raw items onto canonical articles.
type DiscoveryService struct {
	articles *repository.ArticleRepository
	now      func() time.Time
}

// NewDiscoveryService creates a new discovery service.
func NewDiscoveryService(articles *repository.ArticleRepository) *DiscoveryService {
	return &DiscoveryService{
		articles: articles,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ShouldSkip reports whether raw is a media page without inline text.
func ShouldSkip(raw source.RawArticle) bool {
	return !raw.HasText() && mediaPathPattern.MatchString(raw.URL)
}

// Discover resolves raw to an article, creating it when unseen.
// A nil result means there is nothing to do for this item: the URL is
// unusable, the endpoint already produced it, or a concurrent discoverer
// created the same article first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - endpoint: endpoint the item came from.
//   - raw: fetched candidate item.
// Returns:
//   - *DiscoveryResult: resolved article, or nil.
//   - error: non-nil on storage failure.
func (s *DiscoveryService) Discover(ctx context.Context, endpoint *domain.SourceEndpoint, raw source.RawArticle) (*DiscoveryResult, error) {
	canonical, err := domain.CanonicalizeURL(raw.URL)
	if err != nil {
		logger.CtxDebug(ctx, "Skipping item without usable url %q: %v", raw.URL, err)
		return nil, nil
	}
	urlHash := domain.HashString(canonical)

	itemID := raw.SourceItemID
	if itemID == "" {
		itemID = urlHash
	}

	linked, err := s.articles.SourceLinkExists(ctx, endpoint.ID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to check source link: %w", err)
	}
	if linked {
		return nil, nil
	}

	now := s.now()
	result := &DiscoveryResult{}

	existing, err := s.articles.GetByPublisherHash(ctx, endpoint.PublisherID, urlHash)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		article := &domain.Article{
			ID:           uuid.New().String(),
			PublisherID:  endpoint.PublisherID,
			URLHash:      urlHash,
			CanonicalURL: canonical,
			Title:        raw.Title,
			Description:  raw.Description,
			PublishedAt:  raw.PublishedAt,
			Status:       domain.ArticleStatusDiscovered,
			FirstSeenAt:  now,
			LastSeenAt:   now,
		}
		created, err := s.articles.CreateIfAbsent(ctx, article)
		if err != nil {
			return nil, fmt.Errorf("failed to create article: %w", err)
		}
		if !created {
			logger.CtxDebug(ctx, "Article %s was created concurrently, skipping", canonical)
			return nil, nil
		}
		result.Article = article
		result.IsNew = true
	case err != nil:
		return nil, fmt.Errorf("failed to look up article: %w", err)
	default:
		if err := s.articles.TouchLastSeen(ctx, existing.ID, now); err != nil {
			return nil, fmt.Errorf("failed to touch article: %w", err)
		}
		existing.LastSeenAt = now
		result.Article = existing
	}

	linkedNow, err := s.articles.CreateSourceLink(ctx, &domain.ArticleSource{
		ID:               uuid.New().String(),
		ArticleID:        result.Article.ID,
		SourceEndpointID: endpoint.ID,
		SourceItemID:     itemID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to link article source: %w", err)
	}
	if !linkedNow {
		logger.CtxDebug(ctx, "Source link %s/%s already recorded", endpoint.ID, itemID)
	}
	return result, nil
}
