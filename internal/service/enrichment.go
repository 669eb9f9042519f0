package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/extract"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/repository"
	"github.com/timmy/factcorpus/internal/source"
)

// ErrArticleNotPersisted is returned when enrichment is asked to work on an
// article that has no id yet.
var ErrArticleNotPersisted = errors.New("article is not persisted")

// ContentExtractor fetches a page and extracts its article text.
type ContentExtractor interface {
	FetchAndExtract(ctx context.Context, rawURL string) *extract.FetchResult
}

// TextArchiver keeps a copy of extracted text outside the database.
type TextArchiver interface {
	Put(ctx context.Context, contentHash, text string) (string, error)
}

// EnrichmentResult is the outcome of enriching one article.
type EnrichmentResult struct {
	Success bool
	Text    string
	Fetch   *extract.FetchResult
}

// EnrichmentService fetches and stores article text.
type EnrichmentService struct {
	articles  *repository.ArticleRepository
	extractor ContentExtractor
	archive   TextArchiver
	now       func() time.Time
}

// NewEnrichmentService creates a new enrichment service. archive may be nil.
func NewEnrichmentService(articles *repository.ArticleRepository, extractor ContentExtractor, archive TextArchiver) *EnrichmentService {
	return &EnrichmentService{
		articles:  articles,
		extractor: extractor,
		archive:   archive,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enrich obtains the text of article, from raw when it carries inline text
// and from the network otherwise. Fetch and extraction failures mark the
// article ERROR and are reported through the result; only storage failures
// are returned as errors.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - article: persisted article to enrich; updated in place.
//   - raw: item the article was discovered from.
// Returns:
//   - *EnrichmentResult: success flag, text and fetch metadata.
//   - error: ErrArticleNotPersisted or a storage failure.
func (s *EnrichmentService) Enrich(ctx context.Context, article *domain.Article, raw source.RawArticle) (*EnrichmentResult, error) {
	if article == nil || article.ID == "" {
		return nil, ErrArticleNotPersisted
	}
	ctx = logger.WithField(ctx, logger.FieldArticleID, article.ID)

	var fetch *extract.FetchResult
	if raw.HasText() {
		fetch = extract.Inline(article.CanonicalURL, strings.TrimSpace(raw.Text), s.now())
	} else {
		fetch = s.extractor.FetchAndExtract(ctx, article.CanonicalURL)
	}
	result := &EnrichmentResult{Fetch: fetch}

	if fetch.FetchError != "" || !fetch.IsSuccessStatus() {
		msg := fetch.FetchError
		if msg == "" {
			msg = fmt.Sprintf("http status %d", fetch.HTTPStatus)
		}
		return result, s.markError(ctx, article, msg)
	}

	if fetch.ExtractionError != "" || strings.TrimSpace(fetch.ExtractedText) == "" {
		msg := fetch.ExtractionError
		if msg == "" {
			msg = "extraction produced no text"
		}
		return result, s.markError(ctx, article, msg)
	}

	text := fetch.ExtractedText
	contentHash := domain.HashString(text)
	fetchedAt := fetch.FetchedAt

	content := &domain.ArticleContent{
		ArticleID:        article.ID,
		Text:             text,
		ContentHash:      contentHash,
		HTTPStatus:       fetch.HTTPStatus,
		HTTPEtag:         fetch.HTTPEtag,
		HTTPLastModified: fetch.HTTPLastModified,
		FinalURL:         fetch.FinalURL,
		FetchedAt:        &fetchedAt,
	}
	if s.archive != nil {
		key, err := s.archive.Put(ctx, contentHash, text)
		if err != nil {
			logger.CtxWarn(ctx, "Failed to archive article text: %v", err)
		} else {
			content.ArchiveKey = key
		}
	}
	if err := s.articles.UpsertContent(ctx, content); err != nil {
		return nil, fmt.Errorf("failed to store article content: %w", err)
	}

	article.ContentHash = contentHash
	article.Status = domain.ArticleStatusExtracted
	article.ErrorMessage = ""
	if err := s.articles.Save(ctx, article); err != nil {
		return nil, fmt.Errorf("failed to save article: %w", err)
	}

	result.Success = true
	result.Text = text
	return result, nil
}

func (s *EnrichmentService) markError(ctx context.Context, article *domain.Article, msg string) error {
	article.Status = domain.ArticleStatusError
	article.ErrorMessage = msg
	if err := s.articles.Save(ctx, article); err != nil {
		return fmt.Errorf("failed to save article: %w", err)
	}
	logger.CtxDebug(ctx, "Enrichment failed for %s: %s", article.CanonicalURL, msg)
	return nil
}
