package service

import (
	"context"
	"fmt"

	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/repository"
)

// VectorStore persists embedded chunks.
type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []repository.ChunkPoint) error
	DeleteArticle(ctx context.Context, articleID string) error
}

// IndexingService chunks, embeds and stores article text.
type IndexingService struct {
	articles  *repository.ArticleRepository
	chunker   Chunker
	embedder  Embedder
	vectors   VectorStore
	batchSize int
}

// NewIndexingService creates a new indexing service.
func NewIndexingService(
	articles *repository.ArticleRepository,
	chunker Chunker,
	embedder Embedder,
	vectors VectorStore,
	batchSize int,
) *IndexingService {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &IndexingService{
		articles:  articles,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
		batchSize: batchSize,
	}
}

// Index makes article searchable. Failures are recorded on the article and
// reported as false; they never abort the caller.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - article: extracted article; updated in place.
//   - text: extracted article text.
// Returns:
//   - bool: true when every chunk was embedded and stored.
func (s *IndexingService) Index(ctx context.Context, article *domain.Article, text string) bool {
	ctx = logger.WithField(ctx, logger.FieldArticleID, article.ID)

	chunkCount, err := s.index(ctx, article, text)
	if err != nil {
		logger.CtxWarn(ctx, "Indexing failed: %v", err)
		article.Status = domain.ArticleStatusError
		article.ErrorMessage = err.Error()
		article.VectorIndexed = false
		if saveErr := s.articles.Save(ctx, article); saveErr != nil {
			logger.CtxError(ctx, "Failed to record indexing failure: %v", saveErr)
		}
		return false
	}

	article.Status = domain.ArticleStatusIndexed
	article.ErrorMessage = ""
	article.ChunkCount = chunkCount
	article.VectorIndexed = true
	if err := s.articles.Save(ctx, article); err != nil {
		logger.CtxError(ctx, "Failed to save indexed article: %v", err)
		return false
	}
	return true
}

func (s *IndexingService) index(ctx context.Context, article *domain.Article, text string) (int, error) {
	chunks, err := s.chunker.Split(text)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("chunking failed: no chunks produced")
	}

	points := make([]repository.ChunkPoint, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		vectors, err := s.embedder.EmbedBatch(ctx, chunks[start:end])
		if err != nil {
			return 0, err
		}
		for i, vector := range vectors {
			idx := start + i
			points = append(points, repository.ChunkPoint{
				ArticleID:   article.ID,
				ChunkIndex:  idx,
				Vector:      vector,
				Text:        chunks[idx],
				URL:         article.CanonicalURL,
				Title:       article.Title,
				PublisherID: article.PublisherID,
				PublishedAt: article.PublishedAt,
			})
		}
	}

	// Point ids are per chunk index, so a shorter re-index would leave a tail behind.
	if article.ChunkCount > len(points) {
		if err := s.vectors.DeleteArticle(ctx, article.ID); err != nil {
			return 0, fmt.Errorf("vector store error: %w", err)
		}
	}
	if err := s.vectors.UpsertChunks(ctx, points); err != nil {
		return 0, fmt.Errorf("vector store error: %w", err)
	}
	return len(points), nil
}
