package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/timmy/factcorpus/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArticleRepository handles articles, their source links and extracted content.
type ArticleRepository struct {
	db *gorm.DB
}

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(db *gorm.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// SourceLinkExists reports whether an endpoint already produced this item.
func (r *ArticleRepository) SourceLinkExists(ctx context.Context, endpointID, sourceItemID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ArticleSource{}).
		Where("source_endpoint_id = ? AND source_item_id = ?", endpointID, sourceItemID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetByPublisherHash retrieves an article by its identity key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - publisherID: owning publisher.
//   - urlHash: hash of the canonical URL.
// Returns:
//   - *domain.Article: article if found.
//   - error: ErrNotFound when absent.
func (r *ArticleRepository) GetByPublisherHash(ctx context.Context, publisherID, urlHash string) (*domain.Article, error) {
	var article domain.Article
	if err := r.db.WithContext(ctx).
		First(&article, "publisher_id = ? AND url_hash = ?", publisherID, urlHash).Error; err != nil {
		return nil, notFound(err)
	}
	return &article, nil
}

// GetByID retrieves an article by its ID.
func (r *ArticleRepository) GetByID(ctx context.Context, id string) (*domain.Article, error) {
	var article domain.Article
	if err := r.db.WithContext(ctx).First(&article, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &article, nil
}

// CreateIfAbsent inserts article unless (publisher, url hash) already exists.
// Returns false when a concurrent writer inserted the same identity first.
func (r *ArticleRepository) CreateIfAbsent(ctx context.Context, article *domain.Article) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "publisher_id"}, {Name: "url_hash"}},
		DoNothing: true,
	}).Create(article)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TouchLastSeen refreshes the last-seen timestamp of an article.
func (r *ArticleRepository) TouchLastSeen(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Article{}).
		Where("id = ?", id).
		Update("last_seen_at", now).Error
}

// CreateSourceLink inserts an (endpoint, item) link. Returns false when the
// link already existed.
func (r *ArticleRepository) CreateSourceLink(ctx context.Context, link *domain.ArticleSource) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_endpoint_id"}, {Name: "source_item_id"}},
		DoNothing: true,
	}).Create(link)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Save writes every column of article.
func (r *ArticleRepository) Save(ctx context.Context, article *domain.Article) error {
	return r.db.WithContext(ctx).Save(article).Error
}

// UpsertContent creates or replaces the content row of an article.
func (r *ArticleRepository) UpsertContent(ctx context.Context, content *domain.ArticleContent) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "article_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"text", "content_hash", "http_status", "http_etag", "http_last_modified",
			"final_url", "archive_key", "fetched_at", "updated_at",
		}),
	}).Create(content).Error
}

// GetContent retrieves the content row of an article.
func (r *ArticleRepository) GetContent(ctx context.Context, articleID string) (*domain.ArticleContent, error) {
	var content domain.ArticleContent
	if err := r.db.WithContext(ctx).First(&content, "article_id = ?", articleID).Error; err != nil {
		return nil, notFound(err)
	}
	return &content, nil
}

// CountByEndpoints returns how many article links each endpoint has produced.
// Endpoints without links are absent from the map.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - endpointIDs: endpoints to count.
// Returns:
//   - map[string]int64: link count per endpoint id.
//   - error: non-nil if the query fails.
func (r *ArticleRepository) CountByEndpoints(ctx context.Context, endpointIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(endpointIDs))
	if len(endpointIDs) == 0 {
		return counts, nil
	}

	query, args, err := sq.Select("source_endpoint_id", "COUNT(*) AS article_count").
		From(domain.ArticleSource{}.TableName()).
		Where(sq.Eq{"source_endpoint_id": endpointIDs}).
		GroupBy("source_endpoint_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	var rows []struct {
		SourceEndpointID string
		ArticleCount     int64
	}
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.SourceEndpointID] = row.ArticleCount
	}
	return counts, nil
}

// CountByStatus returns the number of articles per status.
func (r *ArticleRepository) CountByStatus(ctx context.Context) (map[domain.ArticleStatus]int64, error) {
	var rows []struct {
		Status domain.ArticleStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.Article{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.ArticleStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
