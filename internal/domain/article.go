package domain

import "time"

// ArticleStatus represents the processing state of an article.
// Articles only move forward through the enum, except for ERROR.
type ArticleStatus string

const (
	ArticleStatusDiscovered ArticleStatus = "DISCOVERED"
	ArticleStatusFetched    ArticleStatus = "FETCHED"
	ArticleStatusExtracted  ArticleStatus = "EXTRACTED"
	ArticleStatusIndexed    ArticleStatus = "INDEXED"
	ArticleStatusError      ArticleStatus = "ERROR"
)

// Article is a canonical article keyed by (publisher, hash of canonical URL).
type Article struct {
	ID            string        `gorm:"type:text;primaryKey" json:"id"`
	PublisherID   string        `gorm:"type:text;not null;uniqueIndex:idx_articles_publisher_url_hash" json:"publisher_id"`
	URLHash       string        `gorm:"type:text;not null;uniqueIndex:idx_articles_publisher_url_hash" json:"url_hash"`
	CanonicalURL  string        `gorm:"type:text;not null" json:"canonical_url"`
	Title         string        `gorm:"type:text" json:"title"`
	Description   string        `gorm:"type:text" json:"description,omitempty"`
	PublishedAt   *time.Time    `json:"published_at,omitempty"`
	ContentHash   string        `gorm:"type:text" json:"content_hash,omitempty"`
	Status        ArticleStatus `gorm:"type:text;not null;index" json:"status"`
	ErrorMessage  string        `gorm:"type:text" json:"error_message,omitempty"`
	ChunkCount    int           `gorm:"not null;default:0" json:"chunk_count"`
	VectorIndexed bool          `gorm:"not null;default:false" json:"vector_indexed"`
	FirstSeenAt   time.Time     `json:"first_seen_at"`
	LastSeenAt    time.Time     `json:"last_seen_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Article.
func (Article) TableName() string {
	return "articles"
}

// ArticleSource links an article to the endpoint item it was discovered from.
// (SourceEndpointID, SourceItemID) is the discovery idempotency key.
type ArticleSource struct {
	ID               string    `gorm:"type:text;primaryKey" json:"id"`
	ArticleID        string    `gorm:"type:text;not null;index" json:"article_id"`
	SourceEndpointID string    `gorm:"type:text;not null;uniqueIndex:idx_article_sources_endpoint_item" json:"source_endpoint_id"`
	SourceItemID     string    `gorm:"type:text;not null;uniqueIndex:idx_article_sources_endpoint_item" json:"source_item_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for ArticleSource.
func (ArticleSource) TableName() string {
	return "article_sources"
}

// ArticleContent holds the extracted text of an article, one row per article.
type ArticleContent struct {
	ArticleID        string     `gorm:"type:text;primaryKey" json:"article_id"`
	Text             string     `gorm:"type:text;not null" json:"text"`
	ContentHash      string     `gorm:"type:text;not null" json:"content_hash"`
	HTTPStatus       int        `json:"http_status,omitempty"`
	HTTPEtag         string     `gorm:"type:text" json:"http_etag,omitempty"`
	HTTPLastModified string     `gorm:"type:text" json:"http_last_modified,omitempty"`
	FinalURL         string     `gorm:"type:text" json:"final_url,omitempty"`
	ArchiveKey       string     `gorm:"type:text" json:"archive_key,omitempty"`
	FetchedAt        *time.Time `json:"fetched_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ArticleContent.
func (ArticleContent) TableName() string {
	return "article_contents"
}
