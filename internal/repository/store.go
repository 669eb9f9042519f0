package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the relational repositories that share one *gorm.DB, so a
// transaction can hand the same set of repositories to a unit of work.
type Store struct {
	db *gorm.DB

	Endpoints *EndpointRepository
	Runs      *RunRepository
	Logs      *LogRepository
	Articles  *ArticleRepository
}

// NewStore creates a Store bound to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Endpoints: NewEndpointRepository(db),
		Runs:      NewRunRepository(db),
		Logs:      NewLogRepository(db),
		Articles:  NewArticleRepository(db),
	}
}

// Transaction runs fn inside a database transaction. fn receives a Store whose
// repositories are bound to the transaction; returning an error rolls back.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fn: unit of work.
// Returns:
//   - error: the error returned by fn, or a commit failure.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}
