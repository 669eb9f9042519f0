package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/timmy/factcorpus/internal/domain"
)

// ErrUnsupportedEndpoint is returned when no fetcher serves an endpoint's kind.
var ErrUnsupportedEndpoint = errors.New("no fetcher supports endpoint")

// RawArticle is a candidate item produced by a fetcher. It is never persisted.
type RawArticle struct {
	URL          string
	SourceItemID string // source-native item id, may be empty
	Title        string
	Description  string
	Text         string // pre-supplied article text, may be empty
	PublishedAt  *time.Time
}

// HasText reports whether the item carries usable inline text.
func (a RawArticle) HasText() bool {
	return strings.TrimSpace(a.Text) != ""
}

// Fetcher pulls raw candidate items for one kind of source endpoint.
type Fetcher interface {
	// Supports reports whether this fetcher can serve endpoint.
	Supports(endpoint *domain.SourceEndpoint) bool

	// Fetch returns the current candidate items of endpoint.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - endpoint: endpoint to fetch.
	// Returns:
	//   - []RawArticle: candidate items, possibly empty.
	//   - error: non-nil on transport or provider failure.
	Fetch(ctx context.Context, endpoint *domain.SourceEndpoint) ([]RawArticle, error)
}

// BatchResetter is implemented by fetchers that cache shared batches across
// endpoints. ResetBatch drops any cached batch.
type BatchResetter interface {
	ResetBatch()
}

// Registry resolves the fetcher for an endpoint.
type Registry struct {
	fetchers []Fetcher
}

// NewRegistry creates a registry over fetchers, consulted in order.
func NewRegistry(fetchers ...Fetcher) *Registry {
	return &Registry{fetchers: fetchers}
}

// Resolve returns the first fetcher supporting endpoint.
func (r *Registry) Resolve(endpoint *domain.SourceEndpoint) (Fetcher, error) {
	for _, f := range r.fetchers {
		if f.Supports(endpoint) {
			return f, nil
		}
	}
	return nil, ErrUnsupportedEndpoint
}

// ResetBatches clears cached batches of every fetcher that keeps one.
func (r *Registry) ResetBatches() {
	for _, f := range r.fetchers {
		if br, ok := f.(BatchResetter); ok {
			br.ResetBatch()
		}
	}
}
