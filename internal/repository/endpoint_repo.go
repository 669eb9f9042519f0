package repository

import (
	"context"
	"time"

	"github.com/timmy/factcorpus/internal/domain"
	"gorm.io/gorm"
)

// EndpointRepository handles source endpoint rows.
type EndpointRepository struct {
	db *gorm.DB
}

// NewEndpointRepository creates a new EndpointRepository.
func NewEndpointRepository(db *gorm.DB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

// Create inserts a new endpoint.
func (r *EndpointRepository) Create(ctx context.Context, endpoint *domain.SourceEndpoint) error {
	return r.db.WithContext(ctx).Create(endpoint).Error
}

// Save writes every column of endpoint.
func (r *EndpointRepository) Save(ctx context.Context, endpoint *domain.SourceEndpoint) error {
	return r.db.WithContext(ctx).Save(endpoint).Error
}

// GetByID retrieves an endpoint by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: endpoint ID.
// Returns:
//   - *domain.SourceEndpoint: endpoint if found.
//   - error: ErrNotFound when absent.
func (r *EndpointRepository) GetByID(ctx context.Context, id string) (*domain.SourceEndpoint, error) {
	var endpoint domain.SourceEndpoint
	if err := r.db.WithContext(ctx).First(&endpoint, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &endpoint, nil
}

// ListEligible returns enabled, unblocked endpoints whose fetch interval has elapsed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - now: reference time for block and interval checks.
//   - kind: restricts the result to one source kind when non-empty.
// Returns:
//   - []domain.SourceEndpoint: eligible endpoints ordered by id.
//   - error: non-nil if the query fails.
func (r *EndpointRepository) ListEligible(ctx context.Context, now time.Time, kind domain.SourceKind) ([]domain.SourceEndpoint, error) {
	query := r.db.WithContext(ctx).
		Where("enabled = ? AND robots_disallowed = ?", true, false).
		Where("blocked_until IS NULL OR blocked_until <= ?", now)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var candidates []domain.SourceEndpoint
	if err := query.Order("id").Find(&candidates).Error; err != nil {
		return nil, err
	}

	// Intervals are per row, so the due check runs here rather than in SQL.
	eligible := candidates[:0]
	for _, e := range candidates {
		if e.IsEligible(now, false) {
			eligible = append(eligible, e)
		}
	}
	return eligible, nil
}

// List returns endpoints with pagination, ordered by id.
func (r *EndpointRepository) List(ctx context.Context, limit, offset int) ([]domain.SourceEndpoint, error) {
	var endpoints []domain.SourceEndpoint
	if err := r.db.WithContext(ctx).Order("id").Limit(limit).Offset(offset).Find(&endpoints).Error; err != nil {
		return nil, err
	}
	return endpoints, nil
}

// ClearBlock resets block state for an endpoint. Robots disallow is only
// cleared when clearRobots is set.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: endpoint ID.
//   - clearRobots: also reset the sticky robots flag.
// Returns:
//   - error: ErrNotFound when no endpoint has this id.
func (r *EndpointRepository) ClearBlock(ctx context.Context, id string, clearRobots bool) error {
	updates := map[string]interface{}{
		"block_count":   0,
		"block_reason":  "",
		"blocked_until": nil,
	}
	if clearRobots {
		updates["robots_disallowed"] = false
	}
	res := r.db.WithContext(ctx).Model(&domain.SourceEndpoint{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
