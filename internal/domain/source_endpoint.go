package domain

import "time"

// SourceKind identifies which fetcher serves an endpoint.
type SourceKind string

const (
	SourceKindRSS     SourceKind = "RSS"
	SourceKindNewsAPI SourceKind = "NEWS_API"
)

const defaultFetchInterval = 60 * time.Minute

// SourceEndpoint is one configured source belonging to a publisher, either an
// RSS feed URL or a news API provider source.
type SourceEndpoint struct {
	ID                   string     `gorm:"type:text;primaryKey" json:"id"`
	PublisherID          string     `gorm:"type:text;not null;index" json:"publisher_id"`
	Name                 string     `gorm:"type:text" json:"name"`
	Kind                 SourceKind `gorm:"type:text;not null;index" json:"kind"`
	URL                  string     `gorm:"type:text" json:"url,omitempty"`
	ProviderSourceID     string     `gorm:"type:text;index" json:"provider_source_id,omitempty"`
	FetchIntervalMinutes int        `gorm:"not null" json:"fetch_interval_minutes"`
	Enabled              bool       `gorm:"not null" json:"enabled"`
	LastFetchedAt        *time.Time `json:"last_fetched_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	FailureCount         int        `gorm:"not null;default:0" json:"failure_count"`

	// Block state. RobotsDisallowed is sticky and only cleared by an operator.
	RobotsDisallowed bool       `gorm:"not null;default:false" json:"robots_disallowed"`
	BlockedUntil     *time.Time `json:"blocked_until,omitempty"`
	BlockReason      string     `gorm:"type:text" json:"block_reason,omitempty"`
	BlockCount       int        `gorm:"not null;default:0" json:"block_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SourceEndpoint.
func (SourceEndpoint) TableName() string {
	return "source_endpoints"
}

// FetchInterval returns the configured interval, falling back to one hour.
func (e *SourceEndpoint) FetchInterval() time.Duration {
	if e.FetchIntervalMinutes <= 0 {
		return defaultFetchInterval
	}
	return time.Duration(e.FetchIntervalMinutes) * time.Minute
}

// IsBlocked reports whether the endpoint must not be contacted at now.
// Parameters:
//   - now: reference time for the blocked-until comparison.
// Returns:
//   - bool: true when robots disallowed or blockedUntil lies in the future.
func (e *SourceEndpoint) IsBlocked(now time.Time) bool {
	if e.RobotsDisallowed {
		return true
	}
	return e.BlockedUntil != nil && e.BlockedUntil.After(now)
}

// IsDue reports whether the fetch interval has elapsed since the last fetch.
func (e *SourceEndpoint) IsDue(now time.Time) bool {
	if e.LastFetchedAt == nil {
		return true
	}
	return !now.Before(e.LastFetchedAt.Add(e.FetchInterval()))
}

// IsEligible reports whether the endpoint may be scheduled at now.
// Parameters:
//   - now: reference time.
//   - ignoreInterval: true for runs scoped to a single endpoint.
// Returns:
//   - bool: true when enabled, not blocked and due.
func (e *SourceEndpoint) IsEligible(now time.Time, ignoreInterval bool) bool {
	if !e.Enabled || e.IsBlocked(now) {
		return false
	}
	return ignoreInterval || e.IsDue(now)
}

// SkipReason describes why a blocked endpoint is skipped, or "" when it is not.
func (e *SourceEndpoint) SkipReason(now time.Time) string {
	switch {
	case e.RobotsDisallowed:
		return "robots disallowed"
	case e.BlockedUntil != nil && e.BlockedUntil.After(now):
		reason := "blocked until " + e.BlockedUntil.UTC().Format(time.RFC3339)
		if e.BlockReason != "" {
			reason += ": " + e.BlockReason
		}
		return reason
	default:
		return ""
	}
}

// ClearBlock resets the time-bounded block state. RobotsDisallowed is untouched.
func (e *SourceEndpoint) ClearBlock() {
	e.BlockCount = 0
	e.BlockReason = ""
	e.BlockedUntil = nil
}
