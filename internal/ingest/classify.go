package ingest

import (
	"strings"

	"github.com/timmy/factcorpus/internal/extract"
)

// FailureKind classifies why an article could not be enriched.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureRobots
	FailureBlocked
	FailureLowQuality
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureRobots:
		return "robots"
	case FailureBlocked:
		return "blocked"
	case FailureLowQuality:
		return "low-quality"
	default:
		return "other"
	}
}

// stopsEndpoint reports whether the rest of the endpoint's batch must be
// abandoned after this failure.
func (k FailureKind) stopsEndpoint() bool {
	return k == FailureRobots || k == FailureBlocked
}

// classifyFetch maps an enrichment fetch result to a FailureKind.
func classifyFetch(r *extract.FetchResult) FailureKind {
	if r == nil {
		return FailureOther
	}
	switch {
	case r.RobotsDisallowed:
		return FailureRobots
	case r.BlockedSuspected:
		return FailureBlocked
	case strings.HasPrefix(r.ExtractionError, extract.ErrPrefixLowQuality):
		return FailureLowQuality
	default:
		return FailureOther
	}
}

// failureMessage returns the most specific error string of a fetch result.
func failureMessage(r *extract.FetchResult) string {
	if r == nil {
		return "enrichment failed"
	}
	if r.FetchError != "" {
		return r.FetchError
	}
	if r.ExtractionError != "" {
		return r.ExtractionError
	}
	return "enrichment failed"
}

// FailureFilter recognizes FAILED log messages that stem from expected,
// configuration-driven skips.
type FailureFilter struct {
	patterns []string
}

// DefaultIgnoredFailurePatterns are used when none are configured.
var DefaultIgnoredFailurePatterns = []string{
	"robots",
	"blocked",
	"embedding API error: status 4",
	"chunking failed",
}

// NewFailureFilter creates a filter matching any of patterns, case-insensitively.
func NewFailureFilter(patterns []string) *FailureFilter {
	if len(patterns) == 0 {
		patterns = DefaultIgnoredFailurePatterns
	}
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &FailureFilter{patterns: lowered}
}

// Ignorable reports whether msg matches an ignored pattern.
func (f *FailureFilter) Ignorable(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range f.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
