package extract

import "time"

// FetchResult is the outcome of fetching and extracting one article page.
// Empty strings stand for absent values.
type FetchResult struct {
	FetchedAt        time.Time
	HTTPStatus       int
	HTTPEtag         string
	HTTPLastModified string
	FinalURL         string
	ExtractedText    string
	BlockedSuspected bool
	RobotsDisallowed bool
	FetchError       string
	ExtractionError  string
}

// IsSuccessStatus reports whether the HTTP status is 2xx.
func (r *FetchResult) IsSuccessStatus() bool {
	return r.HTTPStatus >= 200 && r.HTTPStatus < 300
}

// Inline builds a successful result for text supplied by the source itself.
func Inline(url, text string, now time.Time) *FetchResult {
	return &FetchResult{
		FetchedAt:     now,
		HTTPStatus:    200,
		FinalURL:      url,
		ExtractedText: text,
	}
}
