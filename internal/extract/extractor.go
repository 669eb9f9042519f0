package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/timmy/factcorpus/internal/config"
	"github.com/timmy/factcorpus/internal/logger"
)

// Error prefixes used by the block classifier.
const (
	ErrPrefixRobots     = "robots disallowed"
	ErrPrefixBlocked    = "blocked"
	ErrPrefixLowQuality = "low quality"
)

// RobotsChecker answers robots.txt permission for a URL.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
}

// Extractor fetches article pages and extracts their readable text.
type Extractor struct {
	client       *resty.Client
	robots       RobotsChecker
	minTextChars int
	maxBodyBytes int64
	now          func() time.Time
}

// NewExtractor creates an extractor.
// Parameters:
//   - cfg: user agent, timeout and quality gate settings.
//   - robots: robots policy; nil skips the check.
// Returns:
//   - *Extractor: ready extractor.
func NewExtractor(cfg *config.ExtractorConfig, robots RobotsChecker) *Extractor {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &Extractor{
		client:       client,
		robots:       robots,
		minTextChars: cfg.MinTextChars,
		maxBodyBytes: cfg.MaxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// readBody reads at most maxBodyBytes of body; anything beyond is left unread.
func (e *Extractor) readBody(body io.Reader) ([]byte, error) {
	if e.maxBodyBytes > 0 {
		body = io.LimitReader(body, e.maxBodyBytes)
	}
	return io.ReadAll(body)
}

// FetchAndExtract fetches rawURL and extracts its article text. Failures are
// reported in the result, never as an error.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rawURL: article URL.
// Returns:
//   - *FetchResult: fetch metadata plus extracted text or an error string.
func (e *Extractor) FetchAndExtract(ctx context.Context, rawURL string) *FetchResult {
	result := &FetchResult{FetchedAt: e.now(), FinalURL: rawURL}

	if e.robots != nil {
		allowed, err := e.robots.IsAllowed(ctx, rawURL)
		switch {
		case err != nil:
			logger.CtxWarn(ctx, "Robots check failed for %s, proceeding: %v", rawURL, err)
		case !allowed:
			result.RobotsDisallowed = true
			result.FetchError = ErrPrefixRobots
			return result
		}
	}

	// The body is streamed so max_body_bytes bounds what is held in memory.
	resp, err := e.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(rawURL)
	if err != nil {
		result.FetchError = fmt.Sprintf("fetch failed: %v", err)
		return result
	}
	rawBody := resp.RawBody()
	defer rawBody.Close()

	result.HTTPStatus = resp.StatusCode()
	result.HTTPEtag = resp.Header().Get("ETag")
	result.HTTPLastModified = resp.Header().Get("Last-Modified")
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		result.FinalURL = resp.RawResponse.Request.URL.String()
	}

	if blockingStatuses[result.HTTPStatus] {
		result.BlockedSuspected = true
		result.FetchError = fmt.Sprintf("%s: http status %d", ErrPrefixBlocked, result.HTTPStatus)
		return result
	}
	if !result.IsSuccessStatus() {
		result.FetchError = fmt.Sprintf("http status %d", result.HTTPStatus)
		return result
	}

	body, err := e.readBody(rawBody)
	if err != nil {
		result.FetchError = fmt.Sprintf("fetch failed: %v", err)
		return result
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		result.ExtractionError = fmt.Sprintf("failed to parse html: %v", err)
		return result
	}
	if marker, found := detectChallenge(doc); found {
		result.BlockedSuspected = true
		result.ExtractionError = fmt.Sprintf("%s: bot challenge detected (%s)", ErrPrefixBlocked, marker)
		return result
	}

	pageURL, _ := url.Parse(result.FinalURL)
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		result.ExtractionError = fmt.Sprintf("failed to extract content: %v", err)
		return result
	}

	text := normalizeText(article.TextContent)
	if n := len([]rune(text)); n < e.minTextChars {
		result.ExtractionError = fmt.Sprintf("%s: extracted %d chars, need %d", ErrPrefixLowQuality, n, e.minTextChars)
		return result
	}
	result.ExtractedText = text
	return result
}

// normalizeText collapses runs of blank lines and trims every line.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
