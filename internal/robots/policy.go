package robots

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/temoto/robotstxt"
	"github.com/timmy/factcorpus/internal/logger"
)

const maxRobotsBytes = 512 << 10

// Policy answers whether the crawler may fetch a URL according to the
// origin's robots.txt.
type Policy struct {
	client    *resty.Client
	userAgent string
	cache     Cache
	ttl       time.Duration
}

// NewPolicy creates a robots policy.
// Parameters:
//   - userAgent: agent name tested against robots groups.
//   - timeout: timeout for robots.txt requests.
//   - cache: response cache; nil uses an in-process cache.
//   - ttl: how long a robots.txt response is reused.
// Returns:
//   - *Policy: ready policy.
func NewPolicy(userAgent string, timeout time.Duration, cache Cache, ttl time.Duration) *Policy {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Policy{client: client, userAgent: userAgent, cache: cache, ttl: ttl}
}

// IsAllowed reports whether rawURL may be fetched. 4xx robots.txt responses
// allow everything and 5xx responses disallow everything.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rawURL: absolute URL to check.
// Returns:
//   - bool: true when fetching is allowed.
//   - error: non-nil when robots.txt could not be retrieved; the verdict is then false.
func (p *Policy) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, fmt.Errorf("invalid url %q", rawURL)
	}
	origin := u.Scheme + "://" + u.Host

	entry, err := p.entry(ctx, origin)
	if err != nil {
		return false, err
	}

	data, err := robotstxt.FromStatusAndBytes(entry.StatusCode, entry.Body)
	if err != nil {
		// Unparseable robots.txt is treated as no restriction.
		logger.CtxWarn(ctx, "Failed to parse robots.txt for %s: %v", origin, err)
		return true, nil
	}
	return data.TestAgent(u.RequestURI(), p.userAgent), nil
}

func (p *Policy) entry(ctx context.Context, origin string) (*Entry, error) {
	entry, ok, err := p.cache.Get(ctx, origin)
	if err != nil {
		logger.CtxWarn(ctx, "Robots cache read failed for %s: %v", origin, err)
	}
	if ok {
		return entry, nil
	}

	resp, err := p.client.R().SetContext(ctx).Get(origin + "/robots.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	body := resp.Body()
	if len(body) > maxRobotsBytes {
		body = body[:maxRobotsBytes]
	}
	entry = &Entry{StatusCode: resp.StatusCode(), Body: body}

	if err := p.cache.Set(ctx, origin, entry, p.ttl); err != nil {
		logger.CtxWarn(ctx, "Robots cache write failed for %s: %v", origin, err)
	}
	return entry, nil
}
