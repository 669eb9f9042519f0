package rss

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
	"github.com/timmy/factcorpus/internal/config"
	"github.com/timmy/factcorpus/internal/domain"
	"github.com/timmy/factcorpus/internal/source"
)

// minInlineTextChars is the content length from which feed content is
// treated as full article text rather than a teaser.
const minInlineTextChars = 800

// Fetcher reads RSS and Atom feeds, one request per endpoint.
type Fetcher struct {
	client   *resty.Client
	parser   *gofeed.Parser
	maxItems int
}

// NewFetcher creates a feed fetcher.
func NewFetcher(cfg *config.RSSConfig) *Fetcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	return &Fetcher{
		client:   client,
		parser:   gofeed.NewParser(),
		maxItems: cfg.MaxItems,
	}
}

// Supports reports whether endpoint is an RSS endpoint with a feed URL.
func (f *Fetcher) Supports(endpoint *domain.SourceEndpoint) bool {
	return endpoint.Kind == domain.SourceKindRSS && endpoint.URL != ""
}

// Fetch downloads and parses the endpoint's feed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - endpoint: RSS endpoint.
// Returns:
//   - []source.RawArticle: feed items in feed order, capped at max items.
//   - error: non-nil on transport failure, non-2xx status or unparseable feed.
func (f *Fetcher) Fetch(ctx context.Context, endpoint *domain.SourceEndpoint) ([]source.RawArticle, error) {
	resp, err := f.client.R().SetContext(ctx).Get(endpoint.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode())
	}

	feed, err := f.parser.Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]source.RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		if f.maxItems > 0 && len(items) >= f.maxItems {
			break
		}
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		items = append(items, toRawArticle(item))
	}
	return items, nil
}

func toRawArticle(item *gofeed.Item) source.RawArticle {
	raw := source.RawArticle{
		URL:          strings.TrimSpace(item.Link),
		SourceItemID: cmp.Or(strings.TrimSpace(item.GUID), strings.TrimSpace(item.Link)),
		Title:        strings.TrimSpace(item.Title),
		Description:  strings.TrimSpace(item.Description),
		PublishedAt:  publishedAt(item),
	}
	if content := strings.TrimSpace(item.Content); len(content) >= minInlineTextChars {
		raw.Text = content
	}
	return raw
}

func publishedAt(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		return &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		return &t
	default:
		return nil
	}
}
