package newsapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// apiArticle is one article as returned by the /everything endpoint.
type apiArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Content     string     `json:"content"`
	PublishedAt *time.Time `json:"publishedAt"`
}

type everythingResponse struct {
	Status       string       `json:"status"`
	Code         string       `json:"code,omitempty"`
	Message      string       `json:"message,omitempty"`
	TotalResults int          `json:"totalResults"`
	Articles     []apiArticle `json:"articles"`
}

// client is a thin wrapper around the provider's HTTP API.
type client struct {
	http    *resty.Client
	baseURL string
}

func newClient(baseURL, apiKey string, timeout time.Duration) *client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("X-Api-Key", apiKey).
		SetHeader("Accept", "application/json")

	return &client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// everything requests one page of articles for a set of provider sources.
func (c *client) everything(ctx context.Context, sources []string, page, pageSize int) (*everythingResponse, error) {
	var result everythingResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sources":  strings.Join(sources, ","),
			"page":     strconv.Itoa(page),
			"pageSize": strconv.Itoa(pageSize),
			"sortBy":   "publishedAt",
		}).
		SetResult(&result).
		SetError(&result).
		Get(c.baseURL + "/everything")
	if err != nil {
		return nil, fmt.Errorf("failed to call news API: %w", err)
	}
	if resp.IsError() || result.Status == "error" {
		if result.Message != "" {
			return nil, fmt.Errorf("news API error: status %d: %s: %s", resp.StatusCode(), result.Code, result.Message)
		}
		return nil, fmt.Errorf("news API error: status %d", resp.StatusCode())
	}
	return &result, nil
}
