package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/factcorpus/internal/config"
)

type stubRobots struct {
	allowed bool
	err     error
}

func (s stubRobots) IsAllowed(context.Context, string) (bool, error) {
	return s.allowed, s.err
}

func articlePage(paragraphs int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Council approves budget</title></head><body>")
	b.WriteString("<nav><a href='/'>Home</a></nav><article><h1>Council approves budget</h1>")
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d of the story explains in considerable detail how the city council voted on the annual budget, which programs received funding, and what residents said during the public comment period.</p>", i)
	}
	b.WriteString("</article><footer>Copyright</footer></body></html>")
	return b.String()
}

func newTestExtractor(robots RobotsChecker) *Extractor {
	return NewExtractor(&config.ExtractorConfig{
		UserAgent:    "test-bot",
		Timeout:      5 * time.Second,
		MinTextChars: 300,
	}, robots)
}

func TestFetchAndExtractSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Mar 2026 10:00:00 GMT")
		_, _ = w.Write([]byte(articlePage(6)))
	}))
	defer srv.Close()

	res := newTestExtractor(stubRobots{allowed: true}).FetchAndExtract(context.Background(), srv.URL+"/story")
	assert.Equal(t, 200, res.HTTPStatus)
	assert.Equal(t, `"v1"`, res.HTTPEtag)
	assert.NotEmpty(t, res.HTTPLastModified)
	assert.Empty(t, res.FetchError)
	assert.Empty(t, res.ExtractionError)
	assert.Contains(t, res.ExtractedText, "city council voted")
	assert.False(t, res.BlockedSuspected)
}

func TestFetchAndExtractClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/captcha":
			_, _ = w.Write([]byte(`<html><head><title>Just a moment...</title></head><body><div class="g-recaptcha" data-sitekey="x"></div></body></html>`))
		case "/short":
			_, _ = w.Write([]byte(`<html><body><article><p>Too short.</p></article></body></html>`))
		}
	}))
	defer srv.Close()

	e := newTestExtractor(nil)
	ctx := context.Background()

	res := e.FetchAndExtract(ctx, srv.URL+"/forbidden")
	assert.True(t, res.BlockedSuspected)
	assert.True(t, strings.HasPrefix(res.FetchError, ErrPrefixBlocked))

	res = e.FetchAndExtract(ctx, srv.URL+"/missing")
	assert.False(t, res.BlockedSuspected)
	assert.Equal(t, "http status 404", res.FetchError)

	res = e.FetchAndExtract(ctx, srv.URL+"/captcha")
	assert.True(t, res.BlockedSuspected)
	assert.True(t, strings.HasPrefix(res.ExtractionError, ErrPrefixBlocked))

	res = e.FetchAndExtract(ctx, srv.URL+"/short")
	assert.False(t, res.BlockedSuspected)
	assert.True(t, strings.HasPrefix(res.ExtractionError, ErrPrefixLowQuality))
	assert.Empty(t, res.ExtractedText)
}

func TestFetchAndExtractRobotsDisallowed(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	res := newTestExtractor(stubRobots{allowed: false}).FetchAndExtract(context.Background(), srv.URL+"/story")
	require.True(t, res.RobotsDisallowed)
	assert.Equal(t, ErrPrefixRobots, res.FetchError)
	assert.False(t, hit, "page must not be requested")
}

func TestNormalizeText(t *testing.T) {
	in := "  First   line \n\n\n\n Second\tline\n   \nThird "
	assert.Equal(t, "First line\n\nSecond line\n\nThird", normalizeText(in))
}

func TestFetchAndExtractHonoursBodyLimit(t *testing.T) {
	padding := "<!--" + strings.Repeat("x", 64<<10) + "-->"
	page := strings.Replace(articlePage(6), "<body>", "<body>"+padding, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	cfg := &config.ExtractorConfig{UserAgent: "test-bot", Timeout: 5 * time.Second, MinTextChars: 300, MaxBodyBytes: 4096}
	limited := NewExtractor(cfg, nil).FetchAndExtract(context.Background(), srv.URL+"/story")
	assert.Empty(t, limited.FetchError)
	assert.Empty(t, limited.ExtractedText, "article beyond the limit is never read")
	assert.NotEmpty(t, limited.ExtractionError)

	cfg.MaxBodyBytes = 0
	full := NewExtractor(cfg, nil).FetchAndExtract(context.Background(), srv.URL+"/story")
	assert.Empty(t, full.ExtractionError)
	assert.Contains(t, full.ExtractedText, "city council voted")
}
