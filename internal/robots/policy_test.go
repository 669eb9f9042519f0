package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedHonorsRobotsTxt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: factcorpus-bot\nDisallow: /private/\n\nUser-agent: *\nDisallow: /\n"))
	}))
	defer srv.Close()

	p := NewPolicy("factcorpus-bot", 5*time.Second, nil, time.Hour)
	ctx := context.Background()

	allowed, err := p.IsAllowed(ctx, srv.URL+"/news/story")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = p.IsAllowed(ctx, srv.URL+"/private/page")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.EqualValues(t, 1, hits.Load(), "robots.txt is fetched once per origin")
}

func TestIsAllowedStatusSemantics(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		want   bool
	}{
		{"missing robots allows all", http.StatusNotFound, true},
		{"server error disallows all", http.StatusServiceUnavailable, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			p := NewPolicy("factcorpus-bot", 5*time.Second, NewMemoryCache(), time.Hour)
			allowed, err := p.IsAllowed(context.Background(), srv.URL+"/a")
			require.NoError(t, err)
			assert.Equal(t, tc.want, allowed)
		})
	}
}

func TestIsAllowedRejectsInvalidURL(t *testing.T) {
	p := NewPolicy("bot", time.Second, nil, time.Hour)
	_, err := p.IsAllowed(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "https://example.com", &Entry{StatusCode: 200, Body: []byte("x")}, time.Minute))
	_, ok, _ := c.Get(ctx, "https://example.com")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "https://example.com")
	assert.False(t, ok)
}

func TestEntryEncodingRoundTrip(t *testing.T) {
	e, err := decodeEntry(encodeEntry(&Entry{StatusCode: 200, Body: []byte("User-agent: *\nDisallow:\n")}))
	require.NoError(t, err)
	assert.Equal(t, 200, e.StatusCode)
	assert.Equal(t, "User-agent: *\nDisallow:\n", string(e.Body))
}
