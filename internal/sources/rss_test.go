package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maine/x_relay_bot/internal/config"
)

const nitterFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>OpenAI / @OpenAI</title>
    <item>
      <title>Older post</title>
      <description><![CDATA[<p>Older post</p>]]></description>
      <pubDate>Sat, 31 May 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Newest post</title>
      <description><![CDATA[<p>Newest post with a chart</p><p>second paragraph</p><img src="https://nitter.net/pic/media%2Fchart.jpg"><img src="https://nitter.net/pic/profile_images%2Favatar.jpg">]]></description>
      <pubDate>Sun, 01 Jun 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Middle post</title>
      <description></description>
      <pubDate>Sat, 31 May 2025 18:00:00 GMT</pubDate>
      <enclosure url="https://nitter.net/pic/media%2Fphoto.png" type="image/png" length="100"/>
    </item>
  </channel>
</rss>`

func newFeedServer(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &path
}

func TestRSSSource_FetchRecent(t *testing.T) {
	srv, path := newFeedServer(t, http.StatusOK, nitterFeed)
	observed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := NewRSSSource(config.Sources{FeedURL: srv.URL + "/%s/rss", Timeout: 5 * time.Second}, nil, func() time.Time { return observed })

	posts, err := src.FetchRecent(context.Background(), "OpenAI", 2)
	require.NoError(t, err)

	assert.Equal(t, "/OpenAI/rss", *path)
	require.Len(t, posts, 2)
	assert.Equal(t, "Newest post with a chart second paragraph", posts[0].RawText)
	assert.Equal(t, []string{"https://nitter.net/pic/media%2Fchart.jpg"}, posts[0].ImageURLs)
	assert.Equal(t, "OpenAI", posts[0].SourceID)
	assert.True(t, posts[0].ObservedAt.Equal(observed))

	assert.Equal(t, "Middle post", posts[1].RawText)
	assert.Equal(t, []string{"https://nitter.net/pic/media%2Fphoto.png"}, posts[1].ImageURLs)
}

func TestRSSSource_FetchRecent_HTTPError(t *testing.T) {
	srv, _ := newFeedServer(t, http.StatusTooManyRequests, "rate limited")
	src := NewRSSSource(config.Sources{FeedURL: srv.URL + "/%s/rss", Timeout: 5 * time.Second}, nil, nil)

	_, err := src.FetchRecent(context.Background(), "OpenAI", 3)
	assert.ErrorContains(t, err, "unexpected status 429")
}

func TestRSSSource_FetchRecent_InvalidFeed(t *testing.T) {
	srv, _ := newFeedServer(t, http.StatusOK, "not a feed")
	src := NewRSSSource(config.Sources{FeedURL: srv.URL + "/%s/rss", Timeout: 5 * time.Second}, nil, nil)

	_, err := src.FetchRecent(context.Background(), "OpenAI", 3)
	assert.ErrorContains(t, err, "parse feed")
}
