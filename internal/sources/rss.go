package sources

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/post"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RSSSource читает посты аккаунтов из RSS-зеркала (например, Nitter).
type RSSSource struct {
	feedURL string
	client  *http.Client
	parser  *gofeed.Parser
	clock   func() time.Time
}

// NewRSSSource создаёт новый экземпляр. feedURL задаёт шаблон с одним %s под
// идентификатор аккаунта.
func NewRSSSource(cfg config.Sources, client *http.Client, clock func() time.Time) *RSSSource {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if clock == nil {
		clock = time.Now
	}
	return &RSSSource{
		feedURL: cfg.FeedURL,
		client:  client,
		parser:  gofeed.NewParser(),
		clock:   clock,
	}
}

// FetchRecent реализует app.PostSource.
func (s *RSSSource) FetchRecent(ctx context.Context, sourceID string, maxCount int) ([]post.RawPost, error) {
	url := fmt.Sprintf(s.feedURL, sourceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// 4xx и 5xx не повторяем: следующий прогон попробует снова
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := newestFirst(feed.Items)
	if maxCount > 0 && len(items) > maxCount {
		items = items[:maxCount]
	}

	observed := s.clock()
	posts := make([]post.RawPost, 0, len(items))
	for _, item := range items {
		text, images, err := itemContent(item)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post.RawPost{
			SourceID:   sourceID,
			RawText:    text,
			ImageURLs:  images,
			ObservedAt: observed,
		})
	}
	return posts, nil
}

// newestFirst сортирует записи по дате публикации, записи без даты
// сохраняют исходный порядок и идут в конце.
func newestFirst(items []*gofeed.Item) []*gofeed.Item {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b *gofeed.Item) int {
		switch {
		case a.PublishedParsed == nil && b.PublishedParsed == nil:
			return 0
		case a.PublishedParsed == nil:
			return 1
		case b.PublishedParsed == nil:
			return -1
		default:
			return b.PublishedParsed.Compare(*a.PublishedParsed)
		}
	})
	return sorted
}

func itemContent(item *gofeed.Item) (string, []string, error) {
	body := item.Description
	if item.Content != "" {
		body = item.Content
	}
	if strings.TrimSpace(body) == "" {
		return strings.TrimSpace(item.Title), itemImages(item, nil), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("parse item html: %w", err)
	}
	images := contentImages(doc.Selection)

	// блочные элементы иначе слипаются в одно слово
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, div, li").AppendHtml(" ")
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if text == "" {
		text = strings.TrimSpace(item.Title)
	}
	return text, itemImages(item, images), nil
}

func itemImages(item *gofeed.Item, fromBody []string) []string {
	urls := append([]string(nil), fromBody...)
	add := func(src string) {
		if isContentImage(src) && !slices.Contains(urls, src) {
			urls = append(urls, src)
		}
	}
	if item.Image != nil {
		add(item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			add(enc.URL)
		}
	}
	return urls
}
