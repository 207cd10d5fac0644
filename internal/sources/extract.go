package sources

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maine/x_relay_bot/internal/post"
)

// Подстроки в адресах картинок, которые не относятся к содержимому поста.
var skipImageMarkers = []string{"profile_images", "emoji"}

// ParseTimeline разбирает HTML ленты аккаунта и возвращает до maxCount
// постов в порядке появления на странице (сверху вниз, от новых к старым).
func ParseTimeline(html, sourceID string, maxCount int, observedAt time.Time) ([]post.RawPost, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse timeline html: %w", err)
	}

	var posts []post.RawPost
	doc.Find("article").EachWithBreak(func(_ int, article *goquery.Selection) bool {
		if maxCount > 0 && len(posts) >= maxCount {
			return false
		}
		posts = append(posts, post.RawPost{
			SourceID:   sourceID,
			RawText:    spanText(article),
			ImageURLs:  contentImages(article),
			ObservedAt: observedAt,
		})
		return true
	})
	return posts, nil
}

// spanText склеивает текст листовых <span> через пробел. Вложенные span
// пропускаются, иначе один и тот же текст попадал бы в результат дважды.
func spanText(sel *goquery.Selection) string {
	var parts []string
	sel.Find("span").Each(func(_ int, span *goquery.Selection) {
		if span.Find("span").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(span.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// contentImages собирает адреса картинок поста без аватаров и эмодзи.
func contentImages(sel *goquery.Selection) []string {
	var urls []string
	seen := make(map[string]struct{})
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok {
			return
		}
		src = strings.TrimSpace(src)
		if !isContentImage(src) {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		urls = append(urls, src)
	})
	return urls
}

func isContentImage(src string) bool {
	if src == "" || strings.HasPrefix(src, "data:") {
		return false
	}
	for _, marker := range skipImageMarkers {
		if strings.Contains(src, marker) {
			return false
		}
	}
	return true
}
