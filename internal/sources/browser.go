package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/logger"
	"github.com/maine/x_relay_bot/internal/post"
)

// BrowserSource открывает страницу аккаунта в headless Chrome и разбирает
// отрисованные посты. Один браузер переиспользуется всеми источниками прогона.
type BrowserSource struct {
	baseURL string
	wait    string
	timeout time.Duration
	clock   func() time.Time
	log     logger.Logger

	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewBrowserSource запускает браузер. Вызывающий обязан вызвать Close.
func NewBrowserSource(cfg config.Sources, log logger.Logger) (*BrowserSource, error) {
	if log == nil {
		log = logger.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1280, 2400),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// первый Run поднимает процесс браузера
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &BrowserSource{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		wait:          cfg.Wait,
		timeout:       cfg.Timeout,
		clock:         time.Now,
		log:           log,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// FetchRecent реализует app.PostSource.
func (b *BrowserSource) FetchRecent(ctx context.Context, sourceID string, maxCount int) ([]post.RawPost, error) {
	// каждая выборка в своей вкладке, которая закрывается по завершении
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	url := b.baseURL + "/" + sourceID
	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(b.wait, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("load %s: %w", url, err)
	}

	posts, err := ParseTimeline(html, sourceID, maxCount, b.clock())
	if err != nil {
		return nil, err
	}
	b.log.Debug("timeline rendered",
		logger.String("source", sourceID),
		logger.Int("articles", len(posts)),
	)
	return posts, nil
}

// Close останавливает браузер.
func (b *BrowserSource) Close() {
	b.cancelBrowser()
	b.cancelAlloc()
}
