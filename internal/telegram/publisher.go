package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/logger"
)

const (
	// retryDelay - шаг линейной задержки между попытками скачивания
	retryDelay = 2 * time.Second
	// maxRetryDelay - верхняя граница задержки
	maxRetryDelay = 10 * time.Second
	// maxMediaGroup - лимит Telegram на число элементов альбома
	maxMediaGroup = 10
)

// Publisher реализует app.Publisher поверх Bot API.
// Повторяются только скачивания картинок; отправка сообщения выполняется
// ровно один раз, чтобы пост не оказался в канале дважды.
type Publisher struct {
	client     TelegramClient
	http       *http.Client
	chatID     string
	cfg        config.Telegram
	log        logger.Logger
	retryDelay time.Duration
}

// NewPublisher создаёт новый экземпляр публикатора.
func NewPublisher(client TelegramClient, chatID string, cfg config.Telegram, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxImages <= 0 || cfg.MaxImages > maxMediaGroup {
		cfg.MaxImages = maxMediaGroup
	}
	if cfg.ImageRetries <= 0 {
		cfg.ImageRetries = 1
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 10 << 20
	}
	return &Publisher{
		client:     client,
		http:       &http.Client{Timeout: cfg.Timeout},
		chatID:     chatID,
		cfg:        cfg,
		log:        log,
		retryDelay: retryDelay,
	}
}

// Publish реализует app.Publisher. Одна скачанная картинка уходит через
// sendPhoto, несколько через альбом с подписью, без картинок пост
// отправляется обычным сообщением.
func (p *Publisher) Publish(ctx context.Context, text string, imageURLs []string) error {
	if len(imageURLs) > p.cfg.MaxImages {
		imageURLs = imageURLs[:p.cfg.MaxImages]
	}

	photos := make([]Photo, 0, len(imageURLs))
	for i, u := range imageURLs {
		photo, err := p.downloadWithRetry(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("image skipped", logger.String("url", u), logger.Error(err))
			continue
		}
		photo.Name = fmt.Sprintf("image_%d%s", i, extension(photo.ContentType))
		photos = append(photos, photo)
	}

	switch len(photos) {
	case 0:
		return p.client.SendMessage(ctx, p.chatID, text, p.cfg.DisablePreview)
	case 1:
		return p.client.SendPhoto(ctx, p.chatID, photos[0], text)
	default:
		return p.client.SendMediaGroup(ctx, p.chatID, photos, text)
	}
}

// downloadWithRetry скачивает картинку с повторными попытками при ошибках.
func (p *Publisher) downloadWithRetry(ctx context.Context, url string) (Photo, error) {
	var lastErr error

	for attempt := 0; attempt < p.cfg.ImageRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(attempt)
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			select {
			case <-ctx.Done():
				return Photo{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		photo, err := p.download(ctx, url)
		if err == nil {
			return photo, nil
		}

		lastErr = err

		// Для 4xx и не-картинок повтор не поможет
		if !isRetryableError(err) {
			return Photo{}, err
		}
	}

	return Photo{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// permanentError помечает ошибку, повтор которой бессмыслен.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (p *Publisher) download(ctx context.Context, url string) (Photo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Photo{}, &permanentError{fmt.Errorf("build request: %w", err)}
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return Photo{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Photo{}, &permanentError{err}
		}
		return Photo{}, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxImageBytes+1))
	if err != nil {
		return Photo{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > p.cfg.MaxImageBytes {
		return Photo{}, &permanentError{fmt.Errorf("image exceeds %d bytes", p.cfg.MaxImageBytes)}
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return Photo{}, &permanentError{fmt.Errorf("not an image: %s", contentType)}
	}
	return Photo{ContentType: contentType, Data: data}, nil
}

// isRetryableError определяет, можно ли повторить скачивание при данной ошибке.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png", "image/gif", "image/webp", "image/bmp":
		return "." + path.Base(contentType)
	default:
		return ""
	}
}
