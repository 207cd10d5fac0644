package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/maine/x_relay_bot/internal/config"
)

// TelegramClient определяет интерфейс для работы с Telegram Bot API.
// Это позволяет легко создавать моки для тестирования.
type TelegramClient interface {
	SendMessage(ctx context.Context, chatID, text string, disablePreview bool) error
	SendPhoto(ctx context.Context, chatID string, photo Photo, caption string) error
	SendMediaGroup(ctx context.Context, chatID string, photos []Photo, caption string) error
}

// Client инкапсулирует работу с Telegram Bot API.
type Client struct {
	client *http.Client
	apiURL string
}

// Убеждаемся, что Client реализует интерфейс TelegramClient.
var _ TelegramClient = (*Client)(nil)

// NewClient создаёт клиента. token обязателен.
func NewClient(token string, cfg config.Telegram) *Client {
	return &Client{
		client: &http.Client{Timeout: cfg.Timeout},
		apiURL: fmt.Sprintf("%s/bot%s", strings.TrimRight(cfg.APIURL, "/"), token),
	}
}

// SendMessage отправляет текстовое сообщение.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, disablePreview bool) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if disablePreview {
		payload["link_preview_options"] = map[string]bool{"is_disabled": true}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, "sendMessage", "application/json", bytes.NewReader(data))
}

// SendPhoto отправляет одну картинку файлом с подписью.
func (c *Client) SendPhoto(ctx context.Context, chatID string, photo Photo, caption string) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return err
		}
	}
	if err := writePhoto(w, "photo", photo); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.do(ctx, "sendPhoto", w.FormDataContentType(), &body)
}

// SendMediaGroup отправляет альбом одним запросом. Картинки загружаются
// файлами (attach://photoN), подпись ставится на первый элемент.
// Bot API принимает от 2 до 10 элементов.
func (c *Client) SendMediaGroup(ctx context.Context, chatID string, photos []Photo, caption string) error {
	if len(photos) < 2 || len(photos) > maxMediaGroup {
		return fmt.Errorf("telegram sendMediaGroup: %d photos, want 2..%d", len(photos), maxMediaGroup)
	}

	media := make([]InputMediaPhoto, len(photos))
	for i := range photos {
		media[i] = InputMediaPhoto{Type: "photo", Media: "attach://" + fieldName(i)}
	}
	media[0].Caption = caption

	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if err := w.WriteField("media", string(mediaJSON)); err != nil {
		return err
	}
	for i, p := range photos {
		if err := writePhoto(w, fieldName(i), p); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.do(ctx, "sendMediaGroup", w.FormDataContentType(), &body)
}

func (c *Client) do(ctx context.Context, method, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out APIResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 400 || decodeErr != nil || !out.OK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: out.Description}
	}
	return nil
}

// writePhoto добавляет в форму файловую часть с картинкой.
func writePhoto(w *multipart.Writer, field string, p Photo) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, p.Name))
	h.Set("Content-Type", p.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(p.Data)
	return err
}

func fieldName(i int) string {
	return "photo" + strconv.Itoa(i)
}
