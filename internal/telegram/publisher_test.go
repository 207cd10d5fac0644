package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maine/x_relay_bot/internal/config"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

// mockTelegramClient - мок для тестирования Publisher
type mockTelegramClient struct {
	messages []string
	photos   []Photo
	groups   [][]Photo
	captions []string
	err      error
}

func (m *mockTelegramClient) SendMessage(_ context.Context, _ string, text string, _ bool) error {
	m.messages = append(m.messages, text)
	return m.err
}

func (m *mockTelegramClient) SendPhoto(_ context.Context, _ string, photo Photo, caption string) error {
	m.photos = append(m.photos, photo)
	m.captions = append(m.captions, caption)
	return m.err
}

func (m *mockTelegramClient) SendMediaGroup(_ context.Context, _ string, photos []Photo, caption string) error {
	m.groups = append(m.groups, photos)
	m.captions = append(m.captions, caption)
	return m.err
}

// imageServer отдаёт PNG по /ok/*, 404 по /missing, HTML по /page и
// 500 на первые fails запросов к /flaky.
func imageServer(t *testing.T, fails int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var flaky atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/ok/"):
			_, _ = w.Write(pngBytes)
		case r.URL.Path == "/page":
			_, _ = w.Write([]byte("<html><body>login</body></html>"))
		case r.URL.Path == "/flaky":
			if flaky.Add(1) <= fails {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write(pngBytes)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &flaky
}

func newTestPublisher(client TelegramClient, cfg config.Telegram) *Publisher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	p := NewPublisher(client, "@channel", cfg, nil)
	p.retryDelay = 0
	return p
}

func TestPublisher_Publish_TextOnly(t *testing.T) {
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{})

	require.NoError(t, p.Publish(context.Background(), "Plain text post", nil))

	assert.Equal(t, []string{"Plain text post"}, client.messages)
	assert.Empty(t, client.groups)
}

func TestPublisher_Publish_MediaGroup(t *testing.T) {
	srv, _ := imageServer(t, 0)
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{})

	err := p.Publish(context.Background(), "Post with images", []string{srv.URL + "/ok/1", srv.URL + "/missing", srv.URL + "/ok/2"})
	require.NoError(t, err)

	assert.Empty(t, client.messages)
	require.Len(t, client.groups, 1)
	assert.Equal(t, []string{"Post with images"}, client.captions)
	photos := client.groups[0]
	require.Len(t, photos, 2)
	assert.Equal(t, "image_0.png", photos[0].Name)
	assert.Equal(t, "image_2.png", photos[1].Name)
	assert.Equal(t, "image/png", photos[0].ContentType)
}

func TestPublisher_Publish_FallsBackToTextWhenNoImageDownloads(t *testing.T) {
	srv, _ := imageServer(t, 0)
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{ImageRetries: 3})

	err := p.Publish(context.Background(), "Images are gone", []string{srv.URL + "/missing", srv.URL + "/page"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Images are gone"}, client.messages)
	assert.Empty(t, client.groups)
}

func TestPublisher_Publish_RetriesImageDownload(t *testing.T) {
	srv, hits := imageServer(t, 2)
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{ImageRetries: 3})

	require.NoError(t, p.Publish(context.Background(), "Flaky image", []string{srv.URL + "/flaky"}))

	assert.Equal(t, int32(3), hits.Load())
	require.Len(t, client.photos, 1)
	assert.Empty(t, client.groups)
}

func TestPublisher_Publish_SingleImageUsesSendPhoto(t *testing.T) {
	srv, _ := imageServer(t, 0)
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{})

	err := p.Publish(context.Background(), "One chart", []string{srv.URL + "/missing", srv.URL + "/ok/1"})
	require.NoError(t, err)

	assert.Empty(t, client.groups, "one image must not be sent as an album")
	assert.Empty(t, client.messages)
	require.Len(t, client.photos, 1)
	assert.Equal(t, "image_1.png", client.photos[0].Name)
	assert.Equal(t, []string{"One chart"}, client.captions)
}

func TestPublisher_Publish_GivesUpAfterRetries(t *testing.T) {
	srv, hits := imageServer(t, 10)
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{ImageRetries: 3})

	require.NoError(t, p.Publish(context.Background(), "Broken image", []string{srv.URL + "/flaky"}))

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []string{"Broken image"}, client.messages)
}

func TestPublisher_Publish_CapsImages(t *testing.T) {
	srv, _ := imageServer(t, 0)
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{MaxImages: 2})

	urls := []string{srv.URL + "/ok/1", srv.URL + "/ok/2", srv.URL + "/ok/3"}
	require.NoError(t, p.Publish(context.Background(), "Many images", urls))

	require.Len(t, client.groups, 1)
	assert.Len(t, client.groups[0], 2)
}

func TestPublisher_Publish_SkipsOversizedImage(t *testing.T) {
	srv, _ := imageServer(t, 0)
	client := &mockTelegramClient{}
	p := newTestPublisher(client, config.Telegram{MaxImageBytes: 8})

	require.NoError(t, p.Publish(context.Background(), "Huge image", []string{srv.URL + "/ok/1"}))

	assert.Equal(t, []string{"Huge image"}, client.messages)
}

func TestPublisher_Publish_SendFailureIsNotRetried(t *testing.T) {
	client := &mockTelegramClient{err: errors.New("telegram sendMessage: status 502")}
	p := newTestPublisher(client, config.Telegram{ImageRetries: 3})

	err := p.Publish(context.Background(), "Will fail", nil)
	require.Error(t, err)
	assert.Len(t, client.messages, 1)
}

func TestPublisher_Publish_GroupFailureDoesNotFallBack(t *testing.T) {
	srv, _ := imageServer(t, 0)
	client := &mockTelegramClient{err: errors.New("telegram sendMediaGroup: status 500")}
	p := newTestPublisher(client, config.Telegram{})

	err := p.Publish(context.Background(), "Album fails", []string{srv.URL + "/ok/1", srv.URL + "/ok/2"})
	require.Error(t, err)
	assert.Len(t, client.groups, 1)
	assert.Empty(t, client.messages, "a failed album must not be resent as text")
}

func TestPublisher_Publish_PhotoFailureDoesNotFallBack(t *testing.T) {
	srv, _ := imageServer(t, 0)
	client := &mockTelegramClient{err: errors.New("telegram sendPhoto: status 500")}
	p := newTestPublisher(client, config.Telegram{})

	err := p.Publish(context.Background(), "Photo fails", []string{srv.URL + "/ok/1"})
	require.Error(t, err)
	assert.Len(t, client.photos, 1)
	assert.Empty(t, client.messages)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("unexpected status 503")))
	assert.False(t, isRetryableError(&permanentError{errors.New("unexpected status 404")}))
}
