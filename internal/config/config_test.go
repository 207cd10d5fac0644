package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRoot_Defaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  ids: [openai, whale_alert]
`)

	cfg, err := LoadRoot(path)
	require.NoError(t, err)

	p := cfg.Pipeline
	assert.Equal(t, 3, p.BatchSize)
	assert.Equal(t, 15*time.Minute, p.Cooldown)
	assert.Equal(t, 72*time.Hour, p.Retention)
	assert.Equal(t, 45*time.Second, p.MinDelay)
	assert.Equal(t, 90*time.Second, p.MaxDelay)
	assert.Equal(t, 10, p.MinLength)
	assert.Equal(t, 1024, p.MaxLength)
	assert.True(t, p.ShuffleSources())

	assert.Equal(t, []string{"·"}, cfg.Normalizer.AttributionSeparators)
	assert.Equal(t, SourceKindBrowser, cfg.Sources.Kind)
	assert.Equal(t, "article", cfg.Sources.Wait)
	assert.Equal(t, DriverSQLite, cfg.State.Driver)
	assert.Equal(t, "state/relay.db", cfg.State.Path)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIURL)
	assert.Equal(t, 10, cfg.Telegram.MaxImages)
	assert.Equal(t, 3, cfg.Telegram.ImageRetries)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRoot_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  batch_size: 5
  cooldown: 30m
  retention: 24h
  min_delay: 1s
  max_delay: 2s
  shuffle_sources: false
normalizer:
  attribution_separators: ["·", "|"]
  denylist: ["Not financial advice"]
sources:
  kind: rss
  feed_url: https://nitter.net/%s/rss
  ids: [openai]
state:
  driver: file
telegram:
  max_images: 50
`)

	cfg, err := LoadRoot(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pipeline.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.Cooldown)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.Retention)
	assert.Equal(t, time.Second, cfg.Pipeline.MinDelay)
	assert.False(t, cfg.Pipeline.ShuffleSources())
	assert.Equal(t, []string{"·", "|"}, cfg.Normalizer.AttributionSeparators)
	assert.Equal(t, "state/relay.json", cfg.State.Path)
	assert.Equal(t, 10, cfg.Telegram.MaxImages, "media groups are capped at 10")
}

func TestLoadRoot_Errors(t *testing.T) {
	_, err := LoadRoot(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = LoadRoot(writeConfig(t, "pipeline: [unclosed"))
	assert.ErrorContains(t, err, "unmarshal config")

	_, err = LoadRoot(writeConfig(t, "sources:\n  ids: []\n"))
	assert.ErrorContains(t, err, "sources.ids must not be empty")
}

func TestRoot_Validate(t *testing.T) {
	base := func() Root {
		r := Root{Sources: Sources{IDs: []string{"openai"}}}
		r.SetDefaults()
		return r
	}

	tests := []struct {
		name    string
		mutate  func(*Root)
		wantErr string
	}{
		{name: "valid", mutate: func(*Root) {}},
		{name: "unknown kind", mutate: func(r *Root) { r.Sources.Kind = "scraper" }, wantErr: "unknown sources.kind"},
		{name: "rss without feed url", mutate: func(r *Root) { r.Sources.Kind = SourceKindRSS }, wantErr: "feed_url is required"},
		{name: "delay range inverted", mutate: func(r *Root) { r.Pipeline.MinDelay = time.Minute; r.Pipeline.MaxDelay = time.Second }, wantErr: "min_delay"},
		{name: "length range inverted", mutate: func(r *Root) { r.Pipeline.MinLength = 2000 }, wantErr: "min_length"},
		{name: "longer than caption", mutate: func(r *Root) { r.Pipeline.MaxLength = 4096 }, wantErr: "caption limit"},
		{name: "unknown driver", mutate: func(r *Root) { r.State.Driver = "etcd" }, wantErr: "unknown state.driver"},
		{name: "redis without addr", mutate: func(r *Root) { r.State.Driver = DriverRedis }, wantErr: "redis_addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadEnvConfig(t *testing.T) {
	t.Run("requires token", func(t *testing.T) {
		t.Setenv("TELEGRAM_BOT_TOKEN", "")
		t.Setenv("TELEGRAM_CHANNEL_ID", "@channel")
		t.Setenv("DRY_RUN", "")
		_, err := LoadEnvConfig()
		assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")
	})

	t.Run("requires channel", func(t *testing.T) {
		t.Setenv("TELEGRAM_BOT_TOKEN", "token")
		t.Setenv("TELEGRAM_CHANNEL_ID", "")
		t.Setenv("DRY_RUN", "")
		_, err := LoadEnvConfig()
		assert.ErrorContains(t, err, "TELEGRAM_CHANNEL_ID")
	})

	t.Run("dry run needs no secrets", func(t *testing.T) {
		t.Setenv("TELEGRAM_BOT_TOKEN", "")
		t.Setenv("TELEGRAM_CHANNEL_ID", "")
		t.Setenv("DRY_RUN", "1")
		t.Setenv("RELAY_CONFIG", "")
		t.Setenv("LOG_LEVEL", "debug")
		cfg, err := LoadEnvConfig()
		require.NoError(t, err)
		assert.True(t, cfg.DryRun)
		assert.Equal(t, DefaultConfigPath, cfg.ConfigPath)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("full", func(t *testing.T) {
		t.Setenv("TELEGRAM_BOT_TOKEN", "token")
		t.Setenv("TELEGRAM_CHANNEL_ID", "@channel")
		t.Setenv("DRY_RUN", "")
		t.Setenv("RELAY_CONFIG", "/etc/relay.yaml")
		t.Setenv("REDIS_PASSWORD", "s3cret")
		cfg, err := LoadEnvConfig()
		require.NoError(t, err)
		assert.Equal(t, "s3cret", cfg.RedisPassword)
		assert.Equal(t, "token", cfg.TelegramBotToken)
		assert.Equal(t, "@channel", cfg.TelegramChannelID)
		assert.Equal(t, "/etc/relay.yaml", cfg.ConfigPath)
		assert.False(t, cfg.DryRun)
	})
}
