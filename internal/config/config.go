package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Драйверы хранилища состояния.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// MaxCaptionLength ограничивает подпись к альбому в Telegram.
const MaxCaptionLength = 1024

// Типы источников постов.
const (
	SourceKindBrowser = "browser"
	SourceKindRSS     = "rss"
)

type (
	// Root объединяет все конфигурационные блоки.
	Root struct {
		Pipeline   Pipeline   `yaml:"pipeline"`
		Normalizer Normalizer `yaml:"normalizer"`
		Sources    Sources    `yaml:"sources"`
		State      State      `yaml:"state"`
		Telegram   Telegram   `yaml:"telegram"`
		Metrics    Metrics    `yaml:"metrics"`
		Log        Log        `yaml:"log"`
	}

	// Pipeline описывает параметры пайплайна публикации.
	Pipeline struct {
		BatchSize     int           `yaml:"batch_size"`
		Cooldown      time.Duration `yaml:"cooldown"`
		Retention     time.Duration `yaml:"retention"`
		MinDelay      time.Duration `yaml:"min_delay"`
		MaxDelay      time.Duration `yaml:"max_delay"`
		MinLength     int           `yaml:"min_length"`
		MaxLength     int           `yaml:"max_length"`
		ShuffleSource *bool         `yaml:"shuffle_sources,omitempty"` // nil означает true
	}

	// Normalizer задаёт параметры очистки текста.
	Normalizer struct {
		AttributionSeparators []string `yaml:"attribution_separators"`
		Denylist              []string `yaml:"denylist"`
	}

	// Sources описывает список аккаунтов и способ их чтения.
	Sources struct {
		Kind    string        `yaml:"kind"`
		IDs     []string      `yaml:"ids"`
		BaseURL string        `yaml:"base_url"`     // для browser: https://x.com
		FeedURL string        `yaml:"feed_url"`     // для rss: шаблон с %s, например https://nitter.net/%s/rss
		Timeout time.Duration `yaml:"timeout"`      // таймаут загрузки одного источника
		Wait    string        `yaml:"wait_selector"` // CSS-селектор, который ждём на странице
	}

	// State описывает хранилище отпечатков и состояния rate limit.
	State struct {
		Driver        string `yaml:"driver"`
		Path          string `yaml:"path"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"` // REDIS_PASSWORD из окружения имеет приоритет
		RedisDB       int    `yaml:"redis_db"`
		KeyPrefix     string `yaml:"key_prefix"`
	}

	// Telegram содержит несекретные параметры Bot API.
	Telegram struct {
		APIURL         string        `yaml:"api_url"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxImages      int           `yaml:"max_images"`
		ImageRetries   int           `yaml:"image_retries"`
		MaxImageBytes  int64         `yaml:"max_image_bytes"`
		DisablePreview bool          `yaml:"disable_preview"`
	}

	// Metrics настраивает экспорт метрик.
	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
		Job            string `yaml:"job"`
	}

	// Log настраивает логгер.
	Log struct {
		Level string `yaml:"level"`
	}
)

// LoadRoot читает основной файл конфигурации и применяет значения по умолчанию.
func LoadRoot(path string) (Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Root{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Root
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Root{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Root{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// SetDefaults заполняет незаданные поля.
func (r *Root) SetDefaults() {
	p := &r.Pipeline
	if p.BatchSize <= 0 {
		p.BatchSize = 3
	}
	if p.Cooldown <= 0 {
		p.Cooldown = 15 * time.Minute
	}
	if p.Retention <= 0 {
		p.Retention = 72 * time.Hour
	}
	if p.MinDelay <= 0 && p.MaxDelay <= 0 {
		p.MinDelay = 45 * time.Second
		p.MaxDelay = 90 * time.Second
	}
	if p.MinLength <= 0 {
		p.MinLength = 10
	}
	if p.MaxLength <= 0 {
		p.MaxLength = 1024
	}

	if len(r.Normalizer.AttributionSeparators) == 0 {
		r.Normalizer.AttributionSeparators = []string{"·"}
	}

	s := &r.Sources
	if s.Kind == "" {
		s.Kind = SourceKindBrowser
	}
	if s.BaseURL == "" {
		s.BaseURL = "https://x.com"
	}
	if s.Timeout <= 0 {
		s.Timeout = 45 * time.Second
	}
	if s.Wait == "" {
		s.Wait = "article"
	}

	st := &r.State
	if st.Driver == "" {
		st.Driver = DriverSQLite
	}
	if st.Path == "" {
		switch st.Driver {
		case DriverFile:
			st.Path = "state/relay.json"
		default:
			st.Path = "state/relay.db"
		}
	}
	if st.KeyPrefix == "" {
		st.KeyPrefix = "relay"
	}

	t := &r.Telegram
	if t.APIURL == "" {
		t.APIURL = "https://api.telegram.org"
	}
	if t.Timeout <= 0 {
		t.Timeout = 30 * time.Second
	}
	if t.MaxImages <= 0 || t.MaxImages > 10 {
		t.MaxImages = 10
	}
	if t.ImageRetries <= 0 {
		t.ImageRetries = 3
	}
	if t.MaxImageBytes <= 0 {
		t.MaxImageBytes = 10 << 20
	}

	if r.Metrics.Job == "" {
		r.Metrics.Job = "x_relay_bot"
	}
	if r.Log.Level == "" {
		r.Log.Level = "info"
	}
}

// Validate проверяет согласованность конфигурации.
func (r Root) Validate() error {
	var errs []error
	if len(r.Sources.IDs) == 0 {
		errs = append(errs, errors.New("sources.ids must not be empty"))
	}
	switch r.Sources.Kind {
	case SourceKindBrowser:
	case SourceKindRSS:
		if r.Sources.FeedURL == "" {
			errs = append(errs, errors.New("sources.feed_url is required for rss sources"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sources.kind %q", r.Sources.Kind))
	}
	if r.Pipeline.MinDelay > r.Pipeline.MaxDelay {
		errs = append(errs, fmt.Errorf("pipeline.min_delay %s exceeds max_delay %s", r.Pipeline.MinDelay, r.Pipeline.MaxDelay))
	}
	if r.Pipeline.MaxLength > MaxCaptionLength {
		errs = append(errs, fmt.Errorf("pipeline.max_length %d exceeds telegram caption limit %d", r.Pipeline.MaxLength, MaxCaptionLength))
	}
	if r.Pipeline.MinLength > r.Pipeline.MaxLength {
		errs = append(errs, fmt.Errorf("pipeline.min_length %d exceeds max_length %d", r.Pipeline.MinLength, r.Pipeline.MaxLength))
	}
	switch r.State.Driver {
	case DriverSQLite, DriverFile, DriverMemory:
	case DriverRedis:
		if r.State.RedisAddr == "" {
			errs = append(errs, errors.New("state.redis_addr is required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.driver %q", r.State.Driver))
	}
	return errors.Join(errs...)
}

// ShuffleSources сообщает, нужно ли перемешивать порядок источников.
func (p Pipeline) ShuffleSources() bool {
	return p.ShuffleSource == nil || *p.ShuffleSource
}
