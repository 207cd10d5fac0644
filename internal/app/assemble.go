package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/filter"
	"github.com/maine/x_relay_bot/internal/logger"
	"github.com/maine/x_relay_bot/internal/metrics"
	"github.com/maine/x_relay_bot/internal/normalize"
	"github.com/maine/x_relay_bot/internal/ratelimit"
	"github.com/maine/x_relay_bot/internal/sources"
	"github.com/maine/x_relay_bot/internal/state"
	"github.com/maine/x_relay_bot/internal/telegram"
)

// Runtime держит собранный пайплайн и ресурсы, которые нужно освободить после прогона.
type Runtime struct {
	Pipeline *Pipeline
	Metrics  *metrics.Recorder

	closers []func()
}

// Close освобождает ресурсы в обратном порядке.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Assemble собирает пайплайн из конфигурации и окружения.
func Assemble(ctx context.Context, env *config.EnvConfig, root config.Root, log logger.Logger) (*Runtime, error) {
	rt := &Runtime{Metrics: metrics.New(root.Metrics)}

	if env.RedisPassword != "" {
		root.State.RedisPassword = env.RedisPassword
	}
	store := openStore(ctx, root.State, root.Pipeline.Retention, rt.Metrics, log)
	rt.closers = append(rt.closers, func() {
		if err := store.Close(); err != nil {
			log.Warn("close state store", logger.Error(err))
		}
	})

	src, err := newSource(root.Sources, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if b, ok := src.(*sources.BrowserSource); ok {
		rt.closers = append(rt.closers, b.Close)
	}

	var pub Publisher
	if !env.DryRun {
		client := telegram.NewClient(env.TelegramBotToken, root.Telegram)
		pub = telegram.NewPublisher(client, env.TelegramChannelID, root.Telegram, log.With(logger.String("component", "telegram")))
	}

	rt.Pipeline = NewPipeline(PipelineDeps{
		Sources:      root.Sources.IDs,
		Source:       src,
		Publisher:    pub,
		Normalizer:   normalize.New(root.Normalizer),
		Filter:       filter.New(root.Pipeline),
		Fingerprints: store,
		RateLimiter:  ratelimit.New(store),
		Metrics:      rt.Metrics,
		Logger:       log,
		Config:       root.Pipeline,
		DryRun:       env.DryRun,
	})
	return rt, nil
}

// openStore открывает хранилище состояния. Ошибка открытия не останавливает
// прогон: испорченный или нечитаемый файл уже переведён в безопасный режим,
// а если хранилище недоступно совсем, прогон идёт на состоянии в памяти.
func openStore(ctx context.Context, cfg config.State, retention time.Duration, m *metrics.Recorder, log logger.Logger) state.Store {
	store, err := state.Open(ctx, cfg, retention)
	if err == nil {
		return store
	}

	m.Error(metrics.KindPersistence)
	fields := []logger.Field{
		logger.String("driver", cfg.Driver),
		logger.String("path", cfg.Path),
		logger.Error(err),
	}
	if store != nil && (errors.Is(err, state.ErrCorruptState) || errors.Is(err, state.ErrReadOnly)) {
		log.Error("state store degraded", fields...)
		return store
	}
	if store != nil {
		_ = store.Close()
	}
	log.Error("state store unavailable, falling back to in-memory state for this run", fields...)
	return state.NewMemoryStore()
}

func newSource(cfg config.Sources, log logger.Logger) (PostSource, error) {
	switch cfg.Kind {
	case config.SourceKindRSS:
		return sources.NewRSSSource(cfg, nil, nil), nil
	case config.SourceKindBrowser:
		b, err := sources.NewBrowserSource(cfg, log.With(logger.String("component", "browser")))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
