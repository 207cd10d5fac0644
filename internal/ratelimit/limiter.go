// Package ratelimit ограничивает частоту публикаций отдельно для каждого источника.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/maine/x_relay_bot/internal/state"
)

// Limiter отвечает на вопрос «можно ли сейчас публиковать из источника».
// Кулдаун считается по источнику, а не глобально: всплеск у одного
// аккаунта не глушит остальные.
type Limiter struct {
	store state.RateStore
}

// New создаёт ограничитель поверх хранилища состояния.
func New(store state.RateStore) *Limiter {
	return &Limiter{store: store}
}

// IsLimited возвращает true, если для источника есть запись и с момента
// последней публикации прошло меньше cooldown.
func (l *Limiter) IsLimited(ctx context.Context, sourceID string, now time.Time, cooldown time.Duration) (bool, error) {
	last, ok, err := l.store.LastPublished(ctx, sourceID)
	if err != nil {
		return false, fmt.Errorf("load rate state for %s: %w", sourceID, err)
	}
	if !ok {
		return false, nil
	}
	return now.Sub(last) < cooldown, nil
}

// MarkPublished фиксирует время успешной публикации.
func (l *Limiter) MarkPublished(ctx context.Context, sourceID string, now time.Time) error {
	if err := l.store.MarkPublished(ctx, sourceID, now); err != nil {
		return fmt.Errorf("save rate state for %s: %w", sourceID, err)
	}
	return nil
}
