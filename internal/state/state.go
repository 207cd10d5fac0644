// Package state хранит состояние, переживающее перезапуск процесса:
// отпечатки опубликованных постов и время последней публикации по источникам.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maine/x_relay_bot/internal/config"
)

var (
	// ErrCorruptState возвращается, когда сохранённое состояние не удаётся разобрать.
	ErrCorruptState = errors.New("state is corrupted")
	// ErrReadOnly возвращается при записи в хранилище, которое не удалось прочитать.
	ErrReadOnly = errors.New("state store is read-only")
)

// FingerprintStore хранит отпечатки с временем первого появления.
type FingerprintStore interface {
	Contains(ctx context.Context, fingerprint string) (bool, error)
	// FirstSeen возвращает время первого появления отпечатка без изменения хранилища.
	FirstSeen(ctx context.Context, fingerprint string) (time.Time, bool, error)
	// Record идемпотентен: повторная запись существующего отпечатка ничего не меняет.
	Record(ctx context.Context, fingerprint string, now time.Time) error
	// PurgeExpired удаляет записи старше retention и возвращает их количество.
	PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// RateStore хранит время последней публикации для каждого источника.
type RateStore interface {
	LastPublished(ctx context.Context, sourceID string) (time.Time, bool, error)
	MarkPublished(ctx context.Context, sourceID string, now time.Time) error
}

// Store объединяет оба вида состояния.
type Store interface {
	FingerprintStore
	RateStore
	Close() error
}

// Open создаёт хранилище по конфигурации. retention задаёт TTL отпечатков
// там, где хранилище умеет удалять записи само (Redis).
func Open(ctx context.Context, cfg config.State, retention time.Duration) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverFile:
		fs := NewFileStore(cfg.Path)
		if err := fs.Load(ctx); err != nil {
			// хранилище остаётся пригодным: пустое при порче, read-only при ошибке чтения
			return fs, err
		}
		return fs, nil
	case config.DriverRedis:
		st, err := OpenRedis(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
			TTL:       retention,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}

// Expired сообщает, вышел ли отпечаток с временем firstSeen за окно retention.
func Expired(firstSeen, now time.Time, retention time.Duration) bool {
	return now.Sub(firstSeen) > retention
}
