package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions описывает подключение к Redis.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL ключа отпечатка; 0 означает хранение до явной очистки.
	TTL time.Duration
}

const (
	redisPingTimeout = 5 * time.Second
	redisScanCount   = 500
)

// RedisStore хранит отпечатки как ключи prefix:fp:<hash> со значением
// first_seen_at (unix nano) и TTL, а состояние источников хранит в хэше
// prefix:source_rate.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedis подключается к Redis и проверяет соединение.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client, opts.KeyPrefix, opts.TTL), nil
}

// NewRedisStore оборачивает готовый клиент.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "relay"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Close закрывает клиент.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) fpKey(fingerprint string) string {
	return s.prefix + ":fp:" + fingerprint
}

func (s *RedisStore) rateKey() string {
	return s.prefix + ":source_rate"
}

func (s *RedisStore) Contains(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.client.Exists(ctx, s.fpKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) FirstSeen(ctx context.Context, fingerprint string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.fpKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse first seen for %s: %w", fingerprint, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Record ставит ключ с TTL; повторная запись не продлевает его.
func (s *RedisStore) Record(ctx context.Context, fingerprint string, now time.Time) error {
	if err := s.client.SetNX(ctx, s.fpKey(fingerprint), now.UnixNano(), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

// PurgeExpired проходит по ключам отпечатков через SCAN и удаляет устаревшие.
func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	pattern := s.prefix + ":fp:*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.purgeKeys(ctx, keys, now, retention)
			deleted += n
			if err != nil {
				return deleted, err
			}
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func (s *RedisStore) purgeKeys(ctx context.Context, keys []string, now time.Time, retention time.Duration) (int64, error) {
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis mget: %w", err)
	}

	stale := make([]string, 0, len(keys))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// нечитаемое значение не считаем отпечатком
			continue
		}
		if Expired(time.Unix(0, nanos), now, retention) {
			stale = append(stale, keys[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

func (s *RedisStore) LastPublished(ctx context.Context, sourceID string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.rateKey(), sourceID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis hget: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last published for %s: %w", sourceID, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *RedisStore) MarkPublished(ctx context.Context, sourceID string, now time.Time) error {
	if err := s.client.HSet(ctx, s.rateKey(), sourceID, now.UnixNano()).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}
