package state

import (
	"context"
	"time"
)

// MemoryStore держит состояние только в памяти процесса.
// Используется в тестах и как запасной вариант, когда хранилище недоступно.
type MemoryStore struct {
	fingerprints map[string]time.Time
	sources      map[string]time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fingerprints: make(map[string]time.Time),
		sources:      make(map[string]time.Time),
	}
}

func (s *MemoryStore) Contains(_ context.Context, fingerprint string) (bool, error) {
	_, ok := s.fingerprints[fingerprint]
	return ok, nil
}

func (s *MemoryStore) FirstSeen(_ context.Context, fingerprint string) (time.Time, bool, error) {
	t, ok := s.fingerprints[fingerprint]
	return t, ok, nil
}

func (s *MemoryStore) Record(_ context.Context, fingerprint string, now time.Time) error {
	if _, ok := s.fingerprints[fingerprint]; !ok {
		s.fingerprints[fingerprint] = now
	}
	return nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time, retention time.Duration) (int64, error) {
	var n int64
	for fp, seen := range s.fingerprints {
		if Expired(seen, now, retention) {
			delete(s.fingerprints, fp)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LastPublished(_ context.Context, sourceID string) (time.Time, bool, error) {
	t, ok := s.sources[sourceID]
	return t, ok, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, sourceID string, now time.Time) error {
	s.sources[sourceID] = now
	return nil
}

func (s *MemoryStore) Close() error { return nil }
