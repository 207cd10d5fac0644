package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshot задаёт формат JSON-файла состояния.
type snapshot struct {
	Fingerprints map[string]time.Time `json:"fingerprints"`
	Sources      map[string]time.Time `json:"sources"`
}

func newSnapshot() snapshot {
	return snapshot{
		Fingerprints: make(map[string]time.Time),
		Sources:      make(map[string]time.Time),
	}
}

// FileStore хранит состояние в JSON-файле. Каждое изменение переписывает
// файл целиком через временный файл и rename, поэтому сбой посреди записи
// оставляет на диске предыдущую версию.
type FileStore struct {
	path     string
	snap     snapshot
	readOnly bool
}

// NewFileStore создаёт новый файловый стор с пустым состоянием.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, snap: newSnapshot()}
}

// Load читает состояние из файла.
//
// Отсутствующий файл означает пустое состояние. Повреждённый файл сохраняется
// рядом как .broken, состояние сбрасывается, возвращается ErrCorruptState.
// Если файл не удалось прочитать, стор переходит в read-only, чтобы не
// затереть ранее сохранённые записи.
func (s *FileStore) Load(ctx context.Context) error {
	_ = ctx

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.snap = newSnapshot()
			return nil
		}
		s.readOnly = true
		return fmt.Errorf("%w: read state file: %v", ErrReadOnly, err)
	}

	snap := newSnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		brokenPath := s.path + ".broken"
		if werr := os.WriteFile(brokenPath, data, 0o644); werr != nil {
			// без копии перезаписывать нельзя
			s.readOnly = true
			return fmt.Errorf("%w: %v (backup failed: %v)", ErrCorruptState, err, werr)
		}
		s.snap = newSnapshot()
		return fmt.Errorf("%w: %v (saved to %s)", ErrCorruptState, err, brokenPath)
	}
	if snap.Fingerprints == nil {
		snap.Fingerprints = make(map[string]time.Time)
	}
	if snap.Sources == nil {
		snap.Sources = make(map[string]time.Time)
	}
	s.snap = snap
	return nil
}

func (s *FileStore) Contains(_ context.Context, fingerprint string) (bool, error) {
	_, ok := s.snap.Fingerprints[fingerprint]
	return ok, nil
}

func (s *FileStore) FirstSeen(_ context.Context, fingerprint string) (time.Time, bool, error) {
	t, ok := s.snap.Fingerprints[fingerprint]
	return t, ok, nil
}

func (s *FileStore) Record(_ context.Context, fingerprint string, now time.Time) error {
	if _, ok := s.snap.Fingerprints[fingerprint]; ok {
		return nil
	}
	s.snap.Fingerprints[fingerprint] = now.UTC()
	return s.save()
}

func (s *FileStore) PurgeExpired(_ context.Context, now time.Time, retention time.Duration) (int64, error) {
	var n int64
	for fp, seen := range s.snap.Fingerprints {
		if Expired(seen, now, retention) {
			delete(s.snap.Fingerprints, fp)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save()
}

func (s *FileStore) LastPublished(_ context.Context, sourceID string) (time.Time, bool, error) {
	t, ok := s.snap.Sources[sourceID]
	return t, ok, nil
}

func (s *FileStore) MarkPublished(_ context.Context, sourceID string, now time.Time) error {
	s.snap.Sources[sourceID] = now.UTC()
	return s.save()
}

// Close ничего не делает: каждое изменение уже записано.
func (s *FileStore) Close() error { return nil }

// save записывает состояние в файл атомарно (через временный файл).
func (s *FileStore) save() error {
	if s.readOnly {
		return ErrReadOnly
	}

	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := writeSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}

	// Переименовываем временный файл - это атомарная операция на большинстве файловых систем
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
