package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint   TEXT PRIMARY KEY,
	first_seen_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_first_seen ON fingerprints (first_seen_at);
CREATE TABLE IF NOT EXISTS source_rate (
	source_id         TEXT PRIMARY KEY,
	last_published_at INTEGER NOT NULL
);`

// SQLiteStore хранит состояние во встроенной базе SQLite.
// Каждая запись делается отдельным upsert, так что падение процесса не трогает
// уже зафиксированные строки.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite открывает (или создаёт) базу по пути и применяет схему.
// Вызывающий должен закрыть стор через Close.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore оборачивает готовое соединение со схемой.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close закрывает соединение с базой.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Contains(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		`SELECT 1 FROM fingerprints WHERE fingerprint = ?`, fingerprint,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) FirstSeen(ctx context.Context, fingerprint string) (time.Time, bool, error) {
	var nanos int64
	err := s.db.GetContext(ctx, &nanos,
		`SELECT first_seen_at FROM fingerprints WHERE fingerprint = ?`, fingerprint,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query first seen: %w", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *SQLiteStore) Record(ctx context.Context, fingerprint string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (fingerprint, first_seen_at)
		VALUES (?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE first_seen_at < ?`,
		now.Add(-retention).UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired fingerprints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count purged fingerprints: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LastPublished(ctx context.Context, sourceID string) (time.Time, bool, error) {
	var nanos int64
	err := s.db.GetContext(ctx, &nanos,
		`SELECT last_published_at FROM source_rate WHERE source_id = ?`, sourceID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query source rate: %w", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *SQLiteStore) MarkPublished(ctx context.Context, sourceID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_rate (source_id, last_published_at)
		VALUES (?, ?)
		ON CONFLICT (source_id) DO UPDATE SET last_published_at = excluded.last_published_at`,
		sourceID, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert source rate: %w", err)
	}
	return nil
}
