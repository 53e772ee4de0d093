package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists cache entries to a SQLite database so failure markers
// and the day's fetched series survive process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so concurrent workers can read while one writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	const migrate = `CREATE TABLE IF NOT EXISTS cache_entries (
		key     TEXT PRIMARY KEY,
		payload BLOB,
		failure TEXT NOT NULL DEFAULT '',
		expiry  INTEGER NOT NULL
	)`
	if _, err := db.Exec(migrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) (Entry, bool, error) {
	var e Entry
	var expiry int64
	err := s.db.QueryRow(
		`SELECT payload, failure, expiry FROM cache_entries WHERE key = ?`, key,
	).Scan(&e.Payload, &e.FailureReason, &expiry)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}
	e.Expiry = time.Unix(expiry, 0).UTC()
	return e, true, nil
}

func (s *SQLiteStore) Put(key string, e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO cache_entries (key, payload, failure, expiry) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, failure=excluded.failure, expiry=excluded.expiry`,
		key, e.Payload, e.FailureReason, e.Expiry.Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Purge(now time.Time) error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE expiry < ?`, now.Unix()); err != nil {
		return fmt.Errorf("cache purge: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
