package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a durable Store backed by a single SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the side-store database.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open side-store db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at TEXT
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at)`)

	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements Store. Expired rows are deleted lazily on read.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	if expired(expiresAt, time.Now().UTC()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, ErrNotFound
	}
	return value, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullString
	if ttl > 0 {
		expiresAt = sql.NullString{
			String: time.Now().UTC().Add(ttl).Format(time.RFC3339Nano),
			Valid:  true,
		}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Flush implements Store.
func (s *SQLite) Flush(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(namespace)+"/%"); err != nil {
		return fmt.Errorf("flush %s: %w", namespace, err)
	}
	return nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, expires_at FROM kv WHERE key LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key       string
			value     []byte
			expiresAt sql.NullString
		)
		if err := rows.Scan(&key, &value, &expiresAt); err != nil {
			continue
		}
		if expired(expiresAt, now) {
			continue
		}
		out[key] = value
	}
	return out, rows.Err()
}

func expired(expiresAt sql.NullString, now time.Time) bool {
	if !expiresAt.Valid || expiresAt.String == "" {
		return false
	}
	ts, err := time.Parse(time.RFC3339Nano, expiresAt.String)
	if err != nil {
		return false
	}
	return now.After(ts)
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
