package kv

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

// Schema is the DDL for the sqlite state database.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    expires_at  INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
`

// SQLite is a Store backed by a local sqlite file.
type SQLite struct {
	db   *sqlx.DB
	path string
	opts Options
}

// OpenSQLite opens (or creates) the state database at dbPath.
func OpenSQLite(dbPath string, opts Options) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLite{db: db, path: dbPath, opts: opts}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var row struct {
		Value     string `db:"value"`
		ExpiresAt int64  `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, "SELECT value, expires_at FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	if row.ExpiresAt != 0 && s.opts.now().Unix() >= row.ExpiresAt {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ? AND expires_at = ?", key, row.ExpiresAt); err != nil {
			return "", false, fmt.Errorf("expire %s: %w", key, err)
		}
		return "", false, nil
	}
	return row.Value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.opts.checkSize(key, value); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, s.opts.expiresAt(ttl), s.opts.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
