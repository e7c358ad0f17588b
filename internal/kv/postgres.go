package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS mailtriage_kv (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    expires_at  BIGINT NOT NULL DEFAULT 0,
    updated_at  TIMESTAMP WITH TIME ZONE NOT NULL
);
`

// Postgres is a Store backed by a shared Postgres database, for hosts
// where a local file is not durable.
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
}

// OpenPostgres connects to connString and ensures the table exists.
func OpenPostgres(ctx context.Context, connString string, opts Options) (*Postgres, error) {
	if connString == "" {
		return nil, fmt.Errorf("store.url not configured")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Postgres{pool: pool, opts: opts}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := p.pool.QueryRow(ctx,
		"SELECT value, expires_at FROM mailtriage_kv WHERE key = $1", key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	if expiresAt != 0 && p.opts.now().Unix() >= expiresAt {
		return "", false, nil
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := p.opts.checkSize(key, value); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO mailtriage_kv (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		key, value, p.opts.expiresAt(ttl), p.opts.now(),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM mailtriage_kv WHERE key = $1", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
