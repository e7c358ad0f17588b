// Package kv provides the small key-value store mailtriage keeps its run
// state in: the watermark, the context cache and the last run summary.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrValueTooLarge is returned by Set when a value exceeds the store limit.
var ErrValueTooLarge = errors.New("kv: value too large")

// Store is a string key-value store with optional per-entry expiry.
// A ttl of zero means the entry never expires. Expired entries read as
// missing.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options tune a store backend.
type Options struct {
	// MaxValueBytes caps the size of a single value. Zero disables the cap.
	MaxValueBytes int
	// Now overrides the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) checkSize(key, value string) error {
	if o.MaxValueBytes > 0 && len(value) > o.MaxValueBytes {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrValueTooLarge, key, len(value), o.MaxValueBytes)
	}
	return nil
}

// expiresAt returns the unix expiry for ttl, or 0 for no expiry.
func (o Options) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return o.now().Add(ttl).Unix()
}

// Open returns the backend selected by driver ("sqlite" or "postgres").
// dsn is a file path for sqlite and a connection URL for postgres.
func Open(ctx context.Context, driver, dsn string, opts Options) (Store, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(dsn, opts)
	case "postgres":
		return OpenPostgres(ctx, dsn, opts)
	case "memory":
		return NewMemory(opts), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
