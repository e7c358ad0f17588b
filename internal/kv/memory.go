package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt int64
}

// Memory is an in-process Store, used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	opts    Options
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts Options) *Memory {
	return &Memory{entries: make(map[string]memEntry), opts: opts}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.expiresAt != 0 && m.opts.now().Unix() >= e.expiresAt {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := m.opts.checkSize(key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: value, expiresAt: m.opts.expiresAt(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Close() error { return nil }
