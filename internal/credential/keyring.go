// Package credential keeps secrets (Gemini API key, webhook URL) in the
// OS keyring.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailtriage"

// Keys stored by mailtriage.
const (
	KeyGeminiAPIKey = "gemini_api_key"
	KeyWebhookURL   = "webhook_url"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes credentials in a keyring.
type Store struct {
	ring keyring.Keyring
}

// Open returns a store on the platform keyring, falling back to an
// encrypted file under ~/.config/mailtriage/credentials.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailtriage/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailtriage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// New wraps an existing keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key, value string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// IsPlaceholder reports whether v is empty or a bracketed template value
// such as "[YOUR_API_KEY]" that should not be stored.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || (strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]"))
}
