// Package credential keeps the backend access token in the system keyring.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "tasknotify"

// AccessTokenKey is the keyring item holding the backend bearer token.
const AccessTokenKey = "backend-access-token"

// AccessTokenEnv overrides the keyring when set.
const AccessTokenEnv = "TASKNOTIFY_ACCESS_TOKEN"

// ErrNoToken is returned when neither the environment nor the keyring
// holds an access token.
var ErrNoToken = errors.New("no access token configured")

// Vault wraps a keyring.Keyring with string-valued accessors.
type Vault struct {
	ring keyring.Keyring
}

// NewVault wraps an already opened keyring. Tests pass keyring.NewArrayKeyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

// Open opens the platform keyring. The file backend is stored under dir.
func Open(dir string) (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("tasknotify-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewVault(ring), nil
}

// Get retrieves a credential value by key.
func (v *Vault) Get(key string) (string, error) {
	item, err := v.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (v *Vault) Set(key string, value string) error {
	err := v.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "tasknotify " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key. A missing key is not an error.
func (v *Vault) Delete(key string) error {
	err := v.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// AccessToken returns the bearer token for backend calls. The environment
// variable wins over the keyring so CI and scripts can inject a token.
func (v *Vault) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tok := os.Getenv(AccessTokenEnv); tok != "" {
		return tok, nil
	}
	if v == nil || v.ring == nil {
		return "", ErrNoToken
	}
	item, err := v.ring.Get(AccessTokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	if len(item.Data) == 0 {
		return "", ErrNoToken
	}
	return string(item.Data), nil
}
