package device

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/task-notifications/internal/store"
)

// TokenProvider yields the push token the platform issued to this device.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a token pinned in configuration.
type StaticToken string

// Token returns the pinned value.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// InstallationTokens generates a random token on first use and keeps it in
// the preference store, standing in for a platform-issued token.
type InstallationTokens struct {
	kv store.KV
}

// NewInstallationTokens creates a provider backed by kv.
func NewInstallationTokens(kv store.KV) *InstallationTokens {
	return &InstallationTokens{kv: kv}
}

// Token returns the persisted installation token, creating it if needed.
func (p *InstallationTokens) Token(ctx context.Context) (string, error) {
	var token string
	err := p.kv.UpdateValue(ctx, store.KeyInstallationToken, func(current []byte) ([]byte, error) {
		if len(current) > 0 {
			token = string(current)
			return current, nil
		}
		token = uuid.NewString()
		return []byte(token), nil
	})
	if err != nil {
		return "", fmt.Errorf("loading installation token: %w", err)
	}
	return token, nil
}

// Rotate replaces the installation token. The caller re-registers.
func (p *InstallationTokens) Rotate(ctx context.Context) (string, error) {
	token := uuid.NewString()
	if err := p.kv.SetValue(ctx, store.KeyInstallationToken, []byte(token)); err != nil {
		return "", fmt.Errorf("rotating installation token: %w", err)
	}
	return token, nil
}

// Provider picks the configured token when set, else the installation token.
func Provider(configured string, kv store.KV) TokenProvider {
	if configured != "" {
		return StaticToken(configured)
	}
	return NewInstallationTokens(kv)
}
