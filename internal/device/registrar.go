// Package device registers this installation's push token with the backend.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nhle/task-notifications/internal/metrics"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/store"
)

// ErrEmptyToken is returned for a blank push token.
var ErrEmptyToken = errors.New("device token is empty")

// Backend is the registration endpoint. *backend.Client satisfies it.
type Backend interface {
	RegisterDevice(ctx context.Context, token, deviceType string) error
}

// RegistrationResult is the outcome of one registration pass.
type RegistrationResult struct {
	Registration model.DeviceRegistration

	// Skipped is true when the token was already acknowledged and no call
	// was made.
	Skipped bool

	Err error
}

// Registrar hands push tokens to the backend. A failed attempt is not
// retried here; the next start-up pass tries again.
type Registrar struct {
	backend    Backend
	kv         store.KV
	deviceType string
	logger     *slog.Logger

	mu sync.Mutex
}

// NewRegistrar creates a Registrar. The last acknowledged token lives in kv
// under store.KeyDeviceToken.
func NewRegistrar(b Backend, kv store.KV, deviceType string, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		backend:    b,
		kv:         kv,
		deviceType: deviceType,
		logger:     logger.With("component", "device"),
	}
}

// Register sends token to the backend unless it equals the last
// acknowledged token. The token is persisted only after a 2xx response.
// The network call runs to completion even if ctx is cancelled.
func (r *Registrar) Register(ctx context.Context, token string) RegistrationResult {
	token = strings.TrimSpace(token)
	reg := model.DeviceRegistration{Token: token, DeviceType: r.deviceType}
	if token == "" {
		metrics.Registrations.WithLabelValues("failed").Inc()
		return RegistrationResult{Registration: reg, Err: ErrEmptyToken}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	stored, err := r.kv.GetValue(ctx, store.KeyDeviceToken)
	if err != nil {
		metrics.Registrations.WithLabelValues("failed").Inc()
		return RegistrationResult{Registration: reg, Err: fmt.Errorf("reading stored device token: %w", err)}
	}
	if string(stored) == token {
		reg.Registered = true
		metrics.Registrations.WithLabelValues("skipped").Inc()
		r.logger.Debug("device token unchanged, skipping registration")
		return RegistrationResult{Registration: reg, Skipped: true}
	}

	if err := r.backend.RegisterDevice(ctx, token, r.deviceType); err != nil {
		metrics.Registrations.WithLabelValues("failed").Inc()
		r.logger.Warn("device registration failed, will retry on next start", "error", err)
		return RegistrationResult{Registration: reg, Err: fmt.Errorf("registering device: %w", err)}
	}

	if err := r.kv.SetValue(ctx, store.KeyDeviceToken, []byte(token)); err != nil {
		// The backend has the token; the next pass re-registers, which is harmless.
		metrics.Registrations.WithLabelValues("failed").Inc()
		return RegistrationResult{Registration: reg, Err: fmt.Errorf("persisting device token: %w", err)}
	}

	reg.Registered = true
	metrics.Registrations.WithLabelValues("registered").Inc()
	r.logger.Info("device registered", "device_type", r.deviceType)
	return RegistrationResult{Registration: reg}
}

// RegisterCurrent obtains the token from p and registers it.
func (r *Registrar) RegisterCurrent(ctx context.Context, p TokenProvider) RegistrationResult {
	token, err := p.Token(ctx)
	if err != nil {
		metrics.Registrations.WithLabelValues("failed").Inc()
		return RegistrationResult{
			Registration: model.DeviceRegistration{DeviceType: r.deviceType},
			Err:          fmt.Errorf("obtaining device token: %w", err),
		}
	}
	return r.Register(ctx, token)
}

// Current reports the last acknowledged registration.
func (r *Registrar) Current(ctx context.Context) (model.DeviceRegistration, error) {
	stored, err := r.kv.GetValue(ctx, store.KeyDeviceToken)
	if err != nil {
		return model.DeviceRegistration{}, fmt.Errorf("reading stored device token: %w", err)
	}
	return model.DeviceRegistration{
		Token:      string(stored),
		DeviceType: r.deviceType,
		Registered: len(stored) > 0,
	}, nil
}
