package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/task-notifications/internal/model"
)

// ErrNotFound is returned when a notification id is not present locally.
var ErrNotFound = errors.New("notification not found")

// Well-known preference keys.
const (
	KeyHiddenNotificationIDs = "hidden_notification_ids"
	KeyDeviceToken           = "device_token"
	KeyInstallationToken     = "installation_token"
)

// NotificationFilter narrows ListNotifications. Zero value lists everything.
type NotificationFilter struct {
	Status *model.Status

	// DueAfter keeps only records whose due_at is later than it.
	DueAfter *time.Time

	Limit int
}

// Store defines the persistence interface for notifications.
type Store interface {
	// InsertNotification stores n unless a record with the same ID exists.
	// It reports whether a row was written; a duplicate is not an error.
	InsertNotification(ctx context.Context, n model.Notification) (bool, error)

	GetNotification(ctx context.Context, id string) (*model.Notification, error)

	// ListNotifications returns records ordered by created_at descending.
	ListNotifications(ctx context.Context, f NotificationFilter) ([]model.Notification, error)

	// UpdateNotificationStatus moves id forward to status. It reports
	// whether the row changed; an equal status is a no-op and a backwards
	// move returns model.ErrInvalidTransition.
	UpdateNotificationStatus(ctx context.Context, id string, status model.Status) (bool, error)

	// DeleteNotification removes the record entirely.
	DeleteNotification(ctx context.Context, id string) error

	CountUnread(ctx context.Context) (int, error)
}

// KV is the small key/value store that backs device and feed preferences.
type KV interface {
	// GetValue returns nil, nil for a missing key.
	GetValue(ctx context.Context, key string) ([]byte, error)

	SetValue(ctx context.Context, key string, value []byte) error

	// UpdateValue atomically replaces the value of key with fn(current).
	// Concurrent updates of the same key never lose a write.
	UpdateValue(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}
