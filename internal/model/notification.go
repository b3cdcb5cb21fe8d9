package model

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a notification and selects its alert channel.
type Kind string

const (
	KindTask    Kind = "task"
	KindWarning Kind = "warning"
	KindSuccess Kind = "success"
	KindInfo    Kind = "info"
	KindDueDate Kind = "due_date"
)

// ParseKind normalizes a wire kind. An empty value maps to KindInfo.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return KindInfo, nil
	case KindTask, KindWarning, KindSuccess, KindInfo, KindDueDate:
		return k, nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", s)
	}
}

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusRead    Status = "read"
	StatusDeleted Status = "deleted"
)

// ErrInvalidTransition is returned when a status change would move a
// notification backwards in its lifecycle.
var ErrInvalidTransition = errors.New("invalid notification status transition")

// rank orders statuses along the only allowed direction of travel.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRead:
		return 1
	case StatusDeleted:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// CanTransition reports whether a notification in status from may move to
// status to. Only pending→read, pending→deleted and read→deleted are allowed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.rank() > from.rank()
}

// Notification is a single alert about activity on a task, as stored on
// this device.
type Notification struct {
	// ID is the backend identifier. It is unique and never empty once stored.
	ID string `json:"id"`

	// TaskRef optionally points at the owning task.
	TaskRef string `json:"task_ref,omitempty"`

	// Kind selects icon and alert importance.
	Kind Kind `json:"kind"`

	// Status is only changed through the status synchronizer.
	Status Status `json:"status"`

	// Title is the alert headline supplied by the push provider.
	Title string `json:"title,omitempty"`

	// Message is the display text.
	Message string `json:"message"`

	// CreatedAt drives feed windowing.
	CreatedAt time.Time `json:"created_at"`

	// DueAt is the deadline a reminder fires ahead of. Nil for plain alerts.
	DueAt *time.Time `json:"due_at,omitempty"`

	// Hidden is the local visibility overlay. It is not stored with the
	// record and never implies StatusDeleted.
	Hidden bool `json:"hidden"`
}

// IsUnread reports whether the notification is still pending.
func (n Notification) IsUnread() bool {
	return n.Status == StatusPending
}
