// Package ingest turns provider push messages into stored notifications,
// exactly once per id regardless of which delivery path carried them.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/task-notifications/internal/model"
)

// ErrMalformed marks a payload that cannot become a notification. Such
// payloads are dropped; the provider owns redelivery.
var ErrMalformed = errors.New("malformed push payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Payload is the push message as delivered by the provider.
type Payload struct {
	Notification Notice `json:"notification"`
	Data         Data   `json:"data"`
}

// Notice is the visible part of a push message.
type Notice struct {
	Title string `json:"title" validate:"max=256"`
	Body  string `json:"body" validate:"max=4096"`
}

// Data carries the routing fields. Providers deliver every value as a
// string.
type Data struct {
	ID      string `json:"id" validate:"required,max=128"`
	Kind    string `json:"kind" validate:"omitempty,oneof=task warning success info due_date"`
	TaskRef string `json:"task_ref" validate:"max=128"`

	// Message is used when the provider sends a data-only message.
	Message string `json:"message" validate:"max=4096"`

	// DueAt schedules a reminder ahead of the deadline instead of an
	// immediate alert.
	DueAt string `json:"due_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`

	CreatedAt string `json:"created_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Parse decodes and validates a raw push message.
func Parse(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.Data.ID = strings.TrimSpace(p.Data.ID)
	if err := validate.Struct(p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// Normalize builds the canonical record. receivedAt stands in for a
// missing created_at. due is nil unless the payload carries due_at.
func (p Payload) Normalize(receivedAt time.Time) (n model.Notification, due *time.Time, err error) {
	kind, err := model.ParseKind(p.Data.Kind)
	if err != nil {
		return model.Notification{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	createdAt := receivedAt.UTC()
	if p.Data.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, p.Data.CreatedAt)
		if err != nil {
			return model.Notification{}, nil, fmt.Errorf("%w: created_at: %v", ErrMalformed, err)
		}
		createdAt = t.UTC()
	}

	if p.Data.DueAt != "" {
		t, err := time.Parse(time.RFC3339, p.Data.DueAt)
		if err != nil {
			return model.Notification{}, nil, fmt.Errorf("%w: due_at: %v", ErrMalformed, err)
		}
		due = &t
	}

	message := p.Notification.Body
	if message == "" {
		message = p.Data.Message
	}

	return model.Notification{
		ID:        p.Data.ID,
		TaskRef:   p.Data.TaskRef,
		Kind:      kind,
		Status:    model.StatusPending,
		Title:     p.Notification.Title,
		Message:   message,
		CreatedAt: createdAt,
		DueAt:     due,
	}, due, nil
}
