// Package fcm sends test pushes through Firebase Cloud Messaging, in the
// same shape the backend uses, so a device can be checked end to end.
package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/nhle/task-notifications/internal/model"
)

// Client wraps the Firebase messaging client.
type Client struct {
	messaging *messaging.Client
	logger    *slog.Logger
}

// NewClient initializes Firebase with the given service account file.
// An empty path uses application default credentials.
func NewClient(ctx context.Context, credentialsFile string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}

	return &Client{messaging: mc, logger: logger.With("component", "fcm")}, nil
}

// Push describes one test notification.
type Push struct {
	Notification model.Notification

	// DueAt, when set, makes the receiver schedule a reminder.
	DueAt *time.Time
}

// Data returns the string map carried in the data section of the message.
func (p Push) Data() map[string]string {
	n := p.Notification
	data := map[string]string{
		"id":         n.ID,
		"kind":       string(n.Kind),
		"message":    n.Message,
		"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.TaskRef != "" {
		data["task_ref"] = n.TaskRef
	}
	if p.DueAt != nil {
		data["due_at"] = p.DueAt.UTC().Format(time.RFC3339)
	}
	return data
}

// Message builds the FCM message addressed to token.
func (p Push) Message(token string) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: p.Notification.Title,
			Body:  p.Notification.Message,
		},
		Data: p.Data(),
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

// JSON renders the push the way the wake webhook receives it.
func (p Push) JSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": p.Notification.Title,
			"body":  p.Notification.Message,
		},
		"data": p.Data(),
	})
}

// Send delivers p to the device holding token and returns the message id.
func (c *Client) Send(ctx context.Context, token string, p Push) (string, error) {
	id, err := c.messaging.Send(ctx, p.Message(token))
	if err != nil {
		return "", fmt.Errorf("sending fcm message: %w", err)
	}
	c.logger.Info("test push sent", "message_id", id, "notification_id", p.Notification.ID)
	return id, nil
}
