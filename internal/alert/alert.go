// Package alert renders notifications as local alerts, either right away
// or at a later wall-clock instant.
package alert

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/theme"
)

// Channel groups alerts by importance.
type Channel string

const (
	ChannelHigh    Channel = "high"
	ChannelDefault Channel = "default"
)

// Importance is the priority attached to a channel.
type Importance int

const (
	ImportanceDefault Importance = 3
	ImportanceHigh    Importance = 4
)

// ChannelFor maps a notification kind to its channel. Tasks, due dates and
// warnings need attention; info and success do not.
func ChannelFor(kind model.Kind) Channel {
	switch kind {
	case model.KindTask, model.KindDueDate, model.KindWarning:
		return ChannelHigh
	default:
		return ChannelDefault
	}
}

// Importance returns the priority of c.
func (c Channel) Importance() Importance {
	if c == ChannelHigh {
		return ImportanceHigh
	}
	return ImportanceDefault
}

// Alert is one rendered notification.
type Alert struct {
	NotificationID string
	Kind           model.Kind
	Title          string
	Body           string
	Channel        Channel

	// At is when the alert was shown.
	At time.Time

	// Reminder is true when the alert fires from a scheduled reminder.
	Reminder bool
}

// FromNotification builds the alert for n.
func FromNotification(n model.Notification) Alert {
	title := n.Title
	if title == "" {
		title = defaultTitle(n.Kind)
	}
	return Alert{
		NotificationID: n.ID,
		Kind:           n.Kind,
		Title:          title,
		Body:           n.Message,
		Channel:        ChannelFor(n.Kind),
	}
}

func defaultTitle(kind model.Kind) string {
	switch kind {
	case model.KindDueDate:
		return "Task due soon"
	case model.KindTask:
		return "Task update"
	case model.KindWarning:
		return "Warning"
	case model.KindSuccess:
		return "Done"
	default:
		return "Notification"
	}
}

// Notifier shows an alert to the user.
type Notifier interface {
	Show(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

// Show calls f.
func (f NotifierFunc) Show(ctx context.Context, a Alert) error { return f(ctx, a) }

// WriterNotifier prints a framed banner per alert.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier writes banners to w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Show renders a and writes it.
func (n *WriterNotifier) Show(_ context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintln(n.w, Render(a))
	return err
}

// Render formats a as a banner.
func Render(a Alert) string {
	style := theme.BannerStyle
	if a.Channel == ChannelHigh {
		style = theme.HighBannerStyle
	}

	var b strings.Builder
	b.WriteString(theme.KindStyle(a.Kind).Render(theme.KindIcon(a.Kind) + " " + a.Title))
	if a.Reminder {
		b.WriteString(theme.HelpStyle.Render("  reminder"))
	}
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(a.Body)
	}
	return style.Render(b.String())
}
