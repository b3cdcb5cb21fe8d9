package feedlist

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/theme"
)

// NotificationItem wraps a model.Notification so it can be used in a
// bubbles/list.
type NotificationItem struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string { return i.Notification.Message }

// Title returns the row headline.
func (i NotificationItem) Title() string {
	if i.Notification.Title != "" {
		return i.Notification.Title
	}
	return i.Notification.Message
}

// Description returns the message when a title is shown separately.
func (i NotificationItem) Description() string { return i.Notification.Message }

// ItemDelegate implements list.ItemDelegate for rendering feed rows.
type ItemDelegate struct {
	// now anchors relative timestamps.
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single feed row.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(NotificationItem)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderRow(it.Notification, index == m.Index()))
}

func (d ItemDelegate) renderRow(n model.Notification, isSelected bool) string {
	icon := theme.KindStyle(n.Kind).Render(theme.KindIcon(n.Kind))
	statusBadge := theme.StatusStyle(n.Status).Render(string(n.Status))

	text := n.Message
	if n.Title != "" {
		text = n.Title + ": " + n.Message
	}

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(n.CreatedAt, now()))

	line := fmt.Sprintf("%s %s %s  %s", icon, statusBadge, text, timeStr)

	// Read rows stay listed but recede.
	if n.Status == model.StatusRead {
		line = lipgloss.NewStyle().Faint(true).Render(line)
	}

	if isSelected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
