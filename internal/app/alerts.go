package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/task-notifications/internal/alert"
)

// AlertMsg carries an alert that should be shown as a banner.
type AlertMsg struct {
	Alert alert.Alert
}

// AlertQueue is an alert.Notifier that hands alerts to the TUI.
type AlertQueue struct {
	ch chan alert.Alert
}

// NewAlertQueue creates a queue holding up to size undisplayed alerts.
func NewAlertQueue(size int) *AlertQueue {
	return &AlertQueue{ch: make(chan alert.Alert, size)}
}

// Show queues a. When the UI has fallen behind the alert is dropped; the
// notification itself is already stored and listed in the feed.
func (q *AlertQueue) Show(_ context.Context, a alert.Alert) error {
	select {
	case q.ch <- a:
	default:
	}
	return nil
}

// Wait returns a tea.Cmd that blocks until the next alert.
func (q *AlertQueue) Wait() tea.Cmd {
	return func() tea.Msg {
		return AlertMsg{Alert: <-q.ch}
	}
}
