// Package metrics holds the prometheus collectors shared by the
// notification components. They register on the default registry and are
// exposed by the serve command on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tasknotify"

var (
	// Ingested counts inbound pushes by delivery path and outcome.
	// Labels: path (foreground, background), outcome (stored, duplicate, malformed, error)
	Ingested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "messages_total",
		Help:      "Inbound push messages by delivery path and outcome",
	}, []string{"path", "outcome"})

	// AlertsShown counts alerts handed to the notifier.
	// Labels: channel (high, default), outcome (shown, failed)
	AlertsShown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alert",
		Name:      "shown_total",
		Help:      "Alerts displayed by channel and outcome",
	}, []string{"channel", "outcome"})

	// RemindersPending tracks reminders waiting for their instant.
	RemindersPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "alert",
		Name:      "reminders_pending",
		Help:      "Reminders scheduled for a future instant",
	})

	// StatusSyncs counts finished status sync operations.
	// Labels: status (read, deleted), outcome (ok, exhausted, superseded, auth, failed)
	StatusSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "status_total",
		Help:      "Status sync operations by target status and outcome",
	}, []string{"status", "outcome"})

	// SyncAttempts counts individual PATCH attempts, including retries.
	SyncAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "attempts_total",
		Help:      "Status PATCH attempts including retries",
	})

	// Refreshes counts feed refreshes by outcome.
	// Labels: outcome (ok, failed)
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "refresh_total",
		Help:      "Feed refreshes by outcome",
	}, []string{"outcome"})

	// Registrations counts device registration passes.
	// Labels: outcome (registered, skipped, failed)
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "registrations_total",
		Help:      "Device registration passes by outcome",
	}, []string{"outcome"})
)
