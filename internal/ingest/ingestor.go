package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/task-notifications/internal/metrics"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/store"
)

// Path names the route a push took to reach the device.
type Path string

const (
	PathForeground Path = "foreground"
	PathBackground Path = "background"
)

// Delivery is one raw push message from a producer.
type Delivery struct {
	Path       Path
	Body       []byte
	ReceivedAt time.Time
}

// Producer emits deliveries until ctx is done. Producers never dedupe;
// that is the Ingestor's job.
type Producer interface {
	Path() Path
	Run(ctx context.Context, out chan<- Delivery) error
}

// Display renders newly stored notifications. *alert.Scheduler satisfies it.
type Display interface {
	DisplayNow(ctx context.Context, n model.Notification) error
	ScheduleAt(ctx context.Context, n model.Notification, at time.Time) error
}

// Result is the outcome of ingesting one delivery.
type Result struct {
	Notification model.Notification

	// Stored is true only for the first delivery of an id.
	Stored    bool
	Duplicate bool

	// ReminderAt is set when a reminder was scheduled instead of an
	// immediate alert.
	ReminderAt *time.Time

	// Err is ErrMalformed for dropped payloads, or a store failure.
	Err error
}

// Options configures an Ingestor.
type Options struct {
	Now    func() time.Time
	Logger *slog.Logger

	// ReminderLead is how long before due_at the reminder fires. Default 1h.
	ReminderLead time.Duration

	// OnIngested is called after each newly stored notification.
	OnIngested func(model.Notification)

	// OnProducerError is called when a producer stops with an error
	// before ctx is done, e.g. a live channel rejected with 401.
	OnProducerError func(Path, error)
}

// Ingestor dedupes and normalizes pushes, stores them, then hands them to
// the display. The store insert is the dedupe gate, so only the first of
// concurrent duplicate deliveries reaches the display.
type Ingestor struct {
	store      store.Store
	display    Display
	now        func() time.Time
	lead       time.Duration
	logger     *slog.Logger
	onIngested func(model.Notification)

	onProducerError func(Path, error)
}

// New creates an Ingestor.
func New(s store.Store, d Display, opts Options) *Ingestor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReminderLead <= 0 {
		opts.ReminderLead = time.Hour
	}
	return &Ingestor{
		store:      s,
		display:    d,
		now:        opts.Now,
		lead:       opts.ReminderLead,
		logger:     opts.Logger.With("component", "ingest"),
		onIngested: opts.OnIngested,

		onProducerError: opts.OnProducerError,
	}
}

// Ingest processes one delivery. It is safe for concurrent use.
func (i *Ingestor) Ingest(ctx context.Context, d Delivery) Result {
	path := string(d.Path)
	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = i.now()
	}

	p, err := Parse(d.Body)
	var n model.Notification
	var due *time.Time
	if err == nil {
		n, due, err = p.Normalize(receivedAt)
	}
	if err != nil {
		metrics.Ingested.WithLabelValues(path, "malformed").Inc()
		i.logger.Warn("dropping malformed push", "path", path, "error", err)
		return Result{Err: err}
	}

	inserted, err := i.store.InsertNotification(ctx, n)
	if err != nil {
		metrics.Ingested.WithLabelValues(path, "error").Inc()
		i.logger.Error("storing notification failed", "notification_id", n.ID, "path", path, "error", err)
		return Result{Notification: n, Err: fmt.Errorf("storing notification %s: %w", n.ID, err)}
	}
	if !inserted {
		metrics.Ingested.WithLabelValues(path, "duplicate").Inc()
		i.logger.Debug("duplicate push ignored", "notification_id", n.ID, "path", path)
		return Result{Notification: n, Duplicate: true}
	}

	metrics.Ingested.WithLabelValues(path, "stored").Inc()
	i.logger.Info("notification stored", "notification_id", n.ID, "kind", n.Kind, "path", path)

	res := Result{Notification: n, Stored: true}
	if due != nil {
		at := due.Add(-i.lead)
		res.ReminderAt = &at
		if err := i.display.ScheduleAt(ctx, n, at); err != nil {
			i.logger.Warn("scheduling reminder failed", "notification_id", n.ID, "error", err)
		}
	} else if err := i.display.DisplayNow(ctx, n); err != nil {
		i.logger.Warn("displaying alert failed", "notification_id", n.ID, "error", err)
	}

	if i.onIngested != nil {
		i.onIngested(n)
	}
	return res
}

// Rearm schedules the reminders of stored notifications whose reminder
// instant is still ahead, so a restart does not lose them. Deleted records
// are skipped. It returns how many reminders were armed.
func (i *Ingestor) Rearm(ctx context.Context) (int, error) {
	after := i.now().Add(i.lead)
	list, err := i.store.ListNotifications(ctx, store.NotificationFilter{DueAfter: &after})
	if err != nil {
		return 0, fmt.Errorf("listing pending reminders: %w", err)
	}

	armed := 0
	for _, n := range list {
		if n.Status == model.StatusDeleted {
			continue
		}
		if err := i.display.ScheduleAt(ctx, n, n.DueAt.Add(-i.lead)); err != nil {
			i.logger.Warn("re-arming reminder failed", "notification_id", n.ID, "error", err)
			continue
		}
		armed++
	}
	if armed > 0 {
		i.logger.Info("reminders re-armed", "count", armed)
	}
	return armed, nil
}

// Run fans every producer into one queue and ingests from it until ctx is
// done. Producers are independent: one that fails is logged and reported
// to OnProducerError while the others keep delivering. Deliveries already
// queued are still stored.
func (i *Ingestor) Run(ctx context.Context, producers ...Producer) error {
	var g errgroup.Group
	deliveries := make(chan Delivery, 64)

	var producing sync.WaitGroup
	for _, p := range producers {
		producing.Add(1)
		g.Go(func() error {
			defer producing.Done()
			err := p.Run(ctx, deliveries)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			i.logger.Error("producer stopped", "path", p.Path(), "error", err)
			if i.onProducerError != nil {
				i.onProducerError(p.Path(), err)
			}
			return nil
		})
	}

	go func() {
		producing.Wait()
		close(deliveries)
	}()

	g.Go(func() error {
		drainCtx := context.WithoutCancel(ctx)
		for d := range deliveries {
			i.Ingest(drainCtx, d)
		}
		return nil
	})

	return g.Wait()
}

// send hands d to out unless ctx ends first.
func send(ctx context.Context, out chan<- Delivery, d Delivery) error {
	select {
	case out <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
