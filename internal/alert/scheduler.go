package alert

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nhle/task-notifications/internal/metrics"
	"github.com/nhle/task-notifications/internal/model"
)

// Reminder is a deferred alert.
type Reminder struct {
	Alert Alert
	At    time.Time
}

type reminderItem struct {
	Reminder
	seq   uint64
	index int
}

// reminderHeap orders reminders by target instant, then by insertion.
type reminderHeap []*reminderItem

func (h reminderHeap) Len() int { return len(h) }

func (h reminderHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}

func (h reminderHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *reminderHeap) Push(x any) {
	item := x.(*reminderItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *reminderHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Options configures a Scheduler.
type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// Scheduler shows alerts now or keeps them until their instant. A failed
// display is logged and dropped; the notification is still in the feed.
type Scheduler struct {
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	queue reminderHeap
	byID  map[string]*reminderItem
	seq   uint64
	wake  chan struct{}
}

// NewScheduler creates a Scheduler that displays through n.
func NewScheduler(n Notifier, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		notifier: n,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "alert"),
		byID:     make(map[string]*reminderItem),
		wake:     make(chan struct{}, 1),
	}
}

// DisplayNow shows n immediately on its kind's channel.
func (s *Scheduler) DisplayNow(ctx context.Context, n model.Notification) error {
	a := FromNotification(n)
	return s.show(ctx, a)
}

// ScheduleAt defers n until at. An instant that is not in the future is
// displayed immediately instead of being dropped. Scheduling an id that
// already has a reminder replaces it.
func (s *Scheduler) ScheduleAt(ctx context.Context, n model.Notification, at time.Time) error {
	if !at.After(s.now()) {
		s.Cancel(n.ID)
		s.logger.Debug("reminder instant already passed, displaying now",
			"notification_id", n.ID, "at", at)
		a := FromNotification(n)
		a.Reminder = true
		return s.show(ctx, a)
	}

	a := FromNotification(n)
	a.Reminder = true

	s.mu.Lock()
	if old, ok := s.byID[n.ID]; ok {
		heap.Remove(&s.queue, old.index)
	}
	s.seq++
	item := &reminderItem{Reminder: Reminder{Alert: a, At: at}, seq: s.seq}
	heap.Push(&s.queue, item)
	s.byID[n.ID] = item
	metrics.RemindersPending.Set(float64(s.queue.Len()))
	s.mu.Unlock()

	s.logger.Info("reminder scheduled", "notification_id", n.ID, "at", at)
	s.signal()
	return nil
}

// Cancel drops the pending reminder for id. It reports whether one existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	item, ok := s.byID[id]
	if ok {
		heap.Remove(&s.queue, item.index)
		delete(s.byID, id)
		metrics.RemindersPending.Set(float64(s.queue.Len()))
	}
	s.mu.Unlock()

	if ok {
		s.logger.Debug("reminder cancelled", "notification_id", id)
		s.signal()
	}
	return ok
}

// Pending lists scheduled reminders ordered by instant.
func (s *Scheduler) Pending() []Reminder {
	s.mu.Lock()
	items := make([]*reminderItem, len(s.queue))
	copy(items, s.queue)
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return reminderHeap(items).Less(i, j)
	})
	out := make([]Reminder, len(items))
	for i, item := range items {
		out[i] = item.Reminder
	}
	return out
}

// FireDue displays every reminder whose instant has passed, in instant
// order, and returns how many fired.
func (s *Scheduler) FireDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*reminderItem
	for s.queue.Len() > 0 && !s.queue[0].At.After(now) {
		item := heap.Pop(&s.queue).(*reminderItem)
		delete(s.byID, item.Alert.NotificationID)
		due = append(due, item)
	}
	metrics.RemindersPending.Set(float64(s.queue.Len()))
	s.mu.Unlock()

	for _, item := range due {
		_ = s.show(ctx, item.Alert)
	}
	return len(due)
}

// next returns the earliest pending instant.
func (s *Scheduler) next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].At, true
}

// Run fires reminders as their instants arrive until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.FireDue(ctx)

		wait := time.Hour
		if at, ok := s.next(); ok {
			wait = at.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) show(ctx context.Context, a Alert) error {
	a.At = s.now()
	if err := s.notifier.Show(ctx, a); err != nil {
		metrics.AlertsShown.WithLabelValues(string(a.Channel), "failed").Inc()
		s.logger.Warn("alert display failed", "notification_id", a.NotificationID, "error", err)
		return fmt.Errorf("displaying alert %s: %w", a.NotificationID, err)
	}
	metrics.AlertsShown.WithLabelValues(string(a.Channel), "shown").Inc()
	return nil
}
