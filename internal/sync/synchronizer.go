// Package sync pushes local status changes to the backend and reconciles
// the local store with the backend's view on refresh.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/task-notifications/internal/backend"
	"github.com/nhle/task-notifications/internal/metrics"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/retry"
	"github.com/nhle/task-notifications/internal/store"
)

// Backend is the slice of the REST client the synchronizer needs.
type Backend interface {
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	DeleteNotification(ctx context.Context, id string) error
	ListNotifications(ctx context.Context) ([]model.Notification, error)
}

// ReminderCanceler drops a pending reminder. *alert.Scheduler satisfies it.
type ReminderCanceler interface {
	Cancel(id string) bool
}

// HiddenSet forgets a hidden id. *feed.Feed satisfies it.
type HiddenSet interface {
	Unhide(ctx context.Context, id string) error
}

// Outcome classifies a finished status sync.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeExhausted  Outcome = "exhausted"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeAuth       Outcome = "auth"
	OutcomeFailed     Outcome = "failed"
)

// StatusResultMsg is a tea.Msg sent when a status sync finishes.
type StatusResultMsg struct {
	ID        string
	Status    model.Status
	Outcome   Outcome
	Attempts  int
	Error     error
	AuthError *AuthErrorMsg
}

// AuthErrorMsg is a tea.Msg sent when the backend rejects the session.
type AuthErrorMsg struct {
	Message string
}

// Options configures a Synchronizer.
type Options struct {
	Policy retry.Policy
	Logger *slog.Logger

	// After replaces time.After between retries.
	After func(time.Duration) <-chan time.Time

	Reminders ReminderCanceler
	Hidden    HiddenSet
}

// operation is the in-flight sync for one notification id.
type operation struct {
	status model.Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Synchronizer applies status changes locally right away and pushes them
// to the backend in the background. Operations on different ids run
// concurrently. A newer change for an id cancels the older one and waits
// for it to stop before its own PATCH goes out, so the backend never sees
// a stale status after a newer one.
type Synchronizer struct {
	store     store.Store
	backend   Backend
	policy    retry.Policy
	after     func(time.Duration) <-chan time.Time
	reminders ReminderCanceler
	hidden    HiddenSet
	logger    *slog.Logger

	root     context.Context
	stop     context.CancelFunc
	mu       gosync.Mutex
	inflight map[string]*operation
	wg       gosync.WaitGroup
	resultCh chan tea.Msg
}

// New creates a Synchronizer.
func New(s store.Store, b Backend, opts Options) (*Synchronizer, error) {
	if opts.Policy == (retry.Policy{}) {
		opts.Policy = retry.DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	root, stop := context.WithCancel(context.Background())
	return &Synchronizer{
		store:     s,
		backend:   b,
		policy:    opts.Policy,
		after:     opts.After,
		reminders: opts.Reminders,
		hidden:    opts.Hidden,
		logger:    opts.Logger.With("component", "sync"),
		root:      root,
		stop:      stop,
		inflight:  make(map[string]*operation),
		resultCh:  make(chan tea.Msg, 16),
	}, nil
}

// MarkRead marks id read locally and syncs it in the background.
func (s *Synchronizer) MarkRead(ctx context.Context, id string) error {
	return s.mark(ctx, id, model.StatusRead)
}

// MarkDeleted marks id deleted locally, drops any pending reminder, and
// syncs it in the background. A read sync still retrying is superseded.
func (s *Synchronizer) MarkDeleted(ctx context.Context, id string) error {
	if err := s.mark(ctx, id, model.StatusDeleted); err != nil {
		return err
	}
	if s.reminders != nil {
		s.reminders.Cancel(id)
	}
	return nil
}

func (s *Synchronizer) mark(ctx context.Context, id string, status model.Status) error {
	changed, err := s.store.UpdateNotificationStatus(ctx, id, status)
	if err != nil {
		return fmt.Errorf("marking %s %s: %w", id, status, err)
	}
	if !changed {
		return nil
	}
	s.launch(id, status)
	return nil
}

// claim registers a new operation for id and cancels the previous one.
// The caller must wait on the returned previous operation, if any, before
// talking to the backend.
func (s *Synchronizer) claim(id string, status model.Status) (*operation, *operation, context.Context) {
	ctx, cancel := context.WithCancel(s.root)
	op := &operation{status: status, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	prev := s.inflight[id]
	s.inflight[id] = op
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return op, prev, ctx
}

// release removes op from the in-flight table if it is still current.
func (s *Synchronizer) release(id string, op *operation) {
	s.mu.Lock()
	if s.inflight[id] == op {
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	op.cancel()
	close(op.done)
}

func (s *Synchronizer) launch(id string, status model.Status) {
	op, prev, ctx := s.claim(id, status)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(id, op)

		if prev != nil {
			<-prev.done
		}
		s.push(ctx, id, status)
	}()
}

// push runs the PATCH under the retry policy. Exhausted retries are logged
// and the optimistic local status stays; the next refresh re-issues it.
func (s *Synchronizer) push(ctx context.Context, id string, status model.Status) {
	logger := s.logger.With("notification_id", id, "status", status)

	res, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		metrics.SyncAttempts.Inc()
		err := s.backend.UpdateStatus(ctx, id, status)
		if err != nil && !backend.Retryable(err) {
			return retry.Permanent(err)
		}
		return err
	},
		retry.WithAfter(s.after),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			logger.Warn("status sync failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}),
	)

	msg := StatusResultMsg{ID: id, Status: status, Attempts: res.Attempts, Error: err}
	switch {
	case err == nil:
		msg.Outcome = OutcomeOK
		logger.Debug("status synced", "attempts", res.Attempts)
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		msg.Outcome = OutcomeSuperseded
		msg.Error = nil
		logger.Debug("status sync superseded", "attempts", res.Attempts)
	case backend.IsAuthError(err):
		msg.Outcome = OutcomeAuth
		msg.AuthError = &AuthErrorMsg{Message: "session expired: sign in again to sync notifications"}
		logger.Warn("status sync stopped, session expired")
	case errors.Is(err, retry.ErrExhausted):
		msg.Outcome = OutcomeExhausted
		logger.Error("status sync gave up, keeping local status", "attempts", res.Attempts, "error", err)
	default:
		msg.Outcome = OutcomeFailed
		logger.Error("status sync rejected, keeping local status", "error", err)
	}

	metrics.StatusSyncs.WithLabelValues(string(status), string(msg.Outcome)).Inc()
	s.publish(msg)
}

// Purge hard-deletes id on the backend, then removes the local record and
// its hidden entry. Pending status syncs for id are superseded. Unlike
// status syncs, a failed purge is returned to the caller and not retried.
func (s *Synchronizer) Purge(ctx context.Context, id string) error {
	op, prev, opCtx := s.claim(id, model.StatusDeleted)
	defer s.release(id, op)
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	callCtx, cancel := mergeCancel(ctx, opCtx)
	defer cancel()

	err := s.backend.DeleteNotification(callCtx, id)
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("purging %s: %w", id, err)
	}

	if err := s.store.DeleteNotification(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("removing local %s: %w", id, err)
	}
	if s.hidden != nil {
		if err := s.hidden.Unhide(ctx, id); err != nil {
			return fmt.Errorf("clearing hidden %s: %w", id, err)
		}
	}
	if s.reminders != nil {
		s.reminders.Cancel(id)
	}
	s.logger.Info("notification purged", "notification_id", id)
	return nil
}

// mergeCancel returns a context cancelled when either a or b is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// InFlight reports whether a status sync for id is still running.
func (s *Synchronizer) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

// supersede cancels the in-flight operation for id, if any, without
// starting a new one.
func (s *Synchronizer) supersede(id string) {
	s.mu.Lock()
	op := s.inflight[id]
	s.mu.Unlock()
	if op != nil {
		op.cancel()
	}
}

// Wait blocks until every launched status sync has finished.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// Close cancels pending syncs and waits for them to stop.
func (s *Synchronizer) Close() {
	s.stop()
	s.wg.Wait()
}

// publish sends msg to the UI without blocking.
func (s *Synchronizer) publish(msg tea.Msg) {
	select {
	case s.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the sync
	}
}

// ReportAuthError forwards a session rejection seen outside the
// synchronizer, such as on the live channel, to WaitForNextResult.
func (s *Synchronizer) ReportAuthError(message string) {
	s.publish(AuthErrorMsg{Message: message})
}

// WaitForNextResult returns a tea.Cmd that waits for the next sync or
// refresh result. Call it again after handling each result.
func (s *Synchronizer) WaitForNextResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-s.resultCh
		if !ok {
			return nil
		}
		return result
	}
}
