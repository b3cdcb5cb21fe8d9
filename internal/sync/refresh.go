package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/task-notifications/internal/backend"
	"github.com/nhle/task-notifications/internal/metrics"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/store"
)

// RefreshResult summarizes one reconciliation pass.
type RefreshResult struct {
	// Fetched is the number of records the backend returned.
	Fetched int

	// Inserted counts records that were new locally.
	Inserted int

	// Advanced counts local records moved forward to the backend status.
	Advanced int

	// Resynced counts records whose local status was ahead of the backend
	// and got a fresh status sync.
	Resynced int
}

// Refresh fetches the backend's view and reconciles it with the store.
// Unknown records are inserted. A backend status is applied only when it
// moves the local record forward. When the local record is ahead, as after
// an exhausted sync, the local status is pushed again. Records missing from
// the response are left alone; an empty response means no change.
func (s *Synchronizer) Refresh(ctx context.Context) (RefreshResult, error) {
	remote, err := s.backend.ListNotifications(ctx)
	if err != nil {
		metrics.Refreshes.WithLabelValues("failed").Inc()
		return RefreshResult{}, fmt.Errorf("fetching notifications: %w", err)
	}

	res := RefreshResult{Fetched: len(remote)}
	for _, r := range remote {
		if err := s.reconcile(ctx, r, &res); err != nil {
			metrics.Refreshes.WithLabelValues("failed").Inc()
			return res, err
		}
	}

	metrics.Refreshes.WithLabelValues("ok").Inc()
	s.logger.Info("refresh reconciled",
		"fetched", res.Fetched, "inserted", res.Inserted,
		"advanced", res.Advanced, "resynced", res.Resynced)
	return res, nil
}

func (s *Synchronizer) reconcile(ctx context.Context, r model.Notification, res *RefreshResult) error {
	inserted, err := s.store.InsertNotification(ctx, r)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", r.ID, err)
	}
	if inserted {
		res.Inserted++
		return nil
	}

	local, err := s.store.GetNotification(ctx, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Purged concurrently.
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", r.ID, err)
	}

	switch {
	case local.Status == r.Status:
		return nil

	case model.CanTransition(local.Status, r.Status):
		changed, err := s.store.UpdateNotificationStatus(ctx, r.ID, r.Status)
		if errors.Is(err, model.ErrInvalidTransition) {
			// A local change landed in between and is now ahead.
			return nil
		}
		if err != nil {
			return fmt.Errorf("advancing %s: %w", r.ID, err)
		}
		if changed {
			res.Advanced++
			s.supersede(r.ID)
			if r.Status == model.StatusDeleted && s.reminders != nil {
				s.reminders.Cancel(r.ID)
			}
		}
		return nil

	default:
		if s.InFlight(r.ID) {
			return nil
		}
		s.launch(r.ID, local.Status)
		res.Resynced++
		return nil
	}
}

// RefreshResultMsg is a tea.Msg sent when a background refresh completes.
type RefreshResultMsg struct {
	Result    RefreshResult
	Error     error
	AuthError *AuthErrorMsg
}

// refreshMsg runs Refresh and wraps the outcome for the UI.
func (s *Synchronizer) refreshMsg(ctx context.Context) RefreshResultMsg {
	res, err := s.Refresh(ctx)
	msg := RefreshResultMsg{Result: res, Error: err}
	if backend.IsAuthError(err) {
		msg.AuthError = &AuthErrorMsg{Message: "session expired: sign in again to refresh notifications"}
	}
	return msg
}
