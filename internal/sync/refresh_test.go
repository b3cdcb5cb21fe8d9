package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-notifications/internal/backend"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/store"
)

func remote(id string, status model.Status) model.Notification {
	return model.Notification{ID: id, Kind: model.KindInfo, Status: status, Message: "r " + id, CreatedAt: created}
}

func TestRefresh_Reconciles(t *testing.T) {
	b := newFakeBackend()
	reminders := &fakeReminders{}
	sy, s := newSync(t, b, Options{Reminders: reminders})
	ctx := context.Background()

	seed(t, s, "same", model.StatusRead)
	seed(t, s, "behind", model.StatusPending)
	seed(t, s, "gone-remote", model.StatusPending)
	seed(t, s, "ahead", model.StatusDeleted)
	seed(t, s, "local-only", model.StatusPending)

	b.list = []model.Notification{
		remote("same", model.StatusRead),
		remote("behind", model.StatusRead),
		remote("gone-remote", model.StatusDeleted),
		remote("ahead", model.StatusRead),
		remote("new", model.StatusPending),
	}

	res, err := sy.Refresh(ctx)
	require.NoError(t, err)
	sy.Wait()

	assert.Equal(t, RefreshResult{Fetched: 5, Inserted: 1, Advanced: 2, Resynced: 1}, res)
	assert.Equal(t, model.StatusRead, statusOf(t, s, "behind"))
	assert.Equal(t, model.StatusDeleted, statusOf(t, s, "gone-remote"))
	assert.Equal(t, model.StatusDeleted, statusOf(t, s, "ahead"), "local status is never moved backwards")
	assert.Equal(t, model.StatusPending, statusOf(t, s, "local-only"))
	assert.Equal(t, model.StatusPending, statusOf(t, s, "new"))

	assert.Equal(t, []patch{{"ahead", model.StatusDeleted}}, b.patchLog())
	assert.Equal(t, []string{"gone-remote"}, reminders.cancelled)
}

func TestRefresh_EmptyListChangesNothing(t *testing.T) {
	b := newFakeBackend()
	sy, s := newSync(t, b, Options{})
	seed(t, s, "n1", model.StatusPending)

	res, err := sy.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Fetched)

	list, err := s.ListNotifications(context.Background(), store.NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRefresh_AuthErrorSurfaces(t *testing.T) {
	b := newFakeBackend()
	b.listErr = backend.ErrSessionExpired
	sy, _ := newSync(t, b, Options{})

	msg := sy.refreshMsg(context.Background())
	require.Error(t, msg.Error)
	require.NotNil(t, msg.AuthError)
}

func TestPoller_RefreshesOnDemand(t *testing.T) {
	b := newFakeBackend()
	b.list = []model.Notification{remote("n1", model.StatusPending)}
	sy, s := newSync(t, b, Options{})

	p := NewPoller(sy, 0)
	cmd := p.Start()
	require.NotNil(t, cmd)
	defer p.Stop()

	first, ok := cmd().(RefreshResultMsg)
	require.True(t, ok)
	assert.Equal(t, 1, first.Result.Inserted)

	b.mu.Lock()
	b.list = append(b.list, remote("n2", model.StatusPending))
	b.mu.Unlock()
	p.Refresh()

	done := make(chan RefreshResultMsg, 1)
	go func() { done <- sy.WaitForNextResult()().(RefreshResultMsg) }()
	select {
	case second := <-done:
		assert.Equal(t, 1, second.Result.Inserted)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after trigger")
	}

	_, err := s.GetNotification(context.Background(), "n2")
	require.NoError(t, err)
	assert.Equal(t, SyncIdle, p.Status().State)
}

// hangingBackend never answers a list call until its context ends.
type hangingBackend struct {
	*fakeBackend
	entered chan struct{}
}

func (h *hangingBackend) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	h.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPoller_StopAbortsHungRefresh(t *testing.T) {
	b := &hangingBackend{fakeBackend: newFakeBackend(), entered: make(chan struct{}, 1)}
	sy, _ := newSync(t, b, Options{})

	p := NewPoller(sy, 0)
	p.Start()

	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never reached the backend")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a hung refresh")
	}
}
