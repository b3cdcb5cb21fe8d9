package app

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-notifications/internal/alert"
	"github.com/nhle/task-notifications/internal/feed"
	"github.com/nhle/task-notifications/internal/model"
	appsync "github.com/nhle/task-notifications/internal/sync"
	"github.com/nhle/task-notifications/internal/ui/feedlist"
	"github.com/nhle/task-notifications/tests/testutil"
)

type noActions struct{}

func (noActions) MarkRead(context.Context, string) error    { return nil }
func (noActions) MarkDeleted(context.Context, string) error { return nil }
func (noActions) Purge(context.Context, string) error       { return nil }

type fakeRefresher struct {
	refreshes int
	status    appsync.SyncStatus
}

func (f *fakeRefresher) Refresh() tea.Cmd {
	f.refreshes++
	return nil
}

func (f *fakeRefresher) Status() appsync.SyncStatus { return f.status }

func newTestModel(t *testing.T) (Model, *fakeRefresher) {
	t.Helper()
	s := testutil.NewTestStore(t)
	_, err := s.InsertNotification(context.Background(), model.Notification{
		ID: "n1", Kind: model.KindDueDate, Status: model.StatusPending,
		Message: "Report due in 1 hour", CreatedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	ref := &fakeRefresher{}
	m := New(Deps{
		Feed:      feed.New(s, s, feed.Options{}),
		Actions:   noActions{},
		Refresher: ref,
		Alerts:    NewAlertQueue(4),
	})

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	next, _ = m.Update(m.feed.Load()())
	return next.(Model), ref
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_HeaderShowsUnreadCount(t *testing.T) {
	m, _ := newTestModel(t)
	view := m.View()
	assert.Contains(t, view, "Notifications [1 unread]")
	assert.Contains(t, view, "Report due in 1 hour")
}

func TestModel_AuthErrorReplacesStatusBar(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, appsync.StatusResultMsg{
		ID: "n1", Status: model.StatusRead, Outcome: appsync.OutcomeAuth,
		AuthError: &appsync.AuthErrorMsg{Message: "session expired: sign in again"},
	})
	assert.Contains(t, m.View(), "session expired: sign in again")

	m, _ = update(t, m, appsync.RefreshResultMsg{})
	assert.NotContains(t, m.View(), "session expired")
}

func TestModel_LiveChannelAuthErrorShown(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, appsync.AuthErrorMsg{Message: "session expired: live updates stopped"})
	view := m.View()
	assert.Contains(t, view, "session expired: live updates stopped")
	assert.Contains(t, view, "Report due in 1 hour")
}

func TestModel_ExhaustedSyncKeepsLocalStatus(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, appsync.StatusResultMsg{
		ID: "n1", Status: model.StatusRead, Outcome: appsync.OutcomeExhausted, Attempts: 3,
		Error: errors.New("503"),
	})
	assert.Contains(t, m.View(), "could not sync n1 as read")
}

func TestModel_AlertBannerAndDismiss(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, AlertMsg{Alert: alert.Alert{
		NotificationID: "n2", Kind: model.KindTask, Title: "Task assigned", Body: "You own t-3",
		Channel: alert.ChannelHigh,
	}})
	assert.Contains(t, m.View(), "Task assigned")
	assert.Contains(t, m.View(), "esc dismiss")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.NotContains(t, m.View(), "You own t-3")
}

func TestModel_RefreshKey(t *testing.T) {
	m, ref := newTestModel(t)
	_, _ = update(t, m, runes("r"))
	assert.Equal(t, 1, ref.refreshes)
}

func TestModel_QuitUnlessSearching(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := update(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	m, _ = update(t, m, runes("/"))
	_, cmd = update(t, m, runes("q"))
	if cmd != nil {
		_, isQuit := cmd().(tea.QuitMsg)
		assert.False(t, isQuit)
	}
}

func TestModel_SyncStatusText(t *testing.T) {
	m, ref := newTestModel(t)
	assert.Equal(t, "idle", m.syncStatus())

	ref.status = appsync.SyncStatus{State: appsync.SyncError}
	assert.Contains(t, m.syncStatus(), "unreachable")

	ref.status = appsync.SyncStatus{State: appsync.SyncIdle, LastSync: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)}
	assert.Equal(t, "synced 09:30", m.syncStatus())
}

func TestAlertQueue_DropsWhenFull(t *testing.T) {
	q := NewAlertQueue(1)
	require.NoError(t, q.Show(context.Background(), alert.Alert{NotificationID: "a"}))
	require.NoError(t, q.Show(context.Background(), alert.Alert{NotificationID: "b"}))

	msg := q.Wait()().(AlertMsg)
	assert.Equal(t, "a", msg.Alert.NotificationID)
}

var _ feedlist.Source = (*feed.Feed)(nil)
