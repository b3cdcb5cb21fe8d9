package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-notifications/internal/alert"
	"github.com/nhle/task-notifications/internal/backend"
	"github.com/nhle/task-notifications/internal/feed"
	"github.com/nhle/task-notifications/internal/ingest"
	"github.com/nhle/task-notifications/internal/model"
	appsync "github.com/nhle/task-notifications/internal/sync"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// fakeServer counts calls per endpoint of the notification REST surface.
type fakeServer struct {
	registers atomic.Int32
	patches   atomic.Int32
	lists     atomic.Int32

	mu     sync.Mutex
	bodies []string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/notifications/register-device":
		f.registers.Add(1)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/api/notifications/"):
		f.patches.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/ws":
		w.WriteHeader(http.StatusUnauthorized)
	case r.Method == http.MethodGet && r.URL.Path == "/api/notifications/":
		f.lists.Add(1)
		_, _ = io.WriteString(w, `[[], 200]`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testConfig(baseURL string) *model.AppConfig {
	return &model.AppConfig{
		Backend: model.BackendConfig{BaseURL: baseURL, TimeoutSec: 5},
		Device:  model.DeviceConfig{Type: "desktop"},
		Sync:    model.SyncConfig{MaxAttempts: 3, BaseDelayMs: 1000, Multiplier: 2},
		Feed:    model.FeedConfig{RecentWindowDays: 7},
		Storage: model.StorageConfig{DBPath: ":memory:", Preferences: "sqlite"},
		Wake:    model.WakeConfig{ListenAddr: "127.0.0.1:0"},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingNotifier) Show(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) shown() []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Alert(nil), r.alerts...)
}

func newTestService(t *testing.T, cfg *model.AppConfig, n alert.Notifier) *Service {
	t.Helper()
	svc, err := New(cfg, Deps{
		Tokens:   backend.StaticToken("opaque-token"),
		Notifier: n,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func pushBody(t *testing.T, data map[string]string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"data": data})
	require.NoError(t, err)
	return raw
}

func TestService_IngestMarkReadSyncEndToEnd(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	notifier := &recordingNotifier{}
	svc := newTestService(t, testConfig(srv.URL+"/api"), notifier)
	ctx := context.Background()

	reg := svc.Start(ctx)
	require.NoError(t, reg.Err)
	assert.True(t, reg.Registration.Registered)
	assert.Equal(t, int32(1), fs.registers.Load())

	res := svc.Ingestor.Ingest(ctx, ingest.Delivery{
		Path: ingest.PathBackground,
		Body: pushBody(t, map[string]string{
			"id":         "n1",
			"kind":       "due_date",
			"message":    "Report due in 1 hour",
			"created_at": now.Add(-2 * time.Hour).Format(time.RFC3339),
		}),
	})
	require.NoError(t, res.Err)
	require.True(t, res.Stored)

	alerts := notifier.shown()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.ChannelHigh, alerts[0].Channel)

	recent, err := svc.Feed.Query(ctx, feed.ViewRecent, "")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "n1", recent[0].ID)
	assert.Equal(t, model.StatusPending, recent[0].Status)

	require.NoError(t, svc.Sync.MarkRead(ctx, "n1"))

	got, err := svc.Store.GetNotification(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, got.Status, "local status changes before the sync completes")

	svc.Sync.Wait()
	assert.Equal(t, int32(1), fs.patches.Load())
	fs.mu.Lock()
	assert.JSONEq(t, `{"notification_status":"read"}`, fs.bodies[0])
	fs.mu.Unlock()

	unread, err := svc.Feed.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
}

func TestService_StartSkipsKnownToken(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	svc := newTestService(t, testConfig(srv.URL+"/api"), &recordingNotifier{})
	ctx := context.Background()

	first := svc.Start(ctx)
	require.NoError(t, first.Err)
	second := svc.Start(ctx)
	require.NoError(t, second.Err)

	assert.True(t, second.Skipped)
	assert.Equal(t, first.Registration.Token, second.Registration.Token)
	assert.Equal(t, int32(1), fs.registers.Load())
}

func TestService_RouterServesWakeAndHealth(t *testing.T) {
	svc := newTestService(t, testConfig("http://unused.invalid/api"), &recordingNotifier{})
	r := svc.Router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push",
		strings.NewReader(`{"data":{"id":"n9"}}`)))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestService_RunIngestsWakePushes(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	notifier := &recordingNotifier{}
	svc := newTestService(t, testConfig(srv.URL+"/api"), notifier)
	r := svc.Router()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, false) }()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push",
		strings.NewReader(`{"notification":{"title":"Task assigned","body":"You own t-3"},"data":{"id":"n3","kind":"task"}}`)))
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		n, err := svc.Store.GetNotification(context.Background(), "n3")
		return err == nil && n.Message == "You own t-3"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(notifier.shown()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return fs.lists.Load() >= 1 }, 2*time.Second, 10*time.Millisecond,
		"the poller refreshes once on start")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_RejectedLiveChannelKeepsWakePath(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL + "/api")
	cfg.Backend.LiveURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	svc := newTestService(t, cfg, &recordingNotifier{})
	r := svc.Router()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, false) }()

	sawAuth := false
	deadline := time.After(3 * time.Second)
	for !sawAuth {
		msgc := make(chan tea.Msg, 1)
		go func() { msgc <- svc.Sync.WaitForNextResult()() }()
		select {
		case msg := <-msgc:
			_, sawAuth = msg.(appsync.AuthErrorMsg)
		case <-deadline:
			t.Fatal("live channel rejection not reported")
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push",
		strings.NewReader(`{"data":{"id":"n9","kind":"info","message":"still delivered"}}`)))
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		_, err := svc.Store.GetNotification(context.Background(), "n9")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("Run stopped early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_RequiresTokenSource(t *testing.T) {
	_, err := New(testConfig("http://unused.invalid/api"), Deps{})
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("http://unused.invalid/api")
	cfg.Storage.Preferences = "etcd"
	_, err := New(cfg, Deps{Tokens: backend.StaticToken("t")})
	assert.Error(t, err)
}

func TestNew_BadgerPreferences(t *testing.T) {
	cfg := testConfig("http://unused.invalid/api")
	cfg.Storage.Preferences = "badger"
	cfg.Storage.BadgerDir = t.TempDir()

	svc := newTestService(t, cfg, &recordingNotifier{})
	ctx := context.Background()

	require.NoError(t, svc.Feed.Hide(ctx, "n1"))
	ids, err := svc.Feed.HiddenIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, ids)

	raw, err := svc.Store.GetValue(ctx, "hidden_notification_ids")
	require.NoError(t, err)
	assert.Nil(t, raw, "badger preferences do not touch the sqlite kv table")
}
