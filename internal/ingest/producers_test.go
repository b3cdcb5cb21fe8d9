package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-notifications/internal/backend"
	"github.com/nhle/task-notifications/tests/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestWakeHandler_AcceptsAndForwards(t *testing.T) {
	h := NewWakeHandler(4, nil)
	r := gin.New()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(pushN1))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Delivery, 1)
	go func() { _ = h.Run(ctx, out) }()

	select {
	case d := <-out:
		assert.Equal(t, PathBackground, d.Path)
		assert.JSONEq(t, pushN1, string(d.Body))
	case <-time.After(time.Second):
		t.Fatal("delivery not forwarded")
	}
}

func TestWakeHandler_RejectsBadRequests(t *testing.T) {
	h := NewWakeHandler(1, nil)
	r := gin.New()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(`{"data": {"id": "x"}}`)))
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Queue of one is now full and nothing drains it.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(`{"data": {"id": "y"}}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLiveChannel_ForwardsFramesWithBearer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer live-token", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(pushN1))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	live := NewLiveChannel("ws"+strings.TrimPrefix(srv.URL, "http"), backend.StaticToken("live-token"), LiveOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Delivery, 1)
	errc := make(chan error, 1)
	go func() { errc <- live.Run(ctx, out) }()

	select {
	case d := <-out:
		assert.Equal(t, PathForeground, d.Path)
		assert.JSONEq(t, pushN1, string(d.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestLiveChannel_ReconnectsAfterDrop(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"data": {"id": "after-reconnect"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	live := NewLiveChannel("ws"+strings.TrimPrefix(srv.URL, "http"), backend.StaticToken("tok"),
		LiveOptions{MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Delivery, 1)
	go func() { _ = live.Run(ctx, out) }()

	select {
	case d := <-out:
		assert.Contains(t, string(d.Body), "after-reconnect")
	case <-time.After(2 * time.Second):
		t.Fatal("did not reconnect")
	}
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
}

func TestLiveChannel_StopsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	live := NewLiveChannel("ws"+strings.TrimPrefix(srv.URL, "http"), backend.StaticToken("tok"),
		LiveOptions{MinBackoff: 10 * time.Millisecond})

	err := live.Run(context.Background(), make(chan Delivery))
	require.Error(t, err)
	assert.True(t, backend.IsAuthError(err))
}

func TestRun_RejectedLiveChannelLeavesWakePathRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	s := testutil.NewTestStore(t)
	failed := make(chan error, 1)
	ing := New(s, newFakeDisplay(), Options{OnProducerError: func(p Path, err error) {
		assert.Equal(t, PathForeground, p)
		failed <- err
	}})

	wake := NewWakeHandler(4, nil)
	r := gin.New()
	wake.RegisterRoutes(r)
	live := NewLiveChannel("ws"+strings.TrimPrefix(srv.URL, "http"), backend.StaticToken("tok"),
		LiveOptions{MinBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ing.Run(ctx, wake, live) }()

	select {
	case err := <-failed:
		assert.True(t, backend.IsAuthError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("live channel failure not reported")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(pushN1)))
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		_, err := s.GetNotification(context.Background(), "n1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
