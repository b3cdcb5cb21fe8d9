package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/store"
	"github.com/nhle/task-notifications/tests/testutil"
)

type fakeDisplay struct {
	mu        sync.Mutex
	shown     []string
	scheduled map[string]time.Time
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{scheduled: make(map[string]time.Time)}
}

func (f *fakeDisplay) DisplayNow(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, n.ID)
	return nil
}

func (f *fakeDisplay) ScheduleAt(_ context.Context, n model.Notification, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[n.ID] = at
	return nil
}

func (f *fakeDisplay) alerts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown) + len(f.scheduled)
}

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

const pushN1 = `{"notification": {"title": "Due soon", "body": "Report due in 1 hour"},
	"data": {"id": "n1", "kind": "due_date", "task_ref": "t-7"}}`

func newTestIngestor(t *testing.T) (*Ingestor, *store.SQLiteStore, *fakeDisplay) {
	t.Helper()
	s := testutil.NewTestStore(t)
	d := newFakeDisplay()
	return New(s, d, Options{Now: func() time.Time { return now }}), s, d
}

func TestIngest_StoresPendingAndDisplays(t *testing.T) {
	ing, s, d := newTestIngestor(t)
	ctx := context.Background()

	res := ing.Ingest(ctx, Delivery{Path: PathForeground, Body: []byte(pushN1)})
	require.NoError(t, res.Err)
	assert.True(t, res.Stored)

	got, err := s.GetNotification(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, model.KindDueDate, got.Kind)
	assert.Equal(t, "t-7", got.TaskRef)
	assert.Equal(t, "Due soon", got.Title)
	assert.Equal(t, "Report due in 1 hour", got.Message)
	assert.True(t, now.Equal(got.CreatedAt))
	assert.Equal(t, []string{"n1"}, d.shown)
}

func TestIngest_SameIDOnBothPathsIsIdempotent(t *testing.T) {
	for _, order := range [][]Path{
		{PathForeground, PathBackground},
		{PathBackground, PathForeground},
	} {
		t.Run(string(order[0])+"_first", func(t *testing.T) {
			ing, s, d := newTestIngestor(t)
			ctx := context.Background()

			first := ing.Ingest(ctx, Delivery{Path: order[0], Body: []byte(pushN1)})
			second := ing.Ingest(ctx, Delivery{Path: order[1], Body: []byte(pushN1)})

			assert.True(t, first.Stored)
			assert.True(t, second.Duplicate)
			assert.NoError(t, second.Err)

			list, err := s.ListNotifications(ctx, store.NotificationFilter{})
			require.NoError(t, err)
			assert.Len(t, list, 1)
			assert.Equal(t, 1, d.alerts())
		})
	}
}

func TestIngest_ConcurrentDuplicatesDisplayOnce(t *testing.T) {
	ing, s, d := newTestIngestor(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		path := PathForeground
		if i%2 == 1 {
			path = PathBackground
		}
		go func() {
			defer wg.Done()
			ing.Ingest(ctx, Delivery{Path: path, Body: []byte(pushN1)})
		}()
	}
	wg.Wait()

	list, err := s.ListNotifications(ctx, store.NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, d.alerts())
}

func TestIngest_MalformedPayloadsAreDropped(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty data", `{"notification": {"title": "x", "body": "y"}, "data": {}}`},
		{"no data", `{"notification": {"title": "x", "body": "y"}}`},
		{"blank id", `{"data": {"id": "   "}}`},
		{"not json", `{"data": `},
		{"unknown kind", `{"data": {"id": "n2", "kind": "gossip"}}`},
		{"bad due_at", `{"data": {"id": "n3", "due_at": "tomorrow"}}`},
		{"numeric id", `{"data": {"id": 5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, s, d := newTestIngestor(t)
			ctx := context.Background()

			res := ing.Ingest(ctx, Delivery{Path: PathBackground, Body: []byte(tt.body)})
			assert.ErrorIs(t, res.Err, ErrMalformed)
			assert.False(t, res.Stored)

			list, err := s.ListNotifications(ctx, store.NotificationFilter{})
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Zero(t, d.alerts())
		})
	}
}

func TestIngest_DueAtSchedulesReminderAnHourAhead(t *testing.T) {
	ing, _, d := newTestIngestor(t)

	body := `{"notification": {"title": "Report", "body": "Report due"},
		"data": {"id": "n4", "kind": "due_date", "due_at": "2026-10-19T18:00:00Z"}}`
	res := ing.Ingest(context.Background(), Delivery{Path: PathForeground, Body: []byte(body)})
	require.NoError(t, res.Err)

	want := time.Date(2026, 10, 19, 17, 0, 0, 0, time.UTC)
	require.NotNil(t, res.ReminderAt)
	assert.True(t, want.Equal(*res.ReminderAt))
	assert.True(t, want.Equal(d.scheduled["n4"]))
	assert.Empty(t, d.shown)
}

func TestRearm_RestoresFutureRemindersAfterRestart(t *testing.T) {
	ing, s, _ := newTestIngestor(t)
	ctx := context.Background()

	for id, due := range map[string]string{
		"ahead":   "2026-10-19T18:00:00Z",
		"passed":  "2026-10-19T12:30:00Z",
		"deleted": "2026-10-20T09:00:00Z",
	} {
		body := `{"data": {"id": "` + id + `", "kind": "due_date", "due_at": "` + due + `"}}`
		require.NoError(t, ing.Ingest(ctx, Delivery{Path: PathBackground, Body: []byte(body)}).Err)
	}
	_, err := s.UpdateNotificationStatus(ctx, "deleted", model.StatusDeleted)
	require.NoError(t, err)

	d := newFakeDisplay()
	restarted := New(s, d, Options{Now: func() time.Time { return now }})
	armed, err := restarted.Rearm(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, armed)
	want := time.Date(2026, 10, 19, 17, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(d.scheduled["ahead"]))
	assert.Empty(t, d.shown)
}

func TestIngest_KindDefaultsAndCreatedAt(t *testing.T) {
	ing, s, _ := newTestIngestor(t)
	ctx := context.Background()

	body := `{"data": {"id": "n5", "message": "data only", "created_at": "2026-10-17T08:30:00+02:00"}}`
	res := ing.Ingest(ctx, Delivery{Path: PathBackground, Body: []byte(body)})
	require.NoError(t, res.Err)

	got, err := s.GetNotification(ctx, "n5")
	require.NoError(t, err)
	assert.Equal(t, model.KindInfo, got.Kind)
	assert.Equal(t, "data only", got.Message)
	assert.True(t, time.Date(2026, 10, 17, 6, 30, 0, 0, time.UTC).Equal(got.CreatedAt))
}

func TestIngest_OnIngestedOnlyForNewRecords(t *testing.T) {
	s := testutil.NewTestStore(t)
	var seen []string
	ing := New(s, newFakeDisplay(), Options{OnIngested: func(n model.Notification) {
		seen = append(seen, n.ID)
	}})

	ing.Ingest(context.Background(), Delivery{Path: PathForeground, Body: []byte(pushN1)})
	ing.Ingest(context.Background(), Delivery{Path: PathForeground, Body: []byte(pushN1)})
	assert.Equal(t, []string{"n1"}, seen)
}

// chanProducer replays fixed bodies then waits for cancellation.
type chanProducer struct {
	path   Path
	bodies []string
}

func (c chanProducer) Path() Path { return c.path }

func (c chanProducer) Run(ctx context.Context, out chan<- Delivery) error {
	for _, b := range c.bodies {
		if err := send(ctx, out, Delivery{Path: c.path, Body: []byte(b)}); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type failingProducer struct{ err error }

func (f failingProducer) Path() Path { return PathForeground }

func (f failingProducer) Run(context.Context, chan<- Delivery) error { return f.err }

// gatedProducer delivers its bodies only after gate is closed.
type gatedProducer struct {
	gate   chan struct{}
	bodies []string
}

func (g gatedProducer) Path() Path { return PathBackground }

func (g gatedProducer) Run(ctx context.Context, out chan<- Delivery) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return chanProducer{path: PathBackground, bodies: g.bodies}.Run(ctx, out)
}

func TestRun_FailedProducerDoesNotStopOthers(t *testing.T) {
	s := testutil.NewTestStore(t)
	stored := make(chan string, 4)
	failed := make(chan Path, 1)
	ing := New(s, newFakeDisplay(), Options{
		OnIngested:      func(n model.Notification) { stored <- n.ID },
		OnProducerError: func(p Path, _ error) { failed <- p },
	})

	gate := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- ing.Run(ctx,
			failingProducer{err: errors.New("dial refused")},
			gatedProducer{gate: gate, bodies: []string{pushN1}},
		)
	}()

	select {
	case p := <-failed:
		assert.Equal(t, PathForeground, p)
	case <-time.After(2 * time.Second):
		t.Fatal("producer failure not reported")
	}
	close(gate)

	select {
	case id := <-stored:
		assert.Equal(t, "n1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("surviving producer was stopped")
	}

	cancel()
	require.NoError(t, <-errc)
}

func TestRun_FansInBothPaths(t *testing.T) {
	s := testutil.NewTestStore(t)
	d := newFakeDisplay()
	stored := make(chan string, 8)
	ing := New(s, d, Options{OnIngested: func(n model.Notification) { stored <- n.ID }})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- ing.Run(ctx,
			chanProducer{path: PathForeground, bodies: []string{pushN1, `{"data": {"id": "a"}}`}},
			chanProducer{path: PathBackground, bodies: []string{pushN1, `{"data": {"id": "b"}}`, `{"data": {}}`}},
		)
	}()

	got := map[string]bool{}
	for len(got) < 3 {
		select {
		case id := <-stored:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, stored so far: %v", got)
		}
	}

	cancel()
	require.NoError(t, <-errc)

	list, err := s.ListNotifications(context.Background(), store.NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, 3, d.alerts())
}
