package fcm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-notifications/internal/ingest"
	"github.com/nhle/task-notifications/internal/model"
)

func testPush() Push {
	due := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	return Push{
		Notification: model.Notification{
			ID:        "test-1",
			TaskRef:   "t-7",
			Kind:      model.KindDueDate,
			Title:     "Due soon",
			Message:   "Report due in 1 hour",
			CreatedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		},
		DueAt: &due,
	}
}

func TestPush_MessageCarriesDataAndNotification(t *testing.T) {
	msg := testPush().Message("device-token")

	assert.Equal(t, "device-token", msg.Token)
	assert.Equal(t, "Due soon", msg.Notification.Title)
	assert.Equal(t, "Report due in 1 hour", msg.Notification.Body)
	assert.Equal(t, "high", msg.Android.Priority)
	assert.Equal(t, map[string]string{
		"id":         "test-1",
		"kind":       "due_date",
		"task_ref":   "t-7",
		"message":    "Report due in 1 hour",
		"created_at": "2026-10-19T12:00:00Z",
		"due_at":     "2026-10-19T18:00:00Z",
	}, msg.Data)
}

func TestPush_JSONIsAcceptedByIngest(t *testing.T) {
	raw, err := testPush().JSON()
	require.NoError(t, err)

	p, err := ingest.Parse(raw)
	require.NoError(t, err)

	n, due, err := p.Normalize(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "test-1", n.ID)
	assert.Equal(t, model.KindDueDate, n.Kind)
	assert.Equal(t, "t-7", n.TaskRef)
	require.NotNil(t, due)
	assert.True(t, due.Equal(time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)))
}

func TestPush_OptionalFieldsOmitted(t *testing.T) {
	p := Push{Notification: model.Notification{ID: "x", Kind: model.KindInfo, Message: "hi"}}
	data := p.Data()
	assert.NotContains(t, data, "task_ref")
	assert.NotContains(t, data, "due_at")
}
