package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-notifications/internal/model"
)

func TestNew_AutoIsJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, model.LogConfig{Level: "info", Format: "auto"})
	require.NoError(t, err)

	l.Info("stored", "notification_id", "n1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "stored", rec["msg"])
	assert.Equal(t, "n1", rec["notification_id"])
}

func TestSetLevel_ChangesFilteringAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, model.LogConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)

	l.Info("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, l.SetLevel("debug"))
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	assert.Error(t, l.SetLevel("loud"))
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, model.LogConfig{Format: "xml"})
	assert.Error(t, err)
}
