package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nhle/task-notifications/internal/model"
)

// flexibleID accepts both string and numeric identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

// remoteNotification is the backend representation of a notification.
type remoteNotification struct {
	ID        flexibleID `json:"id"`
	TaskRef   flexibleID `json:"task_ref"`
	Type      string     `json:"notification_type"`
	Status    string     `json:"notification_status"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// toModel converts the wire record. Records without an id are skipped.
func (r remoteNotification) toModel() (model.Notification, bool) {
	if r.ID == "" {
		return model.Notification{}, false
	}
	kind, err := model.ParseKind(r.Type)
	if err != nil {
		kind = model.KindInfo
	}
	status := model.Status(r.Status)
	if !status.Valid() {
		status = model.StatusPending
	}
	return model.Notification{
		ID:        string(r.ID),
		TaskRef:   string(r.TaskRef),
		Kind:      kind,
		Status:    status,
		Title:     r.Title,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
	}, true
}

// decodeNotificationList accepts the backend's tuple form
// [[notification, ...], statusCode] as well as a bare array.
func decodeNotificationList(raw json.RawMessage) ([]remoteNotification, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %w", err)
	}
	if len(outer) == 0 {
		return nil, nil
	}

	first := bytes.TrimSpace(outer[0])
	if len(first) > 0 && first[0] == '[' {
		if len(outer) > 1 {
			code, err := strconv.Atoi(string(bytes.TrimSpace(outer[1])))
			if err == nil && (code < 200 || code >= 300) {
				return nil, fmt.Errorf("embedded status code %d", code)
			}
		}
		var list []remoteNotification
		if err := json.Unmarshal(first, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var list []remoteNotification
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}
