// Package feed is the query-time view over stored notifications: a
// recent/archive split by age, a locally persisted hidden overlay, and
// case-insensitive search.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/store"
)

// DefaultWindow is the age limit of the recent view.
const DefaultWindow = 7 * 24 * time.Hour

// View selects one side of the age split.
type View int

const (
	ViewRecent View = iota
	ViewArchive
)

func (v View) String() string {
	if v == ViewArchive {
		return "archive"
	}
	return "recent"
}

// Options configures a Feed.
type Options struct {
	Window time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Feed answers view queries without mutating notification records.
type Feed struct {
	store  store.Store
	kv     store.KV
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Feed over s with the hidden overlay kept in kv.
func New(s store.Store, kv store.KV, opts Options) *Feed {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Feed{
		store:  s,
		kv:     kv,
		window: opts.Window,
		now:    opts.Now,
		logger: opts.Logger.With("component", "feed"),
	}
}

// Query returns the view's notifications, newest first. The cutoff is
// computed from the clock on every call. Deleted and hidden records are
// left out, then search filters what remains.
func (f *Feed) Query(ctx context.Context, view View, search string) ([]model.Notification, error) {
	all, err := f.store.ListNotifications(ctx, store.NotificationFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	hidden, err := f.hiddenSet(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := f.now().Add(-f.window)
	needle := strings.ToLower(strings.TrimSpace(search))

	out := make([]model.Notification, 0, len(all))
	for _, n := range all {
		if n.Status == model.StatusDeleted {
			continue
		}
		if _, ok := hidden[n.ID]; ok {
			continue
		}
		recent := !n.CreatedAt.Before(cutoff)
		if recent != (view == ViewRecent) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(n.Message), needle) {
			continue
		}
		out = append(out, n)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UnreadCount counts pending notifications in the recent view.
func (f *Feed) UnreadCount(ctx context.Context) (int, error) {
	list, err := f.Query(ctx, ViewRecent, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range list {
		if item.IsUnread() {
			n++
		}
	}
	return n, nil
}

// Hide adds id to the hidden overlay. Its status is untouched.
func (f *Feed) Hide(ctx context.Context, id string) error {
	err := f.updateHidden(ctx, func(ids []string) []string {
		if slices.Contains(ids, id) {
			return ids
		}
		return append(ids, id)
	})
	if err != nil {
		return fmt.Errorf("hiding %s: %w", id, err)
	}
	f.logger.Debug("notification hidden", "notification_id", id)
	return nil
}

// Unhide removes id from the hidden overlay.
func (f *Feed) Unhide(ctx context.Context, id string) error {
	err := f.updateHidden(ctx, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(s string) bool { return s == id })
	})
	if err != nil {
		return fmt.Errorf("unhiding %s: %w", id, err)
	}
	return nil
}

// ClearHidden empties the hidden overlay.
func (f *Feed) ClearHidden(ctx context.Context) error {
	if err := f.kv.SetValue(ctx, store.KeyHiddenNotificationIDs, []byte("[]")); err != nil {
		return fmt.Errorf("clearing hidden notifications: %w", err)
	}
	return nil
}

// HiddenIDs returns the hidden ids in the order they were hidden.
func (f *Feed) HiddenIDs(ctx context.Context) ([]string, error) {
	raw, err := f.kv.GetValue(ctx, store.KeyHiddenNotificationIDs)
	if err != nil {
		return nil, fmt.Errorf("reading hidden notifications: %w", err)
	}
	return decodeIDs(raw)
}

func (f *Feed) hiddenSet(ctx context.Context) (map[string]struct{}, error) {
	ids, err := f.HiddenIDs(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// updateHidden rewrites the id list inside one KV transaction so that
// concurrent hides never drop each other's entries.
func (f *Feed) updateHidden(ctx context.Context, fn func([]string) []string) error {
	return f.kv.UpdateValue(ctx, store.KeyHiddenNotificationIDs, func(current []byte) ([]byte, error) {
		ids, err := decodeIDs(current)
		if err != nil {
			return nil, err
		}
		ids = fn(ids)
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	})
}

func decodeIDs(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decoding hidden notification ids: %w", err)
	}
	return ids, nil
}
