// Package feedlist is the notification feed view: recent and archive
// tabs, search, and the per-row status actions.
package feedlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/task-notifications/internal/feed"
	"github.com/nhle/task-notifications/internal/keys"
	"github.com/nhle/task-notifications/internal/model"
	"github.com/nhle/task-notifications/internal/theme"
)

// Source reads the feed and edits the hidden overlay. *feed.Feed
// satisfies it.
type Source interface {
	Query(ctx context.Context, view feed.View, search string) ([]model.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	Hide(ctx context.Context, id string) error
	ClearHidden(ctx context.Context) error
}

// Actions change notification status. *sync.Synchronizer satisfies it.
type Actions interface {
	MarkRead(ctx context.Context, id string) error
	MarkDeleted(ctx context.Context, id string) error
	Purge(ctx context.Context, id string) error
}

// LoadedMsg is sent when the feed has been queried.
type LoadedMsg struct {
	View   feed.View
	Items  []model.Notification
	Unread int
	Err    error
}

// ActionDoneMsg reports the local outcome of a row action.
type ActionDoneMsg struct {
	Action string
	ID     string
	Err    error
}

// Model is the feed list view component.
type Model struct {
	list        list.Model
	source      Source
	actions     Actions
	keys        *keys.KeyMap
	view        feed.View
	search      string
	searchMode  bool
	searchInput textinput.Model
	unread      int
	statusMsg   string
	width       int
	height      int
}

// New creates a feed list model. now anchors relative row timestamps and
// may be nil.
func New(src Source, act Actions, k *keys.KeyMap, now func() time.Time, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{now: now}, width, height-2)
	l.SetShowTitle(false)
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("notification", "notifications")

	si := textinput.New()
	si.Placeholder = "search messages..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:        l,
		source:      src,
		actions:     act,
		keys:        k,
		view:        feed.ViewRecent,
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns a command that loads the recent view.
func (m Model) Init() tea.Cmd {
	return m.Load()
}

// Update handles messages for the feed view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.View != m.view {
			// Stale result for a tab the user already left.
			return m, nil
		}
		if msg.Err != nil {
			m.statusMsg = fmt.Sprintf("Error loading feed: %v", msg.Err)
			return m, nil
		}
		m.unread = msg.Unread
		items := make([]list.Item, len(msg.Items))
		for i, n := range msg.Items {
			items[i] = NotificationItem{Notification: n}
		}
		return m, m.list.SetItems(items)

	case ActionDoneMsg:
		if msg.Err != nil {
			m.statusMsg = fmt.Sprintf("%s %s failed: %v", msg.Action, msg.ID, msg.Err)
		} else {
			m.statusMsg = ""
		}
		return m, m.Load()

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleSearchKeys processes key input while in search mode.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.search = m.searchInput.Value()
		m.searchInput.Blur()
		return m, m.Load()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.searchInput.Blur()
		m.search = ""
		return m, m.Load()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ToggleView):
		if m.view == feed.ViewRecent {
			m.view = feed.ViewArchive
		} else {
			m.view = feed.ViewRecent
		}
		m.list.ResetSelected()
		return m, m.Load()

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.SetValue(m.search)
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.Back):
		if m.search != "" {
			m.search = ""
			m.searchInput.Reset()
			return m, m.Load()
		}
		return m, nil

	case key.Matches(msg, m.keys.MarkRead):
		return m, m.act("mark read", m.actions.MarkRead)

	case key.Matches(msg, m.keys.Delete):
		return m, m.act("delete", m.actions.MarkDeleted)

	case key.Matches(msg, m.keys.Purge):
		return m, m.act("purge", m.actions.Purge)

	case key.Matches(msg, m.keys.Hide):
		return m, m.act("hide", m.source.Hide)

	case key.Matches(msg, m.keys.ClearHidden):
		src := m.source
		return m, func() tea.Msg {
			return ActionDoneMsg{Action: "show hidden", Err: src.ClearHidden(context.Background())}
		}
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// act runs fn for the selected row. A status change that is already in
// effect is not an error.
func (m Model) act(name string, fn func(context.Context, string) error) tea.Cmd {
	n, ok := m.SelectedItem()
	if !ok {
		return nil
	}
	id := n.ID
	return func() tea.Msg {
		err := fn(context.Background(), id)
		if errors.Is(err, model.ErrInvalidTransition) {
			err = nil
		}
		return ActionDoneMsg{Action: name, ID: id, Err: err}
	}
}

// View renders the tab bar and the list.
func (m Model) View() string {
	parts := []string{m.renderTabs()}

	if m.searchMode {
		parts = append(parts, lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View()))
	} else if m.search != "" {
		parts = append(parts, theme.HelpStyle.Render(fmt.Sprintf("  search: %q (esc to clear)", m.search)))
	}

	if m.statusMsg != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render("  "+m.statusMsg))
	}

	if len(m.list.Items()) == 0 {
		parts = append(parts, m.renderEmptyState())
	} else {
		parts = append(parts, m.list.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderTabs() string {
	tab := func(v feed.View, label string) string {
		if v == m.view {
			return theme.ActiveTabStyle.Render(label)
		}
		return theme.TabStyle.Render(label)
	}
	recent := "Recent"
	if m.unread > 0 {
		recent = fmt.Sprintf("Recent (%d)", m.unread)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tab(feed.ViewRecent, recent), tab(feed.ViewArchive, "Archive"))
}

// renderEmptyState shows guidance text when the view has no rows.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height-2).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.search != "" {
		return style.Render("No matching notifications.")
	}
	if m.view == feed.ViewArchive {
		return style.Render("Nothing older than the recent window.")
	}
	return style.Render("You're all caught up.\n\nPress r to refresh.")
}

// Load returns a tea.Cmd that queries the current view and unread count.
func (m Model) Load() tea.Cmd {
	src := m.source
	view := m.view
	search := m.search
	return func() tea.Msg {
		ctx := context.Background()
		items, err := src.Query(ctx, view, search)
		if err != nil {
			return LoadedMsg{View: view, Err: err}
		}
		unread, err := src.UnreadCount(ctx)
		return LoadedMsg{View: view, Items: items, Unread: unread, Err: err}
	}
}

// SelectedItem returns the focused notification.
func (m Model) SelectedItem() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(NotificationItem)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// Items returns the rows currently listed.
func (m Model) Items() []model.Notification {
	out := make([]model.Notification, 0, len(m.list.Items()))
	for _, it := range m.list.Items() {
		if n, ok := it.(NotificationItem); ok {
			out = append(out, n.Notification)
		}
	}
	return out
}

// CurrentView reports which tab is shown.
func (m Model) CurrentView() feed.View { return m.view }

// Unread returns the unread count from the last load.
func (m Model) Unread() int { return m.unread }

// Searching reports whether the search input has focus.
func (m Model) Searching() bool { return m.searchMode }

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}
