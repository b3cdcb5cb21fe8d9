package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/task-notifications/internal/alert"
	"github.com/nhle/task-notifications/internal/keys"
	appsync "github.com/nhle/task-notifications/internal/sync"
	"github.com/nhle/task-notifications/internal/theme"
	"github.com/nhle/task-notifications/internal/ui"
	"github.com/nhle/task-notifications/internal/ui/feedlist"
)

// Results delivers background sync and refresh outcomes.
type Results interface {
	WaitForNextResult() tea.Cmd
}

// Refresher triggers feed refreshes and reports their state.
type Refresher interface {
	Refresh() tea.Cmd
	Status() appsync.SyncStatus
}

// Deps are the components the TUI drives.
type Deps struct {
	Feed      feedlist.Source
	Actions   feedlist.Actions
	Results   Results
	Refresher Refresher
	Alerts    *AlertQueue
}

// Model is the root Bubble Tea model. It frames the feed view with a
// header, an alert banner and a status bar.
type Model struct {
	deps             Deps
	layout           ui.Layout
	keys             *keys.KeyMap
	feed             feedlist.Model
	help             help.Model
	showHelp         bool
	ready            bool
	banner           *alert.Alert
	authErrorMessage string
	syncMessage      string
}

// New creates the root model.
func New(deps Deps) Model {
	k := keys.DefaultKeyMap()
	h := help.New()
	h.ShowAll = true
	return Model{
		deps: deps,
		keys: k,
		feed: feedlist.New(deps.Feed, deps.Actions, k, nil, 80, 24),
		help: h,
	}
}

// Init loads the feed and starts listening for background results.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.feed.Init()}
	if m.deps.Results != nil {
		cmds = append(cmds, m.deps.Results.WaitForNextResult())
	}
	if m.deps.Alerts != nil {
		cmds = append(cmds, m.deps.Alerts.Wait())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the feed view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.help.Width = msg.Width
		m.feed.SetSize(m.layout.ContentWidth(), m.contentHeight())
		return m, nil

	case appsync.StatusResultMsg:
		switch {
		case msg.AuthError != nil:
			m.authErrorMessage = msg.AuthError.Message
		case msg.Outcome == appsync.OutcomeExhausted || msg.Outcome == appsync.OutcomeFailed:
			m.syncMessage = fmt.Sprintf("could not sync %s as %s; it stays %s on this device", msg.ID, msg.Status, msg.Status)
		case msg.Outcome == appsync.OutcomeOK:
			m.authErrorMessage = ""
			m.syncMessage = ""
		}
		return m, tea.Batch(m.feed.Load(), m.waitResults())

	case appsync.AuthErrorMsg:
		m.authErrorMessage = msg.Message
		return m, m.waitResults()

	case appsync.RefreshResultMsg:
		switch {
		case msg.AuthError != nil:
			m.authErrorMessage = msg.AuthError.Message
		case msg.Error != nil:
			m.syncMessage = fmt.Sprintf("refresh failed: %v", msg.Error)
		default:
			m.authErrorMessage = ""
			m.syncMessage = ""
		}
		return m, tea.Batch(m.feed.Load(), m.waitResults())

	case AlertMsg:
		a := msg.Alert
		m.banner = &a
		var next tea.Cmd
		if m.deps.Alerts != nil {
			next = m.deps.Alerts.Wait()
		}
		return m, tea.Batch(m.feed.Load(), next)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.feed.Searching() {
			break
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.feed.SetSize(m.layout.ContentWidth(), m.contentHeight())
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			if m.deps.Refresher != nil {
				return m, m.deps.Refresher.Refresh()
			}
			return m, nil

		case key.Matches(msg, m.keys.Back) && m.banner != nil:
			m.banner = nil
			m.feed.SetSize(m.layout.ContentWidth(), m.contentHeight())
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.feed, cmd = m.feed.Update(msg)
	return m, cmd
}

func (m Model) waitResults() tea.Cmd {
	if m.deps.Results == nil {
		return nil
	}
	return m.deps.Results.WaitForNextResult()
}

// contentHeight is what remains for the feed after banner and help.
func (m Model) contentHeight() int {
	h := m.layout.ContentHeight()
	if m.banner != nil {
		h -= lipgloss.Height(alert.Render(*m.banner))
	}
	if m.showHelp {
		h -= lipgloss.Height(m.help.View(m.keys))
	}
	if h < 3 {
		h = 3
	}
	return h
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "Notifications"
	if n := m.feed.Unread(); n > 0 {
		title = fmt.Sprintf("Notifications [%d unread]", n)
	}
	header := m.layout.RenderHeader(title, m.syncStatus())

	parts := []string{}
	if m.banner != nil {
		parts = append(parts, alert.Render(*m.banner))
	}
	parts = append(parts, m.feed.View())
	if m.showHelp {
		parts = append(parts, m.help.View(m.keys))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, parts...)

	var bar string
	switch {
	case m.authErrorMessage != "":
		bar = m.layout.RenderErrorBar(m.authErrorMessage)
	case m.syncMessage != "":
		bar = m.layout.RenderStatusBar(lipgloss.NewStyle().Foreground(theme.ColorYellow).Render(m.syncMessage))
	default:
		bar = m.layout.RenderStatusBar(m.keyHints())
	}

	return m.layout.RenderWithFrame(header, content, bar)
}

// syncStatus returns a short string describing the refresh state.
func (m Model) syncStatus() string {
	if m.deps.Refresher == nil {
		return "offline"
	}
	st := m.deps.Refresher.Status()
	switch st.State {
	case appsync.SyncRunning:
		return "refreshing"
	case appsync.SyncError:
		return "⚠ backend unreachable"
	}
	if st.LastSync.IsZero() {
		return "idle"
	}
	return "synced " + st.LastSync.Format("15:04")
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.feed.Searching() {
		return "enter search | esc cancel"
	}
	if m.banner != nil {
		return "esc dismiss | enter mark read | q quit"
	}
	return "q quit | ? help | tab archive | / search | enter read | d delete | h hide | r refresh"
}
