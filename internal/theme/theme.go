package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/task-notifications/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the application title bar.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// ErrorBarStyle replaces the status bar when the session has expired.
var ErrorBarStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorRed).
	Padding(0, 1)

// ListItemStyle is the base style for feed rows.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the focused feed row.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// TabStyle and ActiveTabStyle render the recent/archive switch.
var (
	TabStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Padding(0, 1)

	ActiveTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBlue).
			Underline(true).
			Padding(0, 1)
)

// BannerStyle frames an alert. The border color follows the channel.
var BannerStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// HighBannerStyle frames alerts on the high-importance channel.
var HighBannerStyle = BannerStyle.
	BorderForeground(ColorOrange)

// StatusStyle returns a color-coded style for a notification status.
func StatusStyle(status model.Status) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case model.StatusPending:
		return base.Foreground(ColorBlue)
	case model.StatusRead:
		return base.Foreground(ColorGray)
	case model.StatusDeleted:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// KindStyle returns a color-coded style for a notification kind label.
func KindStyle(kind model.Kind) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch kind {
	case model.KindDueDate:
		return base.Foreground(ColorRed)
	case model.KindWarning:
		return base.Foreground(ColorOrange)
	case model.KindTask:
		return base.Foreground(ColorMagenta)
	case model.KindSuccess:
		return base.Foreground(ColorGreen)
	case model.KindInfo:
		return base.Foreground(ColorBlue)
	default:
		return base.Foreground(ColorGray)
	}
}

// KindIcon is the single-glyph marker shown before a feed row.
func KindIcon(kind model.Kind) string {
	switch kind {
	case model.KindDueDate:
		return "⏰"
	case model.KindWarning:
		return "⚠"
	case model.KindTask:
		return "☐"
	case model.KindSuccess:
		return "✓"
	default:
		return "ℹ"
	}
}
