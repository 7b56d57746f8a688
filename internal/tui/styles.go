package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent   = lipgloss.Color("#2196F3")
	success  = lipgloss.Color("#8BC34A")
	warning  = lipgloss.Color("#FFC107")
	muted    = lipgloss.Color("#6b7280")
	selected = lipgloss.Color("#f2f2f2")
)

// Styles groups the lipgloss styles of the overlay.
type Styles struct {
	Title     lipgloss.Style
	Attached  lipgloss.Style
	Waiting   lipgloss.Style
	Pane      lipgloss.Style
	PaneTitle lipgloss.Style
	Active    lipgloss.Style
	Item      lipgloss.Style
	Selected  lipgloss.Style
	Muted     lipgloss.Style
	Help      lipgloss.Style
}

// DefaultStyles returns the overlay's styles.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		Attached:  lipgloss.NewStyle().Bold(true).Foreground(success),
		Waiting:   lipgloss.NewStyle().Bold(true).Foreground(warning),
		Pane:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
		PaneTitle: lipgloss.NewStyle().Foreground(muted),
		Active:    lipgloss.NewStyle().Bold(true).Foreground(accent).Underline(true),
		Item:      lipgloss.NewStyle(),
		Selected:  lipgloss.NewStyle().Bold(true).Foreground(selected).Background(accent),
		Muted:     lipgloss.NewStyle().Foreground(muted),
		Help:      lipgloss.NewStyle().Foreground(muted).Italic(true),
	}
}
