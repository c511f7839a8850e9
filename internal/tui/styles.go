package tui

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BorderColor    = lipgloss.Color("#6B7280")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(MutedColor)

	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Held    = lipgloss.NewStyle().Foreground(SecondaryColor)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)

	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)
)

// stateStyle colors a lane state name.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "idle":
		return Muted
	case "debouncing", "committing":
		return lipgloss.NewStyle().Foreground(PrimaryColor)
	case "retrying", "queued":
		return Warning
	default:
		return lipgloss.NewStyle()
	}
}
