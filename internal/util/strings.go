// Package util provides small helpers shared by the CLI and the dashboard.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// Truncate shortens s to at most width terminal columns, ending in an
// ellipsis when anything was cut. ANSI styling and wide characters are
// measured by their visible width.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	if width == 1 {
		return Ellipsis
	}
	return ansi.Truncate(s, width, Ellipsis)
}
