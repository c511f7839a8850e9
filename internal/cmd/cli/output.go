package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	boldStyle    = lipgloss.NewStyle().Bold(true)
)

// Printer writes human output, styled only when writing to a terminal.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter wraps w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: IsTerminal(w)}
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *Printer) Success(text string) string { return p.style(successStyle, text) }
func (p *Printer) Warn(text string) string    { return p.style(warnStyle, text) }
func (p *Printer) Err(text string) string     { return p.style(errStyle, text) }
func (p *Printer) Muted(text string) string   { return p.style(mutedStyle, text) }
func (p *Printer) Bold(text string) string    { return p.style(boldStyle, text) }

// Printf writes formatted output.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Println writes a line.
func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.w, args...)
}

// Styled reports whether output is going to a terminal.
func (p *Printer) Styled() bool { return p.styled }

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
