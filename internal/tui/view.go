package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jbacus/auxin/internal/controlapi"
	"github.com/jbacus/auxin/internal/util"
)

var columns = []struct {
	title string
	width int
}{
	{"PROJECT", 20},
	{"STATE", 12},
	{"LOCK", 30},
	{"DRAFT", 14},
	{"QUEUE", 6},
}

func render(m Model) string {
	var b strings.Builder
	b.WriteString(Title.Render("auxin"))
	b.WriteString("\n")

	switch {
	case m.loading && m.polledAt.IsZero():
		b.WriteString(m.spinner.View() + " contacting daemon...")
	case m.err != nil && m.polledAt.IsZero():
		b.WriteString(Error.Render("daemon unreachable: " + m.err.Error()))
	default:
		b.WriteString(RenderStatus(m.status, m.now()))
		if m.err != nil {
			b.WriteString("\n")
			b.WriteString(Error.Render("last refresh failed: " + m.err.Error()))
		}
	}

	help := "q quit • r refresh"
	if !m.polledAt.IsZero() {
		help += " • updated " + m.polledAt.Format(time.TimeOnly)
	}
	if m.loading && !m.polledAt.IsZero() {
		help = m.spinner.View() + " " + help
	}
	b.WriteString(Help.Render(help))
	return b.String()
}

// RenderStatus formats a daemon snapshot as a table, one row per project.
func RenderStatus(st controlapi.StatusResponse, now time.Time) string {
	var b strings.Builder

	conn := Held.Render("online")
	if !st.Online {
		conn = Warning.Render("offline: changes are queued")
	}
	fmt.Fprintf(&b, "%s %s  %s\n\n", Muted.Render("daemon"), st.Version, conn)

	if len(st.Projects) == 0 {
		b.WriteString(Muted.Render("no projects registered"))
		b.WriteString("\n")
		return b.String()
	}

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = cell(Header, c.width, c.title)
	}
	b.WriteString(strings.Join(header, " "))
	b.WriteString("\n")

	for _, p := range st.Projects {
		row := []string{
			cell(lipgloss.NewStyle(), columns[0].width, p.ID),
			cell(stateStyle(p.State), columns[1].width, p.State),
			lockCell(p, now, columns[2].width),
			draftCell(p, columns[3].width),
			queueCell(p, columns[4].width),
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteString("\n")
		if p.LastError != "" {
			b.WriteString("  ")
			b.WriteString(Error.Render("last error: " + p.LastError))
			b.WriteString("\n")
		}
	}
	return Box.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func lockCell(p controlapi.ProjectStatus, now time.Time, width int) string {
	if p.Lock == nil || !p.Lock.Live(now) {
		return cell(Muted, width, "unlocked")
	}
	remaining := p.Lock.ExpiresAt.Sub(now).Round(time.Minute)
	if p.LockHeld {
		return cell(Held, width, fmt.Sprintf("you, %s left", remaining))
	}
	return cell(Warning, width, fmt.Sprintf("%s@%s until %s", p.Lock.Holder, p.Lock.MachineID, p.Lock.ExpiresAt.Local().Format("15:04")))
}

func draftCell(p controlapi.ProjectStatus, width int) string {
	text := fmt.Sprintf("%d/%d", p.Draft.CommitCount, p.Draft.MaxCommits)
	if p.Advisory {
		return cell(Warning, width, text+" !")
	}
	return cell(lipgloss.NewStyle(), width, text)
}

func queueCell(p controlapi.ProjectStatus, width int) string {
	if p.QueueDepth > 0 {
		return cell(Warning, width, fmt.Sprint(p.QueueDepth))
	}
	return cell(Muted, width, "0")
}

// cell truncates text to width and pads it so columns line up.
func cell(style lipgloss.Style, width int, text string) string {
	return style.Width(width).Render(util.Truncate(text, width))
}
