// Package tui renders a live status dashboard for the daemon.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jbacus/auxin/internal/controlapi"
)

// DefaultRefreshInterval is how often the daemon is polled.
const DefaultRefreshInterval = 2 * time.Second

// StatusSource returns the daemon snapshot. daemonclient.Client satisfies it.
type StatusSource interface {
	Status(ctx context.Context) (controlapi.StatusResponse, error)
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	source   StatusSource
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	spinner  spinner.Model
	loading  bool
	status   controlapi.StatusResponse
	err      error
	polledAt time.Time
	width    int
}

type tickMsg time.Time

type statusMsg struct {
	status controlapi.StatusResponse
	err    error
	at     time.Time
}

// NewModel creates a dashboard polling source every interval.
func NewModel(source StatusSource, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = Muted
	return Model{
		source:   source,
		interval: interval,
		timeout:  5 * time.Second,
		now:      time.Now,
		spinner:  s,
		loading:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.poll())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, m.poll()

	case statusMsg:
		m.loading = false
		m.polledAt = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
		}
		return m, tickCmd(m.interval)

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	return render(m)
}

func (m Model) poll() tea.Cmd {
	source, timeout, now := m.source, m.timeout, m.now
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		st, err := source.Status(ctx)
		return statusMsg{status: st, err: err, at: now()}
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run starts the dashboard on the terminal and blocks until the user quits.
func Run(source StatusSource, interval time.Duration) error {
	_, err := tea.NewProgram(NewModel(source, interval), tea.WithAltScreen()).Run()
	return err
}
