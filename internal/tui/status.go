package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Snapshot is one observation of the bridge for the status view.
type Snapshot struct {
	Reachable bool
	State     string
	Version   string
	Endpoint  string
	LastError string
	Observed  time.Time
}

type StatusProvider func() Snapshot

type statusModel struct {
	provider StatusProvider
	snap     Snapshot
	started  time.Time
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m statusModel) Init() tea.Cmd {
	return tickCmd()
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.provider()
		return m, tickCmd()
	}
	return m, nil
}

func (m statusModel) View() string {
	stateStyle := okStyle
	state := m.snap.State
	if !m.snap.Reachable {
		stateStyle = errStyle
		state = "unreachable"
	} else if state == "degraded" {
		stateStyle = errStyle
	}
	lastErr := m.snap.LastError
	if lastErr == "" {
		lastErr = "(none)"
	}
	watching := time.Since(m.started).Truncate(time.Second)
	return fmt.Sprintf(
		"%s\n\nEndpoint: %s\nState: %s\nVersion: %s\nLast Error: %s\nWatching: %s\n\n%s\n",
		lipgloss.NewStyle().Bold(true).Render("Zotero Write Bridge"),
		m.snap.Endpoint,
		stateStyle.Render(state),
		m.snap.Version,
		lastErr,
		watching,
		dimStyle.Render("Press q to quit."),
	)
}

// RunStatus renders a live status view polling the provider once a second.
func RunStatus(ctx context.Context, provider StatusProvider) error {
	defer bestEffortResetTTY()

	m := statusModel{provider: provider, snap: provider(), started: time.Now()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
