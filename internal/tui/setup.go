// Package tui holds the interactive terminal surfaces: the first-run setup
// wizard that performs the token handshake, and a live status view.
package tui

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/zotbridge/internal/bridgeclient"
)

// setupClient is the slice of the bridge client the wizard needs.
type setupClient interface {
	Health(ctx context.Context) (bridgeclient.Health, error)
	InitToken(ctx context.Context, token string) error
}

type setupStep int

const (
	stepWelcome setupStep = iota // Confirm endpoint, Enter to begin
	stepProbe                    // Health check in flight
	stepInit                     // Handshake in flight
	stepSave                     // Persisting client credentials
	stepDone
	stepFailed
)

// SetupConfig wires the wizard.
type SetupConfig struct {
	HomeDir string
	BaseURL string
	Client  setupClient // nil builds a real client from BaseURL

	// Save persists the minted credentials. nil uses the default
	// client.json writer.
	Save func(bridgeclient.Credentials) error
}

// SetupResult is what a completed wizard hands back.
type SetupResult struct {
	Token    string
	Endpoint string
}

type healthMsg struct {
	health bridgeclient.Health
	err    error
}

type initMsg struct{ err error }

type savedMsg struct{ err error }

type setupModel struct {
	cfg    SetupConfig
	client setupClient
	ctx    context.Context

	step     setupStep
	token    string
	failure  string
	hint     string
	quitting bool
	result   *SetupResult
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func newSetupModel(ctx context.Context, cfg SetupConfig) setupModel {
	client := cfg.Client
	if client == nil {
		client = bridgeclient.New(bridgeclient.Config{BaseURL: cfg.BaseURL})
	}
	if cfg.Save == nil {
		home := cfg.HomeDir
		base := cfg.BaseURL
		cfg.Save = func(creds bridgeclient.Credentials) error {
			creds.Endpoint = base
			return bridgeclient.SaveCredentials(home, creds)
		}
	}
	return setupModel{cfg: cfg, client: client, ctx: ctx, step: stepWelcome}
}

func (m setupModel) Init() tea.Cmd {
	return nil
}

func (m setupModel) probeCmd() tea.Cmd {
	return func() tea.Msg {
		h, err := m.client.Health(m.ctx)
		return healthMsg{health: h, err: err}
	}
}

func (m setupModel) initCmd() tea.Cmd {
	return func() tea.Msg {
		return initMsg{err: m.client.InitToken(m.ctx, m.token)}
	}
}

func (m setupModel) saveCmd() tea.Cmd {
	return func() tea.Msg {
		return savedMsg{err: m.cfg.Save(bridgeclient.Credentials{Token: m.token})}
	}
}

func (m setupModel) fail(msg, hint string) (tea.Model, tea.Cmd) {
	m.step = stepFailed
	m.failure = msg
	m.hint = hint
	return m, nil
}

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "enter", "ctrl+m", "ctrl+j":
			switch m.step {
			case stepWelcome:
				m.step = stepProbe
				return m, m.probeCmd()
			case stepDone, stepFailed:
				return m, tea.Quit
			}
		}
		return m, nil

	case healthMsg:
		if msg.err != nil {
			return m.fail(
				"The bridge did not answer at "+m.cfg.BaseURL+".",
				"Start the daemon first: zotbridge",
			)
		}
		switch msg.health.State {
		case "ready":
			return m.fail(
				"This bridge already holds a token.",
				"To pair a new client, run: zotbridge reset  (then setup again)",
			)
		case "degraded":
			return m.fail(
				"The bridge state store is corrupted and the bridge is refusing writes.",
				"Recover with: zotbridge reset",
			)
		}
		tok, err := newToken()
		if err != nil {
			return m.fail("Could not generate a token: "+err.Error(), "")
		}
		m.token = tok
		m.step = stepInit
		return m, m.initCmd()

	case initMsg:
		if msg.err != nil {
			if errors.Is(msg.err, bridgeclient.ErrUnavailable) {
				return m.fail("The bridge went away during the handshake.", "Start the daemon and run setup again.")
			}
			return m.fail("The bridge rejected the handshake: "+msg.err.Error(), "")
		}
		m.step = stepSave
		return m, m.saveCmd()

	case savedMsg:
		if msg.err != nil {
			return m.fail("Could not save client credentials: "+msg.err.Error(), "")
		}
		m.step = stepDone
		m.result = &SetupResult{Token: m.token, Endpoint: m.cfg.BaseURL}
		return m, nil
	}
	return m, nil
}

func (m setupModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n  " + titleStyle.Render("Zotero Write Bridge Setup") + "\n\n")

	switch m.step {
	case stepWelcome:
		b.WriteString("  This pairs a local automation client with the bridge daemon.\n")
		b.WriteString("  A fresh shared secret is minted and exchanged exactly once.\n\n")
		b.WriteString(fmt.Sprintf("  Endpoint: %s\n", m.cfg.BaseURL))
		b.WriteString(fmt.Sprintf("  Client config: %s\n", bridgeclient.CredentialsPath(m.cfg.HomeDir)))
		b.WriteString("\n  " + dimStyle.Render("[Enter] Begin  [Ctrl+C] Quit") + "\n")

	case stepProbe:
		b.WriteString("  Checking the bridge...\n")

	case stepInit:
		b.WriteString("  Performing the token handshake...\n")

	case stepSave:
		b.WriteString("  Saving client credentials...\n")

	case stepDone:
		b.WriteString("  " + okStyle.Render("Setup complete.") + "\n\n")
		b.WriteString(fmt.Sprintf("  Token: %s\n", maskToken(m.token)))
		b.WriteString(fmt.Sprintf("  Saved to: %s\n", bridgeclient.CredentialsPath(m.cfg.HomeDir)))
		b.WriteString("\n  Try it: zotbridge tag -item <KEY> -add to-read\n")
		b.WriteString("\n  " + dimStyle.Render("[Enter] Close") + "\n")

	case stepFailed:
		b.WriteString("  " + errStyle.Render(m.failure) + "\n")
		if m.hint != "" {
			b.WriteString("\n  " + m.hint + "\n")
		}
		b.WriteString("\n  " + dimStyle.Render("[Enter] Close") + "\n")
	}
	return b.String()
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}

// RunSetup runs the pairing wizard and returns the minted credentials.
func RunSetup(ctx context.Context, cfg SetupConfig) (*SetupResult, error) {
	defer bestEffortResetTTY()

	m := newSetupModel(ctx, cfg)
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	var finalModel tea.Model
	go func() {
		var err error
		finalModel, err = p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, err
		}
	}

	sm, ok := finalModel.(setupModel)
	if !ok || sm.quitting {
		return nil, fmt.Errorf("setup cancelled")
	}
	if sm.result == nil {
		if sm.failure != "" {
			return nil, fmt.Errorf("setup failed: %s", sm.failure)
		}
		return nil, fmt.Errorf("setup cancelled")
	}
	return sm.result, nil
}
