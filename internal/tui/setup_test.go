package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/zotbridge/internal/bridgeclient"
)

type fakeClient struct {
	health    bridgeclient.Health
	healthErr error
	initErr   error
	initToken string
}

func (f *fakeClient) Health(context.Context) (bridgeclient.Health, error) {
	return f.health, f.healthErr
}

func (f *fakeClient) InitToken(_ context.Context, token string) error {
	f.initToken = token
	return f.initErr
}

func keyMsg(s string) tea.KeyMsg {
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// step drives the model through one Update and executes the returned
// command synchronously, feeding its message back in. Commands in this
// wizard are single-shot, so this is enough to walk the whole flow.
func step(t *testing.T, m tea.Model, msg tea.Msg) tea.Model {
	t.Helper()
	for msg != nil {
		var cmd tea.Cmd
		m, cmd = m.Update(msg)
		msg = nil
		if cmd != nil {
			msg = cmd()
		}
	}
	return m
}

func TestSetupHappyPath(t *testing.T) {
	client := &fakeClient{health: bridgeclient.Health{OK: true, State: "uninitialized"}}
	var saved bridgeclient.Credentials
	m := newSetupModel(t.Context(), SetupConfig{
		HomeDir: t.TempDir(),
		BaseURL: "http://127.0.0.1:23124/v1",
		Client:  client,
		Save: func(c bridgeclient.Credentials) error {
			saved = c
			return nil
		},
	})

	final := step(t, m, keyMsg("enter")).(setupModel)
	if final.step != stepDone {
		t.Fatalf("step = %d, want stepDone (failure %q)", final.step, final.failure)
	}
	if final.result == nil || final.result.Token == "" {
		t.Fatal("no result token")
	}
	if client.initToken != final.result.Token {
		t.Fatalf("handshake token %q != result token %q", client.initToken, final.result.Token)
	}
	if saved.Token != final.result.Token {
		t.Fatalf("saved token %q != result token %q", saved.Token, final.result.Token)
	}
	if len(final.result.Token) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(final.result.Token))
	}
	if !strings.Contains(final.View(), maskToken(final.result.Token)) {
		t.Fatal("done view does not show the masked token")
	}
	if strings.Contains(final.View(), final.result.Token) {
		t.Fatal("done view shows the raw token")
	}
}

func TestSetupBridgeUnreachable(t *testing.T) {
	client := &fakeClient{healthErr: bridgeclient.ErrUnavailable}
	m := newSetupModel(t.Context(), SetupConfig{
		HomeDir: t.TempDir(),
		BaseURL: "http://127.0.0.1:23124/v1",
		Client:  client,
		Save:    func(bridgeclient.Credentials) error { return nil },
	})

	final := step(t, m, keyMsg("enter")).(setupModel)
	if final.step != stepFailed {
		t.Fatalf("step = %d, want stepFailed", final.step)
	}
	if !strings.Contains(final.View(), "did not answer") {
		t.Fatalf("failure view = %q", final.View())
	}
}

func TestSetupAlreadyInitialized(t *testing.T) {
	client := &fakeClient{health: bridgeclient.Health{OK: true, State: "ready"}}
	m := newSetupModel(t.Context(), SetupConfig{
		HomeDir: t.TempDir(),
		BaseURL: "http://127.0.0.1:23124/v1",
		Client:  client,
		Save:    func(bridgeclient.Credentials) error { return nil },
	})

	final := step(t, m, keyMsg("enter")).(setupModel)
	if final.step != stepFailed {
		t.Fatalf("step = %d, want stepFailed", final.step)
	}
	if client.initToken != "" {
		t.Fatal("wizard attempted a handshake against a ready bridge")
	}
	if !strings.Contains(final.View(), "reset") {
		t.Fatalf("failure view should point at reset: %q", final.View())
	}
}

func TestSetupHandshakeRejected(t *testing.T) {
	client := &fakeClient{
		health:  bridgeclient.Health{OK: true, State: "uninitialized"},
		initErr: errors.New("bridge error AlreadyInitialized (http 409)"),
	}
	m := newSetupModel(t.Context(), SetupConfig{
		HomeDir: t.TempDir(),
		BaseURL: "http://127.0.0.1:23124/v1",
		Client:  client,
		Save:    func(bridgeclient.Credentials) error { return nil },
	})

	final := step(t, m, keyMsg("enter")).(setupModel)
	if final.step != stepFailed {
		t.Fatalf("step = %d, want stepFailed", final.step)
	}
}

func TestSetupQuit(t *testing.T) {
	m := newSetupModel(t.Context(), SetupConfig{
		HomeDir: t.TempDir(),
		BaseURL: "http://127.0.0.1:23124/v1",
		Client:  &fakeClient{},
		Save:    func(bridgeclient.Credentials) error { return nil },
	})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c returned no quit command")
	}
	if !next.(setupModel).quitting {
		t.Fatal("ctrl+c did not mark the model quitting")
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken("abcd1234efgh5678"); got != "abcd...5678" {
		t.Fatalf("maskToken = %q", got)
	}
	if got := maskToken("short"); got != "*****" {
		t.Fatalf("maskToken short = %q", got)
	}
}
