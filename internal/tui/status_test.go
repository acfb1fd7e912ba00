package tui

import (
	"strings"
	"testing"
	"time"
)

func TestStatusViewStates(t *testing.T) {
	m := statusModel{
		snap: Snapshot{
			Reachable: true,
			State:     "ready",
			Version:   "1.0.0",
			Endpoint:  "http://127.0.0.1:23124/v1",
		},
		started: time.Now(),
	}
	v := m.View()
	for _, want := range []string{"ready", "1.0.0", "127.0.0.1:23124"} {
		if !strings.Contains(v, want) {
			t.Fatalf("view missing %q:\n%s", want, v)
		}
	}

	m.snap.Reachable = false
	if !strings.Contains(m.View(), "unreachable") {
		t.Fatalf("unreachable not rendered:\n%s", m.View())
	}
}

func TestStatusTickRefreshes(t *testing.T) {
	calls := 0
	m := statusModel{provider: func() Snapshot {
		calls++
		return Snapshot{State: "ready"}
	}}
	next, cmd := m.Update(tickMsg(time.Now()))
	if calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}
	if next.(statusModel).snap.State != "ready" {
		t.Fatal("snapshot not refreshed")
	}
	if cmd == nil {
		t.Fatal("tick did not reschedule")
	}
}
