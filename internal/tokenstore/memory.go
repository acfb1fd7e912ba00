package tokenstore

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store for tests and ephemeral mode. It honors the
// same atomicity contract as the SQLite store: state and token change under
// one lock acquisition.
type Memory struct {
	mu    sync.RWMutex
	state State
	token string
}

func NewMemory() *Memory {
	return &Memory{state: StateUninitialized}
}

func (m *Memory) State(context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *Memory) Token(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return "", false, nil
	}
	return m.token, true, nil
}

func (m *Memory) SetToken(_ context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	m.state = StateReady
	m.token = token
	return nil
}

func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateUninitialized
	m.token = ""
	return nil
}

func (m *Memory) Close() error { return nil }

// Corrupt forces the store into a degraded-looking shape. Test helper.
func (m *Memory) Corrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDegraded
	m.token = ""
}
