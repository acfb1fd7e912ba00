package itemstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	tags  []string
	notes []*Note
}

// Memory is an in-process ItemStore for tests and ephemeral mode.
type Memory struct {
	mu    sync.Mutex
	items map[string]*memoryItem

	// FailWith, when set, is returned by every call. Test hook for
	// unavailability paths.
	FailWith error
	// Latency, when set, delays every call (honoring context
	// cancellation). Test hook for timeout paths.
	Latency time.Duration
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]*memoryItem)}
}

// AddItem seeds an item with the given tags.
func (m *Memory) AddItem(key string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = &memoryItem{tags: slices.Clone(tags)}
}

// NoteBodies returns the bodies of all notes on an item, in creation order.
func (m *Memory) NoteBodies(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil
	}
	bodies := make([]string, 0, len(it.notes))
	for _, n := range it.notes {
		bodies = append(bodies, n.Body)
	}
	return bodies
}

func (m *Memory) stall(ctx context.Context) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	return nil
}

func (m *Memory) GetTags(ctx context.Context, key string) ([]string, error) {
	if err := m.stall(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, ErrItemNotFound
	}
	return slices.Clone(it.tags), nil
}

func (m *Memory) SetTags(ctx context.Context, key string, tags []string) error {
	if err := m.stall(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return ErrItemNotFound
	}
	it.tags = slices.Clone(tags)
	return nil
}

func (m *Memory) FindNoteByMarker(ctx context.Context, key, marker string) (*Note, error) {
	if err := m.stall(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, ErrItemNotFound
	}
	var found *Note
	for _, n := range it.notes {
		if strings.Contains(n.Body, marker) {
			if found != nil {
				return nil, ErrNoteConflict
			}
			found = n
		}
	}
	if found == nil {
		return nil, ErrNoteNotFound
	}
	return &Note{ID: found.ID, Body: found.Body}, nil
}

func (m *Memory) CreateNote(ctx context.Context, key, body string) (string, error) {
	if err := m.stall(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return "", ErrItemNotFound
	}
	n := &Note{ID: uuid.NewString(), Body: body}
	it.notes = append(it.notes, n)
	return n.ID, nil
}

func (m *Memory) UpdateNote(ctx context.Context, noteID, body string) error {
	if err := m.stall(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		for _, n := range it.notes {
			if n.ID == noteID {
				n.Body = body
				return nil
			}
		}
	}
	return ErrItemNotFound
}
