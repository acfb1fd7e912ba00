// Package tokenstore persists the bridge's shared secret and its coarse
// lifecycle state. The two are written as one unit: there is no observable
// moment where the bridge is ready without a token, or holds a token while
// still uninitialized.
package tokenstore

import (
	"context"
	"errors"
)

// State is the bridge lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	// StateDegraded means the persisted record is internally inconsistent
	// (for example ready with no token). The bridge fails closed: mutation
	// endpoints refuse to serve until an explicit local reset.
	StateDegraded State = "degraded"
)

var (
	// ErrAlreadyInitialized is returned by SetToken unless the store is
	// uninitialized. A second init never replaces the stored token.
	ErrAlreadyInitialized = errors.New("bridge already initialized")
	// ErrEmptyToken rejects an init with a blank secret.
	ErrEmptyToken = errors.New("token must not be empty")
)

// Store is the persistence contract for the bridge secret.
type Store interface {
	// State never fails on a consistent store; a corrupted record reads
	// as StateDegraded rather than an error.
	State(ctx context.Context) (State, error)
	// Token returns the stored secret, with ok=false when unset.
	Token(ctx context.Context) (string, bool, error)
	// SetToken persists the secret and advances the state to ready as a
	// single atomic write.
	SetToken(ctx context.Context, token string) error
	// Reset clears the secret and returns the store to uninitialized.
	// Existing sessions are invalid immediately; there is no grace period.
	Reset(ctx context.Context) error
	Close() error
}
