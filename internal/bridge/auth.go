package bridge

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/basket/zotbridge/internal/tokenstore"
)

// TokenHeader carries the shared secret on mutating requests.
const TokenHeader = "X-ZMCP-Token"

// Guard enforces the one-time initialization rule and per-request
// authentication. All token-state transitions go through the guard's write
// lock, so an init landing concurrently with an in-flight authenticate
// never observes a half-written state.
type Guard struct {
	mu    sync.RWMutex
	store tokenstore.Store
}

func NewGuard(store tokenstore.Store) *Guard {
	return &Guard{store: store}
}

// State reports the lifecycle state for health serving.
func (g *Guard) State(ctx context.Context) (tokenstore.State, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.State(ctx)
}

// Authenticate admits a request only when the bridge is ready and the
// presented token matches the stored one. The comparison runs over fixed
// size digests so neither content nor length leaks through timing.
func (g *Guard) Authenticate(ctx context.Context, presented string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	state, err := g.store.State(ctx)
	if err != nil {
		return fmt.Errorf("read bridge state: %w", err)
	}
	if state != tokenstore.StateReady {
		return ErrNotInitialized
	}
	stored, ok, err := g.store.Token(ctx)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if !ok {
		return ErrNotInitialized
	}
	if presented == "" || !tokensEqual(presented, stored) {
		return ErrUnauthorized
	}
	return nil
}

// Init accepts the caller-generated token exactly once. Any later attempt
// fails with AlreadyInitialized and leaves the stored token untouched; the
// check-and-set is the store's single transactional write.
func (g *Guard) Init(ctx context.Context, candidate string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.SetToken(ctx, candidate)
}

// Reset clears the secret. Administrative, local-only: it is never exposed
// as an HTTP endpoint.
func (g *Guard) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Reset(ctx)
}

func tokensEqual(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
