package bridge

import (
	"errors"
	"testing"

	"github.com/basket/zotbridge/internal/tokenstore"
)

func TestGuardLifecycle(t *testing.T) {
	ctx := t.Context()
	g := NewGuard(tokenstore.NewMemory())

	if err := g.Authenticate(ctx, "anything"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("authenticate before init: %v, want ErrNotInitialized", err)
	}
	if err := g.Init(ctx, "tok"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := g.Authenticate(ctx, "tok"); err != nil {
		t.Fatalf("authenticate with right token: %v", err)
	}
	if err := g.Authenticate(ctx, "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("authenticate with wrong token: %v, want ErrUnauthorized", err)
	}
	if err := g.Authenticate(ctx, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("authenticate with empty token: %v, want ErrUnauthorized", err)
	}
}

func TestGuardSecondInit(t *testing.T) {
	ctx := t.Context()
	g := NewGuard(tokenstore.NewMemory())

	if err := g.Init(ctx, "first"); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := g.Init(ctx, "second"); !errors.Is(err, tokenstore.ErrAlreadyInitialized) {
		t.Fatalf("second init: %v, want ErrAlreadyInitialized", err)
	}
	if err := g.Authenticate(ctx, "first"); err != nil {
		t.Fatalf("original token rejected after failed re-init: %v", err)
	}
}

func TestGuardReset(t *testing.T) {
	ctx := t.Context()
	g := NewGuard(tokenstore.NewMemory())

	if err := g.Init(ctx, "tok"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := g.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := g.Authenticate(ctx, "tok"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("authenticate after reset: %v, want ErrNotInitialized", err)
	}
	// A fresh handshake is allowed after reset.
	if err := g.Init(ctx, "tok2"); err != nil {
		t.Fatalf("re-init after reset: %v", err)
	}
}

func TestTokensEqual(t *testing.T) {
	if !tokensEqual("abc123", "abc123") {
		t.Fatal("identical tokens compare unequal")
	}
	if tokensEqual("abc123", "abc124") {
		t.Fatal("different tokens compare equal")
	}
	// Length differences must not short-circuit.
	if tokensEqual("short", "a much longer token value") {
		t.Fatal("tokens of different length compare equal")
	}
}
