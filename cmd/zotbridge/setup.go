package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/basket/zotbridge/internal/bridgeclient"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/tui"
)

func bridgeBaseURL(cfg config.Config) string {
	return "http://" + cfg.BindAddr + "/v1"
}

func runSetupCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: zotbridge setup")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	baseURL := bridgeBaseURL(cfg)

	if isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("ZOTBRIDGE_NO_TUI") == "" {
		if _, err := tui.RunSetup(ctx, tui.SetupConfig{
			HomeDir: cfg.HomeDir,
			BaseURL: baseURL,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "setup: %v\n", err)
			return 1
		}
		return 0
	}

	// Headless pairing for scripts and CI.
	return headlessSetup(ctx, cfg.HomeDir, baseURL)
}

func headlessSetup(ctx context.Context, homeDir, baseURL string) int {
	client := bridgeclient.New(bridgeclient.Config{BaseURL: baseURL})

	health, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: bridge not reachable at %s: %v\n", baseURL, err)
		return 1
	}
	switch health.State {
	case "ready":
		fmt.Fprintln(os.Stderr, "setup: bridge already holds a token; run `zotbridge reset` first")
		return 1
	case "degraded":
		fmt.Fprintln(os.Stderr, "setup: bridge state is corrupted; run `zotbridge reset` first")
		return 1
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		fmt.Fprintf(os.Stderr, "setup: generate token: %v\n", err)
		return 1
	}
	token := hex.EncodeToString(buf)

	if err := client.InitToken(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "setup: handshake failed: %v\n", err)
		return 1
	}
	if err := bridgeclient.SaveCredentials(homeDir, bridgeclient.Credentials{
		Endpoint: baseURL,
		Token:    token,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "setup: save credentials: %v\n", err)
		return 1
	}

	fmt.Printf("paired with %s\n", baseURL)
	fmt.Printf("token %s saved to %s\n", maskForTerminal(token), bridgeclient.CredentialsPath(homeDir))
	return 0
}

func maskForTerminal(tok string) string {
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}
