package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/basket/zotbridge/internal/bridgeclient"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/tui"
)

func runStatusCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "live status view, refreshed every second")
	asJSON := fs.Bool("json", false, "emit the raw health response as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	baseURL := bridgeBaseURL(cfg)
	client := bridgeclient.New(bridgeclient.Config{BaseURL: baseURL})

	if *watch {
		err := tui.RunStatus(ctx, func() tui.Snapshot {
			snap := tui.Snapshot{Endpoint: baseURL}
			h, err := client.Health(ctx)
			if err != nil {
				snap.LastError = err.Error()
				return snap
			}
			snap.Reachable = true
			snap.State = h.State
			snap.Version = h.Version
			return snap
		})
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			return 1
		}
		return 0
	}

	h, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}
	if *asJSON {
		out, _ := json.Marshal(h)
		fmt.Println(string(out))
	} else {
		fmt.Printf("endpoint: %s\nstate: %s\nversion: %s\n", baseURL, h.State, h.Version)
	}
	if h.State == "degraded" {
		return 1
	}
	return 0
}
