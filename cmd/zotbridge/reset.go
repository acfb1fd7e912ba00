package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/zotbridge/internal/audit"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/tokenstore"
)

// runResetCommand clears the stored token. It touches the store file
// directly rather than going through the daemon: reset must stay a local
// administrative action, never a network one.
func runResetCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	if !*force {
		fmt.Print("This clears the bridge token; every paired client must run setup again. Continue? [y/N] ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("reset cancelled")
			return 0
		}
	}

	store, err := tokenstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open token store: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := store.Reset(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reset: %v\n", err)
		return 1
	}

	if err := audit.Init(cfg.HomeDir); err == nil {
		audit.Record("reset", "allow", "", "", "", "token cleared by local admin")
		_ = audit.Close()
	}

	fmt.Println("token cleared; the bridge is uninitialized")
	fmt.Println("pair a client again with: zotbridge setup")
	return 0
}
