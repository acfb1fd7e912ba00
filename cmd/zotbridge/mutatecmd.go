package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/basket/zotbridge/internal/bridgeclient"
	"github.com/basket/zotbridge/internal/config"
)

func pairedClient() (*bridgeclient.Client, int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return nil, 1
	}
	creds, err := bridgeclient.LoadCredentials(cfg.HomeDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load credentials: %v\n", err)
		return nil, 1
	}
	if creds.Token == "" {
		fmt.Fprintln(os.Stderr, "not paired yet; run: zotbridge setup")
		return nil, 1
	}
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = bridgeBaseURL(cfg)
	}
	return bridgeclient.New(bridgeclient.Config{BaseURL: endpoint, Token: creds.Token}), 0
}

func reportClientError(verb string, err error) int {
	switch {
	case errors.Is(err, bridgeclient.ErrAuth):
		fmt.Fprintf(os.Stderr, "%s: token rejected; re-pair with: zotbridge setup\n", verb)
	case errors.Is(err, bridgeclient.ErrUnavailable):
		fmt.Fprintf(os.Stderr, "%s: %v\n", verb, err)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", verb, err)
	}
	return 1
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runTagCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("tag", flag.ContinueOnError)
	item := fs.String("item", "", "item key (required)")
	add := fs.String("add", "", "comma-separated tags to add")
	remove := fs.String("remove", "", "comma-separated tags to remove")
	batch := fs.String("batch", "", "batch id echoed back for correlation")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *item == "" {
		fmt.Fprintln(os.Stderr, "usage: zotbridge tag -item <KEY> [-add a,b] [-remove c,d] [-batch <id>]")
		return 2
	}

	client, code := pairedClient()
	if client == nil {
		return code
	}
	res, err := client.Tag(ctx, *item, splitCSV(*add), splitCSV(*remove), *batch)
	if err != nil {
		return reportClientError("tag", err)
	}
	fmt.Printf("%s: %s\n", *item, strings.Join(res.Tags, ", "))
	return 0
}

func runNoteCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("note", flag.ContinueOnError)
	item := fs.String("item", "", "item key (required)")
	content := fs.String("content", "", "note content; use - to read stdin")
	mode := fs.String("mode", "upsert", "upsert or replace")
	marker := fs.String("marker", "", "override the managed-note marker")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *item == "" || *content == "" {
		fmt.Fprintln(os.Stderr, "usage: zotbridge note -item <KEY> -content <text> [-mode upsert|replace] [-marker <text>]")
		return 2
	}
	text := *content
	if text == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
			return 1
		}
		text = string(raw)
	}

	client, code := pairedClient()
	if client == nil {
		return code
	}
	noteID, err := client.Note(ctx, *item, text, *mode, *marker)
	if err != nil {
		return reportClientError("note", err)
	}
	fmt.Printf("note %s updated on %s\n", noteID, *item)
	return 0
}
