package main

import (
	"errors"
	"net/http/httptest"
	"reflect"
	"strings"
	"syscall"
	"testing"

	"github.com/basket/zotbridge/internal/bridge"
	"github.com/basket/zotbridge/internal/bridgeclient"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/itemstore"
	"github.com/basket/zotbridge/internal/mutate"
	"github.com/basket/zotbridge/internal/tokenstore"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  ", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , ,b ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := splitCSV(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("splitCSV(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMaskForTerminal(t *testing.T) {
	if got := maskForTerminal("abcdef1234567890"); got != "abcd...7890" {
		t.Fatalf("maskForTerminal = %q", got)
	}
	if got := maskForTerminal("tiny"); got != "****" {
		t.Fatalf("maskForTerminal short = %q", got)
	}
}

func TestIsAddrInUse(t *testing.T) {
	if !isAddrInUse(syscall.EADDRINUSE) {
		t.Fatal("EADDRINUSE not recognized")
	}
	if !isAddrInUse(errors.New("listen tcp 127.0.0.1:23124: bind: address already in use")) {
		t.Fatal("wrapped message not recognized")
	}
	if isAddrInUse(errors.New("connection refused")) {
		t.Fatal("unrelated error misclassified")
	}
}

// startBridge runs a full bridge over httptest and points the CLI's config
// and credentials at it.
func startBridge(t *testing.T) (*itemstore.Memory, string) {
	t.Helper()
	items := itemstore.NewMemory()
	srv, err := bridge.NewServer(bridge.Config{
		Store:   tokenstore.NewMemory(),
		Engine:  mutate.NewEngine(mutate.Config{Store: items}),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	home := t.TempDir()
	t.Setenv("ZOTBRIDGE_HOME", home)
	t.Setenv("ZOTBRIDGE_BIND_ADDR", strings.TrimPrefix(ts.URL, "http://"))
	return items, home
}

func TestStatusCommandAgainstLiveBridge(t *testing.T) {
	startBridge(t)
	if code := runStatusCommand(t.Context(), []string{"-json"}); code != 0 {
		t.Fatalf("status exit code = %d", code)
	}
}

func TestTagCommandEndToEnd(t *testing.T) {
	items, home := startBridge(t)
	items.AddItem("ABCD1234", "stale")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if code := headlessSetup(t.Context(), home, bridgeBaseURL(cfg)); code != 0 {
		t.Fatalf("headless setup exit code = %d", code)
	}

	code := runTagCommand(t.Context(), []string{"-item", "ABCD1234", "-add", "to-read", "-remove", "stale"})
	if code != 0 {
		t.Fatalf("tag exit code = %d", code)
	}

	creds, err := bridgeclient.LoadCredentials(home)
	if err != nil || creds.Token == "" {
		t.Fatalf("credentials after setup: %+v err %v", creds, err)
	}
}

func TestTagCommandUnpaired(t *testing.T) {
	startBridge(t)
	if code := runTagCommand(t.Context(), []string{"-item", "ABCD1234", "-add", "x"}); code != 1 {
		t.Fatalf("unpaired tag exit code = %d, want 1", code)
	}
}

func TestTagCommandMissingItem(t *testing.T) {
	if code := runTagCommand(t.Context(), nil); code != 2 {
		t.Fatalf("missing -item exit code = %d, want 2", code)
	}
}
