package doctor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/zotbridge/internal/bridgeclient"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/tokenstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	return &config.Config{
		HomeDir:  home,
		BindAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(home, "zotbridge.db"),
		Zotero:   config.ZoteroConfig{BaseURL: "http://127.0.0.1:1/api/users/0"},
	}
}

func resultByName(d Diagnosis, name string) CheckResult {
	for _, r := range d.Results {
		if r.Name == name {
			return r
		}
	}
	return CheckResult{}
}

func TestRunFreshInstall(t *testing.T) {
	cfg := testConfig(t)
	d := Run(t.Context(), cfg, "test")

	if got := resultByName(d, "Config"); got.Status != "PASS" {
		t.Fatalf("Config = %+v", got)
	}
	if got := resultByName(d, "Permissions"); got.Status != "PASS" {
		t.Fatalf("Permissions = %+v", got)
	}
	if got := resultByName(d, "Token Store"); got.Status != "PASS" || !strings.Contains(got.Message, "uninitialized") {
		t.Fatalf("Token Store = %+v", got)
	}
	if got := resultByName(d, "Pairing"); got.Status != "WARN" {
		t.Fatalf("Pairing = %+v", got)
	}
	// Daemon and Zotero point at dead endpoints.
	if got := resultByName(d, "Daemon"); got.Status != "WARN" {
		t.Fatalf("Daemon = %+v", got)
	}
	if got := resultByName(d, "Zotero API"); got.Status != "WARN" {
		t.Fatalf("Zotero API = %+v", got)
	}
}

func TestCheckConfigRejectsWideBind(t *testing.T) {
	cfg := testConfig(t)
	cfg.BindAddr = "0.0.0.0:23124"
	got := checkConfig(t.Context(), cfg)
	if got.Status != "FAIL" {
		t.Fatalf("checkConfig = %+v", got)
	}
}

func TestCheckPairingWithCredentials(t *testing.T) {
	cfg := testConfig(t)
	if err := bridgeclient.SaveCredentials(cfg.HomeDir, bridgeclient.Credentials{Token: "tok"}); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}
	got := checkPairing(t.Context(), cfg)
	if got.Status != "PASS" {
		t.Fatalf("checkPairing = %+v", got)
	}
}

func TestCheckTokenStoreDegraded(t *testing.T) {
	cfg := testConfig(t)
	store, err := tokenstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := store.SetToken(t.Context(), "tok"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	store.Close()
	// Corrupt the row out of band the way a bad write would.
	corrupt, err := tokenstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := corrupt.DB().Exec(`UPDATE bridge_state SET state = 'bogus' WHERE id = 1`); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	corrupt.Close()

	got := checkTokenStore(t.Context(), cfg)
	if got.Status != "FAIL" {
		t.Fatalf("checkTokenStore = %+v", got)
	}
}

func TestCheckDaemonAgainstLiveServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "state": "ready", "version": "1.0.0"})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.BindAddr = strings.TrimPrefix(srv.URL, "http://")
	got := checkDaemon(t.Context(), cfg)
	if got.Status != "PASS" || !strings.Contains(got.Message, "ready") {
		t.Fatalf("checkDaemon = %+v", got)
	}
}
