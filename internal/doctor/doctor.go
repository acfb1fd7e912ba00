// Package doctor runs local diagnostic checks for the bridge install:
// config sanity, store health, and reachability of both the daemon and the
// host application.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/zotbridge/internal/bridgeclient"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/tokenstore"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkPermissions,
		checkTokenStore,
		checkPairing,
		checkDaemon,
		checkZotero,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if err := config.ValidateLoopback(cfg.BindAddr); err != nil {
		return CheckResult{
			Name:    "Config",
			Status:  "FAIL",
			Message: fmt.Sprintf("bind_addr %q is not loopback", cfg.BindAddr),
			Detail:  "the daemon will refuse to start; use 127.0.0.1 or localhost",
		}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkTokenStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Token Store", Status: "SKIP", Message: "Config missing"}
	}
	store, err := tokenstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		return CheckResult{Name: "Token Store", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	state, err := store.State(ctx)
	if err != nil {
		return CheckResult{Name: "Token Store", Status: "FAIL", Message: fmt.Sprintf("State read failed: %v", err)}
	}
	if state == tokenstore.StateDegraded {
		return CheckResult{
			Name:    "Token Store",
			Status:  "FAIL",
			Message: "State row is corrupted; the bridge fails closed",
			Detail:  "recover with: zotbridge reset",
		}
	}
	return CheckResult{Name: "Token Store", Status: "PASS", Message: fmt.Sprintf("State %q", state)}
}

func checkPairing(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Pairing", Status: "SKIP", Message: "Config missing"}
	}
	creds, err := bridgeclient.LoadCredentials(cfg.HomeDir)
	if err != nil {
		return CheckResult{Name: "Pairing", Status: "FAIL", Message: fmt.Sprintf("Credentials unreadable: %v", err)}
	}
	if creds.Token == "" {
		return CheckResult{
			Name:    "Pairing",
			Status:  "WARN",
			Message: "No client paired",
			Detail:  "run: zotbridge setup",
		}
	}
	return CheckResult{Name: "Pairing", Status: "PASS", Message: "Client credentials present"}
}

func checkDaemon(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Daemon", Status: "SKIP", Message: "Config missing"}
	}
	client := bridgeclient.New(bridgeclient.Config{
		BaseURL: "http://" + cfg.BindAddr + "/v1",
		Timeout: 3 * time.Second,
	})
	h, err := client.Health(ctx)
	if err != nil {
		return CheckResult{
			Name:    "Daemon",
			Status:  "WARN",
			Message: "Bridge not reachable",
			Detail:  "start it with: zotbridge",
		}
	}
	status := "PASS"
	if h.State == "degraded" {
		status = "FAIL"
	}
	return CheckResult{Name: "Daemon", Status: status, Message: fmt.Sprintf("State %q, version %s", h.State, h.Version)}
}

func checkZotero(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Zotero API", Status: "SKIP", Message: "Config missing"}
	}
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.Zotero.BaseURL+"/items?limit=1", nil)
	if err != nil {
		return CheckResult{Name: "Zotero API", Status: "FAIL", Message: fmt.Sprintf("Bad base URL: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Name:    "Zotero API",
			Status:  "WARN",
			Message: fmt.Sprintf("Not reachable at %s", cfg.Zotero.BaseURL),
			Detail:  "is Zotero running with the local API enabled?",
		}
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return CheckResult{Name: "Zotero API", Status: "WARN", Message: fmt.Sprintf("Answered HTTP %d", resp.StatusCode)}
	}
	return CheckResult{Name: "Zotero API", Status: "PASS", Message: fmt.Sprintf("Reachable at %s", cfg.Zotero.BaseURL)}
}
