package config

import (
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/zotbridge/internal/otel"
)

// RateLimitConfig throttles failed authentication attempts. The bridge is
// loopback-only, but a local brute force against a short token is still a
// real attack; the limiter bounds guess throughput.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	AttemptsPerMinute int  `yaml:"attempts_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// ZoteroConfig points the bridge at the host application's local API.
type ZoteroConfig struct {
	// BaseURL is the root of Zotero's local HTTP API, e.g.
	// http://127.0.0.1:23119/api/users/0.
	BaseURL string `yaml:"base_url"`
	// TimeoutSeconds bounds each item-store call; expiry surfaces as
	// ItemStoreUnavailable rather than a hung request.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// BindAddr must resolve to a loopback host; the daemon refuses to
	// start otherwise.
	BindAddr string `yaml:"bind_addr"`

	LogLevel string `yaml:"log_level"`

	// DBPath overrides the token store location (default
	// <home>/zotbridge.db).
	DBPath string `yaml:"db_path"`

	// DefaultMarker is embedded in managed notes when a request does not
	// supply its own marker.
	DefaultMarker string `yaml:"default_marker"`

	Zotero    ZoteroConfig    `yaml:"zotero"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	OTel      otel.Config     `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		BindAddr:      "127.0.0.1:23124",
		LogLevel:      "info",
		DefaultMarker: "<!--zmcp-->",
		Zotero: ZoteroConfig{
			BaseURL:        "http://127.0.0.1:23119/api/users/0",
			TimeoutSeconds: 5,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			AttemptsPerMinute: 30,
			BurstSize:         10,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("ZOTBRIDGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".zotbridge")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return cfg, fmt.Errorf("create zotbridge home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := ValidateLoopback(cfg.BindAddr); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZOTBRIDGE_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("ZOTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ZOTBRIDGE_ZOTERO_URL"); v != "" {
		cfg.Zotero.BaseURL = v
	}
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:23124"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "zotbridge.db")
	}
	if strings.TrimSpace(cfg.DefaultMarker) == "" {
		cfg.DefaultMarker = "<!--zmcp-->"
	}
	if cfg.Zotero.BaseURL == "" {
		cfg.Zotero.BaseURL = "http://127.0.0.1:23119/api/users/0"
	}
	if cfg.Zotero.TimeoutSeconds <= 0 {
		cfg.Zotero.TimeoutSeconds = 5
	}
	if cfg.RateLimit.AttemptsPerMinute <= 0 {
		cfg.RateLimit.AttemptsPerMinute = 30
	}
	if cfg.RateLimit.BurstSize <= 0 {
		cfg.RateLimit.BurstSize = 10
	}
}

// ValidateLoopback rejects any bind address whose host is not a loopback
// interface. The bridge carries a bearer token over plain HTTP; binding
// beyond loopback would hand the secret to the network.
func ValidateLoopback(bindAddr string) error {
	host, _, err := net.SplitHostPort(strings.TrimSpace(bindAddr))
	if err != nil {
		return fmt.Errorf("parse bind_addr %q: %w", bindAddr, err)
	}
	h := strings.ToLower(strings.Trim(host, "[]"))
	if h == "localhost" {
		return nil
	}
	ip := net.ParseIP(h)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("bind_addr %q is not loopback; the bridge only serves the local machine", bindAddr)
	}
	return nil
}

// Fingerprint returns a stable hash of the active config, logged at startup
// so operators can tell which settings a running daemon picked up.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|marker=%s|zotero=%s|timeout=%d",
		c.BindAddr, c.LogLevel, c.DBPath, c.DefaultMarker, c.Zotero.BaseURL, c.Zotero.TimeoutSeconds)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
