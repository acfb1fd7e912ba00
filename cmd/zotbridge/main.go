package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/zotbridge/internal/audit"
	"github.com/basket/zotbridge/internal/bridge"
	"github.com/basket/zotbridge/internal/config"
	"github.com/basket/zotbridge/internal/itemstore"
	"github.com/basket/zotbridge/internal/mutate"
	otelPkg "github.com/basket/zotbridge/internal/otel"
	"github.com/basket/zotbridge/internal/telemetry"
	"github.com/basket/zotbridge/internal/tokenstore"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the bridge daemon on the loopback interface

SUBCOMMANDS:
  %s setup                    Pair a client: mint a token and perform the handshake
  %s status [-watch] [-json]  Show bridge health
  %s reset [-force]           Clear the stored token (local admin only)
  %s tag -item <KEY> [options]
                              Apply a tag delta to one item
                              Options: -add a,b  -remove c,d  -batch <id>
  %s note -item <KEY> -content <text> [options]
                              Upsert or replace the managed note on one item
                              Options: -mode upsert|replace  -marker <text>
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  ZOTBRIDGE_HOME          Data directory (default: ~/.zotbridge)
  ZOTBRIDGE_BIND_ADDR     Listen address (must be loopback)
  ZOTBRIDGE_LOG_LEVEL     debug, info, warn, error
  ZOTBRIDGE_ZOTERO_URL    Zotero local API base URL

EXAMPLES:
  Start the daemon:       %s
  First-time pairing:     %s setup
  Tag an item:            %s tag -item ABCD1234 -add to-read -remove stale
  Update the note:        %s note -item ABCD1234 -content "summary" -mode upsert
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	ephemeral := flag.Bool("ephemeral", false, "keep the token in memory only (resets on restart)")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "setup":
			os.Exit(runSetupCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "reset":
			os.Exit(runResetCommand(ctx, args[1:]))
		case "tag":
			os.Exit(runTagCommand(ctx, args[1:]))
		case "note":
			os.Exit(runNoteCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	runDaemon(ctx, *ephemeral)
}

func runDaemon(ctx context.Context, ephemeral bool) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit before the logger so logger failures still leave a trace.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "config_fingerprint", cfg.Fingerprint())

	if err := config.ValidateLoopback(cfg.BindAddr); err != nil {
		fatalStartup(logger, "E_BIND_NOT_LOOPBACK", err)
	}

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel, Version)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	var tokens tokenstore.Store
	if ephemeral {
		tokens = tokenstore.NewMemory()
		logger.Warn("ephemeral token store; the pairing will not survive a restart")
	} else {
		tokens, err = tokenstore.OpenSQLite(cfg.DBPath)
		if err != nil {
			fatalStartup(logger, "E_STORE_OPEN", err)
		}
	}
	defer tokens.Close()
	logger.Info("startup phase", "phase", "token_store_opened", "ephemeral", ephemeral)

	items := itemstore.NewLocalAPI(cfg.Zotero.BaseURL, &http.Client{})
	engine := mutate.NewEngine(mutate.Config{
		Store:         items,
		Timeout:       time.Duration(cfg.Zotero.TimeoutSeconds) * time.Second,
		DefaultMarker: cfg.DefaultMarker,
		Logger:        logger,
		Metrics:       metrics,
	})

	srv, err := bridge.NewServer(bridge.Config{
		Store:     tokens,
		Engine:    engine,
		Version:   Version,
		Logger:    logger,
		Tracer:    otelProvider.Tracer,
		Metrics:   metrics,
		RateLimit: cfg.RateLimit,
	})
	if err != nil {
		fatalStartup(logger, "E_BRIDGE_INIT", err)
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			logger.Info("config changed on disk", "path", ev.Path, "op", ev.Op.String())
			next, err := config.Load()
			if err != nil {
				logger.Error("config reload rejected; retaining previous config", "error", err)
				continue
			}
			if next.Fingerprint() == cfg.Fingerprint() {
				continue
			}
			// Bind address and store location need a restart; say so
			// instead of silently ignoring the edit.
			logger.Warn("config edits take effect on restart", "config_fingerprint", next.Fingerprint())
		}
	}()

	server := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := bridge.Listen(ctx, cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			hint := portOccupantHint(cfg.BindAddr)
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, hint))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", "addr", cfg.BindAddr, "version", Version)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("bridge stopped")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "error", "", "", "", reasonCode+": "+message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"bridge","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) ||
		strings.Contains(strings.ToLower(err.Error()), "address already in use")
}

// portOccupantHint tries to name the process already holding the port.
func portOccupantHint(addr string) string {
	parts := strings.Split(addr, ":")
	port := parts[len(parts)-1]
	out, err := exec.Command("lsof", "-i", ":"+port, "-sTCP:LISTEN", "-Fc").Output()
	if err != nil {
		return "another process is already listening on " + addr
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "c") {
			return fmt.Sprintf("port %s is held by %q; is another bridge already running?", port, line[1:])
		}
	}
	return "another process is already listening on " + addr
}
