package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/loamdev/loam/internal/config"
	"github.com/loamdev/loam/internal/engine"
	"github.com/loamdev/loam/internal/events"
	"github.com/loamdev/loam/internal/mcp"
	"github.com/loamdev/loam/internal/remote"
	"github.com/loamdev/loam/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"threads": true, "messages": true, "send": true,
	"rename": true, "pin": true, "tags": true, "assign": true,
	"branch": true, "delete": true,
	"projects": true, "project-create": true, "project-update": true, "project-delete": true,
	"status": true, "export": true, "import": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _
  | |___  __ _ _ __
  | / _ \/ _' | '  \
  |_\___/\__,_|_|_|_|

  Local-first chat data cache

  Usage: loam <command> [options]
         loam --help

  MCP server mode requires piped input.`)
}

// buildEngine wires the store, remote gateway, and event bus into an engine.
func buildEngine(baseDir string, cfg *config.Config) (*engine.Engine, func(), error) {
	db, err := store.InitDB(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store.ConfigurePool(db, cfg)

	s, err := store.Open(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to load local store: %w", err)
	}

	opts := remote.Options{Token: cfg.RemoteToken}
	if cfg.RemoteTimeoutSecs > 0 {
		opts.HTTPClient = &http.Client{Timeout: time.Duration(cfg.RemoteTimeoutSecs) * time.Second}
	}
	gateway, err := remote.Open(cfg.RemoteDSN, opts)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to open remote gateway: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	eng := engine.New(engine.Options{
		Store:    s,
		Gateway:  gateway,
		Bus:      events.NewBus(logger),
		PageSize: cfg.PageSize,
		Logger:   logger,
	})

	cleanup := func() {
		gateway.Close()
		db.Close()
	}
	return eng, cleanup, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any wiring (no engine needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, "")
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".loam")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	eng, cleanup, err := buildEngine(baseDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(eng, cfg, baseDir)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'loam --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(eng, cfg, baseDir, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
