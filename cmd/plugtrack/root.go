package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"plugtrack/internal/config"
	"plugtrack/internal/credentials"
	"plugtrack/internal/forge"
	"plugtrack/internal/installer"
	"plugtrack/internal/notify"
	"plugtrack/internal/selection"
	"plugtrack/internal/service"
	"plugtrack/internal/slogutil"
	"plugtrack/internal/storage"
	"plugtrack/internal/tracker"
	"plugtrack/internal/version"

	alertstore "plugtrack/internal/alerts"
)

var (
	rootDirFlag string
	verbosity   int
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "plugtrack",
	Short: "plugtrack - track remote references and install their plugins",
	Long: `plugtrack tracks a reference (pull request, branch, or commit) in a remote
repository, installs the matching plugin subtree into the local plugins
directory, and keeps the installed revision reconciled against the remote
head, raising alerts on drift and invalidation.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("plugtrack version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootDirFlag, "root", ".",
		"Root directory holding plugins-root and .plugtrack state")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false,
		"Suppress all log output")
}

func newLogger() *slog.Logger {
	level := slogutil.LevelFromVerbosity(verbosity, quietFlag)
	return slogutil.NewLogger(os.Stderr, "human", level)
}

func mustLoadConfig(logger *slog.Logger) *config.Config {
	cfg, err := config.LoadConfig(rootDirFlag)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	return cfg
}

// app bundles everything a command needs. Close releases the database.
type app struct {
	cfg     *config.Config
	manager *service.Manager
	alerts  *alertstore.Registry
	tokens  *credentials.FileStore
	client  *forge.Client
	db      *sql.DB
	logger  *slog.Logger
}

func (a *app) Close() {
	_ = a.db.Close()
}

func mustOpenApp(logger *slog.Logger) *app {
	cfg := mustLoadConfig(logger)

	tokens, err := credentials.Open(cfg.RootDir)
	if err != nil {
		logger.Error("loading credentials", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.RootDir, logger)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}

	store := tracker.NewStore(db, logger)
	if err := store.InitSchema(); err != nil {
		logger.Error("initializing tracking schema", "error", err)
		os.Exit(1)
	}
	registry := alertstore.NewRegistry(db, logger)
	if err := registry.InitSchema(); err != nil {
		logger.Error("initializing alert schema", "error", err)
		os.Exit(1)
	}

	client := forge.NewClient(forge.Options{
		BaseURL:        cfg.Forge.APIBaseURL,
		HTTPClient:     &http.Client{Timeout: 60 * time.Second},
		Tokens:         tokens,
		PrimaryRepo:    cfg.Forge.PrimaryRepo,
		ComponentsRoot: cfg.Forge.ComponentsRoot,
		Logger:         logger,
	})

	inst := installer.New(cfg.RootDir, cfg.Forge.ComponentsRoot, logger)

	manager := service.NewManager(service.Options{
		Config:    cfg,
		Forge:     client,
		Store:     store,
		Alerts:    registry,
		Notifier:  notify.NewLogNotifier(slogutil.NewLogger(os.Stderr, cfg.Logging.Format, slog.LevelInfo)),
		Installer: inst,
		Logger:    logger,
	})

	return &app{
		cfg:     cfg,
		manager: manager,
		alerts:  registry,
		tokens:  tokens,
		client:  client,
		db:      db,
		logger:  logger,
	}
}

// renderOutput writes v in the requested format. Table output is left
// to each command; this handles json and yaml.
func renderOutput(format string, v any, table func()) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	case "table", "":
		table()
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use table, json, or yaml)", format)
	}
}

// selectionError converts typed service errors into actionable CLI
// messages.
func selectionError(err error) error {
	var needs *service.NeedsSelectionError
	if errors.As(err, &needs) {
		return fmt.Errorf("%s (re-run with --artifact <id>)", needs.Error())
	}
	var abort *service.AbortError
	if errors.As(err, &abort) && abort.Reason == selection.ReasonInvalidLocator {
		return fmt.Errorf("%s (expected owner/repo URL, optionally with /pull/N, /commit/SHA, or /tree/BRANCH)", abort.Detail)
	}
	return err
}
