package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"plugtrack/internal/slogutil"
)

var (
	daemonLogFile    string
	daemonLogSize    string
	daemonLogBackups int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the reconciliation loops for all trackings",
	Long: `Run plugtrack in the foreground, polling every tracked artifact on the
configured interval until interrupted.

Examples:
  plugtrack daemon
  plugtrack daemon --log-file /var/log/plugtrack/daemon.log`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonLogFile, "log-file", "",
		"Also log to this file (default <root>/.plugtrack/daemon.log)")
	daemonCmd.Flags().StringVar(&daemonLogSize, "log-max-size", "10MB",
		"Rotate the log file beyond this size")
	daemonCmd.Flags().IntVar(&daemonLogBackups, "log-max-backups", 3,
		"Rotated log files to keep")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	consoleLogger := newLogger()
	cfg := mustLoadConfig(consoleLogger)

	logPath := daemonLogFile
	if logPath == "" {
		logPath = filepath.Join(cfg.RootDir, ".plugtrack", "daemon.log")
	}

	level := slogutil.LevelFromString(cfg.Logging.Level)
	fileLogger, closer, err := slogutil.NewFileLoggerWithRotation(
		logPath, cfg.Logging.Format, level, daemonLogSize, daemonLogBackups)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	// console respects -v/-q, the file gets everything at the
	// configured level
	logger := slogutil.NewTeeLogger(
		slogutil.NewHandler(os.Stderr, &slog.HandlerOptions{
			Level: slogutil.LevelFromVerbosity(verbosity, quietFlag),
		}),
		fileLogger.Handler(),
	)

	app := mustOpenApp(logger)
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.manager.StartAll(ctx); err != nil {
		return err
	}
	logger.Info("daemon running", "interval_seconds", cfg.Poll.IntervalSeconds)

	<-ctx.Done()
	logger.Info("shutting down")
	app.manager.StopAll()
	return nil
}
