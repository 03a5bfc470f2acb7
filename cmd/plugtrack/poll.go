package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"plugtrack/internal/service"
)

var pollCmd = &cobra.Command{
	Use:   "poll [artifact]",
	Short: "Force an immediate reconciliation pass",
	Long: `Run one reconciliation pass now, outside the daemon's schedule. With no
argument, every tracked artifact is polled.

Examples:
  plugtrack poll
  plugtrack poll met`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	ctx := context.Background()

	if len(args) == 1 {
		return pollOne(ctx, app, args[0])
	}

	records, err := app.manager.ListTrackings()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No tracked artifacts.")
		return nil
	}
	var firstErr error
	for _, record := range records {
		if err := pollOne(ctx, app, record.ArtifactID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func pollOne(ctx context.Context, app *app, artifact string) error {
	result, err := app.manager.ForcePoll(ctx, service.Selector{Artifact: artifact})
	if err != nil {
		return fmt.Errorf("poll %s: %w", artifact, err)
	}
	status := "up to date"
	if result.UpdateAvailable {
		status = "update available"
	}
	fmt.Printf("%s: %s at %s (%s)\n", artifact, status, shortRev(result.Revision), result.Kind)
	return nil
}

func shortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
