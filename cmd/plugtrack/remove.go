package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"plugtrack/internal/service"
)

var (
	removeArtifact  string
	removeLocator   string
	removeRepo      string
	removeID        string
	removeKeepFiles bool
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Stop tracking an artifact",
	Long: `Remove a tracking record, stop its reconciliation loop, clear its
alerts, and delete the installed files unless --keep-files is given.

Exactly one selector must be provided.

Examples:
  plugtrack remove --artifact met
  plugtrack remove --repo home-assistant/core
  plugtrack remove --locator https://github.com/home-assistant/core/pull/123456
  plugtrack remove --artifact met --keep-files`,
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().StringVar(&removeArtifact, "artifact", "", "Select by artifact id")
	removeCmd.Flags().StringVar(&removeLocator, "locator", "", "Select by the exact tracked locator")
	removeCmd.Flags().StringVar(&removeRepo, "repo", "", "Select by owner/repo")
	removeCmd.Flags().StringVar(&removeID, "id", "", "Select by record id")
	removeCmd.Flags().BoolVar(&removeKeepFiles, "keep-files", false,
		"Keep the installed files in place")
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	sel := service.Selector{
		Artifact: removeArtifact,
		Locator:  removeLocator,
		Repo:     removeRepo,
		ID:       removeID,
	}
	if err := app.manager.RemoveTracking(sel, removeKeepFiles); err != nil {
		return err
	}

	fmt.Println("Tracking removed.")
	return nil
}
