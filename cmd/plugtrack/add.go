package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	addArtifact  string
	addOverwrite bool
	addRestart   bool
)

var addCmd = &cobra.Command{
	Use:   "add <locator>",
	Short: "Track a remote reference and install its plugin",
	Long: `Track a reference in a remote repository and install the matching plugin
subtree under plugins-root.

The locator is a repository URL, optionally pointing at a pull request,
commit, or branch. References into the primary repository must be pull
requests.

Examples:
  plugtrack add https://github.com/home-assistant/core/pull/123456
  plugtrack add https://github.com/octocat/weather-plus
  plugtrack add https://github.com/octocat/weather-plus/tree/dev --restart
  plugtrack add https://github.com/home-assistant/core/pull/123456 --artifact met`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addArtifact, "artifact", "",
		"Artifact to select when the pull request changes several")
	addCmd.Flags().BoolVar(&addOverwrite, "overwrite", false,
		"Replace an existing plugin directory not installed by plugtrack")
	addCmd.Flags().BoolVar(&addRestart, "restart", false,
		"Request a host restart after the initial install")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	record, err := app.manager.AddTracking(context.Background(), args[0], addArtifact, addOverwrite, addRestart)
	if err != nil {
		return selectionError(err)
	}

	fmt.Printf("Tracking %s (%s)\n", record.ArtifactID, record.RefDescriptor())
	fmt.Printf("Installed revision: %s\n", record.InstalledRevision)
	return nil
}
