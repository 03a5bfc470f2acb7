package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"plugtrack/internal/service"
)

var installCmd = &cobra.Command{
	Use:   "install <artifact>",
	Short: "Install the latest resolved revision of a tracked artifact",
	Long: `Resolve the tracked reference, download the archive at its current head,
and install it over the existing plugin directory. Raises the
restart-required alert on success.

Examples:
  plugtrack install met`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	sel := service.Selector{Artifact: args[0]}
	if err := app.manager.InstallLatest(context.Background(), sel); err != nil {
		return err
	}

	fmt.Printf("Installed the latest revision of %s. Restart to load it.\n", args[0])
	return nil
}
