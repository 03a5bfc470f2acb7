package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"plugtrack/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file under the root directory",
	Long: `Create .plugtrack/config.json with the default settings so they can be
edited by hand.

Examples:
  plugtrack init
  plugtrack init --root /srv/homeassistant`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(rootDirFlag, config.ConfigDir, "config.json")
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.DefaultConfig()
	cfg.RootDir = rootDirFlag
	if err := cfg.Save(rootDirFlag); err != nil {
		return err
	}

	fmt.Println("Wrote", path)
	return nil
}
