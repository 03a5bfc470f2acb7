package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"plugtrack/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the plugtrack version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("plugtrack version %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
