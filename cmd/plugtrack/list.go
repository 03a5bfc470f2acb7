package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"plugtrack/internal/tracker"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked artifacts",
	Long: `List all tracking records with their reference and installed revision.

Examples:
  plugtrack list
  plugtrack list -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listFormat, "output", "o", "table",
		"Output format (table, json, yaml)")
	rootCmd.AddCommand(listCmd)
}

// trackingView is the serializable shape of one tracking record.
type trackingView struct {
	ID                string `json:"id" yaml:"id"`
	Artifact          string `json:"artifact" yaml:"artifact"`
	Title             string `json:"title" yaml:"title"`
	Locator           string `json:"locator" yaml:"locator"`
	Reference         string `json:"reference" yaml:"reference"`
	InstalledRevision string `json:"installedRevision,omitempty" yaml:"installedRevision,omitempty"`
	Primary           bool   `json:"primary" yaml:"primary"`
}

func viewOf(r *tracker.TrackedArtifact) trackingView {
	return trackingView{
		ID:                r.ID,
		Artifact:          r.ArtifactID,
		Title:             r.Title,
		Locator:           r.LocatorURL,
		Reference:         r.RefDescriptor(),
		InstalledRevision: r.InstalledRevision,
		Primary:           r.Primary,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	records, err := app.manager.ListTrackings()
	if err != nil {
		return err
	}

	views := make([]trackingView, len(records))
	for i, r := range records {
		views[i] = viewOf(r)
	}

	return renderOutput(listFormat, views, func() {
		if len(views) == 0 {
			fmt.Println("No tracked artifacts.")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ARTIFACT\tREFERENCE\tINSTALLED\tLOCATOR")
		for _, v := range views {
			installed := v.InstalledRevision
			if installed == "" {
				installed = "-"
			} else if len(installed) > 7 {
				installed = installed[:7]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Artifact, v.Reference, installed, v.Locator)
		}
		_ = w.Flush()
	})
}
