package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"plugtrack/internal/alerts"
)

var alertsFormat string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and dismiss active alerts",
	Long: `List the active alerts or acknowledge one. A dismissed alert stops its
notifications and stays gone until the condition recurs.

Examples:
  plugtrack alerts
  plugtrack alerts -o json
  plugtrack alerts dismiss reference_closed met
  plugtrack alerts dismiss credential_invalid`,
	RunE: runAlertsList,
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss <kind> [artifact]",
	Short: "Acknowledge an active alert",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAlertsDismiss,
}

func init() {
	alertsCmd.Flags().StringVarP(&alertsFormat, "output", "o", "table",
		"Output format (table, json, yaml)")
	alertsCmd.AddCommand(alertsDismissCmd)
	rootCmd.AddCommand(alertsCmd)
}

// alertView is the serializable shape of one alert.
type alertView struct {
	Kind     string `json:"kind" yaml:"kind"`
	Artifact string `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Severity string `json:"severity" yaml:"severity"`
	Message  string `json:"message" yaml:"message"`
	RaisedAt string `json:"raisedAt" yaml:"raisedAt"`
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	active, err := app.alerts.List()
	if err != nil {
		return err
	}

	views := make([]alertView, len(active))
	for i, a := range active {
		views[i] = alertView{
			Kind:     string(a.Kind),
			Artifact: a.ArtifactID,
			Severity: string(a.Severity),
			Message:  a.Message,
			RaisedAt: a.RaisedAt.Format(time.RFC3339),
		}
	}

	return renderOutput(alertsFormat, views, func() {
		if len(views) == 0 {
			fmt.Println("No active alerts.")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tARTIFACT\tSEVERITY\tMESSAGE")
		for _, v := range views {
			artifact := v.Artifact
			if artifact == "" {
				artifact = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Kind, artifact, v.Severity, v.Message)
		}
		_ = w.Flush()
	})
}

func runAlertsDismiss(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	kind := alerts.Kind(args[0])
	artifact := ""
	if len(args) == 2 {
		artifact = args[1]
	}

	if err := app.alerts.Clear(kind, artifact); err != nil {
		return err
	}
	fmt.Println("Alert dismissed.")
	return nil
}
