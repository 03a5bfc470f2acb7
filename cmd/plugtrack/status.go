package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"plugtrack/internal/poller"
	"plugtrack/internal/service"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status <artifact>",
	Short: "Show the current reconciliation state of a tracking",
	Long: `Poll the tracked reference now and print the result: current revision,
staleness, and reference metadata.

Examples:
  plugtrack status met
  plugtrack status met -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "output", "o", "table",
		"Output format (table, json, yaml)")
	rootCmd.AddCommand(statusCmd)
}

// statusView is the serializable shape of one poll result.
type statusView struct {
	Artifact        string `json:"artifact" yaml:"artifact"`
	Kind            string `json:"kind" yaml:"kind"`
	Revision        string `json:"revision" yaml:"revision"`
	UpdateAvailable bool   `json:"updateAvailable" yaml:"updateAvailable"`
	State           string `json:"state,omitempty" yaml:"state,omitempty"`
	Title           string `json:"title,omitempty" yaml:"title,omitempty"`
	Branch          string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Message         string `json:"message,omitempty" yaml:"message,omitempty"`
	CommitURL       string `json:"commitUrl,omitempty" yaml:"commitUrl,omitempty"`
	PolledAt        string `json:"polledAt" yaml:"polledAt"`
}

func statusViewOf(r *poller.PollResult) statusView {
	v := statusView{
		Artifact:        r.ArtifactID,
		Kind:            string(r.Kind),
		Revision:        r.Revision,
		UpdateAvailable: r.UpdateAvailable,
		CommitURL:       r.CommitURL,
		PolledAt:        r.PolledAt.Format(time.RFC3339),
	}
	switch {
	case r.PR != nil:
		v.State = string(r.PR.State)
		v.Title = r.PR.Title
	case r.Branch != nil:
		v.Branch = r.Branch.Name
		v.Message = r.Branch.CommitMessage
	case r.Commit != nil:
		v.Message = r.Commit.Message
	}
	return v
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	app := mustOpenApp(logger)
	defer app.Close()

	result, err := app.manager.ForcePoll(context.Background(), service.Selector{Artifact: args[0]})
	if err != nil {
		return err
	}

	v := statusViewOf(result)
	return renderOutput(statusFormat, v, func() {
		printStatusTable(v)
	})
}

func printStatusTable(v statusView) {
	status := "up to date"
	if v.UpdateAvailable {
		status = "update available"
	}
	fmt.Println("Artifact:  " + v.Artifact)
	fmt.Println("Kind:      " + v.Kind)
	fmt.Println("Revision:  " + v.Revision)
	fmt.Println("Status:    " + status)
	if v.State != "" {
		fmt.Println("PR state:  " + v.State)
	}
	if v.Branch != "" {
		fmt.Println("Branch:    " + v.Branch)
	}
	if v.CommitURL != "" {
		fmt.Println("Commit:    " + v.CommitURL)
	}
}
