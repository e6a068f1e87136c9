package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [project-folder]",
	Short: "Show the provisioning state of a project folder",
	Long: `Shows the template a project folder was provisioned from, the state of
the run and of every step, and the reason a failed run stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectFolder(args, 0)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		run, err := client.Status(project)
		if err != nil {
			return err
		}

		t := run.Template
		fmt.Printf("%s %s\n", paint(titleStyle, t.ID), t.Version)
		fmt.Printf("  source:  %s\n", t.Source)
		fmt.Printf("  status:  %s (%d/%d steps)\n", statusText(string(run.Status), 0), run.Done(), len(run.Steps))
		fmt.Printf("  started: %s\n", run.StartedAt.Local().Format(time.DateTime))
		if run.CompletedAt != nil {
			fmt.Printf("  done:    %s\n", run.CompletedAt.Local().Format(time.DateTime))
		}

		fmt.Printf("\n%-4s %-22s %-12s %s\n", "#", "STEP", "STATE", "NAME")
		for i, s := range run.Steps {
			fmt.Printf("%-4d %-22s %s %s\n", i+1, s.ID, statusText(string(s.Status), 12), s.Name)
			if s.Status == state.StepInProgress && len(s.Entries) > 0 {
				detail("%d archive entries placed", len(s.Entries))
			}
		}

		if f := run.Failure; f != nil {
			fmt.Println()
			fmt.Printf("%s %s in step %d: %s\n", paint(errStyle, "failed:"), f.Kind, f.StepIndex+1, f.Message)
			if f.Hint != "" {
				fmt.Printf("  %s %s\n", paint(warnStyle, "hint:"), f.Hint)
			}
		}
		return nil
	},
}

// statusText pads a run or step status to width, then colours it.
func statusText(s string, width int) string {
	padded := fmt.Sprintf("%-*s", width, s)
	switch s {
	case string(state.RunCompleted):
		return paint(okStyle, padded)
	case string(state.RunFailed):
		return paint(errStyle, padded)
	case string(state.RunRunning), string(state.StepInProgress):
		return paint(warnStyle, padded)
	}
	return padded
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
