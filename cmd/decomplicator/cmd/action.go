package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/pkg/decomplicator"
)

var actionDir string

var actionCmd = &cobra.Command{
	Use:   "action [name]",
	Short: "Run or list the template's project actions",
	Long: `Runs a named action of the template a project folder was provisioned
from, such as a rebuild or a clean. Without a name, lists the actions.
Command output is shown with --verbose.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectFolder([]string{actionDir}, 0)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			actions, err := client.Actions(project)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				info("The template declares no actions.")
				return nil
			}
			for _, a := range actions {
				info("  %-15s %s", a.Name, a.Description)
			}
			return nil
		}

		events := decomplicator.NewEvents()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range events.C() {
				if ev.Kind == decomplicator.StepOutput {
					detail("%s", ev.Line)
				}
			}
		}()
		err = client.RunAction(cmd.Context(), project, args[0], decomplicator.RunOptions{Events: events})
		events.Close()
		<-done
		if err != nil {
			return err
		}
		info("Action '%s' finished.", args[0])
		return nil
	},
}

func init() {
	actionCmd.Flags().StringVar(&actionDir, "dir", ".", "project folder")
	rootCmd.AddCommand(actionCmd)
}
