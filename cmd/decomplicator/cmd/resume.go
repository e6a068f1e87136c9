package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/pkg/decomplicator"
)

var resumeRun runFlags

var resumeCmd = &cobra.Command{
	Use:   "resume [project-folder]",
	Short: "Continue an interrupted or failed run",
	Long: `Continues the run recorded in the project folder from its first unfinished
step. The template is re-read from the copy saved when the run started, and
the base data file is verified again. A completed run is left alone.`,
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

		recorded, err := client.Status(project)
		if err != nil {
			return err
		}

		run, err := provision(len(recorded.Steps), func(opts decomplicator.RunOptions) (*decomplicator.Run, error) {
			return client.Resume(cmd.Context(), project, opts)
		}, decomplicator.RunOptions{BaseDataPath: resumeRun.rom})
		if err != nil {
			return err
		}
		info("%d step(s) done in %s", run.Done(), project)
		return nil
	},
}

func init() {
	resumeRun.register(resumeCmd.Flags(), false)
	rootCmd.AddCommand(resumeCmd)
}
