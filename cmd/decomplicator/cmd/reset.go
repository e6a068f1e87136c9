package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset [project-folder]",
	Short: "Forget the recorded run of a project folder",
	Long: `Deletes the progress record and the saved template copy of a project
folder, including an unreadable one. Provisioned files are left in place.
The next provision starts from the first step.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectFolder(args, 0)
		if err != nil {
			return err
		}
		if !resetYes {
			ok, err := confirm(os.Stdin, "Forget the provisioning progress of "+project+"?")
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Reset(project); err != nil {
			return err
		}
		info("Progress record removed.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}
