package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/pkg/decomplicator"
)

var romCmd = &cobra.Command{
	Use:   "rom <template> <file>",
	Short: "Check a base data file against a template and cache it",
	Long: `Verifies that a base data file is the exact dump a template was written
for and stores it in the cache. Later runs of any template needing the same
file find it there without --rom.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		plan, err := client.Plan(cmd.Context(), args[0], decomplicator.PlanOptions{})
		if err != nil {
			return err
		}
		if plan.BaseData == nil {
			info("Template '%s' needs no base data file.", plan.Template.ID)
			return nil
		}

		path, err := client.ImportBaseData(plan, args[1])
		if err != nil {
			return err
		}
		info("%s %s matches %s", paint(okStyle, "ok:"), args[1], plan.BaseData.Name)
		detail("cached at %s", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(romCmd)
}
