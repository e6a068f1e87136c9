package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [project-folder]",
	Short: "Verify that provisioned files still match their digests",
	Long: `Re-hashes the outputs of completed steps that carry a digest (downloads,
verified files and extracted trees with a tree_digest) and reports any that
changed or disappeared. Exit 0 if everything matches; exit non-zero on drift.`,
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

		result, err := client.Check(project)
		if err != nil {
			return err
		}
		if result.Clean {
			info("All provisioned files match.")
			return nil
		}

		for _, d := range result.Drifted {
			info("  %s  %s", paint(warnStyle, "drifted"), d.Path)
			detail("expected: %s", d.Expected)
			detail("actual:   %s", d.Actual)
		}
		for _, m := range result.Missing {
			info("  %s  %s", paint(errStyle, "missing"), m)
		}

		total := len(result.Drifted) + len(result.Missing)
		return fmt.Errorf("check failed: %d file(s) changed", total)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
