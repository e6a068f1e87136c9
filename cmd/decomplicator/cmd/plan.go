package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/internal/manifest"
	"github.com/lucretia/decomplicator/pkg/decomplicator"
)

var (
	planVars planFlags
	planDir  string
)

var planCmd = &cobra.Command{
	Use:   "plan <template>",
	Short: "Resolve a template and print its steps without running them",
	Long: `Reads and validates a template manifest and prints the resolved plan:
the base data it needs, every step with its inputs and outputs, and the
actions available after provisioning. Nothing is downloaded or written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		var project string
		if planDir != "" {
			if project, err = projectFolder([]string{planDir}, 0); err != nil {
				return err
			}
		}
		plan, err := client.Plan(cmd.Context(), args[0], decomplicator.PlanOptions{
			ProjectFolder:      project,
			Vars:               planVars.vars,
			ExistingRepository: planVars.existingRepo,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", paint(titleStyle, plan.Template.ID), plan.Template.Version)
		fmt.Printf("  source: %s\n", plan.Template.Source)
		fmt.Printf("  digest: %s\n", plan.Digest)
		if b := plan.BaseData; b != nil {
			fmt.Printf("  base data: %s (%s)\n", b.Name, b.Digest)
		}
		if r := plan.Repository; r != nil {
			mode := "clone"
			if r.Adopted {
				mode = "existing"
			}
			fmt.Printf("  repository: %s @ %s on %s (%s)\n", r.URL, r.Commit, r.Branch, mode)
		}
		if len(plan.Env.Path) > 0 {
			fmt.Printf("  path: %s\n", strings.Join(plan.Env.Path, ", "))
		}

		fmt.Println()
		for _, s := range plan.Steps {
			fmt.Printf("%s  %s\n", paint(titleStyle, s.ID), s.Label())
			fmt.Printf("    %s\n", describeOp(s.Op))
		}

		if len(plan.Actions) > 0 {
			fmt.Println("\nActions:")
			for _, a := range plan.Actions {
				fmt.Printf("  %-15s %s\n", a.Name, a.Description)
			}
		}
		return nil
	},
}

// describeOp summarises a step's operation on one line.
func describeOp(op manifest.Op) string {
	switch o := op.(type) {
	case *manifest.Fetch:
		return fmt.Sprintf("download %s -> %s", o.URL, o.Destination)
	case *manifest.Verify:
		return fmt.Sprintf("verify %s against %s", o.Path, o.Digest)
	case *manifest.Extract:
		s := fmt.Sprintf("unpack %s -> %s", o.Archive, o.Target)
		if o.StripComponents > 0 {
			s += fmt.Sprintf(" (strip %d)", o.StripComponents)
		}
		return s
	case *manifest.Copy:
		verb := "copy"
		if o.Move {
			verb = "move"
		}
		if o.From == manifest.FromBaseData {
			return fmt.Sprintf("%s base data -> %s", verb, o.Destination)
		}
		return fmt.Sprintf("%s %s %s -> %s", verb, o.From, o.Source, o.Destination)
	case *manifest.Run:
		s := "run " + strings.Join(append([]string{o.Executable}, o.Args...), " ")
		if o.Workdir != "" {
			s += " (in " + o.Workdir + ")"
		}
		return s
	case *manifest.Patch:
		return fmt.Sprintf("%s %s", o.Op, o.Path)
	}
	return string(op.Kind())
}

func init() {
	planVars.register(planCmd.Flags())
	planCmd.Flags().StringVar(&planDir, "dir", "", "project folder to resolve {{.ProjectDir}} against")
	rootCmd.AddCommand(planCmd)
}
