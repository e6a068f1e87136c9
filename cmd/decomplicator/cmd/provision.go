package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/pkg/decomplicator"
)

var (
	provisionPlan planFlags
	provisionRun  runFlags
)

var provisionCmd = &cobra.Command{
	Use:     "provision <template> [project-folder]",
	Aliases: []string{"new"},
	Short:   "Provision a project folder from a template",
	Long: `Resolves the template (a manifest file, a template directory, an http(s)
URL or a name from the settings), shows what it will do and who wrote it,
then runs its steps in the project folder. The folder defaults to the
current directory.

A folder that already holds an unfinished run of the same template is
resumed. Use --fresh to replace a run of a different template.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectFolder(args, 1)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}

		plan, err := client.Plan(cmd.Context(), args[0], decomplicator.PlanOptions{
			ProjectFolder:      project,
			Vars:               provisionPlan.vars,
			ExistingRepository: provisionPlan.existingRepo,
		})
		if err != nil {
			return err
		}

		describePlan(plan, project)
		if !provisionRun.yes {
			ok, err := confirm(os.Stdin, "Trust this template and run its steps?")
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}

		run, err := provision(len(plan.Steps), func(opts decomplicator.RunOptions) (*decomplicator.Run, error) {
			return client.Provision(cmd.Context(), plan, project, opts)
		}, decomplicator.RunOptions{BaseDataPath: provisionRun.rom, Fresh: provisionRun.fresh})
		if err != nil {
			return err
		}
		info("%d step(s) done in %s", run.Done(), project)
		return nil
	},
}

// describePlan prints the template identity, its trust notice and the
// steps it will run.
func describePlan(plan *decomplicator.Plan, project string) {
	t := plan.Template
	title := t.ID
	if t.Name != "" {
		title = fmt.Sprintf("%s (%s)", t.Name, t.ID)
	}
	if t.Version != "" {
		title += " " + t.Version
	}
	info("%s", paint(titleStyle, title))
	info("  source:  %s", t.Source)
	info("  project: %s", project)
	if plan.BaseData != nil {
		info("  needs:   %s", plan.BaseData.Name)
	}
	if t.Description != "" {
		info("")
		info("%s", t.Description)
	}
	if t.TrustNotice != "" {
		info("")
		info("%s %s", paint(warnStyle, "notice:"), t.TrustNotice)
	}
	info("")
	info("Templates run programs on your machine. Only continue if you trust its author.")
	for _, s := range plan.Steps {
		detail("%s  %s", s.ID, s.Label())
	}
	info("")
}

func init() {
	provisionPlan.register(provisionCmd.Flags())
	provisionRun.register(provisionCmd.Flags(), true)
	rootCmd.AddCommand(provisionCmd)
}
