package cmd

import (
	"github.com/spf13/pflag"
)

// planFlags select and parameterize a template.
type planFlags struct {
	vars         map[string]string
	existingRepo bool
}

func (f *planFlags) register(fs *pflag.FlagSet) {
	fs.StringToStringVar(&f.vars, "var", nil, "override a template variable (key=value, repeatable)")
	fs.BoolVar(&f.existingRepo, "existing-repo", false, "use the git repository already in the project folder instead of cloning one")
}

// runFlags control a provisioning run.
type runFlags struct {
	rom   string
	fresh bool
	yes   bool
}

// register adds --rom, and with starting set the flags that only apply
// when a run begins.
func (f *runFlags) register(fs *pflag.FlagSet, starting bool) {
	fs.StringVar(&f.rom, "rom", "", "path to the base data file the template needs")
	if starting {
		fs.BoolVarP(&f.yes, "yes", "y", false, "do not ask for confirmation")
		fs.BoolVar(&f.fresh, "fresh", false, "discard any recorded run in the project folder and start over")
	}
}
