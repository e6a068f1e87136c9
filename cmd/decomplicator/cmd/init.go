package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

// initTemplate is the default decomplicator.toml scaffold. Digests are
// placeholders the author replaces before publishing.
const initTemplate = `# decomplicator template
format_version = 1

[template]
id = "my-decomp"
name = "My decompilation project"
version = "0.1.0"
description = "Sets up the toolchain and builds the project."
# Shown to users before anything runs.
trust_notice = "Runs the project's build scripts on your machine."

# The original game data users supply with --rom.
[base_data]
name = "baserom.z64"
digest = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
path = "baserom.z64"

# Prepended to PATH for run steps and actions.
[env]
path = ["tools/bin"]

[variables]
jobs = "4"

[[step]]
kind = "fetch"
name = "Download toolchain"
url = "https://example.com/toolchain-{{.OS}}-{{.Arch}}.tar.gz"
digest = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
destination = "downloads/toolchain.tar.gz"

[[step]]
kind = "extract"
name = "Install toolchain"
archive = "downloads/toolchain.tar.gz"
target = "tools"
strip_components = 1
remove = true

# Files shipped next to this manifest.
# [[step]]
# kind = "copy"
# from = "template"
# source = "scaffold"
# destination = "."

[[step]]
kind = "run"
name = "Build"
executable = "make"
args = ["-j{{.jobs}}"]
produces = ["build/game.z64"]

# [[step]]
# kind = "patch"
# path = "Makefile"
# op = "substitute"
# find = "COMPARE ?= 1"
# replace = "COMPARE ?= 0"

[[action]]
name = "build"
description = "Rebuild the project"
commands = [["make", "-j{{.jobs}}"]]

[[action]]
name = "clean"
description = "Remove build outputs"
commands = [["make", "clean"]]
`

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Create a starter decomplicator.toml template",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", abs, err)
		}
		outPath := filepath.Join(abs, "decomplicator.toml")

		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", outPath)
			}
		}

		if err := os.WriteFile(outPath, []byte(initTemplate), 0644); err != nil {
			return fmt.Errorf("writing template: %w", err)
		}

		info("Created %s", outPath)
		info("")
		info("Next steps:")
		info("  1. Point the steps at your toolchain and fill in the digests")
		info("  2. Run 'decomplicator plan %s' to check the manifest", dir)
		info("  3. Run 'decomplicator provision %s <project-folder> --rom <file>'", dir)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing template")
	rootCmd.AddCommand(initCmd)
}
