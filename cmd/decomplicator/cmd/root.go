package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/internal/config"
	"github.com/lucretia/decomplicator/internal/manifest"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	settingsPath string
	cacheDir     string
	verbose      bool
	quiet        bool
	noColor      bool
	logLevel     string
	logFormat    string
	logFile      string
)

// Set by the root command before any subcommand runs.
var (
	settings  = &config.Settings{}
	logger    = slog.New(slog.DiscardHandler)
	closeLogs = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "decomplicator",
	Short: "Provision decompilation projects from templates",
	Long: `decomplicator sets up a decompilation project from a template: it downloads
and verifies the toolchains the template names, unpacks them into the project
folder, places your copy of the original game data and runs the template's
build steps. Interrupted runs pick up where they stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		result, err := config.LoadLayers(config.DiscoverOptions{
			ExplicitPath: settingsPath,
			NoInherit:    config.EnvNoInherit(),
		})
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		settings = result.Settings
		for _, l := range result.Layers {
			if l.Loaded {
				detail("settings: %s (%s)", l.Path, l.Level)
			}
		}

		useColor = !noColor && isTerminal(os.Stdout)
		l, closer, err := newLogger(settings.Log)
		if err != nil {
			return err
		}
		logger, closeLogs = l, closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogs()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("decomplicator %s\n", version)
		fmt.Printf("  commit:    %s\n", commit)
		fmt.Printf("  built:     %s\n", date)
		fmt.Printf("  manifests: format %d\n", manifest.FormatVersion)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&settingsPath, "settings", "", "path to a settings file layered over the system and user settings")
	pf.StringVar(&cacheDir, "cache-dir", "", "cache directory (default: $XDG_CACHE_HOME/decomplicator)")
	pf.BoolVar(&verbose, "verbose", false, "detailed output, including build step output")
	pf.BoolVar(&quiet, "quiet", false, "minimal output (errors only)")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: warn)")
	pf.StringVar(&logFormat, "log-format", "", "log format: text, json (default: text on a terminal, json otherwise)")
	pf.StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// command's context so an interrupted run is checkpointed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		return err
	}
	return nil
}
