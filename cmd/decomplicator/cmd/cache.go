package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucretia/decomplicator/internal/cache"
	"github.com/lucretia/decomplicator/internal/digest"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the shared download and base data cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the cache location, size and entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		size, err := c.Size()
		if err != nil {
			return fmt.Errorf("measuring cache: %w", err)
		}
		entries, err := c.List()
		if err != nil {
			return err
		}

		fmt.Printf("cache dir:  %s\n", c.Path())
		fmt.Printf("cache size: %s\n", humanSize(size))
		fmt.Printf("entries:    %d\n", len(entries))
		for _, e := range entries {
			detail("%-10s %-10s %s", e.Namespace, humanSize(e.Size), e.Digest)
		}
		return nil
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove files left behind by interrupted cache imports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		removed, err := c.Clean()
		if err != nil {
			return fmt.Errorf("cleaning cache: %w", err)
		}
		for _, p := range removed {
			detail("removed %s", p)
		}
		info("Removed %d leftover file(s).", len(removed))
		return nil
	},
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "remove <digest>...",
	Short: "Remove cached entries by digest",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		for _, arg := range args {
			d, err := digest.Parse(arg)
			if err != nil {
				return err
			}
			for _, ns := range []cache.Namespace{cache.Artifacts, cache.BaseData} {
				if err := c.Remove(ns, d); err != nil {
					return fmt.Errorf("removing %s: %w", d, err)
				}
			}
			info("removed %s", d)
		}
		return nil
	},
}

// openCache opens the cache named by --cache-dir, the settings or the
// default location.
func openCache() (*cache.Cache, error) {
	dir := firstSet(cacheDir, settings.CacheDir, cache.DefaultDir())
	return cache.New(dir)
}

func init() {
	cacheCmd.AddCommand(cacheInfoCmd, cacheCleanCmd, cacheRemoveCmd)
	rootCmd.AddCommand(cacheCmd)
}
