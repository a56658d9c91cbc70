package main

import (
	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/ui"
)

var (
	flagConfig  string
	flagNoColor bool
	flagOffline bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "perch",
	Short: "Local-first code review client for multi-repository workspaces",
	Long: `Perch keeps a local cache of pull requests, issues and labels for
every repository in your workspace, so browsing and switching between
repositories is instant and works offline.

The cache has two levels: an active index serving the repository you
have open, and an archive holding every repository you have visited.
Opening a repository you have seen before never hits the network;
syncing refreshes the whole workspace in parallel in the background.

Start with 'perch init' to set up a workspace, then:

  perch open octo/reef       # switch to a repository
  perch sync --all           # refresh the whole workspace
  perch prs                  # browse cached pull requests
  perch daemon               # keep the cache fresh automatically`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureColor(flagNoColor)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "workspace", Title: "Workspace Commands:"},
		&cobra.Group{ID: "browse", Title: "Browse Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: <data_dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "Use the built-in fixture instead of the live provider")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log subsystem activity to stderr")
}
