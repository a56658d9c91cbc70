package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/syncer"
	"github.com/perch-review/perch/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [owner/name]",
	GroupID: "sync",
	Short:   "Refresh cached repositories from the provider",
	Long: `Refresh the cache from the provider.

Without arguments the selected repository is synced. With --all, every
workspace repository (selected plus recently visited) is synced in
parallel, with per-repository failures isolated: one bad repository
never blocks the others, and its cached data stays usable.

A repository argument syncs just that repository, whether or not it is
part of the workspace.

Local-only fields (pins, resolved links, view markers) survive every
sync; refreshed provider data is merged over them, never the other way
around.

Example:
  perch sync                  # selected repository
  perch sync --all            # whole workspace
  perch sync octo/atoll       # one specific repository`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		all, _ := cmd.Flags().GetBool("all")

		a, err := openAppWith(ctx, appLogger("[perch] "), syncProgress())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if all {
			runWorkspaceSync(ctx, a)
			return
		}

		var scope cache.Scope
		if len(args) == 1 {
			scope, err = cache.ParseScope(args[0])
		} else {
			scope, err = a.requireSelected()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Syncing %s...\n", ui.Scope(scope.String()))
		if err := a.sync.SyncScope(ctx, scope); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printSyncOutcome(a)
	},
}

func init() {
	syncCmd.Flags().Bool("all", false, "Sync every workspace repository")
	rootCmd.AddCommand(syncCmd)
}

// syncProgress renders a live progress line while a session runs and
// clears it once the session settles. Nil when stdout is not a
// terminal, so piped output stays clean.
func syncProgress() func(syncer.Status) {
	if !ui.IsTTY() {
		return nil
	}
	return func(st syncer.Status) {
		if !st.Running {
			fmt.Printf("\r%s\r", strings.Repeat(" ", ui.Width()-1))
			return
		}
		line := fmt.Sprintf("%s %s", ui.ProgressBar(st.Progress, 24), st.Message)
		fmt.Printf("\r%s", ui.Truncate(line, ui.Width()-1))
	}
}

// printSyncOutcome reports the coordinator's settled state: a success
// line, or one line per failed repository with the rest intact.
func printSyncOutcome(a *app) {
	st := a.sync.Status()
	if len(st.Errors) == 0 {
		counts := fmt.Sprintf("%d PRs, %d issues, %d labels cached",
			totalRecords(a.stores.Pulls.Scopes, a.stores.Pulls.Count),
			totalRecords(a.stores.Issues.Scopes, a.stores.Issues.Count),
			totalRecords(a.stores.Labels.Scopes, a.stores.Labels.Count))
		fmt.Printf("%s Sync complete (%s)\n", ui.Success("✓"), counts)
		return
	}
	fmt.Printf("%s Sync finished with %d failed %s\n",
		ui.ErrorLine("⚠"), len(st.Errors), pluralScope(len(st.Errors)))
	for _, e := range st.Errors {
		fmt.Printf("   %s: %s\n", ui.Scope(e.Scope.String()), e.Message)
	}
	fmt.Println("\nCached data for the failed repositories is unchanged.")
}

func totalRecords(scopes func() []cache.Scope, count func(cache.Scope) int) int {
	total := 0
	for _, s := range scopes() {
		total += count(s)
	}
	return total
}

func pluralScope(n int) string {
	if n == 1 {
		return "repository"
	}
	return "repositories"
}
