package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/ui"
)

var openCmd = &cobra.Command{
	Use:     "open <owner/name>",
	GroupID: "workspace",
	Short:   "Open a repository, serving from the archive when possible",
	Long: `Open a repository and make it the active one.

A repository you have visited before is served straight from the local
archive with no network access; a new one is fetched once and archived.
Either way it lands at the top of the recently-visited list that
workspace sync walks.

Use --refresh to refetch from the provider even when the archive
already has the repository.

Example:
  perch open octo/reef
  perch open octo/reef --refresh`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		refresh, _ := cmd.Flags().GetBool("refresh")

		scope, err := cache.ParseScope(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		cached := a.stores.Pulls.Count(scope) > 0 && !refresh

		pulls, err := a.stores.Pulls.FetchScope(ctx, scope, refresh)
		if err != nil && !errors.Is(err, cache.ErrFetchInFlight) {
			fmt.Fprintf(os.Stderr, "Error: failed to fetch pull requests: %v\n", err)
			os.Exit(1)
		}
		issues, err := a.stores.Issues.FetchScope(ctx, scope, refresh)
		if err != nil && !errors.Is(err, cache.ErrFetchInFlight) {
			fmt.Fprintf(os.Stderr, "Error: failed to fetch issues: %v\n", err)
			os.Exit(1)
		}
		labels, err := a.stores.Labels.FetchScope(ctx, scope, refresh)
		if err != nil && !errors.Is(err, cache.ErrFetchInFlight) {
			fmt.Fprintf(os.Stderr, "Error: failed to fetch labels: %v\n", err)
			os.Exit(1)
		}

		if err := a.ws.Select(scope); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		source := "provider"
		if cached {
			source = "archive"
		}
		fmt.Printf("%s Opened %s (%s)\n", ui.Success("✓"), ui.Scope(scope.String()), source)
		fmt.Printf("   Pull requests: %d\n", len(pulls))
		fmt.Printf("   Issues:        %d\n", len(issues))
		fmt.Printf("   Labels:        %d\n", len(labels))
		if cached {
			fmt.Printf("\nArchive contents may be stale; 'perch sync' refreshes them.\n")
		}
	},
}

func init() {
	openCmd.Flags().Bool("refresh", false, "Refetch from the provider even when archived")
	rootCmd.AddCommand(openCmd)
}
