package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/ui"
)

var issuesCmd = &cobra.Command{
	Use:     "issues",
	GroupID: "browse",
	Short:   "List cached issues for the selected repository",
	Long: `List the cached issues of the selected repository.

Everything is served from the local cache. The LINKS column shows the
pull requests resolved as closing each issue; 'perch links <number>'
prints them in full.

Example:
  perch issues
  perch issues --state all`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		state, _ := cmd.Flags().GetString("state")

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		scope, err := a.requireSelected()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var rows [][]string
		for _, issue := range a.stores.Issues.ScopeRecords(scope) {
			if !matchIssueState(issue, state) {
				continue
			}
			rows = append(rows, []string{
				fmt.Sprintf("#%d", issue.Number),
				ui.IssueBadge(issue),
				ui.Truncate(issue.Title, 60),
				ui.LinkNote(issue),
				ui.RelativeTime(issue.UpdatedAt),
			})
		}

		if len(rows) == 0 {
			fmt.Printf("No cached issues match in %s.\n", ui.Scope(scope.String()))
			fmt.Println("'perch sync' refreshes the cache; --state all widens the filter.")
			return
		}
		fmt.Printf("\n%s %s\n\n", ui.Header("Issues"), ui.Scope(scope.String()))
		fmt.Println(ui.Table([]string{"NUM", "STATE", "TITLE", "LINKS", "UPDATED"}, rows))
	},
}

func init() {
	issuesCmd.Flags().String("state", "open", "Filter by state: open, closed, all")
	rootCmd.AddCommand(issuesCmd)
}

func matchIssueState(issue cache.Issue, state string) bool {
	switch state {
	case "all", "":
		return true
	default:
		return issue.State == state
	}
}
