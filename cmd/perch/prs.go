package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/ui"
)

var prsCmd = &cobra.Command{
	Use:     "prs",
	GroupID: "browse",
	Short:   "List cached pull requests for the selected repository",
	Long: `List the cached pull requests of the selected repository.

Everything is served from the local cache; no network access happens.
Filters:

  --state     open | closed | merged | draft | all (default open)
  --pinned    only pinned pull requests
  --updated-since
              natural language cut-off, e.g. "yesterday",
              "2 days ago", "last monday"

Example:
  perch prs
  perch prs --state all --updated-since "3 days ago"`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		state, _ := cmd.Flags().GetString("state")
		pinnedOnly, _ := cmd.Flags().GetBool("pinned")
		sinceExpr, _ := cmd.Flags().GetString("updated-since")

		var since time.Time
		if sinceExpr != "" {
			t, err := parseNaturalTime(sinceExpr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			since = t
		}

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
		shown := 0
		for _, pr := range a.stores.Pulls.ScopeRecords(scope) {
			if !matchPullState(pr, state) {
				continue
			}
			if pinnedOnly && !pr.Local.Pinned {
				continue
			}
			if !since.IsZero() && pr.UpdatedAt.Before(since) {
				continue
			}
			shown++
			marker := " "
			if pr.Local.Pinned {
				marker = "*"
			}
			rows = append(rows, []string{
				fmt.Sprintf("%s#%d", marker, pr.Number),
				ui.PullBadge(pr),
				ui.Truncate(pr.Title, 60),
				pr.Author,
				ui.RelativeTime(pr.UpdatedAt),
			})
		}

		if shown == 0 {
			fmt.Printf("No cached pull requests match in %s.\n", ui.Scope(scope.String()))
			fmt.Println("'perch sync' refreshes the cache; --state all widens the filter.")
			return
		}
		fmt.Printf("\n%s %s\n\n", ui.Header("Pull Requests"), ui.Scope(scope.String()))
		fmt.Println(ui.Table([]string{"NUM", "STATE", "TITLE", "AUTHOR", "UPDATED"}, rows))
	},
}

var prsPinCmd = &cobra.Command{
	Use:   "pin <number>",
	Short: "Pin or unpin a pull request",
	Long: `Toggle the pin marker on a cached pull request.

Pins are local-only state: they are never sent to the provider and
they survive every sync and restart. 'perch prs --pinned' lists them.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		key, err := a.resolveKey(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		pr, ok := a.stores.Pulls.Get(key)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: pull request %s is not cached; open or sync its repository first\n", key)
			os.Exit(1)
		}

		// Put, not Mutate: unpinning can clear the last local field,
		// which the optimistic merge would read as "inherit".
		pr.Local.Pinned = !pr.Local.Pinned
		a.stores.Pulls.Put(pr)
		a.saver.Flush()

		if pr.Local.Pinned {
			fmt.Printf("%s Pinned %s: %s\n", ui.Success("✓"), key, pr.Title)
		} else {
			fmt.Printf("%s Unpinned %s\n", ui.Success("✓"), key)
		}
	},
}

var prsViewCmd = &cobra.Command{
	Use:   "view <number>",
	Short: "Show one cached pull request in full",
	Long: `Show a cached pull request: description, branches, labels, review
decision and linked issues. Marks the pull request as viewed.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		key, err := a.resolveKey(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		pr, ok := a.stores.Pulls.Get(key)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: pull request %s is not cached; open or sync its repository first\n", key)
			os.Exit(1)
		}

		fmt.Printf("\n%s %s\n", ui.Header(fmt.Sprintf("#%d %s", pr.Number, pr.Title)), ui.PullBadge(pr))
		fmt.Printf("%s · %s", ui.Scope(pr.Scope.String()), pr.Author)
		if pr.HeadRef != "" || pr.BaseRef != "" {
			fmt.Printf(" · %s -> %s", pr.HeadRef, pr.BaseRef)
		}
		fmt.Println()
		if len(pr.Labels) > 0 {
			fmt.Printf("Labels: %s\n", strings.Join(pr.Labels, ", "))
		}
		if pr.ReviewDecision != "" {
			fmt.Printf("Review: %s\n", pr.ReviewDecision)
		}
		if len(pr.ClosingIssues) > 0 {
			refs := make([]string, len(pr.ClosingIssues))
			for i, n := range pr.ClosingIssues {
				refs[i] = fmt.Sprintf("#%d", n)
			}
			fmt.Printf("Closes: %s\n", strings.Join(refs, " "))
		}
		if pr.URL != "" {
			fmt.Printf("URL:    %s\n", ui.Dim(pr.URL))
		}
		fmt.Println()
		if body := strings.TrimSpace(pr.Body); body != "" {
			fmt.Println(body)
		} else {
			fmt.Println(ui.Dim("(no description)"))
		}
		fmt.Println()

		now := time.Now().UTC()
		pr.Local.LastViewedAt = &now
		a.stores.Pulls.Put(pr)
		a.saver.Flush()
	},
}

func init() {
	prsCmd.Flags().String("state", "open", "Filter by state: open, closed, merged, draft, all")
	prsCmd.Flags().Bool("pinned", false, "Only pinned pull requests")
	prsCmd.Flags().String("updated-since", "", "Only pull requests updated since this time (natural language)")
	prsCmd.AddCommand(prsPinCmd)
	prsCmd.AddCommand(prsViewCmd)
	rootCmd.AddCommand(prsCmd)
}

// matchPullState applies the --state filter.
func matchPullState(pr cache.PullRequest, state string) bool {
	switch state {
	case "all", "":
		return true
	case "open":
		return pr.State == "open" && !pr.Draft
	case "draft":
		return pr.Draft && pr.State == "open"
	case "merged":
		return pr.Merged
	case "closed":
		return pr.State == "closed" && !pr.Merged
	default:
		return true
	}
}

// parseNaturalTime resolves expressions like "2 days ago" or
// "last monday" against the current clock.
func parseNaturalTime(expr string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q; try e.g. \"2 days ago\"", expr)
	}
	return r.Time, nil
}
