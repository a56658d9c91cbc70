package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/ui"
)

var linksCmd = &cobra.Command{
	Use:     "links <issue>",
	GroupID: "browse",
	Short:   "Show the pull requests linked to an issue",
	Long: `Show which pull requests close an issue.

By default the links are recomputed locally by scanning the cached
pull request bodies for closing references (Closes #12, Fixes #9 and
friends); nothing touches the network, and links written moments ago
by 'perch link' are already visible.

With --remote the provider's own link graph is fetched and becomes
the cached truth. The provider can lag recent body edits, so prefer
the local mode right after linking.

Example:
  perch links 12
  perch links octo/reef#12 --remote`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		remote, _ := cmd.Flags().GetBool("remote")

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
		issue, ok := a.stores.Issues.Get(key)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: issue %s is not cached; open or sync its repository first\n", key)
			os.Exit(1)
		}

		var refs []cache.LinkedReference
		if remote {
			refs, err = a.links.ResolveRemote(ctx, key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		} else {
			refs = a.links.RefreshLocal(key)
		}
		a.saver.Flush()

		fmt.Printf("\n%s #%d %s\n\n", ui.Header("Linked work for"), issue.Number, issue.Title)
		if len(refs) == 0 {
			fmt.Println(ui.Dim("No linked pull requests."))
			fmt.Println("\n'perch link <issue> <pr>' records one.")
			return
		}
		rows := make([][]string, 0, len(refs))
		for _, ref := range refs {
			rows = append(rows, []string{
				fmt.Sprintf("#%d", ref.Number),
				linkedState(ref),
				ui.Truncate(ref.Title, 60),
				ref.HeadRef,
			})
		}
		fmt.Println(ui.Table([]string{"PR", "STATE", "TITLE", "BRANCH"}, rows))
	},
}

var linkCmd = &cobra.Command{
	Use:     "link <issue> <pr>",
	GroupID: "browse",
	Short:   "Link a pull request to an issue",
	Long: `Record that a pull request closes an issue.

The link is written as a closing reference in the pull request body on
the provider, then the issue's cached links are recomputed locally so
the new link shows up immediately, before the provider's own link
graph catches up.

Example:
  perch link 12 41           # PR #41 closes issue #12
  perch link octo/reef#12 octo/reef#41`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runLinkEdit(cmd, args, true)
	},
}

var unlinkCmd = &cobra.Command{
	Use:     "unlink <issue> <pr>",
	GroupID: "browse",
	Short:   "Remove the link between a pull request and an issue",
	Long: `Remove a closing reference from a pull request body and recompute
the issue's cached links.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runLinkEdit(cmd, args, false)
	},
}

func runLinkEdit(cmd *cobra.Command, args []string, add bool) {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	issueKey, err := a.resolveRef(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	pullKey, err := a.resolveRef(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if add {
		err = a.links.Link(ctx, issueKey, pullKey)
	} else {
		err = a.links.Unlink(ctx, issueKey, pullKey)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	a.saver.Flush()

	if add {
		fmt.Printf("%s Linked %s to issue %s\n", ui.Success("✓"), pullKey, issueKey)
	} else {
		fmt.Printf("%s Unlinked %s from issue %s\n", ui.Success("✓"), pullKey, issueKey)
	}
}

func linkedState(ref cache.LinkedReference) string {
	switch {
	case ref.Merged:
		return "merged"
	case ref.Draft:
		return "draft"
	default:
		return ref.State
	}
}

func init() {
	linksCmd.Flags().Bool("remote", false, "Fetch the provider's link graph instead of scanning cached bodies")
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
}
