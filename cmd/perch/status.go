package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "workspace",
	Short:   "Show workspace and cache status",
	Long: `Display the current state of the workspace and its cache.

Shows:
  - Selected repository and the recently-visited list
  - Per-repository cached record counts
  - Cache database location and size
  - Last completed workspace sync and any per-repository errors`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		fmt.Printf("\n%s\n\n", ui.Header("Perch Workspace"))

		selected := a.ws.Selected()
		if selected == "" {
			fmt.Printf("Selected: %s\n", ui.Dim("(none; run 'perch open <owner/name>')"))
		} else {
			fmt.Printf("Selected: %s\n", ui.Scope(selected.String()))
		}
		if recents := a.ws.Recents(); len(recents) > 0 {
			fmt.Printf("Recent:  ")
			for _, s := range recents {
				fmt.Printf(" %s", s)
			}
			fmt.Println()
		}
		fmt.Printf("Provider: %s\n", a.forge.Kind())

		seen := make(map[cache.Scope]bool)
		var scopes []cache.Scope
		for _, list := range [][]cache.Scope{
			a.stores.Pulls.Scopes(), a.stores.Issues.Scopes(), a.stores.Labels.Scopes(),
		} {
			for _, s := range list {
				if !seen[s] {
					seen[s] = true
					scopes = append(scopes, s)
				}
			}
		}
		sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
		if len(scopes) > 0 {
			fmt.Printf("\n%s\n", ui.Header("Cached Repositories"))
			rows := make([][]string, 0, len(scopes))
			for _, s := range scopes {
				rows = append(rows, []string{
					s.String(),
					fmt.Sprintf("%d", a.stores.Pulls.Count(s)),
					fmt.Sprintf("%d", a.stores.Issues.Count(s)),
					fmt.Sprintf("%d", a.stores.Labels.Count(s)),
				})
			}
			fmt.Println(ui.Table([]string{"REPOSITORY", "PRS", "ISSUES", "LABELS"}, rows))
		} else {
			fmt.Printf("\nNothing cached yet; 'perch open' or 'perch sync' populates the cache.\n")
		}

		fmt.Printf("\n%s\n", ui.Header("Cache Database"))
		fmt.Printf("Location: %s\n", a.db.Path())
		if info, err := os.Stat(a.db.Path()); err == nil {
			fmt.Printf("Size:     %s\n", formatSize(info.Size()))
			fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		}

		st := a.sync.Status()
		fmt.Printf("\n%s\n", ui.Header("Sync"))
		if st.LastSyncAt.IsZero() {
			fmt.Printf("Last sync: %s\n", ui.Dim("never"))
		} else {
			fmt.Printf("Last sync: %s\n", ui.RelativeTime(st.LastSyncAt))
		}
		if len(st.Errors) > 0 {
			fmt.Printf("%s %d repositories failed last sync:\n", ui.ErrorLine("⚠"), len(st.Errors))
			for _, e := range st.Errors {
				fmt.Printf("   %s: %s\n", e.Scope, e.Message)
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatSize renders a byte count the way humans read it.
func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
