package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/ui"
)

var clearCmd = &cobra.Command{
	Use:     "clear [pulls|issues|labels]",
	GroupID: "advanced",
	Short:   "Clear the cache, in memory and on disk",
	Long: `Clear cached records, both the in-memory levels and the durable
snapshots.

Without an argument every kind is cleared, after a confirmation.
Naming a kind clears just that one. Cleared data is refetched on the
next open or sync; local-only state (pins, resolved links, view
markers) is lost with it.

Example:
  perch clear labels
  perch clear --yes`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"pulls", "issues", "labels"},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		type target struct {
			kind  string
			clear func() error
		}
		all := []target{
			{"pulls", a.stores.Pulls.Clear},
			{"issues", a.stores.Issues.Clear},
			{"labels", a.stores.Labels.Clear},
		}

		var chosen []target
		if len(args) == 1 {
			for _, t := range all {
				if t.kind == args[0] {
					chosen = []target{t}
				}
			}
			if chosen == nil {
				fmt.Fprintf(os.Stderr, "Error: unknown cache kind %q; expected pulls, issues or labels\n", args[0])
				os.Exit(1)
			}
		} else {
			chosen = all
			if !yes {
				confirmed := false
				prompt := huh.NewConfirm().
					Title("Clear the entire cache?").
					Description("Pins, resolved links and view markers are lost; provider data is refetched on the next sync.").
					Value(&confirmed)
				if err := prompt.Run(); err != nil && !errors.Is(err, huh.ErrUserAborted) {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				if !confirmed {
					fmt.Println("Aborted.")
					return
				}
			}
		}

		for _, t := range chosen {
			if err := t.clear(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to clear %s: %v\n", t.kind, err)
				os.Exit(1)
			}
			fmt.Printf("%s Cleared %s\n", ui.Success("✓"), t.kind)
		}
		a.sync.Reset()
	},
}

func init() {
	clearCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}
