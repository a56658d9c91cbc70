package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/brief"
	"github.com/perch-review/perch/internal/ui"
)

var briefCmd = &cobra.Command{
	Use:     "brief <number>",
	GroupID: "advanced",
	Short:   "Generate a reviewer brief for a cached pull request",
	Long: `Summarize a cached pull request for review.

The prompt is assembled from the cache: the pull request record, the
issues it closes and the live review threads. The summary itself comes
from the Anthropic API and needs ANTHROPIC_API_KEY set; model and
length are configurable under 'brief' in the config file.

Example:
  perch brief 41
  perch brief octo/reef#41`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			fmt.Fprintf(os.Stderr, "Error: ANTHROPIC_API_KEY is not set\n")
			os.Exit(1)
		}

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

		completer, err := brief.NewAnthropicCompleter(apiKey, a.cfg.Brief.Model, int64(a.cfg.Brief.MaxTokens))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		generator, err := brief.NewGenerator(a.stores.Pulls, a.stores.Issues, a.forge, completer, a.logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Generating brief for %s...\n\n", ui.Scope(key.String()))
		out, err := generator.PullBrief(ctx, key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out)
	},
}

func init() {
	rootCmd.AddCommand(briefCmd)
}
