package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/ui"
)

var labelsCmd = &cobra.Command{
	Use:     "labels",
	GroupID: "browse",
	Short:   "List and manage labels for the selected repository",
	Long: `List the cached labels of the selected repository, or manage them.

Listing is cache-only. Create and edit write to the provider first and
then fold the stored result into the cache, so the local view shows
the provider-assigned ID immediately.

Example:
  perch labels
  perch labels create backport --color fbca04
  perch labels edit bug --description "Confirmed defects only"`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runLabelsList(cmd)
	},
}

var labelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached labels",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runLabelsList(cmd)
	},
}

func runLabelsList(cmd *cobra.Command) {
	ctx := cmd.Context()

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

	labels := a.stores.Labels.ScopeRecords(scope)
	if len(labels) == 0 {
		fmt.Printf("No cached labels in %s; 'perch sync' refreshes the cache.\n", ui.Scope(scope.String()))
		return
	}

	rows := make([][]string, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, []string{
			ui.LabelChip(l),
			l.Color,
			ui.Truncate(l.Description, 50),
		})
	}
	fmt.Printf("\n%s %s\n\n", ui.Header("Labels"), ui.Scope(scope.String()))
	fmt.Println(ui.Table([]string{"NAME", "COLOR", "DESCRIPTION"}, rows))
}

var labelsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a label on the provider and cache it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		color, _ := cmd.Flags().GetString("color")
		description, _ := cmd.Flags().GetString("description")

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

		created, err := a.forge.CreateLabel(ctx, scope, cache.Label{
			Scope:       scope,
			Name:        args[0],
			Color:       color,
			Description: description,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		a.stores.Labels.Mutate(created)
		a.saver.Flush()

		fmt.Printf("%s Created label %s (#%s)\n", ui.Success("✓"), ui.LabelChip(created), created.Color)
	},
}

var labelsEditCmd = &cobra.Command{
	Use:   "edit <name>",
	Short: "Edit a label on the provider and update the cache",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

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

		label, ok := findLabel(a, scope, args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: label %q is not cached for %s; 'perch sync' refreshes the cache\n", args[0], scope)
			os.Exit(1)
		}

		if cmd.Flags().Changed("name") {
			label.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("color") {
			label.Color, _ = cmd.Flags().GetString("color")
		}
		if cmd.Flags().Changed("description") {
			label.Description, _ = cmd.Flags().GetString("description")
		}

		updated, err := a.forge.UpdateLabel(ctx, scope, label)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		a.stores.Labels.Mutate(updated)
		a.saver.Flush()

		fmt.Printf("%s Updated label %s\n", ui.Success("✓"), ui.LabelChip(updated))
	},
}

func findLabel(a *app, scope cache.Scope, name string) (cache.Label, bool) {
	for _, l := range a.stores.Labels.ScopeRecords(scope) {
		if l.Name == name {
			return l, true
		}
	}
	return cache.Label{}, false
}

func init() {
	labelsCreateCmd.Flags().String("color", "ededed", "Label color as a hex code without #")
	labelsCreateCmd.Flags().String("description", "", "Label description")
	labelsEditCmd.Flags().String("name", "", "New label name")
	labelsEditCmd.Flags().String("color", "", "New label color as a hex code without #")
	labelsEditCmd.Flags().String("description", "", "New label description")
	labelsCmd.AddCommand(labelsListCmd)
	labelsCmd.AddCommand(labelsCreateCmd)
	labelsCmd.AddCommand(labelsEditCmd)
	rootCmd.AddCommand(labelsCmd)
}
