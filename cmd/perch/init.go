package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/config"
	"github.com/perch-review/perch/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "workspace",
	Short:   "Set up a perch workspace interactively",
	Long: `Set up a perch workspace.

An interactive form asks for:
  1. The first repository to open (owner/name)
  2. A forge access token (optional; blank selects the offline
     fixture, and PERCH_TOKEN / GITHUB_TOKEN / GH_TOKEN still work)
  3. Whether to run the first sync immediately

The data directory (default ~/.perch) receives the cache database,
the workspace state file and, when a token was entered, a token file
readable only by you.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		var (
			repo    string
			token   string
			syncNow = true
		)
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Repository").
					Description("The first repository to open, as owner/name.").
					Placeholder("octo/reef").
					Validate(func(s string) error {
						_, err := cache.ParseScope(s)
						return err
					}).
					Value(&repo),
				huh.NewInput().
					Title("Access token").
					Description("Forge API token. Leave blank to browse the built-in fixture offline.").
					EchoMode(huh.EchoModePassword).
					Value(&token),
				huh.NewConfirm().
					Title("Run the first sync now?").
					Value(&syncNow),
			),
		)
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Aborted.")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		scope, err := cache.ParseScope(repo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg, err := config.Load(flagConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create data directory: %v\n", err)
			os.Exit(1)
		}
		// The token file lands before openApp so the credential chain
		// picks it up for the sync below.
		if token != "" {
			if err := os.WriteFile(cfg.TokenFilePath(), []byte(token+"\n"), 0600); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to write token file: %v\n", err)
				os.Exit(1)
			}
		}

		a, err := openAppWith(ctx, appLogger("[perch] "), syncProgress())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if err := a.ws.Select(scope); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Workspace ready\n", ui.Success("✓"))
		fmt.Printf("   Data dir:   %s\n", cfg.DataDir)
		fmt.Printf("   Repository: %s\n", ui.Scope(scope.String()))
		fmt.Printf("   Provider:   %s\n", a.forge.Kind())
		if token != "" {
			fmt.Printf("   Token file: %s\n", cfg.TokenFilePath())
		}

		if syncNow {
			fmt.Println()
			runWorkspaceSync(ctx, a)
		} else {
			fmt.Printf("\nRun 'perch sync' when you want to fetch %s.\n", scope)
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// runWorkspaceSync runs a full workspace sync and prints the outcome.
// Shared by init and sync.
func runWorkspaceSync(ctx context.Context, a *app) {
	fmt.Printf("Syncing workspace (%d repositories)...\n", len(a.ws.SyncTargets()))
	if err := a.sync.SyncAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printSyncOutcome(a)
}
