package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/migrate"
	"github.com/perch-review/perch/internal/ui"
)

var (
	migrateDir    string
	migrateDryRun bool
	migrateBackup bool
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "advanced",
	Short:   "Export or import the cache as JSONL",
	Long: `Move cached records between machines or tools as JSONL.

Export writes pulls.jsonl, issues.jsonl and labels.jsonl to a
directory; import reads them back through the merge path, so local
pins and link edits on this machine survive. Each file is written
atomically and --backup keeps a timestamped copy of anything that
would be overwritten.`,
}

var migrateExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all cached records to JSONL files",
	Long: `Write every cached repository's records to JSONL files.

Examples:
  perch migrate export
  perch migrate export --dir /tmp/perch-backup --backup
  perch migrate export --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		result, err := migrate.Export(a.stores.Pulls, a.stores.Issues, a.stores.Labels, migrate.Options{
			Dir:    migrateDir,
			DryRun: migrateDryRun,
			Backup: migrateBackup,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		for _, backup := range result.BackupsCreated {
			fmt.Printf("  Backed up %s\n", backup)
		}
		if migrateDryRun {
			fmt.Printf("Would export %d records (%d PRs, %d issues, %d labels)\n",
				result.Total(), result.Pulls, result.Issues, result.Labels)
			return
		}
		fmt.Printf("%s Exported %d records to %s (%d PRs, %d issues, %d labels)\n",
			ui.Success("✓"), result.Total(), migrateDir, result.Pulls, result.Issues, result.Labels)
	},
}

var migrateImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load records from JSONL files into the cache",
	Long: `Load JSONL records into the cache.

Records merge with what is already cached: newer server state wins,
pins and link edits made on this machine are kept. Missing files are
skipped, and a malformed file stops only its own kind.

Examples:
  perch migrate import --dir /tmp/perch-backup
  perch migrate import --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		result, err := migrate.Import(a.stores.Pulls, a.stores.Issues, a.stores.Labels, migrate.Options{
			Dir:    migrateDir,
			DryRun: migrateDryRun,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.ErrorLine("⚠"), e)
		}
		if migrateDryRun {
			fmt.Printf("Would import %d records (%d PRs, %d issues, %d labels)\n",
				result.Total(), result.Pulls, result.Issues, result.Labels)
			return
		}
		a.saver.Flush()
		fmt.Printf("%s Imported %d records (%d PRs, %d issues, %d labels)\n",
			ui.Success("✓"), result.Total(), result.Pulls, result.Issues, result.Labels)
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDir, "dir", "perch-export", "Directory for the JSONL files")
	migrateCmd.PersistentFlags().BoolVar(&migrateDryRun, "dry-run", false, "Count records without reading or writing files")
	migrateExportCmd.Flags().BoolVar(&migrateBackup, "backup", false, "Back up existing export files before overwriting")
	migrateCmd.AddCommand(migrateExportCmd)
	migrateCmd.AddCommand(migrateImportCmd)
	rootCmd.AddCommand(migrateCmd)
}
