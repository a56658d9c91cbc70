package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the workspace cache fresh in the background",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Syncs the whole workspace on startup
  2. Watches the workspace file, so opening a repository in another
     terminal triggers a sync for it
  3. Re-syncs the whole workspace on a fixed interval

Activity goes to a rotating log file (default
<data_dir>/logs/perchd.log). Stop with Ctrl+C; pending cache writes
are flushed on the way out.

Example:
  perch daemon
  perch daemon --interval 10m`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// The daemon's subsystem logs go to the rotating file, not the
		// terminal; config must load first to know where that is.
		cfg, err := loadConfigOnly()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger, logCloser, err := daemon.OpenLogger(cfg.DaemonLogPath(), cfg.Daemon.LogMaxSizeMB, cfg.Daemon.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if logCloser != nil {
			defer logCloser.Close()
		}

		a, err := openAppWithLogger(ctx, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if interval <= 0 {
			interval = a.cfg.Daemon.Interval
		}
		d, err := daemon.NewWithConfig(a.sync, a.ws, &daemon.Config{
			SyncInterval: interval,
			Logger:       logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Daemon running: %d repositories, sync every %s\n", len(a.ws.SyncTargets()), interval)
		fmt.Printf("Log: %s\n", a.cfg.DaemonLogPath())
		fmt.Println("Press Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: daemon stopped: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nDaemon stopped")
	},
}

func init() {
	daemonCmd.Flags().Duration("interval", 0, "Override the workspace sync interval")
	rootCmd.AddCommand(daemonCmd)
}
