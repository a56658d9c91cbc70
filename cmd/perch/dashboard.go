package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/perch-review/perch/internal/dashboard"
	"github.com/perch-review/perch/internal/syncer"
	"github.com/perch-review/perch/internal/workspace"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve live sync status over WebSocket",
	Long: `Start a WebSocket server broadcasting cache and sync state.

Connected clients receive:
  sync_status   every sync transition (progress, message, errors)
  stats         cached record counts per repository
  scope_change  selection and recently-visited changes

Clients can send {"action": "sync"} to trigger a workspace sync and
{"action": "stats"} to request a stats refresh.

Example:
  perch dashboard
  perch dashboard --addr 127.0.0.1:9000

Connect with a WebSocket client:
  ws://127.0.0.1:7420/ws`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger := appLogger("[dashboard] ")

		// The handler needs the coordinator for client-triggered syncs
		// and the coordinator needs the handler for status delivery;
		// the closure binds late to break the cycle.
		var handler *dashboard.Handler
		a, err := openAppWith(ctx, logger, func(st syncer.Status) {
			if handler != nil {
				handler.OnSyncStatus(st)
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if addr == "" {
			addr = a.cfg.Dashboard.Addr
		}
		server := dashboard.NewServer(&dashboard.Config{Addr: addr, Logger: logger})
		handler = dashboard.NewHandler(server, a.sync, a.stores, logger)
		server.SetCommandHandler(handler.HandleCommand)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		go watchSelection(ctx, a.ws, handler)

		fmt.Printf("Dashboard listening on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Dashboard stopped")
	},
}

// watchSelection polls the workspace file and pushes a scope_change
// message when the selection moves. Polling spares the dashboard a
// second fsnotify pipeline; the daemon owns the reactive one.
func watchSelection(ctx context.Context, ws *workspace.Manager, handler *dashboard.Handler) {
	last := ws.Selected()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.Reload(); err != nil {
				continue
			}
			if cur := ws.Selected(); cur != last {
				last = cur
				handler.OnScopeChange(cur, ws.Recents())
			}
		}
	}
}

func init() {
	dashboardCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:7420)")
	rootCmd.AddCommand(dashboardCmd)
}
