package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the standalone WebSocket dashboard server",
	Long: `Start a WebSocket dashboard server for monitoring sync activity.

The server broadcasts sync progress to connected clients:
- phase_started / phase_finished: per-phase progress and counters
- run_finished: full cycle summary including governor statistics
- line_change: line items added, removed or re-quantified on pull
- stats: cumulative run statistics

Normally the dashboard runs inside the daemon (ordersync daemon
--with-dashboard); this command serves it standalone, e.g. for
inspecting the message stream with a WebSocket client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			port = cfg.Dashboard.Port
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		return server.Stop()
	},
}

func init() {
	dashboardCmd.Flags().Int("port", 0, "port to listen on (default: from config)")
	rootCmd.AddCommand(dashboardCmd)
}
