package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/daemon"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/dashboard"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/engine"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in foreground mode.

The daemon:
  1. Runs a full sync cycle on startup
  2. Repeats on the configured interval
  3. Watches the local database and triggers a debounced cycle on change

With --with-dashboard it also serves the WebSocket dashboard and streams
every cycle's progress to connected clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("with-dashboard")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open local store: %w", err)
		}
		defer st.Close()

		client, err := newSheetClient(cfg, false)
		if err != nil {
			return err
		}

		var events engine.EventSink
		if withDashboard {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			events = dashboard.NewHandler(server, nil)
			fmt.Printf("%s Dashboard on ws://%s/ws\n", ui.RenderAccent("📡"), server.GetAddr())
		}

		orch := newOrchestrator(cfg, st, client, events, nil)
		d, err := daemon.NewWithConfig(orch, cfg.DatabasePath, &daemon.Config{
			Interval:         cfg.Daemon.Interval,
			DebounceInterval: cfg.Daemon.DebounceInterval,
			LogFile:          cfg.Daemon.LogFile,
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		fmt.Printf("%s Starting sync daemon (every %v)\n", ui.RenderAccent("🚀"), cfg.Daemon.Interval)
		fmt.Printf("   Database: %s\n", cfg.DatabasePath)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("with-dashboard", false, "also serve the WebSocket dashboard")
	rootCmd.AddCommand(daemonCmd)
}
