package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/ui"
)

// statusReport is the machine-readable shape of `ordersync status`.
type statusReport struct {
	Database   string `yaml:"database"`
	SizeBytes  int64  `yaml:"size_bytes"`
	Orders     int    `yaml:"orders"`
	Lines      int    `yaml:"lines"`
	LastSynced string `yaml:"last_synced"`
	Remote     string `yaml:"remote"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store and sync window status",
	Long: `Display the current state of the local order database.

Shows:
  - Database location and size
  - Number of orders and line items
  - Sync window cutoff (time of the last successful cycle)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		info, err := os.Stat(cfg.DatabasePath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Local database not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'ordersync sync' to create it\n\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check database: %w", err)
		}

		st, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		ctx := cmd.Context()
		orders, err := st.OrderCount(ctx)
		if err != nil {
			return err
		}
		lines, err := st.LineCount(ctx)
		if err != nil {
			return err
		}
		window, err := st.SyncWindow(ctx)
		if err != nil {
			return err
		}

		lastSynced := "never"
		if !window.IsZero() {
			lastSynced = window.Local().Format("2006-01-02 15:04:05")
		}
		remote := cfg.SpreadsheetID
		if remote == "" {
			remote = "(offline)"
		}

		if format == "yaml" {
			report := statusReport{
				Database:   cfg.DatabasePath,
				SizeBytes:  info.Size(),
				Orders:     orders,
				Lines:      lines,
				LastSynced: lastSynced,
				Remote:     remote,
			}
			out, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		}

		fmt.Printf("\n%s Order Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Database: %s (%s)\n", cfg.DatabasePath, formatSize(info.Size()))
		fmt.Printf("Orders: %d\n", orders)
		fmt.Printf("Line items: %d\n", lines)
		fmt.Printf("Last synced: %s\n", lastSynced)
		fmt.Printf("Remote: %s\n", remote)
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Println()
		return nil
	},
}

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

func init() {
	statusCmd.Flags().String("format", "text", "output format: text or yaml")
	rootCmd.AddCommand(statusCmd)
}
