// Command ordersync keeps a local order database and a remote spreadsheet
// in sync.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ordersync",
	Short: "Bidirectional sync between the local order database and the remote sheet",
	Long: `ordersync keeps production orders consistent between the local SQLite
database and a rate-limited remote spreadsheet.

Orders and their line items flow in both directions: local changes are
pushed first (cancellations, headers, line items), then remote edits are
pulled back. Conflicts resolve last-writer-wins on the per-order
modification timestamp; every remote write is throttled to stay inside
the service's write quota.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: ordersync.yaml in . or ~/.config/ordersync)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
