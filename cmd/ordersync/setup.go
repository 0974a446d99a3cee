package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:     "setup",
	GroupID: "advanced",
	Short:   "Interactively create an ordersync.yaml",
	Long: `Walk through the configuration interactively and write ordersync.yaml
to the current directory.

The access token is intentionally not stored in the file; supply it via
the ORDERSYNC_ACCESS_TOKEN environment variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spreadsheetID := ""
		dbPath := "ordersync.db"
		ordersTab := "Orders"
		linesTab := "Lines"
		precision := 2
		confirmed := true

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Spreadsheet ID").
					Description("Leave empty for offline mode").
					Value(&spreadsheetID),
				huh.NewInput().
					Title("Database path").
					Value(&dbPath),
				huh.NewInput().
					Title("Orders tab name").
					Value(&ordersTab),
				huh.NewInput().
					Title("Line items tab name").
					Value(&linesTab),
				huh.NewSelect[int]().
					Title("Decimal precision").
					Options(
						huh.NewOption("2 places", 2),
						huh.NewOption("3 places", 3),
					).
					Value(&precision),
				huh.NewConfirm().
					Title("Write ordersync.yaml to the current directory?").
					Value(&confirmed),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("setup aborted: %w", err)
		}
		if !confirmed {
			fmt.Println("Nothing written.")
			return nil
		}

		out, err := yaml.Marshal(map[string]any{
			"database_path":  dbPath,
			"spreadsheet_id": spreadsheetID,
			"orders_tab":     ordersTab,
			"lines_tab":      linesTab,
			"precision":      precision,
		})
		if err != nil {
			return err
		}
		if err := os.WriteFile("ordersync.yaml", out, 0644); err != nil {
			return fmt.Errorf("failed to write ordersync.yaml: %w", err)
		}

		fmt.Printf("%s Wrote ordersync.yaml\n", ui.RenderPass("✓"))
		if spreadsheetID != "" {
			fmt.Printf("Set ORDERSYNC_ACCESS_TOKEN and run 'ordersync sync' to start.\n")
		} else {
			fmt.Printf("Offline mode: 'ordersync sync --offline' runs against an in-memory sheet.\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
