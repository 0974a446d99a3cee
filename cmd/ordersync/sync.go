package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one full sync cycle",
	Long: `Run one full sync cycle against the configured spreadsheet.

The cycle executes five ordered phases:
  1. Push locally cancelled orders
  2. Push modified local order headers
  3. Replace remote line items of pushed orders
  4. Pull remote header changes
  5. Replace local line items of pulled orders

A failing phase aborts the cycle; completed writes are not rolled back
and the sync window only advances when every phase succeeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		offline, _ := cmd.Flags().GetBool("offline")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open local store: %w", err)
		}
		defer st.Close()

		client, err := newSheetClient(cfg, offline)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if since != "" {
			cutoff, err := parseSince(since)
			if err != nil {
				return err
			}
			if err := st.SetSyncWindow(ctx, cutoff); err != nil {
				return fmt.Errorf("failed to rewind sync window: %w", err)
			}
			fmt.Printf("%s Window rewound to %s\n",
				ui.RenderAccent("↺"), cutoff.Format("2006-01-02 15:04:05"))
		}

		orch := newOrchestrator(cfg, st, client, nil, nil)
		summary, err := orch.Run(ctx)
		if summary != nil {
			fmt.Print(ui.RenderSummary(summary))
		}
		if err != nil {
			os.Exit(1)
		}
		return nil
	},
}

// parseSince accepts an RFC3339/date literal or natural language
// ("2 hours ago", "yesterday").
func parseSince(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil || r == nil {
		return time.Time{}, fmt.Errorf("cannot parse --since %q", s)
	}
	return r.Time, nil
}

func init() {
	syncCmd.Flags().String("since", "", "rewind the sync window (date or natural language, e.g. \"2 hours ago\")")
	syncCmd.Flags().Bool("offline", false, "sync against an empty in-memory sheet (dry run of the push phases)")
	rootCmd.AddCommand(syncCmd)
}
