// Package ui renders terminal output for the ordersync CLI.
//
// Styling degrades gracefully: when stdout is not a terminal or the
// environment requests no color, every renderer returns plain text.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/engine"
)

var colorEnabled = term.IsTerminal(int(os.Stdout.Fd())) &&
	termenv.EnvColorProfile() != termenv.Ascii

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles headline text.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warning markers.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles failure markers.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderDim styles secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderSummary formats a sync run summary for the terminal.
func RenderSummary(s *engine.Summary) string {
	var b strings.Builder

	if s.OK {
		fmt.Fprintf(&b, "%s Sync complete in %v\n", RenderPass("✓"), s.Duration().Round(time.Millisecond))
	} else {
		fmt.Fprintf(&b, "%s Sync aborted: %s\n", RenderFail("✗"), s.Abort)
	}

	for _, p := range s.Phases {
		mark := RenderPass("✓")
		if !p.OK {
			mark = RenderFail("✗")
		}
		fmt.Fprintf(&b, "  %s %-22s read=%-4d inserted=%-4d updated=%-4d deleted=%-4d skipped=%-4d",
			mark, p.Phase, p.Read, p.Inserted, p.Updated, p.Deleted, p.Skipped)
		if len(p.Errors) > 0 {
			fmt.Fprintf(&b, " %s", RenderWarn(fmt.Sprintf("errors=%d", len(p.Errors))))
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "  %s\n", RenderDim(fmt.Sprintf(
		"governor: %d writes, %d retries, %d quota hits, waited %v",
		s.Governor.Writes, s.Governor.Retries, s.Governor.QuotaHits,
		s.Governor.TotalWaited.Round(time.Millisecond))))

	if s.OK {
		fmt.Fprintf(&b, "  %s\n", RenderDim(fmt.Sprintf(
			"window: %s → %s", formatWindow(s.WindowBefore), formatWindow(s.WindowAfter))))
	}
	return b.String()
}

func formatWindow(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05")
}
