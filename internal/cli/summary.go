// Package cli renders orchestration results for terminals.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/orchestrator"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Printer writes human-readable run summaries.
type Printer struct {
	w        io.Writer
	colorize bool
}

// NewPrinter creates a printer. Color is enabled only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, colorize: isTerminal(w)}
}

// DisableColor disables colored output
func (p *Printer) DisableColor() *Printer {
	p.colorize = false
	return p
}

func (p *Printer) color(text, color string) string {
	if !p.colorize {
		return text
	}
	return color + text + ColorReset
}

func (p *Printer) marker(o orchestrator.Outcome) string {
	switch o {
	case orchestrator.OutcomeReached:
		return p.color("✓", ColorGreen)
	case orchestrator.OutcomeError:
		return p.color("✗", ColorRed)
	default:
		return p.color("-", ColorYellow)
	}
}

// Summary prints one line per stage report followed by the run verdict.
func (p *Printer) Summary(res *orchestrator.Result, elapsed time.Duration) {
	if res == nil {
		return
	}

	header := fmt.Sprintf("run %s", res.RunID)
	if res.IntentID != nil {
		header += fmt.Sprintf(" intent #%d", *res.IntentID)
	}
	fmt.Fprintln(p.w, p.color(header, ColorBold))

	for _, rep := range res.StageReports {
		line := fmt.Sprintf("%s %-20s", p.marker(rep.Outcome), rep.Stage)
		if rep.Function != "" {
			line += " " + rep.Function
		}
		if rep.Relayed {
			line += p.color(" (relayed)", ColorCyan)
		}
		if rep.Error != "" {
			line += ": " + rep.Error
		}
		fmt.Fprintln(p.w, strings.TrimRight(line, " "))
	}

	verdict := p.color("completed", ColorGreen)
	switch {
	case res.Reached(intent.StageFailed):
		verdict = p.color("failed", ColorRed)
	case res.Anomalous:
		verdict = p.color("disputed", ColorYellow) + " [" + strings.Join(res.AnomalySignals, ", ") + "]"
	}
	fmt.Fprintf(p.w, "%s in %s\n", verdict, formatDuration(elapsed))
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	return err == nil && (fileInfo.Mode()&os.ModeCharDevice) != 0
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
