// Package observability provides formatted output for the CLI reports.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/bidpilot/internal/journey"
	"github.com/jonathan/bidpilot/internal/notify"
	"github.com/jonathan/bidpilot/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer handles formatted output for CLI reports
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPipelineStats outputs phase counts in forward order followed by the
// off-path phases and the funnel ratios.
func (p *Printer) PrintPipelineStats(stats *journey.PipelineStats) {
	if stats == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Jobs in pipeline: %d\n\n", stats.Total))

	for _, phase := range append(append([]types.JourneyPhase{}, types.ForwardPhases...), types.TerminalPhases...) {
		if n := stats.PhaseCounts[phase]; n > 0 {
			sb.WriteString(fmt.Sprintf("  %-22s %5d\n", phase, n))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Proposal rate:  %5.1f%%  (%d sent)\n", stats.ProposalRate*100, stats.ProposalsSent))
	sb.WriteString(fmt.Sprintf("Win rate:       %5.1f%%  (%d won)\n", stats.WinRate*100, stats.Won))
	sb.WriteString(fmt.Sprintf("Delivery rate:  %5.1f%%  (%d delivered)", stats.DeliveryRate*100, stats.Delivered))

	p.printBox("PIPELINE STATS", sb.String())
}

// PrintPipeline outputs the most recently active jobs with their phase
func (p *Printer) PrintPipeline(entries []journey.PipelineEntry) {
	if len(entries) == 0 {
		p.printBox("PIPELINE", "No jobs yet")
		return
	}

	sorted := make([]journey.PipelineEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lastActive(sorted[i]).After(lastActive(sorted[j]))
	})

	var sb strings.Builder
	count := min(len(sorted), maxItemsToShow)
	for i := 0; i < count; i++ {
		entry := sorted[i]
		sb.WriteString(fmt.Sprintf("• %s\n", entry.Job.Title))
		line := fmt.Sprintf("  %s", entry.Phase)
		if entry.PhaseSource == journey.PhaseFromStatus {
			line += " (from status)"
		}
		if entry.Proposal != nil {
			line += fmt.Sprintf(" · proposal %s", entry.Proposal.Status)
		}
		if entry.Project != nil {
			line += fmt.Sprintf(" · project %s", entry.Project.Status)
		}
		sb.WriteString(line)
		if i < count-1 {
			sb.WriteString("\n")
		}
	}
	if len(sorted) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n\n... and %d more jobs", len(sorted)-maxItemsToShow))
	}

	p.printBox("PIPELINE", sb.String())
}

// PrintChannelHealth outputs each provider's health signal
func (p *Printer) PrintChannelHealth(health map[types.Channel]bool) {
	if len(health) == 0 {
		p.printBox("CHANNELS", "No providers registered")
		return
	}

	channels := make([]string, 0, len(health))
	for ch := range health {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)

	var sb strings.Builder
	for i, ch := range channels {
		mark := "✗ not ready"
		if health[types.Channel(ch)] {
			mark = "✓ ready"
		}
		sb.WriteString(fmt.Sprintf("%-10s %s", ch, mark))
		if i < len(channels)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox("CHANNELS", sb.String())
}

// PrintAlertSummary outputs the result of one alert processing run
func (p *Printer) PrintAlertSummary(summary *notify.Summary) {
	if summary == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Correlation: %s\n", summary.CorrelationID))
	sb.WriteString(fmt.Sprintf("Evaluated %d · notified %d · skipped %d · errors %d\n",
		summary.Evaluated, summary.Notified, summary.Skipped, summary.Errored))
	sb.WriteString(fmt.Sprintf("Sends: %d ok, %d failed", summary.SendsOK, summary.SendsFailed))
	if summary.SendsDup > 0 {
		sb.WriteString(fmt.Sprintf(", %d duplicate", summary.SendsDup))
	}

	for _, user := range summary.Users {
		sb.WriteString(fmt.Sprintf("\n\n%s  %s", user.UserID, user.Outcome))
		for _, res := range user.Results {
			if res.Success {
				sb.WriteString(fmt.Sprintf("\n  ✓ %s", res.Channel))
			} else {
				sb.WriteString(fmt.Sprintf("\n  ✗ %s: %s", res.Channel, res.Error))
			}
		}
	}
	p.printBox("ALERT SUMMARY", sb.String())
}

func lastActive(e journey.PipelineEntry) time.Time {
	if e.LastActivityAt != nil {
		return *e.LastActivityAt
	}
	return e.Job.CapturedAt
}

// clip shortens s to width runes, marking the cut with "..."
func clip(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
