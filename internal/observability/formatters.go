// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/matching"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
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
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

// PrintMatch outputs a calibrated match with its eligibility, signals and calibration trace.
func (p *Printer) PrintMatch(m *matching.Match) {
	if m == nil {
		return
	}

	var sb strings.Builder
	title := m.ProgramID
	if m.ProgramTitle != "" {
		title = m.ProgramTitle + " (" + m.ProgramID + ")"
	}
	sb.WriteString(fmt.Sprintf("Program:  %s\n", title))

	if !m.Eligibility.Eligible {
		sb.WriteString("Score:    0 (ineligible)\n")
		sb.WriteString(fmt.Sprintf("Rule:     %s\n", m.Eligibility.FailedRule))
		sb.WriteString(fmt.Sprintf("Reason:   %s", m.Eligibility.Reason))
		p.printBox("MATCH RESULT", sb.String())
		return
	}

	sb.WriteString(fmt.Sprintf("Score:    %d", m.Score))
	if m.RawScore != nil {
		sb.WriteString(fmt.Sprintf(" (raw %d, offset %+d)", *m.RawScore, m.Offset))
	}
	sb.WriteString("\n")
	if m.Attempts > 1 {
		sb.WriteString(fmt.Sprintf("Attempts: %d\n", m.Attempts))
	}
	sb.WriteString(fmt.Sprintf("Signals:  documents=%t context=%t completeness=%.0f%%\n",
		m.Signals.HasDocuments, m.Signals.HasRetrievalContext, m.Signals.ProfileCompleteness*100))

	if len(m.Trace) > 0 {
		steps := make([]string, len(m.Trace))
		for i, t := range m.Trace {
			steps[i] = fmt.Sprintf("%s=%.0f", t.Step, t.Value)
		}
		sb.WriteString(fmt.Sprintf("Trace:    %s\n", strings.Join(steps, " → ")))
	}

	writeList(&sb, "Strengths", m.Strengths)
	writeList(&sb, "Gaps", m.Gaps)

	p.printBox("MATCH RESULT", strings.TrimSuffix(sb.String(), "\n"))
}

func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\n" + label + ":\n")
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", items[i]))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-maxItemsToShow))
	}
}

// PrintBatch outputs one line per batch item in request order.
func (p *Printer) PrintBatch(results []matching.BatchResult) {
	if len(results) == 0 {
		return
	}

	var sb strings.Builder
	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			sb.WriteString(fmt.Sprintf("#%d  %-16s failed: %v\n", r.Index+1, r.ProgramID, r.Err))
		case !r.Match.Eligibility.Eligible:
			sb.WriteString(fmt.Sprintf("#%d  %-16s   0  ineligible (%s)\n", r.Index+1, r.ProgramID, r.Match.Eligibility.FailedRule))
		default:
			sb.WriteString(fmt.Sprintf("#%d  %-16s %3d\n", r.Index+1, r.ProgramID, r.Match.Score))
		}
	}
	sb.WriteString(fmt.Sprintf("\n%d scored, %d failed", len(results)-failed, failed))

	p.printBox("BATCH RESULTS", sb.String())
}

// PrintRanking outputs the top ranked programs with their fused scores and contributing ranks.
func (p *Printer) PrintRanking(result *matching.RankResult) {
	if result == nil || len(result.Programs) == 0 {
		return
	}

	var sb strings.Builder
	if result.Query != "" {
		sb.WriteString(fmt.Sprintf("Query: %s\n", result.Query))
	}
	if result.Degraded {
		sb.WriteString("(single retriever: one retriever was unavailable)\n")
	}
	sb.WriteString("\n")

	count := min(len(result.Programs), maxItemsToShow)
	for i := 0; i < count; i++ {
		rp := result.Programs[i]
		name := rp.ID
		if rp.Program != nil && rp.Program.Title != "" {
			name = rp.Program.Title
		}
		sb.WriteString(fmt.Sprintf("#%d  %s\n", i+1, name))
		sb.WriteString(fmt.Sprintf("    Fused: %.4f (semantic #%s, keyword #%s)\n",
			rp.Score, rankLabel(rp.SemanticRank), rankLabel(rp.KeywordRank)))
		if rp.Eligibility != nil && !rp.Eligibility.Eligible {
			sb.WriteString(fmt.Sprintf("    Ineligible: %s\n", rp.Eligibility.FailedRule))
		}
		if rp.Match != nil {
			sb.WriteString(fmt.Sprintf("    Match score: %d\n", rp.Match.Score))
		}
	}

	if len(result.Programs) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more programs", len(result.Programs)-maxItemsToShow))
	}

	p.printBox("RANKED PROGRAMS", strings.TrimSuffix(sb.String(), "\n"))
}

func rankLabel(rank int) string {
	if rank <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", rank)
}

// PrintRecalibration outputs a recalibration summary.
func (p *Printer) PrintRecalibration(s feedback.Summary) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Offset:      %+d\n", s.Offset))
	sb.WriteString(fmt.Sprintf("Considered:  %d records\n", s.Considered))
	sb.WriteString(fmt.Sprintf("Directional: %d (too high %d, too low %d)", s.Directional, s.TooHigh, s.TooLow))
	if !s.Sufficient {
		sb.WriteString("\n\nNot enough directional feedback; offset left at 0")
	}

	p.printBox("FEEDBACK RECALIBRATION", sb.String())
}
