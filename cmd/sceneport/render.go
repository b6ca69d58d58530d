package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sceneport/internal/pipeline"
	"sceneport/internal/provenance"
	"sceneport/internal/unit"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	acceptedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	rejectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Width(22)
)

func statusStyle(s unit.State) lipgloss.Style {
	switch s {
	case unit.StateAccepted:
		return acceptedStyle
	case unit.StateRejected:
		return rejectedStyle
	default:
		return pendingStyle
	}
}

func renderUnit(rep unit.Report) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(rep.Name))
	b.WriteString("  ")
	b.WriteString(statusStyle(rep.Status).Render(string(rep.Status)))
	b.WriteString("\n")

	if rep.RejectReason != "" {
		b.WriteString(labelStyle.Render("reason"))
		b.WriteString(rep.RejectReason)
		b.WriteString("\n")
	}
	if len(rep.AppliedRules) > 0 {
		b.WriteString(labelStyle.Render("rules applied"))
		b.WriteString(strings.Join(rep.AppliedRules, ", "))
		b.WriteString("\n")
	}
	if len(rep.Attempts) > 0 {
		b.WriteString(labelStyle.Render("repair attempts"))
		b.WriteString(fmt.Sprintf("%d", len(rep.Attempts)))
		b.WriteString("\n")
	}
	for _, f := range rep.Findings {
		b.WriteString(labelStyle.Render("  " + string(f.Severity)))
		b.WriteString(fmt.Sprintf("line %d: %s: %s\n", f.Line, f.Kind, f.Message))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBatch(batch *pipeline.BatchReport) string {
	lines := []string{headerStyle.Render("=== batch results ===")}

	reports := append([]unit.Report(nil), batch.Reports...)
	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })
	for _, rep := range reports {
		line := fmt.Sprintf("  %-30s %s", rep.Name, statusStyle(rep.Status).Render(string(rep.Status)))
		if rep.RejectReason != "" {
			line += dimStyle.Render("  " + rep.RejectReason)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", renderSummary(batch.Summary))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSummary(s provenance.Summary) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("=== summary ===") + "\n")
	b.WriteString(labelStyle.Render("units"))
	b.WriteString(fmt.Sprintf("%d\n", s.Units))

	states := make([]string, 0, len(s.ByState))
	for st := range s.ByState {
		states = append(states, st)
	}
	sort.Strings(states)
	for _, st := range states {
		b.WriteString(labelStyle.Render("  " + st))
		b.WriteString(fmt.Sprintf("%d\n", s.ByState[st]))
	}

	b.WriteString(labelStyle.Render("fix attempts"))
	b.WriteString(fmt.Sprintf("%d\n", s.Attempts))
	b.WriteString(labelStyle.Render("oracle attempts"))
	b.WriteString(fmt.Sprintf("%d\n", s.OracleAttempts))
	b.WriteString(labelStyle.Render("definite verdicts"))
	b.WriteString(fmt.Sprintf("%d\n", s.DefiniteVerdicts))
	b.WriteString(labelStyle.Render("oracle calls avoided"))
	b.WriteString(fmt.Sprintf("%d\n", s.OracleCallsAvoided))

	if len(s.ByCategory) > 0 {
		b.WriteString(headerStyle.Render("unfixable categories") + "\n")
		cats := make([]string, 0, len(s.ByCategory))
		for c := range s.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			b.WriteString(labelStyle.Render("  " + c))
			b.WriteString(fmt.Sprintf("%d\n", s.ByCategory[c]))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
