package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
	"github.com/nextlevelbuilder/webpilot/internal/orchestrator"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	label   lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	detail  lipgloss.Style
	tool    lipgloss.Style
	empty   lipgloss.Style
	section lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		ok:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		failed:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		tool:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		empty:   lipgloss.NewStyle().Faint(true),
		section: lipgloss.NewStyle().MarginTop(1),
	}
}

// renderReport formats a batch report, one block per mission in input order.
func renderReport(r *orchestrator.Report, s styles) string {
	lines := []string{
		s.title.Render("Batch finished"),
		s.header.Render(fmt.Sprintf("missions: %d  fulfilled: %d  rejected: %d  took: %s",
			len(r.Outcomes), r.Fulfilled, r.Rejected, r.Duration.Round(time.Millisecond))),
	}
	if len(r.Outcomes) == 0 {
		lines = append(lines, s.empty.Render("No missions."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, o := range r.Outcomes {
		lines = append(lines, s.section.Render(renderOutcome(o, s)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderOutcome(o orchestrator.Outcome, s styles) string {
	head := fmt.Sprintf("#%d %s", o.Index+1, s.label.Render(o.Label))
	if o.Fulfilled() {
		head += " " + s.ok.Render("ok")
	} else {
		head += " " + s.failed.Render("failed")
	}
	parts := []string{head, s.detail.Render("mission: " + oneLine(o.Mission, 100))}

	if o.Result != nil {
		parts = append(parts, s.header.Render(fmt.Sprintf("status: %s  turns: %d  tools: %d  tokens: %d",
			o.Result.Status, o.Result.Turns, o.Result.ToolCalls, o.Result.Usage.TotalTokens)))
	}
	switch {
	case o.Err != nil:
		parts = append(parts, s.failed.Render("error: "+formatAgentError(o.Err)))
	case o.Result != nil && o.Result.Content != "":
		parts = append(parts, s.detail.Render(oneLine(o.Result.Content, 300)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderResult formats the final answer of a single run.
func renderResult(res *agent.RunResult, s styles) string {
	status := s.ok.Render(res.Status)
	if res.Status != agent.StatusDone {
		status = s.failed.Render(res.Status)
	}
	meta := s.header.Render(fmt.Sprintf("turns: %d  tools: %d  tokens: %d  took: %s",
		res.Turns, res.ToolCalls, res.Usage.TotalTokens, res.Duration().Round(time.Millisecond)))
	parts := []string{status + " " + meta}
	if res.Content != "" {
		parts = append(parts, "", res.Content)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// oneLine collapses whitespace and truncates s to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
