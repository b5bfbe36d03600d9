package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/traceloupe/traceloupe/pkg/jsonutil"
	"github.com/traceloupe/traceloupe/pkg/timeutil"
)

// renderDetail renders the call detail pane (right side).
func renderDetail(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneDetail {
		titleStyle = panelTitleStyle
	}
	title := titleStyle.Render("Detail")

	if len(m.callTree) == 0 || m.selectedCall >= len(m.callTree) {
		return title + "\n\n" +
			emptyStateStyle.Render("Select a call to view details.")
	}

	call := m.callTree[m.selectedCall].call
	var lines []string

	lines = append(lines, title)
	lines = append(lines, "")

	// ── Metadata ──

	lines = append(lines, detailRow("Component", call.Component))
	lines = append(lines, detailRow("Operation", call.Operation))
	lines = append(lines, detailRow("ID", shortID(call.CallID, 16)))
	lines = append(lines, detailRow("Offset", timeutil.FormatOffset(call.StartOffsetMs)))
	lines = append(lines, detailRow("Duration", timeutil.FormatDuration(call.DurationMs)))
	lines = append(lines, detailRow("Status", call.Status))

	if call.Model != nil {
		lines = append(lines, detailRow("Model", *call.Model))
	}
	if call.ErrorMessage != nil && *call.ErrorMessage != "" {
		lines = append(lines, detailLabelStyle.Render("Error")+"  "+
			scoreFailStyle.Render(truncate(*call.ErrorMessage, width-9)))
	}

	// ── Token usage ──

	if call.PromptTokens > 0 || call.CompletionTokens > 0 {
		lines = append(lines, "")
		lines = append(lines, detailSectionStyle.Render("Token Usage"))

		total := call.PromptTokens + call.CompletionTokens
		lines = append(lines, detailRow("Prompt", fmt.Sprintf("%d", call.PromptTokens)))
		lines = append(lines, detailRow("Completion", fmt.Sprintf("%d", call.CompletionTokens)))
		lines = append(lines, detailRow("Total", fmt.Sprintf("%d", total)))

		// Horizontal bar
		barWidth := width - 6
		if barWidth > 50 {
			barWidth = 50
		}
		if barWidth > 4 && total > 0 {
			promptW := barWidth * call.PromptTokens / total
			compW := barWidth - promptW

			bar := tokenBarPromptStyle.Render(strings.Repeat("█", promptW)) +
				tokenBarCompletionStyle.Render(strings.Repeat("█", compW))

			promptPct := call.PromptTokens * 100 / total
			legend := recordDimStyle.Render(
				fmt.Sprintf("prompt %d%%  completion %d%%", promptPct, 100-promptPct))

			lines = append(lines, bar)
			lines = append(lines, legend)
		}
	}

	// ── Record-level summary ──

	if m.stats != nil {
		lines = append(lines, "")
		lines = append(lines, detailSectionStyle.Render("Record Summary"))

		totalTokens := m.stats.TotalPromptTokens + m.stats.TotalCompletionTokens
		lines = append(lines, detailRow("LLM Calls", fmt.Sprintf("%d", m.stats.LLMCalls)))
		lines = append(lines, detailRow("Retrieval", fmt.Sprintf("%d", m.stats.RetrievalCalls)))
		lines = append(lines, detailRow("Tool Calls", fmt.Sprintf("%d", m.stats.ToolCalls)))
		lines = append(lines, detailRow("Total Tokens", fmt.Sprintf("%d", totalTokens)))
		lines = append(lines, detailRow("Duration",
			timeutil.FormatDuration(m.stats.TotalDurationMs)))
		if m.stats.FeedbackCount > 0 {
			lines = append(lines, detailRow("Feedback",
				fmt.Sprintf("%d results · mean %.2f", m.stats.FeedbackCount, m.stats.MeanScore)))
		}

		// Call mix bars
		if m.stats.TotalCalls > 0 {
			barWidth := width - 6
			if barWidth > 50 {
				barWidth = 50
			}

			lines = append(lines, "")
			lines = append(lines, renderUsageBar("LLM", m.stats.LLMCalls, m.stats.TotalCalls, barWidth, colorPurple))
			lines = append(lines, renderUsageBar("Retrieval", m.stats.RetrievalCalls, m.stats.TotalCalls, barWidth, colorBlue))
			lines = append(lines, renderUsageBar("Tool", m.stats.ToolCalls, m.stats.TotalCalls, barWidth, colorGreen))
		}
	}

	// ── Args preview ──

	if call.Args != nil && *call.Args != "" {
		lines = append(lines, "")
		lines = append(lines, detailSectionStyle.Render("Args"))
		preview := truncate(jsonutil.PrettyJSON(*call.Args), (width-4)*3)
		for _, line := range strings.Split(preview, "\n") {
			lines = append(lines, recordDimStyle.Render(line))
		}
	}

	// ── Rets preview ──

	if call.Rets != nil && *call.Rets != "" {
		lines = append(lines, "")
		lines = append(lines, detailSectionStyle.Render("Rets"))
		preview := truncate(jsonutil.PrettyJSON(*call.Rets), (width-4)*3)
		for _, line := range strings.Split(preview, "\n") {
			lines = append(lines, detailValueStyle.Render(line))
		}
	}

	// Truncate to available height
	if len(lines) > height {
		lines = lines[:height]
	}

	return strings.Join(lines, "\n")
}

// renderDetailPanel wraps detail in a styled panel.
func renderDetailPanel(m *Model, width, height int) string {
	content := renderDetail(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneDetail {
		style = panelActiveStyle
	}

	return style.Width(width).Height(height).Render(content)
}

// ── helpers ──

func detailRow(label, value string) string {
	return detailLabelStyle.Render(label) + "  " + detailValueStyle.Render(value)
}

func renderUsageBar(label string, count, total, barWidth int, color lipgloss.Color) string {
	if total == 0 {
		return ""
	}
	pct := count * 100 / total
	filled := barWidth * count / total
	if filled < 1 && count > 0 {
		filled = 1
	}
	empty := barWidth - filled

	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		tokenBarEmptyStyle.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("%-9s %s %d%%", label, bar, pct)
}
