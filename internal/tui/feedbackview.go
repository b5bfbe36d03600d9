package tui

import (
	"fmt"
	"strings"

	"github.com/traceloupe/traceloupe/pkg/timeutil"
)

// feedbackBarWidth is the cell width of the score bar in each row.
const feedbackBarWidth = 16

// renderFeedbackView renders the feedback results pane (bottom). One
// row per result: pass/fail glyph, name, score bar against the
// definition's threshold, then score and recency.
func renderFeedbackView(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneFeedback {
		titleStyle = panelTitleStyle
	}

	title := titleStyle.Render("Feedback")

	if len(m.feedback) == 0 {
		return title + "\n" +
			feedbackContextStyle.Render("No feedback results for this record.")
	}

	title += recordDimStyle.Render(
		fmt.Sprintf("  %d results", len(m.feedback)))

	var lines []string

	for _, fr := range m.feedback {
		threshold := m.thresholds[fr.FeedbackDefID]
		name := fmt.Sprintf("%-16s", truncate(fr.Name, 16))

		switch fr.Status {
		case "done":
			glyph := scorePassStyle.Render("✓")
			if fr.Score < threshold {
				glyph = scoreFailStyle.Render("✗")
			}
			bar := renderScoreBar(fr.Score, threshold, feedbackBarWidth)
			lines = append(lines, fmt.Sprintf("%s %s %s  %s  %s  %s",
				glyph, name, bar,
				detailValueStyle.Render(fmt.Sprintf("%.2f", fr.Score)),
				feedbackContextStyle.Render(fmt.Sprintf("≥%.2f", threshold)),
				feedbackContextStyle.Render(timeutil.RelativeTime(fr.UpdatedAt))))

		case "failed":
			reason := "evaluation failed"
			if fr.ErrorMessage != nil && *fr.ErrorMessage != "" {
				reason = truncate(*fr.ErrorMessage, width-24)
			}
			lines = append(lines, fmt.Sprintf("%s %s %s",
				scoreFailStyle.Render("!"), name,
				scoreFailStyle.Render(reason)))

		default: // pending, running
			lines = append(lines, fmt.Sprintf("%s %s %s",
				scorePendingStyle.Render("·"), name,
				feedbackContextStyle.Render(fr.Status+"...")))
		}
	}

	// Apply scroll offset
	contentHeight := height - 2
	if m.feedbackScroll > 0 && m.feedbackScroll < len(lines) {
		lines = lines[m.feedbackScroll:]
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	return title + "\n" + strings.Join(lines, "\n")
}

// renderScoreBar draws a filled bar proportional to score, colored by
// whether the score clears the threshold.
func renderScoreBar(score, threshold float64, barWidth int) string {
	filled := clamp(int(score*float64(barWidth)), 0, barWidth)
	style := scorePassStyle
	if score < threshold {
		style = scoreFailStyle
	}
	return style.Render(strings.Repeat("█", filled)) +
		tokenBarEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
}

// renderFeedbackPanel wraps the feedback view in a styled panel.
func renderFeedbackPanel(m *Model, width, height int) string {
	content := renderFeedbackView(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneFeedback {
		style = panelActiveStyle
	}

	return style.Width(width).Height(height).Render(content)
}
