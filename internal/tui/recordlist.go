package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/traceloupe/traceloupe/pkg/timeutil"
)

// renderRecordList renders the record selection screen.
func renderRecordList(m *Model) string {
	if len(m.records) == 0 {
		var text string
		if m.searchQuery != "" {
			text = fmt.Sprintf("No records match %q.\n\nPress esc to clear the search.", m.searchQuery)
		} else {
			text = "No records found.\n\n" +
				"Run an app instrumented with a traceloupe SDK,\n" +
				"then records will appear here automatically."
		}
		empty := emptyStateStyle.Render(text)
		return lipgloss.Place(
			m.width,
			m.height-3, // minus header + footer
			lipgloss.Center,
			lipgloss.Center,
			empty,
		)
	}

	title := panelTitleStyle.Render("Records")
	count := recordDimStyle.Render(fmt.Sprintf("  %d total", len(m.records)))
	if m.searchQuery != "" {
		count = recordDimStyle.Render(fmt.Sprintf("  %d matching %q", len(m.records), m.searchQuery))
	}
	heading := title + count

	var lines []string
	lines = append(lines, heading)
	lines = append(lines, "")

	// Visible range for scrolling
	maxVisible := m.height - 6
	if maxVisible < 5 {
		maxVisible = 5
	}

	startIdx := 0
	if m.selectedRecord >= maxVisible {
		startIdx = m.selectedRecord - maxVisible + 1
	}
	endIdx := startIdx + maxVisible
	if endIdx > len(m.records) {
		endIdx = len(m.records)
	}

	for i := startIdx; i < endIdx; i++ {
		item := m.records[i]
		rec := item.record

		// Status indicator
		var statusDot string
		switch rec.Status {
		case "completed":
			statusDot = recordStatusOk.Render("●")
		case "failed":
			statusDot = recordStatusFail.Render("●")
		case "running":
			statusDot = recordStatusRunning.Render("○")
		default:
			statusDot = recordDimStyle.Render("○")
		}

		appName := m.appNames[rec.AppID]
		if appName == "" {
			appName = shortID(rec.AppID, 10)
		}
		appName = fmt.Sprintf("%-16s", truncate(appName, 16))

		dur := recordDimStyle.Render(fmt.Sprintf("%8s", timeutil.FormatDuration(rec.TotalTimeMs)))
		cost := recordDimStyle.Render(fmt.Sprintf("%9s", formatCost(rec.CostUSD)))

		score := recordDimStyle.Render("   —")
		if item.hasScore {
			score = scoreTierStyle(item.meanScore).Render(fmt.Sprintf("%3.0f%%", item.meanScore*100))
		}

		rel := recordDimStyle.Render(timeutil.RelativeTime(rec.StartTime))

		content := fmt.Sprintf("%s  %s  %s  %s  %s  %s", statusDot, appName, dur, cost, score, rel)

		if i == m.selectedRecord {
			line := recordSelectedStyle.Width(m.width - 4).Render(content)
			lines = append(lines, line)
		} else {
			line := recordItemStyle.Width(m.width - 4).Render(content)
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}

// formatCost renders a dollar amount compactly; records that spent
// nothing show a bare $0.
func formatCost(usd float64) string {
	if usd == 0 {
		return "$0"
	}
	if usd < 0.01 {
		return fmt.Sprintf("$%.5f", usd)
	}
	return fmt.Sprintf("$%.4f", usd)
}

// scoreTierStyle colors a mean score by coarse display tiers.
func scoreTierStyle(score float64) lipgloss.Style {
	switch {
	case score >= 0.8:
		return scorePassStyle
	case score >= 0.5:
		return scorePendingStyle
	default:
		return scoreFailStyle
	}
}
