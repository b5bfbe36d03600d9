package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/internal/timegrid"
	"github.com/traceloupe/traceloupe/pkg/timeutil"
)

// rulerMinCellWidth tunes the gridline spacing for terminal cells: a
// tick at least every 12 cells keeps "10000ms" labels from colliding
// with their neighbors.
const rulerMinCellWidth = 12

// renderTimeline renders the call tree in the left pane: a tick ruler
// over the record's duration, then one row per call with tree
// connectors and a proportional offset/duration bar.
func renderTimeline(m *Model, width, height int) string {
	titleStyle := panelTitleDimStyle
	if m.activePane == PaneTimeline {
		titleStyle = panelTitleStyle
	}

	totalMs := timelineExtent(m.currentRecord, m.calls)

	title := titleStyle.Render("Timeline")
	if m.stats != nil {
		title += recordDimStyle.Render(
			fmt.Sprintf("  %d calls · %s", m.stats.TotalCalls, timeutil.FormatDuration(totalMs)))
	}

	if len(m.callTree) == 0 {
		return title + "\n\n" +
			emptyStateStyle.Render("No calls in this record.")
	}

	// Split each row into a tree label part and a bar lane. The lane
	// carries the ruler and the bars in one coordinate system.
	labelWidth := clamp(width*55/100, 20, 44)
	lane := width - labelWidth - 1
	if lane < 0 {
		lane = 0
	}

	var lines []string
	lines = append(lines, title)
	lines = append(lines, "")

	contentHeight := height - 2

	layout := timegrid.Grid{MinColumnWidth: rulerMinCellWidth}.Layout(float64(lane), totalMs)
	if lane >= rulerMinCellWidth && layout.Columns > 0 {
		labelsRow, ruleRow := renderRulerRows(layout, lane)
		gutter := strings.Repeat(" ", labelWidth+1)
		lines = append(lines, gutter+rulerLabelStyle.Render(labelsRow))
		lines = append(lines, gutter+rulerStyle.Render(ruleRow))
		contentHeight -= 2
	}
	if contentHeight < 1 {
		contentHeight = 1
	}

	// Scroll so selected call is visible
	scrollStart := 0
	if m.selectedCall >= contentHeight {
		scrollStart = m.selectedCall - contentHeight + 1
	}

	end := scrollStart + contentHeight
	if end > len(m.callTree) {
		end = len(m.callTree)
	}

	for i := scrollStart; i < end; i++ {
		node := m.callTree[i]

		// Tree connectors
		indent := strings.Repeat("  ", node.depth)
		connector := "├─"
		if i == len(m.callTree)-1 || (i+1 < len(m.callTree) && m.callTree[i+1].depth <= node.depth) {
			connector = "└─"
		}

		tag := componentTag(node.call.Component)
		dur := timeutil.FormatDuration(node.call.DurationMs)

		name := node.call.Operation
		if name == "" {
			name = node.call.Component
		}
		nameBudget := labelWidth - (node.depth*2 + len(tag) + len(dur) + 5)
		if nameBudget < 8 {
			nameBudget = 8
		}
		name = truncate(name, nameBudget)

		// Compose the label to exactly labelWidth cells so every bar
		// lane starts in the same column.
		var label string
		if i == m.selectedCall {
			plain := truncate(fmt.Sprintf("%s%s %s %s %s", indent, connector, tag, name, dur), labelWidth)
			if pad := labelWidth - lipgloss.Width(plain); pad > 0 {
				plain += strings.Repeat(" ", pad)
			}
			label = callSelectedStyle.Render(plain)
		} else {
			label = indent + treeBranchStyle.Render(connector) + " " +
				componentStyle(node.call.Component).Render(tag+" "+name) + " " +
				treeDurationStyle.Render(dur)
			if lipgloss.Width(label) > labelWidth {
				plain := truncate(fmt.Sprintf("%s%s %s %s %s", indent, connector, tag, name, dur), labelWidth)
				label = componentStyle(node.call.Component).Render(plain)
			}
			if pad := labelWidth - lipgloss.Width(label); pad > 0 {
				label += strings.Repeat(" ", pad)
			}
		}

		line := label
		if lane > 0 {
			line += " " + renderCallBar(node.call, totalMs, lane)
		}

		lines = append(lines, line)
	}

	// Scroll indicator
	if len(m.callTree) > contentHeight {
		pct := 0
		if len(m.callTree) > 1 {
			pct = m.selectedCall * 100 / (len(m.callTree) - 1)
		}
		indicator := recordDimStyle.Render(
			fmt.Sprintf(" %d/%d (%d%%)", m.selectedCall+1, len(m.callTree), pct))
		lines = append(lines, indicator)
	}

	return strings.Join(lines, "\n")
}

// timelineExtent returns the span of the ruler: the record's total
// time, stretched to cover any call that runs past it.
func timelineExtent(rec *database.Record, calls []*database.Call) int64 {
	var total int64
	if rec != nil {
		total = rec.TotalTimeMs
	}
	for _, c := range calls {
		if end := c.StartOffsetMs + c.DurationMs; end > total {
			total = end
		}
	}
	return total
}

// renderRulerRows renders the label row and the tick row for a lane of
// the given cell width. Each label starts one cell right of its tick.
func renderRulerRows(layout timegrid.Layout, lane int) (string, string) {
	labels := []rune(strings.Repeat(" ", lane))
	rule := []rune(strings.Repeat("─", lane))
	for tick := range layout.Ticks() {
		pos := clamp(int(tick.Offset), 0, lane-1)
		rule[pos] = '┼'
		for j, r := range []rune(tick.Label()) {
			p := pos + 1 + j
			if p >= lane {
				break
			}
			labels[p] = r
		}
	}
	return string(labels), string(rule)
}

// renderCallBar draws a proportional offset/duration bar in a lane of
// the given cell width. Zero-duration calls still get one cell.
func renderCallBar(call *database.Call, totalMs int64, lane int) string {
	if totalMs <= 0 || lane <= 0 {
		return ""
	}
	scale := float64(lane) / float64(totalMs)
	start := clamp(int(float64(call.StartOffsetMs)*scale), 0, lane-1)
	cells := int(float64(call.DurationMs) * scale)
	if cells < 1 {
		cells = 1
	}
	if start+cells > lane {
		cells = lane - start
	}
	return strings.Repeat(" ", start) + componentStyle(call.Component).Render(strings.Repeat("█", cells))
}

// renderTimelinePanel wraps the timeline in a styled panel.
func renderTimelinePanel(m *Model, width, height int) string {
	content := renderTimeline(m, width-4, height-2)

	style := panelStyle
	if m.activePane == PaneTimeline {
		style = panelActiveStyle
	}

	return style.Width(width).Height(height).Render(content)
}
