package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderHeader produces the top bar:
//
//	TRACELOUPE  |  Record a1b2c3  |  rag-chat  |  12 calls
func renderHeader(m *Model) string {
	brand := headerBrandStyle.Render("TRACELOUPE")
	sep := headerSepStyle.Render(" │ ")

	var parts []string
	parts = append(parts, brand)

	if m.currentRecord != nil {
		parts = append(parts, sep)
		parts = append(parts, headerMetaStyle.Render(
			fmt.Sprintf("Record %s", shortID(m.currentRecord.RecordID, 10))))

		appName := m.appNames[m.currentRecord.AppID]
		if appName != "" {
			parts = append(parts, sep)
			parts = append(parts, headerMetaStyle.Render(appName))
		}

		if m.stats != nil {
			parts = append(parts, sep)
			parts = append(parts, headerMetaStyle.Render(
				fmt.Sprintf("%d calls", m.stats.TotalCalls)))
		}
	} else {
		parts = append(parts, sep)
		parts = append(parts, headerMetaStyle.Render("Record Explorer"))
	}

	content := strings.Join(parts, "")

	return headerBarStyle.Width(m.width).Render(content)
}

// renderFooter produces the bottom status bar with keyboard hints.
func renderFooter(m *Model) string {
	var left, right string

	if m.searchMode {
		left = searchBarStyle.Render(m.searchInput.View())
		right = renderHints([]hint{
			{"enter", "search"},
			{"esc", "cancel"},
		})
	} else if m.showRecordList {
		if m.statusMsg != "" {
			left = statusStyle.Render(m.statusMsg)
		}
		right = renderHints([]hint{
			{"↑↓", "navigate"},
			{"enter", "select"},
			{"/", "search"},
			{"r", "refresh"},
			{"q", "quit"},
		})
	} else {
		if m.statusMsg != "" {
			left = statusStyle.Render(m.statusMsg)
		}
		right = renderHints([]hint{
			{"↑↓", "navigate"},
			{"tab", "pane"},
			{"esc", "back"},
			{"q", "quit"},
		})
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return lipgloss.NewStyle().
		Background(colorBgSurface).
		Width(m.width).
		Render(bar)
}

type hint struct {
	key  string
	desc string
}

func renderHints(hints []hint) string {
	var parts []string
	for _, h := range hints {
		parts = append(parts,
			hintKeyStyle.Render(h.key)+" "+hintDescStyle.Render(h.desc))
	}
	return strings.Join(parts, hintDescStyle.Render("  "))
}
