package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/traceloupe/traceloupe/internal/database"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func apply(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	next, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned unexpected model type %T", updated)
	}
	return next, cmd
}

func testItems(n int) []recordItem {
	items := make([]recordItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, recordItem{record: &database.Record{
			RecordID: string(rune('a' + i)), AppID: "app-1",
			Status: database.RecordStatusCompleted,
		}})
	}
	return items
}

func TestRecordsLoaded(t *testing.T) {
	m := NewModel(nil)
	m.searchQuery = "stale"

	m, _ = apply(t, m, recordsLoadedMsg{
		items:    testItems(2),
		appNames: map[string]string{"app-1": "rag-chat"},
	})

	if len(m.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(m.records))
	}
	if m.appNames["app-1"] != "rag-chat" {
		t.Error("expected app names to be stored")
	}
	if m.searchQuery != "" {
		t.Error("expected search query cleared on full reload")
	}
	if m.statusMsg != "2 records" {
		t.Errorf("expected status %q, got %q", "2 records", m.statusMsg)
	}
}

func TestNavigationStaysInBounds(t *testing.T) {
	m := NewModel(nil)
	m, _ = apply(t, m, recordsLoadedMsg{items: testItems(2)})

	m, _ = apply(t, m, keyMsg("k"))
	if m.selectedRecord != 0 {
		t.Errorf("expected selection pinned at 0, got %d", m.selectedRecord)
	}

	for i := 0; i < 5; i++ {
		m, _ = apply(t, m, keyMsg("j"))
	}
	if m.selectedRecord != 1 {
		t.Errorf("expected selection pinned at 1, got %d", m.selectedRecord)
	}
}

func TestSearchFlow(t *testing.T) {
	m := NewModel(nil)

	m, cmd := apply(t, m, keyMsg("/"))
	if !m.searchMode {
		t.Fatal("expected search mode after /")
	}
	if cmd == nil {
		t.Error("expected focus command from opening search")
	}

	// Keys are captured by the input, not the global bindings.
	m, _ = apply(t, m, keyMsg("q"))
	if !m.searchMode {
		t.Fatal("expected q to type into the field, not quit")
	}
	if m.searchInput.Value() != "q" {
		t.Errorf("expected field value %q, got %q", "q", m.searchInput.Value())
	}

	m, _ = apply(t, m, keyMsg("esc"))
	if m.searchMode {
		t.Error("expected esc to cancel search mode")
	}
	if m.searchInput.Value() != "" {
		t.Errorf("expected field cleared, got %q", m.searchInput.Value())
	}
}

func TestSearchSubmitIssuesQuery(t *testing.T) {
	m := NewModel(nil)

	m, _ = apply(t, m, keyMsg("/"))
	m, _ = apply(t, m, keyMsg("w"))
	m, _ = apply(t, m, keyMsg("a"))
	m, _ = apply(t, m, keyMsg("l"))

	m, cmd := apply(t, m, keyMsg("enter"))
	if m.searchMode {
		t.Error("expected search mode closed on enter")
	}
	if cmd == nil {
		t.Fatal("expected a search command on enter")
	}
	if !strings.Contains(m.statusMsg, "wal") {
		t.Errorf("expected status to echo the query, got %q", m.statusMsg)
	}
}

func TestSearchResultsReplaceList(t *testing.T) {
	m := NewModel(nil)
	m, _ = apply(t, m, recordsLoadedMsg{items: testItems(3)})

	m, _ = apply(t, m, searchResultsMsg{query: "wal", items: testItems(1)})
	if len(m.records) != 1 {
		t.Fatalf("expected 1 match, got %d", len(m.records))
	}
	if m.searchQuery != "wal" {
		t.Errorf("expected active query recorded, got %q", m.searchQuery)
	}
	if !strings.Contains(m.statusMsg, "1 matches") {
		t.Errorf("expected match count in status, got %q", m.statusMsg)
	}
}

func TestTimelineLoadedBuildsTree(t *testing.T) {
	m := NewModel(nil)
	m.currentRecord = &database.Record{RecordID: "rec-1", TotalTimeMs: 2000}

	calls := []*database.Call{
		{CallID: "c-root", Component: "CHAIN", DurationMs: 2000},
		{CallID: "c-llm", ParentCallID: strPtr("c-root"), Component: "LLM",
			StartOffsetMs: 500, DurationMs: 1000, PromptTokens: 200, CompletionTokens: 100},
	}
	stats := &database.RecordStats{
		TotalCalls: 2, LLMCalls: 1,
		TotalPromptTokens: 200, TotalCompletionTokens: 100,
	}

	m, cmd := apply(t, m, timelineLoadedMsg{calls: calls, stats: stats})

	if m.showRecordList {
		t.Error("expected timeline view after load")
	}
	if m.activePane != PaneTimeline {
		t.Errorf("expected timeline pane focused, got %d", m.activePane)
	}
	if len(m.callTree) != 2 {
		t.Fatalf("expected 2 tree nodes, got %d", len(m.callTree))
	}
	if m.statusMsg != "2 calls  1 LLM  300 tokens" {
		t.Errorf("unexpected status %q", m.statusMsg)
	}
	if cmd == nil {
		t.Error("expected feedback load to follow timeline load")
	}
}

func TestPaneCycling(t *testing.T) {
	m := NewModel(nil)
	m.showRecordList = false

	m, _ = apply(t, m, keyMsg("tab"))
	if m.activePane != PaneDetail {
		t.Errorf("expected detail pane, got %d", m.activePane)
	}
	m, _ = apply(t, m, keyMsg("tab"))
	if m.activePane != PaneFeedback {
		t.Errorf("expected feedback pane, got %d", m.activePane)
	}
	m, _ = apply(t, m, keyMsg("tab"))
	if m.activePane != PaneTimeline {
		t.Errorf("expected wrap to timeline pane, got %d", m.activePane)
	}

	m, _ = apply(t, m, keyMsg("esc"))
	if !m.showRecordList {
		t.Error("expected esc to return to the record list")
	}
}
