package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/traceloupe/traceloupe/internal/database"
)

// ────────────────────────────────────────────────────────────
// Pane focuses
// ────────────────────────────────────────────────────────────

// Pane represents which UI pane currently has keyboard focus.
type Pane int

const (
	PaneTimeline Pane = iota
	PaneDetail
	PaneFeedback
)

// recordListLimit bounds how many records the list loads at once.
const recordListLimit = 100

// ────────────────────────────────────────────────────────────
// Model
// ────────────────────────────────────────────────────────────

// recordItem pairs a record with its aggregate feedback score so the
// list renders without issuing queries per frame.
type recordItem struct {
	record    *database.Record
	meanScore float64
	hasScore  bool
}

// Model is the root BubbleTea model for the traceloupe TUI.
// State is organized by concern; rendering is delegated
// to component functions in separate files.
type Model struct {
	store database.Store

	// Data
	records       []recordItem
	appNames      map[string]string
	currentRecord *database.Record
	calls         []*database.Call
	callTree      []callNode
	feedback      []*database.FeedbackResult
	thresholds    map[string]float64
	stats         *database.RecordStats

	// UI state
	activePane     Pane
	selectedCall   int
	selectedRecord int
	scrollOffset   int
	feedbackScroll int
	width          int
	height         int
	showRecordList bool
	searchMode     bool
	searchInput    textinput.Model
	searchQuery    string // last applied query, "" when browsing all records

	// Status
	statusMsg string
	err       error
}

// NewModel creates a new TUI model backed by the given store.
func NewModel(store database.Store) Model {
	ti := textinput.New()
	ti.Placeholder = "search records"
	ti.Prompt = "/ "
	ti.CharLimit = 100
	return Model{
		store:          store,
		searchInput:    ti,
		showRecordList: true,
		statusMsg:      "Loading records...",
	}
}

// ────────────────────────────────────────────────────────────
// Messages
// ────────────────────────────────────────────────────────────

type recordsLoadedMsg struct {
	items    []recordItem
	appNames map[string]string
}
type searchResultsMsg struct {
	query string
	items []recordItem
}
type timelineLoadedMsg struct {
	calls []*database.Call
	stats *database.RecordStats
}
type feedbackLoadedMsg struct {
	results    []*database.FeedbackResult
	thresholds map[string]float64
}
type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// ────────────────────────────────────────────────────────────
// Init
// ────────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return m.loadRecords()
}

func (m Model) loadRecords() tea.Cmd {
	return func() tea.Msg {
		apps, err := m.store.QueryApps()
		if err != nil {
			return errMsg{err}
		}
		names := make(map[string]string, len(apps))
		for _, app := range apps {
			names[app.AppID] = app.AppName
		}
		records, err := m.store.QueryRecords(database.RecordFilter{Limit: recordListLimit})
		if err != nil {
			return errMsg{err}
		}
		items, err := attachScores(m.store, records)
		if err != nil {
			return errMsg{err}
		}
		return recordsLoadedMsg{items: items, appNames: names}
	}
}

func (m Model) searchRecords(query string) tea.Cmd {
	return func() tea.Msg {
		records, err := m.store.SearchRecords(query, recordListLimit)
		if err != nil {
			return errMsg{err}
		}
		items, err := attachScores(m.store, records)
		if err != nil {
			return errMsg{err}
		}
		return searchResultsMsg{query: query, items: items}
	}
}

func (m Model) loadTimeline(recordID string) tea.Cmd {
	return func() tea.Msg {
		calls, err := m.store.QueryCalls(recordID)
		if err != nil {
			return errMsg{err}
		}
		stats, err := m.store.GetRecordStats(recordID)
		if err != nil {
			return errMsg{err}
		}
		return timelineLoadedMsg{calls: calls, stats: stats}
	}
}

func (m Model) loadFeedback(recordID string) tea.Cmd {
	return func() tea.Msg {
		results, err := m.store.GetFeedbackForRecord(recordID)
		if err != nil {
			return errMsg{err}
		}
		defs, err := m.store.GetFeedbackDefs()
		if err != nil {
			return errMsg{err}
		}
		thresholds := make(map[string]float64, len(defs))
		for _, def := range defs {
			thresholds[def.FeedbackDefID] = def.Threshold
		}
		return feedbackLoadedMsg{results: results, thresholds: thresholds}
	}
}

// attachScores decorates records with the mean of their completed
// feedback scores.
func attachScores(store database.Store, records []*database.Record) ([]recordItem, error) {
	items := make([]recordItem, 0, len(records))
	for _, rec := range records {
		results, err := store.GetFeedbackForRecord(rec.RecordID)
		if err != nil {
			return nil, err
		}
		var sum float64
		var n int
		for _, fr := range results {
			if fr.Status == database.FeedbackStatusDone {
				sum += fr.Score
				n++
			}
		}
		item := recordItem{record: rec}
		if n > 0 {
			item.meanScore = sum / float64(n)
			item.hasScore = true
		}
		items = append(items, item)
	}
	return items, nil
}

// ────────────────────────────────────────────────────────────
// Update
// ────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case recordsLoadedMsg:
		m.records = msg.items
		m.appNames = msg.appNames
		m.selectedRecord = 0
		m.searchQuery = ""
		if len(m.records) > 0 {
			m.statusMsg = fmt.Sprintf("%d records", len(m.records))
		} else {
			m.statusMsg = "No records"
		}
		return m, nil

	case searchResultsMsg:
		m.records = msg.items
		m.searchQuery = msg.query
		m.selectedRecord = 0
		m.statusMsg = fmt.Sprintf("%d matches for %q", len(m.records), msg.query)
		return m, nil

	case timelineLoadedMsg:
		m.calls = msg.calls
		m.stats = msg.stats
		m.callTree = buildCallTree(msg.calls)
		m.selectedCall = 0
		m.scrollOffset = 0
		m.showRecordList = false
		m.activePane = PaneTimeline
		m.statusMsg = fmt.Sprintf("%d calls  %d LLM  %d tokens",
			msg.stats.TotalCalls, msg.stats.LLMCalls,
			msg.stats.TotalPromptTokens+msg.stats.TotalCompletionTokens)
		if m.currentRecord != nil {
			return m, m.loadFeedback(m.currentRecord.RecordID)
		}
		return m, nil

	case feedbackLoadedMsg:
		m.feedback = msg.results
		m.thresholds = msg.thresholds
		m.feedbackScroll = 0
		return m, nil

	case errMsg:
		m.err = msg.err
		m.statusMsg = fmt.Sprintf("Error: %v", msg.err)
		return m, nil
	}

	return m, nil
}

// handleKey routes keyboard input based on current mode.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// ── Search mode ──
	//
	// Checked before the global bindings so typing "q" into the
	// field doesn't quit the program.

	if m.searchMode {
		switch key {
		case "esc":
			m.searchMode = false
			m.searchInput.Blur()
			m.searchInput.SetValue("")
			return m, nil
		case "enter":
			query := strings.TrimSpace(m.searchInput.Value())
			m.searchMode = false
			m.searchInput.Blur()
			m.searchInput.SetValue("")
			if query == "" {
				return m, nil
			}
			m.statusMsg = fmt.Sprintf("Searching %q...", query)
			return m, m.searchRecords(query)
		default:
			var cmd tea.Cmd
			m.searchInput, cmd = m.searchInput.Update(msg)
			return m, cmd
		}
	}

	// ── Global ──

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		if !m.showRecordList {
			m.activePane = (m.activePane + 1) % 3
		}
		return m, nil

	case "shift+tab":
		if !m.showRecordList {
			m.activePane = (m.activePane + 2) % 3
		}
		return m, nil

	case "esc":
		if m.showRecordList {
			if m.searchQuery != "" {
				m.statusMsg = "Loading records..."
				return m, m.loadRecords()
			}
		} else {
			m.showRecordList = true
			m.activePane = PaneTimeline
		}
		return m, nil

	case "/":
		if m.showRecordList {
			m.searchMode = true
			m.searchInput.SetValue("")
			return m, m.searchInput.Focus()
		}
		return m, nil

	case "r":
		if m.showRecordList {
			m.statusMsg = "Loading records..."
			return m, m.loadRecords()
		}
		return m, nil
	}

	// ── Record list mode ──

	if m.showRecordList {
		switch key {
		case "j", "down":
			if m.selectedRecord < len(m.records)-1 {
				m.selectedRecord++
			}
		case "k", "up":
			if m.selectedRecord > 0 {
				m.selectedRecord--
			}
		case "enter":
			if m.selectedRecord < len(m.records) {
				m.currentRecord = m.records[m.selectedRecord].record
				m.statusMsg = "Loading timeline..."
				return m, m.loadTimeline(m.currentRecord.RecordID)
			}
		}
		return m, nil
	}

	// ── Pane-specific ──

	switch m.activePane {
	case PaneTimeline:
		switch key {
		case "j", "down":
			if m.selectedCall < len(m.callTree)-1 {
				m.selectedCall++
			}
		case "k", "up":
			if m.selectedCall > 0 {
				m.selectedCall--
			}
		}

	case PaneDetail:
		// Detail is read-only; scrolling could be added later.

	case PaneFeedback:
		switch key {
		case "j", "down":
			m.feedbackScroll++
		case "k", "up":
			if m.feedbackScroll > 0 {
				m.feedbackScroll--
			}
		}
	}

	return m, nil
}

// ────────────────────────────────────────────────────────────
// View
// ────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := renderHeader(&m)
	footer := renderFooter(&m)

	bodyHeight := m.height - 2 // header + footer

	var body string
	if m.showRecordList {
		body = renderRecordList(&m)
	} else {
		body = m.renderMainLayout(bodyHeight)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// renderMainLayout assembles the three-pane explorer view.
func (m Model) renderMainLayout(totalHeight int) string {
	// Responsive: collapse to single pane on narrow terminals
	if m.width < 60 {
		return m.renderCompactLayout(totalHeight)
	}

	// Split proportions
	leftWidth := m.width * 45 / 100
	rightWidth := m.width - leftWidth
	topHeight := totalHeight * 65 / 100
	bottomHeight := totalHeight - topHeight

	// Render panes
	timeline := renderTimelinePanel(&m, leftWidth, topHeight)
	detail := renderDetailPanel(&m, rightWidth, topHeight)
	feedback := renderFeedbackPanel(&m, m.width, bottomHeight)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, timeline, detail)
	return lipgloss.JoinVertical(lipgloss.Left, topRow, feedback)
}

// renderCompactLayout is used when the terminal is narrow (< 60 cols).
// Only the focused pane is shown.
func (m Model) renderCompactLayout(totalHeight int) string {
	switch m.activePane {
	case PaneTimeline:
		return renderTimelinePanel(&m, m.width, totalHeight)
	case PaneDetail:
		return renderDetailPanel(&m, m.width, totalHeight)
	case PaneFeedback:
		return renderFeedbackPanel(&m, m.width, totalHeight)
	default:
		return renderTimelinePanel(&m, m.width, totalHeight)
	}
}
