package tui

import (
	"strings"
	"testing"

	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/internal/timegrid"
)

func TestRenderRulerRows(t *testing.T) {
	// lane 48 at min spacing 12 keeps at most 4 columns; the first
	// interval under that for 2000ms is 1000ms, giving ticks at
	// cells 24 and 48 (clamped to the last cell).
	layout := timegrid.Grid{MinColumnWidth: rulerMinCellWidth}.Layout(48, 2000)
	if layout.Interval != 1000 {
		t.Fatalf("expected interval 1000, got %d", layout.Interval)
	}

	labels, rule := renderRulerRows(layout, 48)

	ruleRunes := []rune(rule)
	if len(ruleRunes) != 48 {
		t.Fatalf("expected rule width 48, got %d", len(ruleRunes))
	}
	if ruleRunes[24] != '┼' {
		t.Errorf("expected tick at cell 24, got %q", ruleRunes[24])
	}
	if ruleRunes[47] != '┼' {
		t.Errorf("expected clamped tick at cell 47, got %q", ruleRunes[47])
	}
	if ruleRunes[0] != '─' {
		t.Errorf("expected rule fill at cell 0, got %q", ruleRunes[0])
	}

	if len([]rune(labels)) != 48 {
		t.Fatalf("expected labels width 48, got %d", len([]rune(labels)))
	}
	if !strings.Contains(labels, "1000ms") {
		t.Errorf("expected 1000ms label, got %q", labels)
	}
	if strings.Contains(labels, "2000ms") {
		t.Errorf("expected edge label to be dropped, got %q", labels)
	}
	if !strings.HasPrefix(labels, strings.Repeat(" ", 25)) {
		t.Errorf("expected label nudged right of its tick, got %q", labels)
	}
}

func TestRenderCallBar(t *testing.T) {
	call := &database.Call{Component: "LLM", StartOffsetMs: 500, DurationMs: 250}

	bar := renderCallBar(call, 1000, 20)
	if !strings.HasPrefix(bar, strings.Repeat(" ", 10)) {
		t.Errorf("expected 10 cells of offset, got %q", bar)
	}
	if strings.HasPrefix(bar, strings.Repeat(" ", 11)) {
		t.Errorf("expected bar to start at cell 10, got %q", bar)
	}
	if got := strings.Count(bar, "█"); got != 5 {
		t.Errorf("expected 5 bar cells, got %d", got)
	}
}

func TestRenderCallBarZeroDuration(t *testing.T) {
	call := &database.Call{Component: "TOOL", StartOffsetMs: 990, DurationMs: 0}

	bar := renderCallBar(call, 1000, 20)
	if got := strings.Count(bar, "█"); got != 1 {
		t.Errorf("expected zero-duration call to keep 1 cell, got %d", got)
	}
}

func TestRenderCallBarClampsOverflow(t *testing.T) {
	call := &database.Call{Component: "LLM", StartOffsetMs: 900, DurationMs: 5000}

	bar := renderCallBar(call, 1000, 20)
	if got := strings.Count(bar, "█"); got != 2 {
		t.Errorf("expected overflowing bar clamped to 2 cells, got %d", got)
	}

	if got := renderCallBar(call, 0, 20); got != "" {
		t.Errorf("expected empty bar for zero total time, got %q", got)
	}
}

func TestTimelineExtent(t *testing.T) {
	rec := &database.Record{RecordID: "rec-1", TotalTimeMs: 1000}
	calls := []*database.Call{
		{CallID: "c-1", StartOffsetMs: 800, DurationMs: 700},
	}

	if got := timelineExtent(rec, calls); got != 1500 {
		t.Errorf("expected extent stretched to 1500, got %d", got)
	}
	if got := timelineExtent(rec, nil); got != 1000 {
		t.Errorf("expected record total 1000, got %d", got)
	}
	if got := timelineExtent(nil, calls); got != 1500 {
		t.Errorf("expected call extent 1500, got %d", got)
	}
}

func TestRenderTimelineShowsRulerAndBars(t *testing.T) {
	model := "gpt-4o"
	calls := []*database.Call{
		{CallID: "c-root", Component: "CHAIN", Operation: "App.query", DurationMs: 2000},
		{CallID: "c-llm", ParentCallID: strPtr("c-root"), Component: "LLM",
			Operation: "OpenAI.generate", Model: &model, StartOffsetMs: 500, DurationMs: 1000},
	}
	m := Model{
		currentRecord: &database.Record{RecordID: "rec-1", TotalTimeMs: 2000},
		calls:         calls,
		callTree:      buildCallTree(calls),
		stats:         &database.RecordStats{TotalCalls: 2, LLMCalls: 1},
		activePane:    PaneTimeline,
	}

	out := renderTimeline(&m, 90, 24)

	if !strings.Contains(out, "Timeline") {
		t.Error("expected pane title")
	}
	if !strings.Contains(out, "2 calls") {
		t.Error("expected call count in title")
	}
	if !strings.Contains(out, "1000ms") {
		t.Errorf("expected ruler label, got:\n%s", out)
	}
	if !strings.Contains(out, "┼") {
		t.Error("expected tick marks on the rule")
	}
	if !strings.Contains(out, "[LLM]") || !strings.Contains(out, "[CHAIN]") {
		t.Error("expected component tags in tree rows")
	}
	if !strings.Contains(out, "└─") {
		t.Error("expected tree connector for last child")
	}
	if !strings.Contains(out, "█") {
		t.Error("expected proportional bars")
	}
}
