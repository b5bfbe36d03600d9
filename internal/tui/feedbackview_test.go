package tui

import (
	"strings"
	"testing"

	"github.com/traceloupe/traceloupe/internal/database"
)

func TestRenderScoreBar(t *testing.T) {
	bar := renderScoreBar(0.5, 0.7, 16)
	if got := strings.Count(bar, "█"); got != 8 {
		t.Errorf("expected 8 filled cells, got %d", got)
	}
	if got := strings.Count(bar, "░"); got != 8 {
		t.Errorf("expected 8 empty cells, got %d", got)
	}

	full := renderScoreBar(1.0, 0.7, 16)
	if got := strings.Count(full, "█"); got != 16 {
		t.Errorf("expected full bar, got %d cells", got)
	}
}

func TestRenderFeedbackViewRows(t *testing.T) {
	errMsg := "provider rate limited"
	m := Model{
		activePane: PaneFeedback,
		feedback: []*database.FeedbackResult{
			{FeedbackResultID: "fr-1", FeedbackDefID: "def-1", Name: "relevance",
				Score: 0.9, Status: database.FeedbackStatusDone},
			{FeedbackResultID: "fr-2", FeedbackDefID: "def-1", Name: "groundedness",
				Score: 0.3, Status: database.FeedbackStatusDone},
			{FeedbackResultID: "fr-3", FeedbackDefID: "def-1", Name: "toxicity",
				Status: database.FeedbackStatusFailed, ErrorMessage: &errMsg},
			{FeedbackResultID: "fr-4", FeedbackDefID: "def-1", Name: "conciseness",
				Status: database.FeedbackStatusPending},
		},
		thresholds: map[string]float64{"def-1": 0.7},
	}

	out := renderFeedbackView(&m, 100, 12)

	if !strings.Contains(out, "4 results") {
		t.Error("expected result count in title")
	}
	if !strings.Contains(out, "relevance") || !strings.Contains(out, "0.90") {
		t.Errorf("expected passing score row, got:\n%s", out)
	}
	if !strings.Contains(out, "≥"+"0.70") {
		t.Error("expected threshold annotation")
	}
	if !strings.Contains(out, "✓") {
		t.Error("expected pass glyph for score above threshold")
	}
	if !strings.Contains(out, "✗") {
		t.Error("expected fail glyph for score below threshold")
	}
	if !strings.Contains(out, "provider rate limited") {
		t.Error("expected error message on failed row")
	}
	if !strings.Contains(out, "pending...") {
		t.Error("expected pending row")
	}
}

func TestRenderFeedbackViewEmpty(t *testing.T) {
	m := Model{}
	out := renderFeedbackView(&m, 80, 8)
	if !strings.Contains(out, "No feedback results") {
		t.Errorf("expected empty state, got %q", out)
	}
}
