package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/traceloupe/traceloupe/internal/database"
)

func setupDashboard(t *testing.T) (*Server, *database.DBService) {
	t.Helper()
	svc, err := database.NewDBService(":memory:")
	if err != nil {
		t.Fatalf("NewDBService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return NewServer(svc, log.New(io.Discard)), svc
}

func seedApp(t *testing.T, svc *database.DBService, appID, name string) {
	t.Helper()
	err := svc.InsertApp(&database.App{
		AppID: appID, AppName: name, AppVersion: "v1",
		CreatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		t.Fatalf("InsertApp(%s) failed: %v", appID, err)
	}
}

func seedRecord(t *testing.T, svc *database.DBService, recordID, appID string, totalMs int64) {
	t.Helper()
	input := "What is WAL mode?"
	output := "Write-ahead logging keeps readers unblocked during writes."
	err := svc.InsertRecord(&database.Record{
		RecordID: recordID, AppID: appID, Input: &input, Output: &output,
		Status: database.RecordStatusCompleted, StartTime: time.Now().UnixNano(),
		TotalTimeMs: totalMs, PromptTokens: 120, CompletionTokens: 40, CostUSD: 0.002,
	})
	if err != nil {
		t.Fatalf("InsertRecord(%s) failed: %v", recordID, err)
	}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexPageListsRecords(t *testing.T) {
	srv, svc := setupDashboard(t)
	seedApp(t, svc, "app-1", "rag-chat")
	seedRecord(t, svc, "rec-1", "app-1", 1200)
	seedRecord(t, svc, "rec-2", "app-1", 800)

	resp := get(t, srv, "/")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{"rag-chat", `href="/record?id=rec-1"`, "rec-2", "completed", "1.2s"} {
		if !strings.Contains(body, want) {
			t.Errorf("index page missing %q", want)
		}
	}
}

func TestIndexFiltersByApp(t *testing.T) {
	srv, svc := setupDashboard(t)
	seedApp(t, svc, "app-1", "rag-chat")
	seedApp(t, svc, "app-2", "summarizer")
	seedRecord(t, svc, "rec-1", "app-1", 1000)
	seedRecord(t, svc, "rec-2", "app-2", 1000)

	resp := get(t, srv, "/?app=app-1")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	if !strings.Contains(body, `href="/record?id=rec-1"`) {
		t.Errorf("filtered index missing app-1 record")
	}
	if strings.Contains(body, `href="/record?id=rec-2"`) {
		t.Errorf("filtered index should not list app-2 records")
	}
}

// TestRecordPageRendersGrid checks the gridline overlay end to end:
// for a 2000ms record on the 960px axis the layout picks a 500ms tick
// (4 gridlines, 240px apart), and the call bars scale onto the same
// axis.
func TestRecordPageRendersGrid(t *testing.T) {
	srv, svc := setupDashboard(t)
	seedApp(t, svc, "app-1", "rag-chat")
	seedRecord(t, svc, "rec-1", "app-1", 2000)

	rootID := "call-root"
	model := "gpt-4o"
	calls := []*database.Call{
		{CallID: rootID, RecordID: "rec-1", Component: "CHAIN",
			Operation: "RetrievalQA.run", StartOffsetMs: 0, DurationMs: 2000, Status: "ok"},
		{CallID: "call-ret", RecordID: "rec-1", ParentCallID: &rootID, Component: "RETRIEVAL",
			Operation: "Retriever.get_relevant_documents", StartOffsetMs: 100, DurationMs: 300, Status: "ok"},
		{CallID: "call-llm", RecordID: "rec-1", ParentCallID: &rootID, Component: "LLM",
			Operation: "OpenAI.generate", Model: &model, StartOffsetMs: 500, DurationMs: 1000,
			PromptTokens: 900, CompletionTokens: 150, Status: "ok"},
	}
	for _, c := range calls {
		if err := svc.InsertCall(c); err != nil {
			t.Fatalf("InsertCall(%s) failed: %v", c.CallID, err)
		}
	}

	resp := get(t, srv, "/record?id=rec-1")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()

	if !strings.Contains(body, "tick every 500ms") {
		t.Errorf("expected 500ms tick interval for a 2000ms record")
	}
	gridlines := []string{
		`<div class="grid-line" style="left:240.0px"></div>`,
		`<div class="grid-line" style="left:480.0px"></div>`,
		`<div class="grid-line" style="left:720.0px"></div>`,
		`<div class="grid-line" style="left:960.0px"></div>`,
	}
	for _, want := range gridlines {
		if !strings.Contains(body, want) {
			t.Errorf("waterfall missing gridline %q", want)
		}
	}
	labels := []string{
		`<span class="grid-label" style="left:240.0px">500ms</span>`,
		`<span class="grid-label" style="left:960.0px">2000ms</span>`,
	}
	for _, want := range labels {
		if !strings.Contains(body, want) {
			t.Errorf("waterfall missing gridline label %q", want)
		}
	}

	// Bars share the gridline axis: 500ms offset lands exactly on the
	// first gridline.
	if !strings.Contains(body, "left:240.0px;width:480.0px") {
		t.Errorf("LLM call bar not scaled onto the axis")
	}
	if !strings.Contains(body, "left:0.0px;width:960.0px") {
		t.Errorf("root call bar should span the full axis")
	}
	if !strings.Contains(body, `padding-left:14px`) {
		t.Errorf("child call labels should be indented one level")
	}
	if !strings.Contains(body, "OpenAI.generate") {
		t.Errorf("call operation missing from labels")
	}
}

func TestRecordPageShowsFeedbackChips(t *testing.T) {
	srv, svc := setupDashboard(t)
	seedApp(t, svc, "app-1", "rag-chat")
	seedRecord(t, svc, "rec-1", "app-1", 1000)
	err := svc.InsertFeedbackDef(&database.FeedbackDef{
		FeedbackDefID: "def-1", Name: "relevance", Provider: "openai", Threshold: 0.5,
	})
	if err != nil {
		t.Fatalf("InsertFeedbackDef failed: %v", err)
	}
	err = svc.InsertFeedbackResult(&database.FeedbackResult{
		FeedbackResultID: "fr-1", RecordID: "rec-1", FeedbackDefID: "def-1",
		Name: "relevance", Score: 0.9, Status: database.FeedbackStatusDone,
		UpdatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		t.Fatalf("InsertFeedbackResult failed: %v", err)
	}

	body := get(t, srv, "/record?id=rec-1").Body.String()
	if !strings.Contains(body, "relevance") {
		t.Errorf("feedback chip name missing")
	}
	if !strings.Contains(body, "90%") {
		t.Errorf("feedback chip score missing")
	}
}

func TestRecordPageNotFound(t *testing.T) {
	srv, svc := setupDashboard(t)
	seedApp(t, svc, "app-1", "rag-chat")

	if code := get(t, srv, "/record?id=missing").Code; code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown record, got %d", code)
	}
	if code := get(t, srv, "/record").Code; code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing id, got %d", code)
	}
}

func TestRecordJSON(t *testing.T) {
	srv, svc := setupDashboard(t)
	seedApp(t, svc, "app-1", "rag-chat")
	seedRecord(t, svc, "rec-1", "app-1", 1500)
	err := svc.InsertCall(&database.Call{
		CallID: "call-1", RecordID: "rec-1", Component: "LLM",
		Operation: "generate", StartOffsetMs: 10, DurationMs: 900, Status: "ok",
	})
	if err != nil {
		t.Fatalf("InsertCall failed: %v", err)
	}

	resp := get(t, srv, "/api/record?id=rec-1")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var payload recordData
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.Record == nil || payload.Record.RecordID != "rec-1" {
		t.Errorf("payload record mismatch: %+v", payload.Record)
	}
	if payload.App == nil || payload.App.AppName != "rag-chat" {
		t.Errorf("payload app mismatch: %+v", payload.App)
	}
	if len(payload.Calls) != 1 {
		t.Errorf("expected 1 call in payload, got %d", len(payload.Calls))
	}
	if payload.Stats == nil || payload.Stats.TotalCalls != 1 {
		t.Errorf("payload stats mismatch: %+v", payload.Stats)
	}
}

// TestBuildTimelineStretchesToCalls covers a call that runs past the
// record's recorded total: the axis grows to cover it instead of
// clipping the bar.
func TestBuildTimelineStretchesToCalls(t *testing.T) {
	rec := &database.Record{RecordID: "rec-1", TotalTimeMs: 1000}
	calls := []*database.Call{
		{CallID: "call-1", RecordID: "rec-1", Component: "LLM",
			Operation: "generate", StartOffsetMs: 800, DurationMs: 700},
	}

	view := buildTimeline(rec, calls)
	if view.TotalMs != 1500 {
		t.Fatalf("expected axis stretched to 1500ms, got %d", view.TotalMs)
	}
	last := view.Bars[0]
	if end := last.LeftPx + last.WidthPx; end > float64(timelineWidth)+0.001 {
		t.Errorf("bar end %.1f overflows the %dpx axis", end, timelineWidth)
	}
}

// TestBuildTimelineEmptyRecord: a zero-duration record renders no
// gridlines and no bars rather than dividing by zero.
func TestBuildTimelineEmptyRecord(t *testing.T) {
	rec := &database.Record{RecordID: "rec-1", TotalTimeMs: 0}

	view := buildTimeline(rec, nil)
	if len(view.Gridlines) != 0 {
		t.Errorf("expected no gridlines, got %d", len(view.Gridlines))
	}
	if len(view.Bars) != 0 {
		t.Errorf("expected no bars, got %d", len(view.Bars))
	}
}

func TestOrderCallsTreeOrder(t *testing.T) {
	rootID := "call-root"
	calls := []*database.Call{
		{CallID: rootID, Component: "CHAIN"},
		{CallID: "call-a", ParentCallID: &rootID, Component: "RETRIEVAL"},
		{CallID: "call-b", ParentCallID: &rootID, Component: "LLM"},
	}

	nodes := orderCalls(calls)
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if nodes[0].call.CallID != rootID || nodes[0].depth != 0 {
		t.Errorf("expected root first at depth 0, got %s depth %d", nodes[0].call.CallID, nodes[0].depth)
	}
	if nodes[1].depth != 1 || nodes[2].depth != 1 {
		t.Errorf("expected children at depth 1, got %d and %d", nodes[1].depth, nodes[2].depth)
	}
}
