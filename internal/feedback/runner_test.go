package feedback

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/traceloupe/traceloupe/internal/database"
)

// stubProvider returns a fixed score or error without touching any API.
type stubProvider struct {
	name  string
	score float64
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Score(ctx context.Context, def *database.FeedbackDef, rec *database.Record) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Score: s.score, Explanation: "matches the context"}, nil
}

func setupRunnerStore(t *testing.T) *database.DBService {
	t.Helper()
	svc, err := database.NewDBService(":memory:")
	if err != nil {
		t.Fatalf("NewDBService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	err = svc.InsertApp(&database.App{
		AppID: "app-1", AppName: "rag-chat", AppVersion: "v1",
		CreatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		t.Fatalf("InsertApp failed: %v", err)
	}
	err = svc.InsertFeedbackDef(&database.FeedbackDef{
		FeedbackDefID: "def-1", Name: "relevance", Provider: "stub",
	})
	if err != nil {
		t.Fatalf("InsertFeedbackDef failed: %v", err)
	}
	return svc
}

func insertCompletedRecord(t *testing.T, svc *database.DBService, recordID string) {
	t.Helper()
	input := "What is WAL mode?"
	output := "Write-ahead logging keeps readers unblocked during writes."
	err := svc.InsertRecord(&database.Record{
		RecordID: recordID, AppID: "app-1", Input: &input, Output: &output,
		Status: database.RecordStatusCompleted, StartTime: time.Now().UnixNano(),
	})
	if err != nil {
		t.Fatalf("InsertRecord(%s) failed: %v", recordID, err)
	}
}

// TestRunnerScoresBacklog verifies that one pass scores every completed
// record missing a result, and that a second pass finds nothing left.
func TestRunnerScoresBacklog(t *testing.T) {
	svc := setupRunnerStore(t)
	insertCompletedRecord(t, svc, "rec-1")
	insertCompletedRecord(t, svc, "rec-2")

	stub := &stubProvider{name: "stub", score: 0.8}
	runner := NewRunner(svc, log.New(io.Discard), time.Minute)
	runner.Register(stub)

	n, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records scored, got %d", n)
	}

	results, err := svc.GetFeedbackForRecord("rec-1")
	if err != nil {
		t.Fatalf("GetFeedbackForRecord failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != database.FeedbackStatusDone {
		t.Errorf("expected status done, got %s", results[0].Status)
	}
	if results[0].Score != 0.8 {
		t.Errorf("expected score 0.8, got %.2f", results[0].Score)
	}
	if results[0].CallsJSON == nil {
		t.Error("expected explanation detail to be stored")
	}

	// Nothing left to score
	n, err = runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty backlog on second pass, got %d", n)
	}
	if stub.calls != 2 {
		t.Errorf("expected exactly 2 provider calls, got %d", stub.calls)
	}
}

// TestRunnerRecordsFailure verifies that a provider error leaves a
// failed result row with the error preserved, and does not retry.
func TestRunnerRecordsFailure(t *testing.T) {
	svc := setupRunnerStore(t)
	insertCompletedRecord(t, svc, "rec-1")

	stub := &stubProvider{name: "stub", err: fmt.Errorf("rate limited")}
	runner := NewRunner(svc, log.New(io.Discard), time.Minute)
	runner.Register(stub)

	n, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 scored, got %d", n)
	}

	results, err := svc.GetFeedbackForRecord("rec-1")
	if err != nil {
		t.Fatalf("GetFeedbackForRecord failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(results))
	}
	if results[0].Status != database.FeedbackStatusFailed {
		t.Errorf("expected status failed, got %s", results[0].Status)
	}
	if results[0].ErrorMessage == nil || *results[0].ErrorMessage == "" {
		t.Error("expected error message on failed result")
	}

	// Failed rows are terminal; the backlog no longer includes rec-1
	n, err = runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if n != 0 || stub.calls != 1 {
		t.Errorf("expected no retry, got n=%d calls=%d", n, stub.calls)
	}
}

// TestRunnerSkipsUnregisteredProvider verifies definitions for
// providers this process doesn't carry are left untouched.
func TestRunnerSkipsUnregisteredProvider(t *testing.T) {
	svc := setupRunnerStore(t)
	insertCompletedRecord(t, svc, "rec-1")

	// Register under a different name than the definition asks for
	stub := &stubProvider{name: "other", score: 0.5}
	runner := NewRunner(svc, log.New(io.Discard), time.Minute)
	runner.Register(stub)

	n, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 0 || stub.calls != 0 {
		t.Errorf("expected untouched backlog, got n=%d calls=%d", n, stub.calls)
	}

	results, err := svc.GetFeedbackForRecord("rec-1")
	if err != nil {
		t.Fatalf("GetFeedbackForRecord failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no result rows, got %d", len(results))
	}
}

// TestRunnerStartStop verifies the background loop runs a pass and
// shuts down cleanly.
func TestRunnerStartStop(t *testing.T) {
	svc := setupRunnerStore(t)
	insertCompletedRecord(t, svc, "rec-1")

	stub := &stubProvider{name: "stub", score: 0.9}
	runner := NewRunner(svc, log.New(io.Discard), time.Hour)
	runner.Register(stub)

	runner.Start(context.Background())

	// The first pass fires immediately; give it a moment
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results, err := svc.GetFeedbackForRecord("rec-1")
		if err == nil && len(results) == 1 && results[0].Status == database.FeedbackStatusDone {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	runner.Stop()

	results, err := svc.GetFeedbackForRecord("rec-1")
	if err != nil {
		t.Fatalf("GetFeedbackForRecord failed: %v", err)
	}
	if len(results) != 1 || results[0].Status != database.FeedbackStatusDone {
		t.Fatalf("expected one done result after background pass, got %+v", results)
	}
}
