package feedback

import (
	"strings"
	"testing"

	"github.com/traceloupe/traceloupe/internal/database"
)

// TestNormalizeGrade verifies the 0-10 grade maps onto [0, 1] and that
// out-of-range model output clamps instead of failing.
func TestNormalizeGrade(t *testing.T) {
	if got := normalizeGrade(0); got != 0.0 {
		t.Errorf("expected 0.0 for grade 0, got %.2f", got)
	}
	if got := normalizeGrade(10); got != 1.0 {
		t.Errorf("expected 1.0 for grade 10, got %.2f", got)
	}
	if got := normalizeGrade(7); got != 0.7 {
		t.Errorf("expected 0.7 for grade 7, got %.2f", got)
	}
	if got := normalizeGrade(-3); got != 0.0 {
		t.Errorf("expected clamp to 0.0 for grade -3, got %.2f", got)
	}
	if got := normalizeGrade(42); got != 1.0 {
		t.Errorf("expected clamp to 1.0 for grade 42, got %.2f", got)
	}
}

// TestBuildPromptUsesDefinitionCriteria verifies that a definition's
// prompt overrides the default criteria and that both record sides are
// included.
func TestBuildPromptUsesDefinitionCriteria(t *testing.T) {
	p := &OpenAIProvider{budget: defaultPromptBudget}
	p.encOnce.Do(func() {}) // keep the character heuristic, no BPE load

	criteria := "Rate whether the RESPONSE cites only facts present in the QUERY context."
	input := "What year did Krakatoa erupt?"
	output := "Krakatoa erupted in 1883."
	def := &database.FeedbackDef{Name: "groundedness", Prompt: &criteria}
	rec := &database.Record{RecordID: "rec-1", Input: &input, Output: &output}

	prompt := p.buildPrompt(def, rec)

	if !strings.Contains(prompt, criteria) {
		t.Error("expected definition criteria in prompt")
	}
	if strings.Contains(prompt, defaultCriteria) {
		t.Error("default criteria should be replaced by the definition's")
	}
	if !strings.Contains(prompt, input) || !strings.Contains(prompt, output) {
		t.Error("expected record input and output in prompt")
	}
	if !strings.Contains(prompt, "QUERY:") || !strings.Contains(prompt, "RESPONSE:") {
		t.Error("expected QUERY/RESPONSE sections in prompt")
	}
}

// TestBuildPromptDefaultCriteria verifies the fallback when the
// definition carries no prompt.
func TestBuildPromptDefaultCriteria(t *testing.T) {
	p := &OpenAIProvider{budget: defaultPromptBudget}
	p.encOnce.Do(func() {})

	def := &database.FeedbackDef{Name: "relevance"}
	rec := &database.Record{RecordID: "rec-1"}

	prompt := p.buildPrompt(def, rec)
	if !strings.Contains(prompt, defaultCriteria) {
		t.Error("expected default criteria in prompt")
	}
}

// TestTruncateToTokens verifies budget trimming on the character
// heuristic path.
func TestTruncateToTokens(t *testing.T) {
	p := &OpenAIProvider{budget: 20}
	p.encOnce.Do(func() {})

	short := "brief"
	if got := p.truncateToTokens(short, 10); got != short {
		t.Errorf("expected short text untouched, got %q", got)
	}

	long := strings.Repeat("abcd", 100) // 400 chars, ~100 tokens
	got := p.truncateToTokens(long, 10)
	if len(got) != 40 {
		t.Errorf("expected 40 chars for a 10 token budget, got %d", len(got))
	}

	if got := p.truncateToTokens("anything", 0); got != "" {
		t.Errorf("expected empty result for zero budget, got %q", got)
	}
}

// TestNewOpenAIProviderRequiresKey verifies construction fails without
// an API key and applies defaults with one.
func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider failed: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("expected provider name openai, got %s", p.Name())
	}
	if string(p.model) != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %s", p.model)
	}
	if p.budget != defaultPromptBudget {
		t.Errorf("expected default budget %d, got %d", defaultPromptBudget, p.budget)
	}
}
