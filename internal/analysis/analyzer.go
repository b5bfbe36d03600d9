// Package analysis provides lightweight, deterministic analysis over
// recorded LLM app executions. Everything here is mathematical and
// statistical — the LLM-backed scoring lives in internal/feedback.
//
// Key capabilities:
//   - Token hotspot detection via Z-score analysis
//   - Feedback score trend analysis via linear regression
//   - Cost attribution across LLM calls, with token estimation for
//     uninstrumented calls
package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/traceloupe/traceloupe/internal/database"
	"github.com/traceloupe/traceloupe/pkg/timeutil"
)

// trendWindow caps how many records feed the score trend regression.
const trendWindow = 500

// Analyzer performs statistical analysis on record data.
type Analyzer struct {
	store database.Store

	// BPE encoding for token estimates, loaded on first use. Loading
	// may hit the network, so reports that never estimate never pay.
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
}

// NewAnalyzer creates a new analysis engine backed by the given store.
func NewAnalyzer(store database.Store) *Analyzer {
	return &Analyzer{store: store}
}

// ============================================================
// Token Hotspot Detection
// ============================================================

// TokenHotspot identifies a call with abnormally high token consumption.
type TokenHotspot struct {
	CallID           string  `json:"call_id"`
	Operation        string  `json:"operation"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	ZScore           float64 `json:"z_score"`
	Severity         string  `json:"severity"` // "low", "medium", "high"
}

// DetectTokenHotspots calculates the Z-score of token usage across all
// LLM calls in a record, identifying outliers that consume
// disproportionate tokens.
//
// A Z-score > 2.0 is considered a hotspot ("medium" severity).
// A Z-score > 3.0 is a significant hotspot ("high" severity).
//
// This answers: "Which LLM calls are consuming the most tokens?"
func (a *Analyzer) DetectTokenHotspots(recordID string) ([]TokenHotspot, error) {
	calls, err := a.store.QueryCalls(recordID)
	if err != nil {
		return nil, fmt.Errorf("querying calls for hotspot analysis: %w", err)
	}

	// Filter to LLM calls only
	var llmCalls []*database.Call
	for _, c := range calls {
		if c.Component == "LLM" {
			llmCalls = append(llmCalls, c)
		}
	}

	if len(llmCalls) < 2 {
		// Not enough data for meaningful Z-score analysis
		return nil, nil
	}

	// Calculate total tokens per call
	totals := make([]float64, len(llmCalls))
	var sum, sumSq float64
	for i, c := range llmCalls {
		total := float64(c.PromptTokens + c.CompletionTokens)
		totals[i] = total
		sum += total
		sumSq += total * total
	}

	n := float64(len(llmCalls))
	mean := sum / n
	variance := (sumSq / n) - (mean * mean)
	stddev := math.Sqrt(variance)

	if stddev == 0 {
		// All calls have the same token count — no hotspots
		return nil, nil
	}

	var hotspots []TokenHotspot
	for i, c := range llmCalls {
		zScore := (totals[i] - mean) / stddev

		if zScore > 1.5 {
			severity := "low"
			if zScore > 3.0 {
				severity = "high"
			} else if zScore > 2.0 {
				severity = "medium"
			}

			model := "unknown"
			if c.Model != nil {
				model = *c.Model
			}

			hotspots = append(hotspots, TokenHotspot{
				CallID:           c.CallID,
				Operation:        c.Operation,
				Model:            model,
				PromptTokens:     c.PromptTokens,
				CompletionTokens: c.CompletionTokens,
				TotalTokens:      c.PromptTokens + c.CompletionTokens,
				ZScore:           math.Round(zScore*100) / 100,
				Severity:         severity,
			})
		}
	}

	// Sort by Z-score descending
	sort.Slice(hotspots, func(i, j int) bool {
		return hotspots[i].ZScore > hotspots[j].ZScore
	})

	return hotspots, nil
}

// ============================================================
// Score Trend Analysis
// ============================================================

// ScoreTrendReport contains the results of feedback score trend analysis.
type ScoreTrendReport struct {
	AppID          string       `json:"app_id"`
	FeedbackName   string       `json:"feedback_name"`
	TotalSamples   int          `json:"total_samples"`
	MeanScore      float64      `json:"mean_score"`
	Slope          float64      `json:"slope"`     // Score change per second
	Intercept      float64      `json:"intercept"` // Linear regression intercept
	RSquared       float64      `json:"r_squared"` // Goodness of fit
	ProjectedScore float64      `json:"projected_score_1h"`
	IsRegressing   bool         `json:"is_regressing"`
	Points         []ScorePoint `json:"points"`
}

// ScorePoint is one feedback score observation on the trend line.
type ScorePoint struct {
	RecordID  string  `json:"record_id"`
	Timestamp string  `json:"timestamp"`
	Score     float64 `json:"score"`
}

// dataPoint represents a single time-series observation for regression analysis.
type dataPoint struct {
	seconds float64 // Seconds since first observation
	score   float64
}

// AnalyzeScoreTrend performs linear regression on a feedback
// definition's scores across an app's records over time, flagging
// quality regressions.
//
// A regression is flagged when the slope is negative and the fit is
// strong (R-squared above 0.5), so noisy score scatter does not alarm.
//
// This answers: "Is this app getting worse over time?"
func (a *Analyzer) AnalyzeScoreTrend(appID, feedbackName string) (*ScoreTrendReport, error) {
	recs, err := a.store.QueryRecords(database.RecordFilter{AppID: &appID, Limit: trendWindow})
	if err != nil {
		return nil, fmt.Errorf("querying records for trend analysis: %w", err)
	}

	// QueryRecords returns newest first; the trend reads oldest to newest
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].StartTime < recs[j].StartTime
	})

	type sample struct {
		rec   *database.Record
		score float64
	}
	var samples []sample
	for _, rec := range recs {
		results, err := a.store.GetFeedbackForRecord(rec.RecordID)
		if err != nil {
			continue
		}
		for _, fr := range results {
			if fr.Name == feedbackName && fr.Status == database.FeedbackStatusDone {
				samples = append(samples, sample{rec: rec, score: fr.Score})
				break
			}
		}
	}

	report := &ScoreTrendReport{
		AppID:        appID,
		FeedbackName: feedbackName,
		TotalSamples: len(samples),
	}

	if len(samples) < 2 {
		return report, nil
	}

	baseTime := samples[0].rec.StartTime
	var points []dataPoint
	var sumScore float64

	for _, s := range samples {
		t := float64(s.rec.StartTime-baseTime) / 1e9 // Convert to seconds
		points = append(points, dataPoint{seconds: t, score: s.score})
		sumScore += s.score

		report.Points = append(report.Points, ScorePoint{
			RecordID:  s.rec.RecordID,
			Timestamp: timeutil.FormatTimestamp(s.rec.StartTime),
			Score:     s.score,
		})
	}

	// Linear regression: y = mx + b
	slope, intercept, rSquared := linearRegression(points)

	// Project the score one hour past the newest sample, clamped to [0, 1]
	lastTime := points[len(points)-1].seconds
	projected := slope*(lastTime+3600) + intercept
	projected = math.Max(0, math.Min(1, projected))

	report.MeanScore = math.Round(sumScore/float64(len(samples))*1000) / 1000
	report.Slope = math.Round(slope*1e6) / 1e6
	report.Intercept = math.Round(intercept*1000) / 1000
	report.RSquared = math.Round(rSquared*1000) / 1000
	report.ProjectedScore = math.Round(projected*1000) / 1000
	report.IsRegressing = slope < 0 && rSquared > 0.5

	return report, nil
}

// linearRegression computes ordinary least squares regression.
// Returns slope (m), intercept (b), and R-squared goodness of fit.
func linearRegression(points []dataPoint) (slope, intercept, rSquared float64) {
	n := float64(len(points))
	if n < 2 {
		return 0, 0, 0
	}

	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for _, p := range points {
		sumX += p.seconds
		sumY += p.score
		sumXY += p.seconds * p.score
		sumX2 += p.seconds * p.seconds
		sumY2 += p.score * p.score
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	// R-squared
	meanY := sumY / n
	var ssRes, ssTot float64
	for _, p := range points {
		predicted := slope*p.seconds + intercept
		ssRes += (p.score - predicted) * (p.score - predicted)
		ssTot += (p.score - meanY) * (p.score - meanY)
	}

	if ssTot == 0 {
		rSquared = 1.0
	} else {
		rSquared = 1 - ssRes/ssTot
	}

	return slope, intercept, rSquared
}

// ============================================================
// Cost Attribution
// ============================================================

// CostEntry attributes token cost to a specific call.
type CostEntry struct {
	CallID           string  `json:"call_id"`
	Operation        string  `json:"operation"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TokensEstimated  bool    `json:"tokens_estimated,omitempty"`
	EstimatedCost    float64 `json:"estimated_cost_usd"`
	Percentage       float64 `json:"percentage"`
}

// CostReport summarizes token costs across a record.
type CostReport struct {
	RecordID              string      `json:"record_id"`
	TotalPromptTokens     int         `json:"total_prompt_tokens"`
	TotalCompletionTokens int         `json:"total_completion_tokens"`
	TotalEstimatedCost    float64     `json:"total_estimated_cost_usd"`
	Entries               []CostEntry `json:"entries"`
}

// Model pricing (approximate, per 1K tokens)
var modelPricing = map[string][2]float64{
	"gpt-4":           {0.03, 0.06},
	"gpt-4-turbo":     {0.01, 0.03},
	"gpt-4o":          {0.005, 0.015},
	"gpt-4o-mini":     {0.00015, 0.0006},
	"gpt-3.5-turbo":   {0.0005, 0.0015},
	"claude-3-opus":   {0.015, 0.075},
	"claude-3-sonnet": {0.003, 0.015},
	"claude-3-haiku":  {0.00025, 0.00125},
}

// EstimateCost returns the approximate USD cost of a call on the given
// model. Unknown models use a conservative default rate.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = [2]float64{0.01, 0.03}
	}
	return float64(promptTokens)/1000.0*pricing[0] + float64(completionTokens)/1000.0*pricing[1]
}

// AttributeCosts calculates estimated costs for each LLM call in a
// record. Calls whose SDK reported no token usage get a BPE-based
// estimate from their serialized arguments and returns.
func (a *Analyzer) AttributeCosts(recordID string) (*CostReport, error) {
	calls, err := a.store.QueryCalls(recordID)
	if err != nil {
		return nil, fmt.Errorf("querying calls for cost analysis: %w", err)
	}

	report := &CostReport{RecordID: recordID}

	for _, c := range calls {
		if c.Component != "LLM" {
			continue
		}

		model := "unknown"
		if c.Model != nil {
			model = *c.Model
		}

		promptTokens := c.PromptTokens
		completionTokens := c.CompletionTokens
		estimated := false
		if promptTokens == 0 && completionTokens == 0 {
			if c.Args != nil {
				promptTokens = a.estimateTokens(*c.Args)
			}
			if c.Rets != nil {
				completionTokens = a.estimateTokens(*c.Rets)
			}
			estimated = promptTokens > 0 || completionTokens > 0
		}

		totalCost := EstimateCost(model, promptTokens, completionTokens)

		report.TotalPromptTokens += promptTokens
		report.TotalCompletionTokens += completionTokens
		report.TotalEstimatedCost += totalCost

		report.Entries = append(report.Entries, CostEntry{
			CallID:           c.CallID,
			Operation:        c.Operation,
			Model:            model,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TokensEstimated:  estimated,
			EstimatedCost:    math.Round(totalCost*10000) / 10000,
		})
	}

	// Calculate percentages
	for i := range report.Entries {
		if report.TotalEstimatedCost > 0 {
			report.Entries[i].Percentage = math.Round(
				report.Entries[i].EstimatedCost/report.TotalEstimatedCost*10000) / 100
		}
	}

	return report, nil
}

// estimateTokens counts BPE tokens for text. When the encoding is
// unavailable it falls back to the rough four-characters-per-token
// heuristic.
func (a *Analyzer) estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	a.encOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			a.encoder = enc
		}
	})
	if a.encoder != nil {
		return len(a.encoder.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// ============================================================
// Full Analysis Report
// ============================================================

// AnalysisReport is the complete output of `traceloupe analyze`.
type AnalysisReport struct {
	RecordID        string                     `json:"record_id"`
	GeneratedAt     string                     `json:"generated_at"`
	Stats           *database.RecordStats      `json:"stats"`
	TokenHotspots   []TokenHotspot             `json:"token_hotspots"`
	CostAttribution *CostReport                `json:"cost_attribution"`
	Feedback        []*database.FeedbackResult `json:"feedback"`
	Warnings        []string                   `json:"warnings"`
}

// FullAnalysis runs all record-scoped analysis passes and generates a
// comprehensive report.
func (a *Analyzer) FullAnalysis(recordID string) (*AnalysisReport, error) {
	report := &AnalysisReport{
		RecordID:    recordID,
		GeneratedAt: time.Now().Format(time.RFC3339),
	}

	// Gather statistics
	stats, err := a.store.GetRecordStats(recordID)
	if err != nil {
		return nil, fmt.Errorf("gathering record stats: %w", err)
	}
	report.Stats = stats

	// Token hotspots
	hotspots, err := a.DetectTokenHotspots(recordID)
	if err != nil {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("Token hotspot analysis failed: %v", err))
	} else {
		report.TokenHotspots = hotspots
	}

	// Cost attribution
	costReport, err := a.AttributeCosts(recordID)
	if err != nil {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("Cost attribution failed: %v", err))
	} else {
		report.CostAttribution = costReport
	}

	// Feedback results
	feedback, err := a.store.GetFeedbackForRecord(recordID)
	if err != nil {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("Feedback lookup failed: %v", err))
	} else {
		report.Feedback = feedback
	}

	// Generate warnings based on analysis
	if stats.FeedbackCount > 0 && stats.MeanScore < 0.5 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("⚠ LOW FEEDBACK SCORE: mean %.2f across %d results. "+
				"Inspect the failing feedback below.", stats.MeanScore, stats.FeedbackCount))
	}

	for _, h := range hotspots {
		if h.Severity == "high" {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("⚠ TOKEN HOTSPOT: %s consumed %d tokens (Z-score: %.2f). "+
					"Consider prompt optimization.", h.Operation, h.TotalTokens, h.ZScore))
		}
	}

	return report, nil
}

// FormatReport generates a human-readable markdown report.
func (a *Analyzer) FormatReport(report *AnalysisReport) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Traceloupe Analysis Report\n\n"))
	b.WriteString(fmt.Sprintf("**Record ID:** `%s`\n", report.RecordID))
	b.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt))

	// Stats
	if report.Stats != nil {
		b.WriteString("## Execution Summary\n\n")
		b.WriteString(fmt.Sprintf("| Metric | Value |\n"))
		b.WriteString(fmt.Sprintf("|--------|-------|\n"))
		b.WriteString(fmt.Sprintf("| Total Calls | %d |\n", report.Stats.TotalCalls))
		b.WriteString(fmt.Sprintf("| LLM Calls | %d |\n", report.Stats.LLMCalls))
		b.WriteString(fmt.Sprintf("| Retrieval Calls | %d |\n", report.Stats.RetrievalCalls))
		b.WriteString(fmt.Sprintf("| Tool Calls | %d |\n", report.Stats.ToolCalls))
		b.WriteString(fmt.Sprintf("| Total Prompt Tokens | %d |\n", report.Stats.TotalPromptTokens))
		b.WriteString(fmt.Sprintf("| Total Completion Tokens | %d |\n", report.Stats.TotalCompletionTokens))
		b.WriteString(fmt.Sprintf("| Total Duration | %s |\n\n", timeutil.FormatDuration(report.Stats.TotalDurationMs)))
	}

	// Token Hotspots
	if len(report.TokenHotspots) > 0 {
		b.WriteString("## Token Hotspots\n\n")
		b.WriteString("| Operation | Model | Tokens | Z-Score | Severity |\n")
		b.WriteString("|-----------|-------|--------|---------|----------|\n")
		for _, h := range report.TokenHotspots {
			b.WriteString(fmt.Sprintf("| %s | %s | %d | %.2f | %s |\n",
				h.Operation, h.Model, h.TotalTokens, h.ZScore, h.Severity))
		}
		b.WriteString("\n")
	}

	// Cost Attribution
	if report.CostAttribution != nil {
		ca := report.CostAttribution
		b.WriteString("## Cost Attribution\n\n")
		b.WriteString(fmt.Sprintf("**Total Estimated Cost:** $%.4f\n\n", ca.TotalEstimatedCost))
		if len(ca.Entries) > 0 {
			b.WriteString("| Operation | Model | Tokens | Cost | % |\n")
			b.WriteString("|-----------|-------|--------|------|---|\n")
			for _, e := range ca.Entries {
				tokens := fmt.Sprintf("%d", e.PromptTokens+e.CompletionTokens)
				if e.TokensEstimated {
					tokens = "~" + tokens
				}
				b.WriteString(fmt.Sprintf("| %s | %s | %s | $%.4f | %.1f%% |\n",
					e.Operation, e.Model, tokens, e.EstimatedCost, e.Percentage))
			}
		}
		b.WriteString("\n")
	}

	// Feedback
	if len(report.Feedback) > 0 {
		b.WriteString("## Feedback Results\n\n")
		b.WriteString("| Name | Score | Status |\n")
		b.WriteString("|------|-------|--------|\n")
		for _, fr := range report.Feedback {
			b.WriteString(fmt.Sprintf("| %s | %.2f | %s |\n", fr.Name, fr.Score, fr.Status))
		}
		b.WriteString("\n")
	}

	// Warnings
	if len(report.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range report.Warnings {
			b.WriteString(fmt.Sprintf("- %s\n", w))
		}
	}

	return b.String()
}

// FormatTrendReport renders a score trend as markdown.
func (a *Analyzer) FormatTrendReport(report *ScoreTrendReport) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Score Trend: %s\n\n", report.FeedbackName))
	b.WriteString(fmt.Sprintf("**App ID:** `%s`\n\n", report.AppID))

	if report.TotalSamples < 2 {
		b.WriteString("Not enough scored records for a trend (need at least 2).\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("- **Samples:** %d\n", report.TotalSamples))
	b.WriteString(fmt.Sprintf("- **Mean Score:** %.3f\n", report.MeanScore))
	b.WriteString(fmt.Sprintf("- **Slope:** %.6f per second\n", report.Slope))
	b.WriteString(fmt.Sprintf("- **R² Fit:** %.3f\n", report.RSquared))
	b.WriteString(fmt.Sprintf("- **Projected (1h):** %.3f\n", report.ProjectedScore))
	if report.IsRegressing {
		b.WriteString("- **⚠ WARNING:** Scores are regressing!\n")
	}
	b.WriteString("\n")

	if len(report.Points) > 0 {
		b.WriteString("| Record | Time | Score |\n")
		b.WriteString("|--------|------|-------|\n")
		for _, p := range report.Points {
			b.WriteString(fmt.Sprintf("| %s | %s | %.2f |\n", p.RecordID, p.Timestamp, p.Score))
		}
	}

	return b.String()
}
