// Package feedback runs LLM-backed evaluations over completed records.
//
// A feedback definition names a quality to grade (relevance,
// groundedness) and optionally carries the grading criteria; a Provider
// turns one record into a score in [0, 1]. The Runner polls the store
// for completed records missing results and drives the registered
// providers. The mapping is deliberately one definition to one provider
// call, with no selector language or aggregation layer on top.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/pkoukk/tiktoken-go"

	"github.com/traceloupe/traceloupe/internal/analysis"
	"github.com/traceloupe/traceloupe/internal/database"
)

// Result is a single scored evaluation.
type Result struct {
	Score            float64 // Normalized to [0, 1]
	Explanation      string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Provider scores one record against one feedback definition.
type Provider interface {
	// Name matches FeedbackDef.Provider to route definitions here.
	Name() string
	// Score grades the record. Implementations must honor ctx.
	Score(ctx context.Context, def *database.FeedbackDef, rec *database.Record) (*Result, error)
}

// gradeResponse is the JSON shape the model is instructed to return.
type gradeResponse struct {
	Score       int    `json:"score" jsonschema_description:"Integer grade from 0 (worst) to 10 (best)"`
	Explanation string `json:"explanation" jsonschema_description:"One or two sentences supporting the grade"`
}

func generateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var gradeResponseSchema = generateSchema[gradeResponse]()

const (
	// defaultPromptBudget caps how many tokens of record input and
	// output feed the grading prompt, split evenly between the two.
	defaultPromptBudget = 6000

	requestTimeout = 60 * time.Second

	defaultCriteria = "Rate how well the RESPONSE answers the QUERY. " +
		"Consider relevance, groundedness, and completeness."
)

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	APIKey       string
	Model        string // Defaults to gpt-4o-mini
	BaseURL      string // Optional OpenAI-compatible endpoint
	PromptBudget int    // Tokens of record content per prompt
}

// OpenAIProvider grades records with a chat completion in strict JSON
// schema mode, so responses parse without fence stripping.
type OpenAIProvider struct {
	client openai.Client
	model  openai.ChatModel
	budget int

	encOnce  sync.Once
	encoding *tiktoken.Tiktoken
}

// NewOpenAIProvider builds a provider from config. The API key is
// required; everything else has workable defaults.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai key cannot be empty")
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(3),
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	budget := cfg.PromptBudget
	if budget <= 0 {
		budget = defaultPromptBudget
	}

	return &OpenAIProvider{
		client: openai.NewClient(clientOptions...),
		model:  openai.ChatModel(model),
		budget: budget,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Score implements Provider. The grade comes back as an integer 0-10
// and is normalized to [0, 1] for storage.
func (p *OpenAIProvider) Score(ctx context.Context, def *database.FeedbackDef, rec *database.Record) (*Result, error) {
	prompt := p.buildPrompt(def, rec)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: p.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "grade",
					Description: openai.String("Grade with supporting explanation"),
					Schema:      gradeResponseSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("calling openai for %s: %w", def.Name, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("empty response from openai for %s", def.Name)
	}

	var grade gradeResponse
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &grade); err != nil {
		return nil, fmt.Errorf("parsing grade JSON: %w", err)
	}

	promptTokens := int(completion.Usage.PromptTokens)
	completionTokens := int(completion.Usage.CompletionTokens)

	return &Result{
		Score:            normalizeGrade(grade.Score),
		Explanation:      grade.Explanation,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          analysis.EstimateCost(string(p.model), promptTokens, completionTokens),
	}, nil
}

// normalizeGrade maps the 0-10 integer grade onto [0, 1]. Out-of-range
// model output clamps rather than failing the evaluation.
func normalizeGrade(grade int) float64 {
	if grade < 0 {
		grade = 0
	}
	if grade > 10 {
		grade = 10
	}
	return float64(grade) / 10.0
}

// buildPrompt assembles the grading prompt from the definition's
// criteria and the record's input/output, trimmed to the token budget.
func (p *OpenAIProvider) buildPrompt(def *database.FeedbackDef, rec *database.Record) string {
	criteria := defaultCriteria
	if def.Prompt != nil && *def.Prompt != "" {
		criteria = *def.Prompt
	}

	var input, output string
	if rec.Input != nil {
		input = *rec.Input
	}
	if rec.Output != nil {
		output = *rec.Output
	}
	half := p.budget / 2
	input = p.truncateToTokens(input, half)
	output = p.truncateToTokens(output, half)

	var b strings.Builder
	b.WriteString(criteria)
	b.WriteString("\n\nQUERY:\n")
	b.WriteString(input)
	b.WriteString("\n\nRESPONSE:\n")
	b.WriteString(output)
	b.WriteString("\n\nRespond in JSON with an integer \"score\" from 0 to 10 and a short \"explanation\".")
	return b.String()
}

// truncateToTokens trims text to at most maxTokens. Without the BPE
// encoding it approximates at four characters per token.
func (p *OpenAIProvider) truncateToTokens(text string, maxTokens int) string {
	if text == "" || maxTokens <= 0 {
		return ""
	}
	p.encOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			p.encoding = enc
		}
	})
	if p.encoding == nil {
		if len(text) <= maxTokens*4 {
			return text
		}
		cut := text[:maxTokens*4]
		for len(cut) > 0 && !utf8.ValidString(cut) {
			cut = cut[:len(cut)-1]
		}
		return cut
	}
	tokens := p.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return p.encoding.Decode(tokens[:maxTokens])
}
