package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jonathan/bidpilot/internal/llm"
	"github.com/jonathan/bidpilot/internal/prompts"
	"github.com/jonathan/bidpilot/internal/schemas"
)

const jobFitPromptKey = "job-fit"

// ResponseError is returned when the model's answer cannot be used
type ResponseError struct {
	Message string
	Content string
	Cause   error
}

func (e *ResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unusable analysis response: %s: %v", e.Message, e.Cause)
	}
	return "unusable analysis response: " + e.Message
}

func (e *ResponseError) Unwrap() error {
	return e.Cause
}

type fitResponse struct {
	FitScore       float64  `json:"fit_score"`
	Recommendation string   `json:"recommendation"`
	Summary        string   `json:"summary"`
	MatchedSkills  []string `json:"matched_skills"`
	MissingSkills  []string `json:"missing_skills"`
	Category       string   `json:"category"`
}

// LLMAnalyzer scores jobs with a language model
type LLMAnalyzer struct {
	client llm.Client
	tier   llm.ModelTier
	log    *zap.SugaredLogger
}

// NewLLMAnalyzer creates an analyzer that uses the standard model tier
func NewLLMAnalyzer(client llm.Client, log *zap.SugaredLogger) *LLMAnalyzer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LLMAnalyzer{client: client, tier: llm.TierStandard, log: log.Named("analyzer")}
}

// Analyse implements Analyzer
func (a *LLMAnalyzer) Analyse(ctx context.Context, in Input) (*Result, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return nil, err
	}

	raw, err := a.client.GenerateJSON(ctx, prompt, a.tier)
	if err != nil {
		return nil, errors.Wrap(err, "LLM generation failed")
	}

	content := llm.ExtractJSONObject(raw)
	if err := schemas.Validate(schemas.JobAnalysis, []byte(content)); err != nil {
		return nil, &ResponseError{Message: "schema validation failed", Content: content, Cause: err}
	}

	var resp fitResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, &ResponseError{Message: "invalid JSON", Content: content, Cause: err}
	}

	result := &Result{
		FitScore:       clampScore(resp.FitScore),
		Recommendation: strings.TrimSpace(resp.Recommendation),
		Summary:        strings.TrimSpace(resp.Summary),
		MatchedSkills:  NormalizeSkills(resp.MatchedSkills),
		MissingSkills:  NormalizeSkills(resp.MissingSkills),
		Category:       strings.TrimSpace(resp.Category),
		Model:          a.client.GetModel(a.tier),
	}
	if result.Category == "" {
		result.Category = in.Job.Category
	}

	a.log.Debugw("Job analysed",
		"job_id", in.Job.ID,
		"fit_score", result.FitScore,
		"model", result.Model)
	return result, nil
}

func buildPrompt(in Input) (string, error) {
	template, err := prompts.Get(prompts.AnalysisFile, jobFitPromptKey)
	if err != nil {
		return "", err
	}
	description, err := DescriptionText(in.Job.Description)
	if err != nil {
		return "", err
	}

	return prompts.Render(template, map[string]string{
		"TargetSkills": orNotSpecified(strings.Join(in.TargetSkills, ", ")),
		"Categories":   orNotSpecified(strings.Join(in.Categories, ", ")),
		"Title":        orNotSpecified(in.Job.Title),
		"Category":     orNotSpecified(in.Job.Category),
		"Skills":       orNotSpecified(strings.Join(in.Job.Skills, ", ")),
		"Budget":       formatBudget(in.Job.BudgetMin, in.Job.BudgetMax, in.Job.Currency),
		"Description":  orNotSpecified(description),
	})
}

func formatBudget(lo, hi *float64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	switch {
	case lo != nil && hi != nil:
		return fmt.Sprintf("%.0f-%.0f %s", *lo, *hi, currency)
	case hi != nil:
		return fmt.Sprintf("up to %.0f %s", *hi, currency)
	case lo != nil:
		return fmt.Sprintf("from %.0f %s", *lo, currency)
	}
	return "Not specified"
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}
