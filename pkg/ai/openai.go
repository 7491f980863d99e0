package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultReviewModel = "gpt-4o-mini"
	reviewMaxTokens    = 512
)

var errNoChoices = errors.New("openai returned no choices")

var reviewScoringSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "gema",
	Subsystem: "ai",
	Name:      "review_scoring_seconds",
	Help:      "Duration of automated peer review requests by outcome",
}, []string{"model", "outcome"})

// OpenAIConfig configures the OpenAI-backed automated reviewer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  zerolog.Logger
}

// OpenAIEvaluator scores submissions against the assignment brief with the
// chat completion API in JSON mode.
type OpenAIEvaluator struct {
	client *openai.Client
	model  string
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIEvaluator builds the evaluator. The API key is required.
func NewOpenAIEvaluator(cfg OpenAIConfig) (*OpenAIEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultReviewModel
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIEvaluator{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		tracer: otel.Tracer("github.com/noah-isme/gema-review-engine/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_reviewer").Logger(),
	}, nil
}

// Evaluate asks the model for a review of one submission. The returned score
// and criteria are normalised to [0, 1].
func (e *OpenAIEvaluator) Evaluate(parent context.Context, input EvaluationInput) (EvaluationResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.review", trace.WithAttributes(
		attribute.String("ai.model", e.model),
		attribute.String("ai.assignment", input.AssignmentTitle),
	))
	defer span.End()

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     e.model,
		MaxTokens: reviewMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: reviewerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildReviewPrompt(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err == nil && len(resp.Choices) == 0 {
		err = errNoChoices
	}
	if err != nil {
		return EvaluationResult{}, e.fail(span, start, "request_failed", fmt.Errorf("openai review: %w", err))
	}

	result, err := parseEvaluationResponse(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return EvaluationResult{}, e.fail(span, start, "malformed", err)
	}
	result.Model = resp.Model

	reviewScoringSeconds.WithLabelValues(e.model, "ok").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Float64("ai.score", result.Score))
	e.logger.Debug().
		Str("model", resp.Model).
		Int("total_tokens", resp.Usage.TotalTokens).
		Float64("score", result.Score).
		Str("verdict", result.Verdict).
		Msg("automated review completed")

	return result, nil
}

func (e *OpenAIEvaluator) fail(span trace.Span, start time.Time, outcome string, err error) error {
	reviewScoringSeconds.WithLabelValues(e.model, outcome).Observe(time.Since(start).Seconds())
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	return err
}

const reviewerSystemPrompt = "You are a strict but fair peer reviewer for student coursework. " +
	"Respond with a JSON object containing score (0-1), verdict (pass, revise or fail), feedback addressed to the student, " +
	"and an optional criteria object mapping rubric criteria to scores between 0 and 1."

func buildReviewPrompt(input EvaluationInput) string {
	var builder strings.Builder
	builder.WriteString("# Assignment\n")
	builder.WriteString(input.AssignmentTitle)
	if input.AssignmentDescription != "" {
		builder.WriteString("\n\n## Brief\n")
		builder.WriteString(input.AssignmentDescription)
	}
	builder.WriteString("\n\n## Submission\n")
	builder.WriteString(input.SubmissionURL)
	if input.SubmittedAt != "" {
		fmt.Fprintf(&builder, "\nSubmitted at %s.", input.SubmittedAt)
	}
	fmt.Fprintf(&builder, "\n\nGrades are out of %g; score on 0-1 regardless. Return JSON.", input.MaxScore)
	return builder.String()
}

func parseEvaluationResponse(content string) (EvaluationResult, error) {
	var data struct {
		Score    float64            `json:"score"`
		Feedback string             `json:"feedback"`
		Verdict  string             `json:"verdict"`
		Criteria map[string]float64 `json:"criteria"`
	}
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return EvaluationResult{}, fmt.Errorf("parse review json: %w", err)
	}

	criteria := make(map[string]float64, len(data.Criteria))
	for name, value := range data.Criteria {
		if name = strings.TrimSpace(name); name != "" {
			criteria[name] = unit(value)
		}
	}

	return EvaluationResult{
		Score:    unit(data.Score),
		Feedback: strings.TrimSpace(data.Feedback),
		Verdict:  normaliseVerdict(data.Verdict),
		Criteria: criteria,
	}, nil
}

// normaliseVerdict maps the model's verdict onto pass, revise or fail; anything
// else is dropped.
func normaliseVerdict(verdict string) string {
	switch v := strings.ToLower(strings.TrimSpace(verdict)); v {
	case "pass", "revise", "fail":
		return v
	default:
		return ""
	}
}

func unit(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
