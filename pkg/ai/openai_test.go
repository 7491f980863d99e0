package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseEvaluationResponseClampsScores(t *testing.T) {
	result, err := parseEvaluationResponse(`{"score": 1.4, "feedback": "  solid work ", "verdict": "pass", "criteria": {"clarity": -0.2, "depth": 0.75}}`)
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Score)
	require.Equal(t, "solid work", result.Feedback)
	require.Equal(t, 0.0, result.Criteria["clarity"])
	require.Equal(t, 0.75, result.Criteria["depth"])
}

func TestParseEvaluationResponseNormalisesVerdict(t *testing.T) {
	result, err := parseEvaluationResponse(`{"score": 0.4, "verdict": " Revise ", "criteria": {" ": 0.5, "evidence": 0.3}}`)
	require.NoError(t, err)
	require.Equal(t, "revise", result.Verdict)
	require.Len(t, result.Criteria, 1)

	result, err = parseEvaluationResponse(`{"score": 0.4, "verdict": "excellent"}`)
	require.NoError(t, err)
	require.Empty(t, result.Verdict)
}

func TestParseEvaluationResponseRejectsMalformedJSON(t *testing.T) {
	_, err := parseEvaluationResponse("not json")
	require.Error(t, err)
}

func TestOpenAIEvaluatorEvaluate(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"score\": 0.8, \"feedback\": \"Clear argument\", \"verdict\": \"pass\"}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	evaluator, err := NewOpenAIEvaluator(OpenAIConfig{APIKey: "test", BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	result, err := evaluator.Evaluate(context.Background(), EvaluationInput{
		AssignmentTitle: "Essay",
		SubmissionURL:   "https://files.example/essay.pdf",
		MaxScore:        10,
	})
	require.NoError(t, err)
	require.InDelta(t, 0.8, result.Score, 1e-9)
	require.Equal(t, "Clear argument", result.Feedback)
	require.Equal(t, "gpt-4o-mini", result.Model)
	require.Equal(t, "gpt-4o-mini", captured["model"])
	require.Equal(t, "pass", result.Verdict)
	messages, ok := captured["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	require.Contains(t, messages[1].(map[string]interface{})["content"], "Grades are out of 10")
}

func TestOpenAIEvaluatorRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "chatcmpl-2", "object": "chat.completion", "model": "gpt-4o-mini", "choices": []}`))
	}))
	defer server.Close()

	evaluator, err := NewOpenAIEvaluator(OpenAIConfig{APIKey: "test", BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = evaluator.Evaluate(context.Background(), EvaluationInput{AssignmentTitle: "Essay", MaxScore: 10})
	require.ErrorIs(t, err, errNoChoices)
}

func TestNewOpenAIEvaluatorRequiresKey(t *testing.T) {
	_, err := NewOpenAIEvaluator(OpenAIConfig{})
	require.Error(t, err)
}
