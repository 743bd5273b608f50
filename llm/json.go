package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable wraps any underlying Chat/Embed failure from a
// Provider, so callers can classify a network/API error distinctly
// from a malformed-response error without depending on a specific
// provider's error type.
var ErrUnavailable = errors.New("llm: provider unavailable")

// GenerateResponse sends a single-turn prompt and returns the model's
// text content. It is a thin wrapper over Chat for call sites that
// don't need the full request/response shape.
func GenerateResponse(ctx context.Context, p Provider, model, prompt string) (string, error) {
	resp, err := p.Chat(ctx, ChatRequest{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp.Content, nil
}

// GenerateEmbedding embeds a single text and returns its vector. It is
// a thin wrapper over the batch Embed method.
func GenerateEmbedding(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("llm: empty embedding response")
	}
	return vecs[0], nil
}

// GenerateJSON sends a prompt that instructs the model to respond with
// a single JSON object, then unmarshals the response into target.
// Callers must fall back to a safe default on error rather than
// aborting — malformed LLM output is an expected, non-fatal condition
// (spec's Parsing Errors taxonomy).
func GenerateJSON(ctx context.Context, p Provider, model, prompt string, target any) error {
	resp, err := p.Chat(ctx, ChatRequest{
		Model:          model,
		Messages:       []Message{{Role: "user", Content: prompt}},
		ResponseFormat: "json_object",
		Temperature:    0,
	})
	if err != nil {
		return fmt.Errorf("%w: json request failed: %v", ErrUnavailable, err)
	}
	raw := extractJSONObject(resp.Content)
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("llm: malformed json response: %w", err)
	}
	return nil
}

// ExtractPlainAnswer returns raw unchanged unless it looks like a JSON
// object (starts with '{' once trimmed), in which case it unmarshals
// the object and returns its "answer" field. Some chat models wrap a
// plain-text answer in {"answer": "..."} even when not asked to; raw
// is returned unchanged if the object can't be parsed or carries no
// "answer" field.
func ExtractPlainAnswer(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}
	var wrapped struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(trimmed)), &wrapped); err != nil || wrapped.Answer == "" {
		return raw
	}
	return wrapped.Answer
}

// extractJSONObject strips common wrapping artifacts (code fences,
// leading prose) some chat models add around an otherwise-valid JSON
// object.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
