package guardrails

import (
	"context"
	"fmt"

	"github.com/ragheal/ragheal/llm"
)

// SemanticChecker runs LLM-backed checks the pattern-based sweep can't
// express: hallucination grounding and completeness. It has no
// factual-accuracy or tone check. It is optional — spec.md §4.6 does
// not require it for a minimal conforming implementation — and fails
// open on any LLM or parse error: the check then reports no violation.
type SemanticChecker struct {
	provider llm.Provider
	model    string
}

// NewSemanticChecker returns a checker backed by provider/model, or nil
// if provider is nil (callers should treat a nil *SemanticChecker as
// "semantic checks disabled").
func NewSemanticChecker(provider llm.Provider, model string) *SemanticChecker {
	if provider == nil {
		return nil
	}
	return &SemanticChecker{provider: provider, model: model}
}

type hallucinationAnalysis struct {
	IsHallucinating    bool     `json:"is_hallucinating"`
	HallucinatedClaims []string `json:"hallucinated_claims"`
	GroundingScore     float64  `json:"grounding_score"`
}

// CheckHallucination asks the LLM whether answer is grounded in
// context; failure to parse a verdict fails open (no violation).
func (c *SemanticChecker) CheckHallucination(ctx context.Context, answer, context_, question string) (*Violation, error) {
	if c == nil {
		return nil, nil
	}
	ctxSnippet := context_
	if len(ctxSnippet) > 1000 {
		ctxSnippet = ctxSnippet[:1000]
	}
	prompt := fmt.Sprintf(`Analyze if the response is grounded in the provided context.
A response is hallucinating if it makes up facts not present in the context.

QUESTION: %s

CONTEXT:
%s

RESPONSE:
%s

Respond with ONLY valid JSON:
{"is_hallucinating": false, "hallucinated_claims": [], "grounding_score": 0.95}`, question, ctxSnippet, answer)

	var analysis hallucinationAnalysis
	if err := llm.GenerateJSON(ctx, c.provider, c.model, prompt, &analysis); err != nil {
		return nil, nil // fail open
	}
	if !analysis.IsHallucinating {
		return nil, nil
	}
	risk := RiskMedium
	if len(analysis.HallucinatedClaims) > 2 {
		risk = RiskHigh
	}
	return &Violation{Type: "hallucination", Risk: risk, Message: "response contains unsupported claims"}, nil
}

type completenessAnalysis struct {
	AnswersQuestion    bool     `json:"answers_question"`
	CompletenessScore  float64  `json:"completeness_score"`
	MissingInformation []string `json:"missing_information"`
}

// CheckCompleteness asks the LLM whether answer adequately addresses
// question; fails open on parse error.
func (c *SemanticChecker) CheckCompleteness(ctx context.Context, answer, question string) (*Violation, error) {
	if c == nil {
		return nil, nil
	}
	prompt := fmt.Sprintf(`Does the response adequately answer the question? What information is missing?

QUESTION: %s

RESPONSE:
%s

Respond with ONLY valid JSON:
{"answers_question": true, "completeness_score": 0.95, "missing_information": []}`, question, answer)

	var analysis completenessAnalysis
	if err := llm.GenerateJSON(ctx, c.provider, c.model, prompt, &analysis); err != nil {
		return nil, nil
	}
	if analysis.AnswersQuestion && analysis.CompletenessScore >= 0.5 {
		return nil, nil
	}
	return &Violation{Type: "completeness", Risk: RiskLow, Message: "response may not fully answer the question"}, nil
}
