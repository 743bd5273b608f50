package retrieval

import (
	"time"

	"github.com/ragheal/ragheal/healing"
	"github.com/ragheal/ragheal/workflow"
)

// ResponseMetadata accompanies internal- and verbose-mode responses.
type ResponseMetadata struct {
	SessionID     string `json:"session_id"`
	Timestamp     string `json:"timestamp"`
	Model         string `json:"model"`
	ExecutionMs   int64  `json:"execution_time_ms"`
}

// Response is the shaped return object for Engine.Ask, whose populated
// fields depend on the request's response mode per spec.md §4.3's
// "Response-mode shaping" block.
type Response struct {
	Success           bool     `json:"success"`
	Question          string   `json:"question"`
	Answer            string   `json:"answer"`
	SessionID         string   `json:"session_id"`
	GuardrailsApplied bool     `json:"guardrails_applied"`
	Errors            []string `json:"errors,omitempty"`

	// internal and above
	QualityScore *float64           `json:"quality_score,omitempty"`
	SourcesCount *int               `json:"sources_count,omitempty"`
	SourceDocs   []SourceDoc        `json:"source_docs,omitempty"`
	Metadata     *ResponseMetadata  `json:"metadata,omitempty"`

	// verbose only
	Sources            []RerankedItem          `json:"sources,omitempty"`
	Traceability       *Traceability           `json:"traceability,omitempty"`
	OptimizationResult *healing.Recommendation `json:"optimization_result,omitempty"`
	RLRecommendation   *healing.Recommendation `json:"rl_recommendation,omitempty"`
	LearningStats      *healing.LearningStats  `json:"learning_stats,omitempty"`
	ExecutionTimeMs    *int64                  `json:"execution_time_ms,omitempty"`
	VisualizationTrace *workflow.Trace         `json:"visualization_trace,omitempty"`
	Diagram            string                  `json:"diagram,omitempty"`
}

// buildResponse shapes the final state into a Response per mode:
// concise is the base, internal adds quality/sources/metadata, verbose
// adds full sources, traceability, optimization, and RL details while
// guardrails are skipped entirely (handled upstream in guardrailsNode).
// s.Answer has already been unwrapped to plain text for concise/
// internal modes by answerNode, ahead of guardrail validation.
func buildResponse(s *State, trace *workflow.Trace, model string) *Response {
	resp := &Response{
		Success:           len(s.Errors) == 0,
		Question:          s.Question,
		Answer:            s.Answer,
		SessionID:         s.SessionID,
		GuardrailsApplied: s.GuardrailsApplied,
		Errors:            s.Errors,
	}

	if s.ResponseMode == ModeConcise {
		return resp
	}

	quality := s.Quality
	count := len(s.Reranked)
	resp.QualityScore = &quality
	resp.SourcesCount = &count
	for _, it := range s.Reranked {
		resp.SourceDocs = append(resp.SourceDocs, SourceDoc{DocID: it.DocID, ChunkID: it.ChunkID})
	}
	resp.Metadata = &ResponseMetadata{
		SessionID:   s.SessionID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Model:       model,
		ExecutionMs: s.ExecutionMs,
	}

	if s.ResponseMode == ModeInternal {
		return resp
	}

	// verbose
	resp.Sources = s.Reranked
	resp.Traceability = s.Trace
	resp.OptimizationResult = s.Recommendation
	resp.RLRecommendation = s.Recommendation
	resp.LearningStats = s.LearningStats
	execMs := s.ExecutionMs
	resp.ExecutionTimeMs = &execMs
	resp.VisualizationTrace = trace
	return resp
}
