// Package retrieval implements the seven-stage retrieve → rerank →
// check-optimize → (conditional) optimize → answer → guardrails →
// traceability pipeline that answers a question against the embedded
// vector store, consulting the healing agent for quality control and
// the guardrails package before returning an answer.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ragheal/ragheal/guardrails"
	"github.com/ragheal/ragheal/healing"
	"github.com/ragheal/ragheal/llm"
	"github.com/ragheal/ragheal/store"
	"github.com/ragheal/ragheal/workflow"
)

// DefaultTopK is the number of chunks retrieved per query when the
// caller does not override it.
const DefaultTopK = 5

// ErrNoResults is recorded when reranking yields no chunks to answer
// from, so the question gets a generic fallback answer instead of a
// hallucinated one.
var ErrNoResults = errors.New("retrieval: no results found")

// ResponseMode controls how much of the pipeline's internal state is
// surfaced in the final Response and whether guardrails run at all.
type ResponseMode string

const (
	ModeConcise  ResponseMode = "concise"
	ModeInternal ResponseMode = "internal"
	ModeVerbose  ResponseMode = "verbose"
)

// RerankedItem is a retrieved chunk after relevance scoring.
type RerankedItem struct {
	Text             string  `json:"text"`
	DocID            string  `json:"doc_id"`
	ChunkID          int64   `json:"chunk_id"`
	Position         int     `json:"position"`
	Distance         float64 `json:"original_distance"`
	SimilarityScore  float64 `json:"similarity_score"`
	RelevanceScore   float64 `json:"relevance_score"`
}

// SourceDoc is the minimal per-source identifier surfaced in internal
// mode.
type SourceDoc struct {
	DocID   string `json:"doc_id"`
	ChunkID int64  `json:"chunk_id"`
}

// TraceSource is one entry of the full provenance record.
type TraceSource struct {
	DocID           string  `json:"doc_id"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float64 `json:"similarity_score"`
	TextPreview     string  `json:"text_preview"`
}

// Traceability is the full provenance record for an answer.
type Traceability struct {
	Question    string        `json:"question"`
	SourcesUsed int           `json:"sources_used"`
	Documents   []TraceSource `json:"documents"`
}

// State is the shared state threaded through every node of the
// retrieval graph.
type State struct {
	Question     string   `json:"question"`
	SessionID    string   `json:"session_id"`
	Namespace    []string `json:"namespace,omitempty"`
	ResponseMode ResponseMode `json:"response_mode"`
	TopK         int      `json:"top_k"`

	RawResults []store.RetrievalResult `json:"-"`
	Reranked   []RerankedItem          `json:"reranked,omitempty"`

	Quality        float64 `json:"retrieval_quality"`
	ShouldOptimize bool    `json:"should_optimize"`

	Recommendation *healing.Recommendation `json:"recommendation,omitempty"`
	LearningStats  *healing.LearningStats  `json:"learning_stats,omitempty"`

	Answer string `json:"answer"`

	GuardrailsApplied bool               `json:"guardrails_applied"`
	GuardrailResult   *guardrails.Result `json:"guardrail_result,omitempty"`

	Trace *Traceability `json:"trace,omitempty"`

	Errors []string `json:"errors,omitempty"`

	StartedAt   time.Time `json:"-"`
	ExecutionMs int64     `json:"-"`
}

func (s *State) addError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Engine wires the store, LLM provider, and healing agent into a
// compiled retrieval graph.
type Engine struct {
	store           *store.Store
	llm             llm.Provider
	healingAgent    *healing.Agent
	semanticChecker *guardrails.SemanticChecker
	chatModel       string
	topK            int
	graph           *workflow.Executable[State]
}

// New builds and compiles the retrieval graph. healingAgent and
// semanticChecker may be nil — in their absence the pipeline falls
// back to the spec's threshold rule and skips semantic guardrail
// checks respectively.
func New(st *store.Store, provider llm.Provider, healingAgent *healing.Agent, semanticChecker *guardrails.SemanticChecker, chatModel string, topK int) (*Engine, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	e := &Engine{
		store:           st,
		llm:             provider,
		healingAgent:    healingAgent,
		semanticChecker: semanticChecker,
		chatModel:       chatModel,
		topK:            topK,
	}

	g := workflow.New[State]()
	g.AddNode("retrieve", e.retrieveNode)
	g.AddNode("rerank", e.rerankNode)
	g.AddNode("check_optimize", e.checkOptimizeNode)
	g.AddNode("optimize", e.optimizeNode)
	g.AddNode("answer", e.answerNode)
	g.AddNode("guardrails", e.guardrailsNode)
	g.AddNode("traceability", e.traceabilityNode)

	g.AddEdge(workflow.Start, "retrieve")
	g.AddEdge("retrieve", "rerank")
	g.AddEdge("rerank", "check_optimize")
	g.AddConditionalEdges("check_optimize", routeOptimize, map[string]string{
		"optimize": "optimize",
		"answer":   "answer",
	})
	g.AddEdge("optimize", "answer")
	g.AddEdge("answer", "guardrails")
	g.AddEdge("guardrails", "traceability")
	g.AddEdge("traceability", workflow.End)

	exec, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("retrieval: compiling graph: %w", err)
	}
	e.graph = exec
	return e, nil
}

func routeOptimize(_ context.Context, s *State) string {
	if s.ShouldOptimize {
		return "optimize"
	}
	return "answer"
}

// Ask runs the full pipeline for one question and returns the
// response shaped per mode, plus the execution trace.
func (e *Engine) Ask(ctx context.Context, question, sessionID string, namespace []string, mode ResponseMode) (*Response, *workflow.Trace, error) {
	if mode == "" {
		mode = ModeConcise
	}
	initial := State{
		Question:     question,
		SessionID:    sessionID,
		Namespace:    namespace,
		ResponseMode: mode,
		TopK:         e.topK,
		StartedAt:    time.Now(),
	}
	final, trace, err := e.graph.Invoke(ctx, initial)
	if err != nil {
		return nil, trace, err
	}
	final.ExecutionMs = time.Since(final.StartedAt).Milliseconds()
	resp := buildResponse(&final, trace, e.chatModel)
	if mode == ModeVerbose {
		resp.Diagram = e.graph.Diagram()
	}
	return resp, trace, nil
}

// Diagram returns the cached Mermaid flowchart for this engine's
// compiled retrieval graph.
func (e *Engine) Diagram() string {
	return e.graph.Diagram()
}

// --- Stage 1: retrieve ---

func (e *Engine) retrieveNode(ctx context.Context, s *State) error {
	embedding, err := llm.GenerateEmbedding(ctx, e.llm, s.Question)
	if err != nil {
		s.addError("embedding query failed: %v", err)
		return nil
	}
	k := s.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	results, err := e.store.VectorSearch(ctx, embedding, k, s.Namespace)
	if err != nil {
		s.addError("vector search failed: %v", err)
		return nil
	}
	s.RawResults = results
	return nil
}

// --- Stage 2: rerank ---

// relevance implements spec.md §4.3's fixed rerank formula:
// 0.7 * (1 - distance) + 0.3 * min(1, len(text)/500), clamped [0,1].
// Distance is assumed in [0,2] for cosine-distance backends.
func relevance(distance float64, textLen int) (similarity, score float64) {
	similarity = 1 - distance
	if similarity < 0 {
		similarity = 0
	}
	lengthScore := float64(textLen) / 500.0
	if lengthScore > 1 {
		lengthScore = 1
	}
	score = 0.7*similarity + 0.3*lengthScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return similarity, score
}

func (e *Engine) rerankNode(_ context.Context, s *State) error {
	items := make([]RerankedItem, 0, len(s.RawResults))
	for _, r := range s.RawResults {
		similarity, score := relevance(r.Distance, len(r.Content))
		items = append(items, RerankedItem{
			Text:            r.Content,
			DocID:           r.DocID,
			ChunkID:         r.ChunkID,
			Position:        r.Position,
			Distance:        r.Distance,
			SimilarityScore: similarity,
			RelevanceScore:  score,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].RelevanceScore > items[j].RelevanceScore
	})
	s.Reranked = items
	return nil
}

// --- Stage 3: check_optimize ---

func (e *Engine) checkOptimizeNode(ctx context.Context, s *State) error {
	quality := float64(len(s.Reranked)) / 5.0
	if quality > 1 {
		quality = 1
	}
	s.Quality = quality

	docID := ""
	if len(s.Reranked) > 0 {
		docID = s.Reranked[0].DocID
	}

	if e.healingAgent == nil {
		action := healing.ActionSkip
		if quality < 0.6 || len(s.Reranked) < 3 {
			action = healing.ActionOptimize
		}
		s.Recommendation = &healing.Recommendation{Action: action}
		s.ShouldOptimize = action != healing.ActionSkip
		return nil
	}

	rec, stats, err := e.healingAgent.RecommendHealing(ctx, docID, quality)
	if err != nil {
		s.addError("healing recommendation failed: %v", err)
		s.Recommendation = &healing.Recommendation{Action: healing.ActionSkip}
		return nil
	}
	s.Recommendation = &rec
	s.LearningStats = &stats
	s.ShouldOptimize = rec.Action != healing.ActionSkip
	return nil
}

// --- Stage 4: optimize (conditional) ---

func estimateTokenCost(items []RerankedItem) float64 {
	var chars int
	for _, it := range items {
		chars += len(it.Text)
	}
	return float64(chars) / 4.0
}

func (e *Engine) optimizeNode(ctx context.Context, s *State) error {
	if s.Recommendation == nil {
		return nil
	}
	var docID *int64
	if len(s.Reranked) > 0 {
		doc, err := e.store.GetDocumentByDocID(ctx, s.Reranked[0].DocID)
		switch {
		case err == nil:
			docID = &doc.ID
		case errors.Is(err, store.ErrDocumentNotFound):
			// Reranked result references a doc_id no longer in the
			// store; optimize without a document-scoped id.
		default:
			s.addError("optimize: document lookup failed: %v", err)
		}
	}

	s.Recommendation.EstimatedCost = estimateTokenCost(s.Reranked)
	if s.Recommendation.EstimatedImprovement == 0 {
		s.Recommendation.EstimatedImprovement = healing.DefaultImprovementEstimate
	}

	if e.healingAgent == nil {
		return nil
	}
	if err := e.healingAgent.ObserveReward(ctx, *s.Recommendation, healing.PlaceholderObservedReward, docID, s.SessionID); err != nil {
		s.addError("logging heal event failed: %v", err)
	}
	return nil
}

// --- Stage 5: answer ---

func buildPrompt(question string, items []RerankedItem) string {
	var b strings.Builder
	b.WriteString("Based on the following context, answer the question concisely.\n\nContext:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "[Source: %s]\n%s\n\n", it.DocID, it.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", question)
	return b.String()
}

func (e *Engine) answerNode(ctx context.Context, s *State) error {
	if len(s.Reranked) == 0 {
		s.addError("answer: %v", ErrNoResults)
		s.Answer = "No context available to answer the question."
	} else {
		prompt := buildPrompt(s.Question, s.Reranked)
		answer, err := llm.GenerateResponse(ctx, e.llm, e.chatModel, prompt)
		if err != nil {
			s.addError("answer generation failed: %v", err)
			s.Answer = "Unable to generate an answer at this time."
		} else {
			s.Answer = answer
		}
	}

	// Concise and internal modes promise plain-text answers; unwrap a
	// JSON-shaped reply before guardrails and response shaping see it.
	// Verbose keeps the raw answer for debugging.
	if s.ResponseMode != ModeVerbose {
		s.Answer = llm.ExtractPlainAnswer(s.Answer)
	}

	estimatedCost := estimateTokenCost(s.Reranked)
	if _, err := e.store.LogEvent(ctx, store.HistoryEvent{
		SessionID: s.SessionID,
		QueryText: s.Question,
		EventType: store.EventQuery,
		Metrics: map[string]any{
			"frequency":     1,
			"avg_accuracy":  s.Quality,
			"cost_tokens":   estimatedCost,
			"sources_count": len(s.Reranked),
			"response_mode": string(s.ResponseMode),
		},
		Context: map[string]any{
			"retrieval_quality": s.Quality,
			"sources":           sourceDocIDs(s.Reranked),
			"answer_length":     len(s.Answer),
		},
	}); err != nil {
		s.addError("logging query event failed: %v", err)
	}
	return nil
}

func sourceDocIDs(items []RerankedItem) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it.DocID] {
			seen[it.DocID] = true
			out = append(out, it.DocID)
		}
	}
	return out
}

// --- Stage 6: guardrails ---

func (e *Engine) guardrailsNode(ctx context.Context, s *State) error {
	if s.ResponseMode == ModeVerbose {
		s.GuardrailsApplied = false
		return nil
	}
	s.GuardrailsApplied = true
	res := guardrails.ValidateResponse(s.Answer)

	if e.semanticChecker != nil {
		contextText := buildPrompt(s.Question, s.Reranked)
		if v, err := e.semanticChecker.CheckHallucination(ctx, s.Answer, contextText, s.Question); err == nil && v != nil {
			res.AddViolation(*v)
		}
		if v, err := e.semanticChecker.CheckCompleteness(ctx, s.Answer, s.Question); err == nil && v != nil {
			res.AddViolation(*v)
		}
	}

	s.GuardrailResult = &res
	if !res.IsSafe {
		s.Answer = res.FilteredOutput
	}

	if _, err := e.store.LogEvent(ctx, store.HistoryEvent{
		SessionID: s.SessionID,
		EventType: store.EventGuardrailCheck,
		Metrics: map[string]any{
			"is_safe":      res.IsSafe,
			"safety_level": string(res.SafetyLevel),
		},
	}); err != nil {
		s.addError("logging guardrail check failed: %v", err)
	}
	return nil
}

// --- Stage 7: traceability ---

func (e *Engine) traceabilityNode(_ context.Context, s *State) error {
	sources := make([]TraceSource, 0, len(s.Reranked))
	for _, it := range s.Reranked {
		preview := it.Text
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		sources = append(sources, TraceSource{
			DocID:           it.DocID,
			ChunkIndex:      it.Position,
			SimilarityScore: it.SimilarityScore,
			TextPreview:     preview,
		})
	}
	s.Trace = &Traceability{
		Question:    s.Question,
		SourcesUsed: len(s.Reranked),
		Documents:   sources,
	}
	return nil
}
