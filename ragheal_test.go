//go:build cgo

package ragheal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ragheal/ragheal/chunker"
	"github.com/ragheal/ragheal/guardrails"
	"github.com/ragheal/ragheal/healing"
	"github.com/ragheal/ragheal/ingest"
	"github.com/ragheal/ragheal/llm"
	"github.com/ragheal/ragheal/retrieval"
	"github.com/ragheal/ragheal/session"
	"github.com/ragheal/ragheal/store"
)

// fakeProvider is a deterministic llm.Provider stand-in shared by every
// test in this file: fixed unit-vector embeddings, and chat responses
// that vary with prompt content so classify/extract_metadata/answer
// each get a plausible canned reply.
type fakeProvider struct{}

func (fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	prompt := req.Messages[0].Content
	switch {
	case strings.Contains(prompt, "\"intent\""):
		return &llm.ChatResponse{Content: `{"intent":"lookup","department":"support","roles":["viewer"],"sensitivity":"public","keywords":["refund"]}`}, nil
	case strings.Contains(prompt, "\"doc_type\""):
		return &llm.ChatResponse{Content: `{"title":"Refund Policy","summary":"Refunds within 30 days.","keywords":["refund"],"topics":["billing"],"doc_type":"policy"}`}, nil
	}
	return &llm.ChatResponse{Content: "Refunds are processed within 30 days."}, nil
}

func (fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0, 0}
	}
	return vecs, nil
}

// newTestEngine builds an Engine the way New would, but against a
// fakeProvider instead of a real LLM endpoint, since the providers New
// builds send their requests to a configured network endpoint.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ragheal.db")
	st, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	provider := fakeProvider{}
	healingAgent := healing.New(st, 0.3)
	semanticChecker := guardrails.NewSemanticChecker(provider, "test-chat-model")

	retrievalEngine, err := retrieval.New(st, provider, healingAgent, semanticChecker, "test-chat-model", 5)
	if err != nil {
		t.Fatalf("retrieval.New: %v", err)
	}
	ingestEngine, err := ingest.New(st, provider, provider, "test-chat-model", "test-embed-model",
		chunker.Config{Size: 500, Overlap: 50}, nil)
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}

	return &Engine{
		cfg:             Config{DefaultResponseMode: "concise"},
		store:           st,
		chatProvider:    provider,
		embedProvider:   provider,
		healingAgent:    healingAgent,
		retrievalEngine: retrievalEngine,
		ingestEngine:    ingestEngine,
		sessions:        session.NewRegistry(),
	}
}

const refundText = "Refunds are issued within 30 days of purchase if the item is unused."

func TestIngestDocument_AutoGeneratesDocID(t *testing.T) {
	eng := newTestEngine(t)
	res, err := eng.IngestDocument(context.Background(), "", refundText)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if res.DocID == "" {
		t.Errorf("expected an auto-generated doc id")
	}
	if !strings.HasPrefix(res.DocID, "text_") {
		t.Errorf("doc id = %q, want text_ prefix", res.DocID)
	}
}

func TestAskQuestion_DefaultsResponseMode(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.IngestDocument(ctx, "refund_policy", refundText); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}

	resp, err := eng.AskQuestion(ctx, "What is the refund policy?", "sess-1", "")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if resp.ResponseMode != retrieval.ModeConcise {
		t.Errorf("response mode = %q, want concise default", resp.ResponseMode)
	}
}

func TestChat_QueryCommand(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.IngestDocument(ctx, "refund_policy", refundText); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}

	sess := eng.Sessions().Create("u1", "", "", session.ModeUser)
	result, err := eng.Chat(ctx, sess.ID, "What is the refund policy?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Response == nil {
		t.Fatalf("expected a retrieval response attached to the chat result")
	}
	if result.Message == "" {
		t.Errorf("expected a non-empty answer message")
	}
}

func TestChat_AdminCommandDeniedForUserMode(t *testing.T) {
	eng := newTestEngine(t)
	sess := eng.Sessions().Create("u1", "", "", session.ModeUser)

	_, err := eng.Chat(context.Background(), sess.ID, "heal:some_doc")
	if err != session.ErrPermissionDenied {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestChat_AdminCommandAllowedForAdminMode(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.IngestDocument(ctx, "refund_policy", refundText); err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}

	sess := eng.Sessions().Create("admin1", "", "", session.ModeAdmin)
	result, err := eng.Chat(ctx, sess.ID, "heal:refund_policy")
	if err != nil {
		t.Fatalf("Chat heal: %v", err)
	}
	if !strings.Contains(result.Message, "recommended action") {
		t.Errorf("message = %q, want a recommendation", result.Message)
	}
}

func TestChat_ChatModeElevationDenied(t *testing.T) {
	eng := newTestEngine(t)
	sess := eng.Sessions().Create("u1", "", "", session.ModeUser)

	_, err := eng.Chat(context.Background(), sess.ID, "chat_mode:admin")
	if err != session.ErrChatModeElevationDenied {
		t.Errorf("err = %v, want ErrChatModeElevationDenied", err)
	}
}

func TestChat_UnknownSession(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Chat(context.Background(), "does-not-exist", "status")
	if err != session.ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestChat_StatusCommand(t *testing.T) {
	eng := newTestEngine(t)
	sess := eng.Sessions().Create("u1", "", "", session.ModeUser)
	result, err := eng.Chat(context.Background(), sess.ID, "status")
	if err != nil {
		t.Fatalf("Chat status: %v", err)
	}
	if !strings.Contains(result.Message, "documents=") {
		t.Errorf("status message = %q, want document counts", result.Message)
	}
}

func TestInvoke_IngestDocumentAndAskQuestion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Invoke(ctx, "ingest_document", "invoke_doc", refundText)
	if err != nil {
		t.Fatalf("Invoke ingest_document: %v", err)
	}
	ingestResult, ok := res.(*ingest.Result)
	if !ok || !ingestResult.Success {
		t.Fatalf("unexpected ingest result: %#v", res)
	}

	res, err = eng.Invoke(ctx, "ask_question", "What is the refund policy?")
	if err != nil {
		t.Fatalf("Invoke ask_question: %v", err)
	}
	if _, ok := res.(*retrieval.Response); !ok {
		t.Fatalf("expected *retrieval.Response, got %#v", res)
	}
}

func TestInvoke_MissingRequiredArgReturnsError(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Invoke(context.Background(), "ingest_document", "only_one_arg")
	if err == nil {
		t.Fatalf("expected an error for a missing required argument")
	}
}

func TestInvoke_UnknownOperation(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Invoke(context.Background(), "does_not_exist")
	if err == nil {
		t.Fatalf("expected an error for an unknown operation")
	}
}
