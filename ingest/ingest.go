// Package ingest implements the six-stage ingestion workflow that
// turns a file, a raw text blob, or a row from a source table into
// searchable chunks: normalize -> classify -> extract_metadata ->
// chunk -> embed_persist -> audit.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ragheal/ragheal/chunker"
	"github.com/ragheal/ragheal/llm"
	"github.com/ragheal/ragheal/parser"
	"github.com/ragheal/ragheal/store"
	"github.com/ragheal/ragheal/workflow"
)

// SourceKind identifies which of Source's fields is populated.
type SourceKind string

const (
	SourceFile  SourceKind = "file"
	SourceText  SourceKind = "text"
	SourceTable SourceKind = "table"
)

// Source describes the raw material handed to the normalize stage.
type Source struct {
	Kind SourceKind

	// SourceFile
	FilePath string

	// SourceText
	RawText string

	// SourceTable: a single synthetic document built from one row of a
	// source table.
	TableName string
	Columns   []string
	TableRows []map[string]any
}

// Classification is the classify stage's structured result.
type Classification struct {
	Intent      string   `json:"intent"`
	Department  string   `json:"department"`
	Roles       []string `json:"roles"`
	Sensitivity string   `json:"sensitivity"`
	Keywords    []string `json:"keywords"`
}

// Metadata is the extract_metadata stage's structured result.
type Metadata struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
	DocType  string   `json:"doc_type"`
}

// State is the shared state threaded through the ingestion graph.
type State struct {
	DocID     string
	SessionID string
	Source    Source
	Format    string

	Sections []parser.Section
	Markdown string

	Classification Classification
	RBACTags       []string
	MetaTags       []string

	Metadata Metadata

	Chunks []string

	DocumentID  int64
	ChunkIDs    []int64
	ChunksSaved int

	Errors      []string
	StartedAt   time.Time
	ExecutionMs int64
}

func (s *State) addError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.Errors = append(s.Errors, msg)
	slog.Warn("ingest: stage error", "doc_id", s.DocID, "error", msg)
}

// Success reports whether the pipeline completed without recording any
// stage error.
func (s *State) Success() bool { return len(s.Errors) == 0 }

// Request is the input to Engine.Ingest.
type Request struct {
	DocID     string
	Source    Source
	SessionID string
}

// Result is the caller-facing outcome of one ingestion run.
type Result struct {
	DocID       string   `json:"doc_id"`
	Success     bool     `json:"success"`
	ChunksSaved int      `json:"chunks_saved"`
	RBACTags    []string `json:"rbac_tags,omitempty"`
	MetaTags    []string `json:"meta_tags,omitempty"`
	Title       string   `json:"title,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// Engine runs the ingestion graph against a relational/vector store
// and a pair of LLM providers (chat for classification/metadata,
// embedding for chunk vectors).
type Engine struct {
	store      *store.Store
	chat       llm.Provider
	embed      llm.Provider
	chatModel  string
	embedModel string
	parsers    *parser.Registry
	chunkerCfg chunker.Config
	graph      *workflow.Executable[State]
}

// New builds an Engine and compiles its ingestion graph. parsers may
// be nil, in which case parser.NewRegistry() is used.
func New(st *store.Store, chatProvider, embedProvider llm.Provider, chatModel, embedModel string, chunkerCfg chunker.Config, parsers *parser.Registry) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	if parsers == nil {
		parsers = parser.NewRegistry()
	}

	e := &Engine{
		store:      st,
		chat:       chatProvider,
		embed:      embedProvider,
		chatModel:  chatModel,
		embedModel: embedModel,
		parsers:    parsers,
		chunkerCfg: chunkerCfg,
	}

	g := workflow.New[State]()
	g.AddNode("normalize", e.normalizeNode)
	g.AddNode("classify", e.classifyNode)
	g.AddNode("extract_metadata", e.extractMetadataNode)
	g.AddNode("chunk", e.chunkNode)
	g.AddNode("embed_persist", e.embedPersistNode)
	g.AddNode("audit", e.auditNode)

	g.AddEdge(workflow.Start, "normalize")
	g.AddEdge("normalize", "classify")
	g.AddEdge("classify", "extract_metadata")
	g.AddEdge("extract_metadata", "chunk")
	g.AddEdge("chunk", "embed_persist")
	g.AddEdge("embed_persist", "audit")
	g.AddEdge("audit", workflow.End)

	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("ingest: compiling graph: %w", err)
	}
	e.graph = compiled
	return e, nil
}

// Ingest runs one document (file, raw text, or single table row)
// through the full six-stage pipeline.
func (e *Engine) Ingest(ctx context.Context, req Request) (*Result, *workflow.Trace, error) {
	if strings.TrimSpace(req.DocID) == "" {
		return nil, nil, fmt.Errorf("ingest: doc id is required")
	}

	initial := State{
		DocID:     req.DocID,
		SessionID: req.SessionID,
		Source:    req.Source,
		StartedAt: time.Now(),
	}

	slog.Info("ingest: starting", "doc_id", req.DocID, "source_kind", req.Source.Kind)

	final, trace, err := e.graph.Invoke(ctx, initial)
	if err != nil {
		return nil, trace, fmt.Errorf("ingest: graph invocation failed: %w", err)
	}
	final.ExecutionMs = time.Since(final.StartedAt).Milliseconds()

	slog.Info("ingest: finished", "doc_id", req.DocID, "success", final.Success(),
		"chunks_saved", final.ChunksSaved, "duration_ms", final.ExecutionMs)

	return &Result{
		DocID:       final.DocID,
		Success:     final.Success(),
		ChunksSaved: final.ChunksSaved,
		RBACTags:    final.RBACTags,
		MetaTags:    final.MetaTags,
		Title:       final.Metadata.Title,
		Errors:      final.Errors,
	}, trace, nil
}

// Diagram returns the cached Mermaid flowchart for the compiled
// ingestion graph.
func (e *Engine) Diagram() string {
	return e.graph.Diagram()
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fileFormat(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
