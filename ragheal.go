// Package ragheal wires the ingestion, retrieval, and healing
// subsystems into a single Engine, exposing both typed methods and a
// string-operation Invoke dispatcher for front ends (the CLI, a chat
// session) that want a uniform entry point.
package ragheal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ragheal/ragheal/chunker"
	"github.com/ragheal/ragheal/guardrails"
	"github.com/ragheal/ragheal/healing"
	"github.com/ragheal/ragheal/ingest"
	"github.com/ragheal/ragheal/llm"
	"github.com/ragheal/ragheal/retrieval"
	"github.com/ragheal/ragheal/session"
	"github.com/ragheal/ragheal/store"
)

// Engine is the top-level handle on a running ragheal deployment: one
// relational/vector store, one ingestion graph, one retrieval graph,
// one healing agent, and the session registry that fronts the chat
// command grammar.
type Engine struct {
	cfg Config

	store           *store.Store
	chatProvider    llm.Provider
	embedProvider   llm.Provider
	healingAgent    *healing.Agent
	retrievalEngine *retrieval.Engine
	ingestEngine    *ingest.Engine
	sessions        *session.Registry
}

// New builds an Engine from cfg: opens the store, constructs the
// configured LLM providers, and wires the retrieval/ingestion graphs
// and healing agent on top of them.
func New(cfg Config) (*Engine, error) {
	dbPath := cfg.resolveDBPath()
	st, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("ragheal: opening store: %w", err)
	}

	chatProvider, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("ragheal: chat provider: %w", err)
	}
	embedProvider, err := llm.NewProvider(llm.Config(cfg.Embedding))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("ragheal: embedding provider: %w", err)
	}

	healingAgent := healing.New(st, cfg.InitialEpsilon)
	semanticChecker := guardrails.NewSemanticChecker(chatProvider, cfg.Chat.Model)

	retrievalEngine, err := retrieval.New(st, chatProvider, healingAgent, semanticChecker, cfg.Chat.Model, cfg.TopK)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("ragheal: building retrieval engine: %w", err)
	}

	ingestEngine, err := ingest.New(st, chatProvider, embedProvider, cfg.Chat.Model, cfg.Embedding.Model,
		chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}, nil)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("ragheal: building ingest engine: %w", err)
	}

	slog.Info("ragheal: engine ready", "db_path", dbPath, "chat_provider", cfg.Chat.Provider, "embedding_provider", cfg.Embedding.Provider)

	return &Engine{
		cfg:             cfg,
		store:           st,
		chatProvider:    chatProvider,
		embedProvider:   embedProvider,
		healingAgent:    healingAgent,
		retrievalEngine: retrievalEngine,
		ingestEngine:    ingestEngine,
		sessions:        session.NewRegistry(),
	}, nil
}

// Close releases the underlying store handle.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store exposes the underlying store for callers (e.g. the CLI's
// `status` command) that need raw stats without a full operation.
func (e *Engine) Store() *store.Store { return e.store }

// Sessions exposes the session registry for front ends that manage
// their own session lifecycle (creating/closing sessions) outside of
// the Chat convenience method.
func (e *Engine) Sessions() *session.Registry { return e.sessions }

// IngestDocument ingests a raw text blob as a single document. If
// docID is empty, one is generated from the session registry's
// auto-naming scheme.
func (e *Engine) IngestDocument(ctx context.Context, docID, text string) (*ingest.Result, error) {
	if docID == "" {
		docID = e.sessions.GenerateDocID("text", text)
	}
	res, _, err := e.ingestEngine.Ingest(ctx, ingest.Request{
		DocID:  docID,
		Source: ingest.Source{Kind: ingest.SourceText, RawText: text},
	})
	return res, err
}

// IngestFromPath ingests a file at path. If docID is empty, one is
// generated from the file's base name.
func (e *Engine) IngestFromPath(ctx context.Context, path, docID string) (*ingest.Result, error) {
	if docID == "" {
		docID = e.sessions.GenerateDocID("file", filepath.Base(path))
	}
	res, _, err := e.ingestEngine.Ingest(ctx, ingest.Request{
		DocID:  docID,
		Source: ingest.Source{Kind: ingest.SourceFile, FilePath: path},
	})
	return res, err
}

// IngestSQLiteTable opens a source SQLite database distinct from the
// tracking store, reads every row (optionally filtered) from
// tableName, and ingests each row as a synthetic document.
func (e *Engine) IngestSQLiteTable(ctx context.Context, sourceDBPath, tableName string, textColumns, metadataColumns []string, filter string) ([]ingest.Result, error) {
	srcDB, err := sql.Open("sqlite3", sourceDBPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("ragheal: opening source database: %w", err)
	}
	defer srcDB.Close()

	return e.ingestEngine.IngestTable(ctx, ingest.TableSource{
		DB:              srcDB,
		TableName:       tableName,
		TextColumns:     textColumns,
		MetadataColumns: metadataColumns,
		Filter:          filter,
	}, "", func(row map[string]any, index int) string {
		return e.sessions.GenerateDocID("table", fmt.Sprintf("%s_%d", tableName, index))
	})
}

// AskQuestion runs the retrieval pipeline for question, shaped by
// mode. An empty mode falls back to the engine's configured default.
func (e *Engine) AskQuestion(ctx context.Context, question, sessionID string, mode retrieval.ResponseMode) (*retrieval.Response, error) {
	if mode == "" {
		mode = retrieval.ResponseMode(e.cfg.DefaultResponseMode)
	}
	resp, _, err := e.retrievalEngine.Ask(ctx, question, sessionID, nil, mode)
	return resp, err
}

// Optimize asks the healing agent for a recommendation on docID given
// its current quality score, without applying the action — callers
// that want to record the outcome of acting on the recommendation call
// healing.Agent.ObserveReward separately (exposed via the retrieval
// engine's own optimize stage for the in-band case).
func (e *Engine) Optimize(ctx context.Context, docID string, currentQuality float64) (healing.Recommendation, healing.LearningStats, error) {
	return e.healingAgent.RecommendHealing(ctx, docID, currentQuality)
}

// ChatResult is the outcome of one Chat turn: a human-readable message
// plus an optional retrieval response when the turn was a query.
type ChatResult struct {
	Message  string              `json:"message"`
	Response *retrieval.Response `json:"response,omitempty"`
}

// Chat parses text as a chat command against sessionID's session and
// dispatches it: queries run the retrieval pipeline, ingest_*/heal/
// optimize/check_health commands require admin mode, and help/status/
// clear/set_mode/set_chat_mode mutate the session itself.
func (e *Engine) Chat(ctx context.Context, sessionID, text string) (*ChatResult, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	cmd, err := session.ParseCommand(text)
	if err != nil {
		return nil, err
	}
	if err := session.CheckPermission(cmd.Type, sess.Mode); err != nil {
		return nil, err
	}
	sess.RecordCommand(*cmd)

	switch cmd.Type {
	case session.CmdHelp:
		return &ChatResult{Message: chatHelpText}, nil

	case session.CmdStatus:
		stats, err := e.store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return &ChatResult{Message: fmt.Sprintf("documents=%d chunks=%d epsilon=%.3f",
			stats.Documents, stats.Chunks, e.healingAgent.Epsilon())}, nil

	case session.CmdClear:
		sess.Clear()
		return &ChatResult{Message: "session cleared"}, nil

	case session.CmdSetMode:
		mode, err := session.ParseResponseMode(cmd.Args[0])
		if err != nil {
			return nil, err
		}
		sess.SetResponseMode(mode)
		return &ChatResult{Message: "response mode set to " + string(mode)}, nil

	case session.CmdSetChatMode:
		if err := sess.SetChatMode(session.ChatMode(cmd.Args[0])); err != nil {
			return nil, err
		}
		return &ChatResult{Message: "chat mode set to " + cmd.Args[0]}, nil

	case session.CmdQuery:
		question := cmd.Args[0]
		resp, err := e.AskQuestion(ctx, question, sessionID, retrieval.ResponseMode(sess.ResponseMode))
		if err != nil {
			return nil, err
		}
		sess.UpdateContext(session.Context{LastQuery: question})
		return &ChatResult{Message: resp.Answer, Response: resp}, nil

	case session.CmdIngestFile:
		if len(cmd.Args) < 1 || cmd.Args[0] == "" {
			return nil, session.ErrInvalidCommand
		}
		res, err := e.IngestFromPath(ctx, cmd.Args[0], "")
		if err != nil {
			return nil, err
		}
		sess.UpdateContext(session.Context{LastDocID: res.DocID, IngestedFiles: []string{res.DocID}})
		return &ChatResult{Message: fmt.Sprintf("ingested %s (%d chunks)", res.DocID, res.ChunksSaved)}, nil

	case session.CmdIngestText:
		if len(cmd.Args) < 1 || cmd.Args[0] == "" {
			return nil, session.ErrInvalidCommand
		}
		res, err := e.IngestDocument(ctx, "", cmd.Args[0])
		if err != nil {
			return nil, err
		}
		sess.UpdateContext(session.Context{LastDocID: res.DocID, IngestedFiles: []string{res.DocID}})
		return &ChatResult{Message: fmt.Sprintf("ingested %s (%d chunks)", res.DocID, res.ChunksSaved)}, nil

	case session.CmdIngestTable:
		if len(cmd.Args) < 2 {
			return nil, session.ErrInvalidCommand
		}
		results, err := e.IngestSQLiteTable(ctx, cmd.Args[0], cmd.Args[1], cmd.Args[2:], nil, "")
		if err != nil {
			return nil, err
		}
		return &ChatResult{Message: fmt.Sprintf("ingested %d rows from %s", len(results), cmd.Args[1])}, nil

	case session.CmdHeal, session.CmdOptimize:
		if len(cmd.Args) < 1 || cmd.Args[0] == "" {
			return nil, session.ErrInvalidCommand
		}
		rec, _, err := e.Optimize(ctx, cmd.Args[0], 0.5)
		if err != nil {
			return nil, err
		}
		sess.UpdateContext(session.Context{HealedDocs: []string{cmd.Args[0]}})
		return &ChatResult{Message: fmt.Sprintf("recommended action: %s (%s)", rec.Action, rec.Reasoning)}, nil

	case session.CmdCheckHealth:
		stats, err := e.store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return &ChatResult{Message: fmt.Sprintf("ok: documents=%d chunks=%d", stats.Documents, stats.Chunks)}, nil

	default:
		return nil, session.ErrInvalidCommand
	}
}

const chatHelpText = `Commands:
  help, status, clear
  mode:<concise|internal|verbose>
  chat_mode:<user|admin>
  query:<question>  (or bare text)
  ingest_file:<path>        (admin)
  ingest_text:<text>        (admin)
  ingest_table:<db>|<table>|<column>[|<column>...] (admin)
  heal:<doc_id>              (admin)
  optimize:<doc_id>          (admin)
  check_health:              (admin)`

// Invoke dispatches a string operation name to the corresponding typed
// method, for front ends (scripting, an RPC layer) that want a single
// uniform entry point rather than the Go method set directly.
func (e *Engine) Invoke(ctx context.Context, operation string, args ...any) (any, error) {
	switch operation {
	case "ingest_document":
		docID, _ := argAt[string](args, 0)
		text, ok := argAt[string](args, 1)
		if !ok {
			return nil, fmt.Errorf("%w: ingest_document requires (doc_id, text)", ErrInvalidConfig)
		}
		return e.IngestDocument(ctx, docID, text)

	case "ingest_from_path":
		path, ok := argAt[string](args, 0)
		if !ok {
			return nil, fmt.Errorf("%w: ingest_from_path requires (path)", ErrInvalidConfig)
		}
		docID, _ := argAt[string](args, 1)
		return e.IngestFromPath(ctx, path, docID)

	case "ingest_sqlite_table":
		dbPath, ok1 := argAt[string](args, 0)
		table, ok2 := argAt[string](args, 1)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: ingest_sqlite_table requires (db_path, table_name, text_columns, [metadata_columns], [filter])", ErrInvalidConfig)
		}
		textCols, _ := argAt[[]string](args, 2)
		metaCols, _ := argAt[[]string](args, 3)
		filter, _ := argAt[string](args, 4)
		return e.IngestSQLiteTable(ctx, dbPath, table, textCols, metaCols, filter)

	case "ask_question":
		question, ok := argAt[string](args, 0)
		if !ok {
			return nil, fmt.Errorf("%w: ask_question requires (question, [session_id], [mode])", ErrInvalidConfig)
		}
		sessionID, _ := argAt[string](args, 1)
		modeStr, _ := argAt[string](args, 2)
		return e.AskQuestion(ctx, question, sessionID, retrieval.ResponseMode(modeStr))

	case "optimize":
		docID, ok := argAt[string](args, 0)
		if !ok {
			return nil, fmt.Errorf("%w: optimize requires (doc_id, [current_quality])", ErrInvalidConfig)
		}
		quality, _ := argAt[float64](args, 1)
		rec, stats, err := e.Optimize(ctx, docID, quality)
		if err != nil {
			return nil, err
		}
		return struct {
			Recommendation healing.Recommendation `json:"recommendation"`
			LearningStats  healing.LearningStats  `json:"learning_stats"`
		}{rec, stats}, nil

	case "chat":
		sessionID, ok1 := argAt[string](args, 0)
		text, ok2 := argAt[string](args, 1)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: chat requires (session_id, text)", ErrInvalidConfig)
		}
		return e.Chat(ctx, sessionID, text)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}
}

// argAt returns args[i] type-asserted to T, or the zero value and
// false if i is out of range or holds a different type.
func argAt[T any](args []any, i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, false
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, false
	}
	return v, true
}
