package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ragheal/ragheal/chunker"
	"github.com/ragheal/ragheal/llm"
	"github.com/ragheal/ragheal/parser"
	"github.com/ragheal/ragheal/store"
)

const metadataSampleChars = 2000

// ErrParsingFailed is recorded when a source file's primary parser and
// its fallback (if any) both fail to produce content.
var ErrParsingFailed = errors.New("ingest: parsing failed")

// ErrEmbeddingFailed is recorded when every chunk of a document fails
// to embed, leaving nothing to persist into the vector index.
var ErrEmbeddingFailed = errors.New("ingest: embedding generation failed")

// normalizeNode dispatches on the source kind, producing a flat
// markdown document from whatever structure the underlying parser (or
// table renderer) returns.
func (e *Engine) normalizeNode(ctx context.Context, s *State) error {
	switch s.Source.Kind {
	case SourceFile:
		format := fileFormat(s.Source.FilePath)
		s.Format = format
		p, err := e.parsers.Get(format)
		if err != nil {
			s.addError("normalize: %v", err)
			return nil
		}

		result, err := p.Parse(ctx, s.Source.FilePath)
		if err != nil {
			if fb, ok := p.(parser.FallbackParser); ok {
				result, err = fb.ParseFallback(ctx, s.Source.FilePath)
			}
			if err != nil {
				s.addError("%v: %s: %v", ErrParsingFailed, s.Source.FilePath, err)
				return nil
			}
		}
		s.Sections = result.Sections

	case SourceText:
		s.Format = "text"
		if strings.TrimSpace(s.Source.RawText) == "" {
			s.addError("normalize: empty raw text")
			return nil
		}
		s.Sections = []parser.Section{{Content: s.Source.RawText, Type: "paragraph"}}

	case SourceTable:
		s.Format = "table"
		s.Sections = parser.RenderTableRows(s.Source.TableName, s.Source.Columns, s.Source.TableRows)

	default:
		s.addError("normalize: unknown source kind %q", s.Source.Kind)
		return nil
	}

	s.Markdown = parser.RenderMarkdown(s.Sections)
	if strings.TrimSpace(s.Markdown) == "" {
		s.addError("normalize: no content extracted")
	}
	return nil
}

type classifyResponse struct {
	Intent      string   `json:"intent"`
	Department  string   `json:"department"`
	Roles       []string `json:"roles"`
	Sensitivity string   `json:"sensitivity"`
	Keywords    []string `json:"keywords"`
}

// classifyNode assigns RBAC/meta tags from an LLM classification of
// the normalized document. Table rows skip the LLM call entirely and
// get the fixed rbac:generic:viewer fallback rather than a model
// classification.
func (e *Engine) classifyNode(ctx context.Context, s *State) error {
	if s.Source.Kind == SourceTable {
		s.RBACTags = []string{"rbac:generic:viewer"}
		return nil
	}
	if strings.TrimSpace(s.Markdown) == "" {
		s.RBACTags = []string{"rbac:generic:viewer"}
		return nil
	}

	prompt := fmt.Sprintf(`Classify the following document. Respond with a single JSON object
with exactly these fields: "intent" (string), "department" (string),
"roles" (array of strings), "sensitivity" (one of "public", "internal",
"confidential", "restricted"), "keywords" (array of strings).

Document:
%s`, truncate(s.Markdown, metadataSampleChars))

	var resp classifyResponse
	if err := llm.GenerateJSON(ctx, e.chat, e.chatModel, prompt, &resp); err != nil {
		s.addError("classify: %v", err)
		s.RBACTags = []string{"rbac:generic:viewer"}
		return nil
	}

	s.Classification = Classification(resp)

	if resp.Department == "" || len(resp.Roles) == 0 {
		s.RBACTags = []string{"rbac:generic:viewer"}
	} else {
		for _, role := range resp.Roles {
			s.RBACTags = append(s.RBACTags, fmt.Sprintf("rbac:dept:%s:role:%s", slug(resp.Department), slug(role)))
		}
	}
	if resp.Intent != "" {
		s.MetaTags = append(s.MetaTags, "meta:intent:"+slug(resp.Intent))
	}
	if resp.Sensitivity != "" {
		s.MetaTags = append(s.MetaTags, "meta:sensitivity:"+slug(resp.Sensitivity))
	}
	return nil
}

type metadataResponse struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
	DocType  string   `json:"doc_type"`
}

// extractMetadataNode derives a title/summary/keywords/doc-type from
// the first slice of the normalized document. Table rows skip the LLM
// call for the same reason classifyNode does.
func (e *Engine) extractMetadataNode(ctx context.Context, s *State) error {
	if s.Source.Kind == SourceTable {
		s.Metadata = Metadata{Title: fmt.Sprintf("%s record", s.Source.TableName), DocType: "table_row"}
		return nil
	}
	if strings.TrimSpace(s.Markdown) == "" {
		s.Metadata = Metadata{Title: s.DocID, DocType: "unknown"}
		return nil
	}

	prompt := fmt.Sprintf(`Summarize the following document. Respond with a single JSON object
with exactly these fields: "title" (string), "summary" (2-3 sentences),
"keywords" (array of 5-10 strings), "topics" (array of strings),
"doc_type" (a short category label).

Document:
%s`, truncate(s.Markdown, metadataSampleChars))

	var resp metadataResponse
	if err := llm.GenerateJSON(ctx, e.chat, e.chatModel, prompt, &resp); err != nil {
		s.addError("extract_metadata: %v", err)
		s.Metadata = Metadata{Title: s.DocID, DocType: "unknown"}
		return nil
	}
	if resp.Title == "" {
		resp.Title = s.DocID
	}
	s.Metadata = Metadata(resp)
	return nil
}

// chunkNode splits the normalized markdown into overlapping chunks
// using the recursive boundary-priority splitter.
func (e *Engine) chunkNode(ctx context.Context, s *State) error {
	if strings.TrimSpace(s.Markdown) == "" {
		s.addError("chunk: no markdown to split")
		return nil
	}
	s.Chunks = chunker.New(e.chunkerCfg).Split(s.Markdown)
	if len(s.Chunks) == 0 {
		s.addError("chunk: splitter produced zero chunks")
	}
	return nil
}

// embedPersistNode embeds every chunk and writes the document, its
// chunk rows, and their vectors to the store. Because this store
// colocates the vector index with the relational chunk table (vec0
// rows are keyed by chunk_embedding_data.id, not a standalone string
// id), the relational chunk rows are written first to mint the ids
// the vector writes key on, reversing the "vector store first" order
// a standalone vector backend would allow.
func (e *Engine) embedPersistNode(ctx context.Context, s *State) error {
	if len(s.Chunks) == 0 {
		s.addError("embed_persist: no chunks to persist")
		return nil
	}

	docRowID, err := e.store.UpsertDocument(ctx, store.Document{
		DocID:       s.DocID,
		SourcePath:  s.Source.FilePath,
		Format:      s.Format,
		ContentHash: contentHash(s.Markdown),
		RBACTags:    s.RBACTags,
		MetaTags:    s.MetaTags,
		Title:       s.Metadata.Title,
		Summary:     s.Metadata.Summary,
		Keywords:    s.Metadata.Keywords,
		DocType:     s.Metadata.DocType,
		ChunkCount:  len(s.Chunks),
		Status:      "processing",
	})
	if err != nil {
		s.addError("embed_persist: upserting document failed: %v", err)
		return nil
	}
	s.DocumentID = docRowID

	if err := e.store.DeleteChunksForDocument(ctx, docRowID); err != nil {
		s.addError("embed_persist: clearing stale chunks failed: %v", err)
		return nil
	}

	chunkRows := make([]store.Chunk, len(s.Chunks))
	for i, text := range s.Chunks {
		chunkRows[i] = store.Chunk{
			DocumentID:     docRowID,
			Content:        text,
			Position:       i,
			EmbeddingModel: e.embedModel,
		}
	}
	chunkIDs, err := e.store.InsertChunks(ctx, chunkRows)
	if err != nil {
		s.addError("embed_persist: inserting chunk rows failed: %v", err)
		return nil
	}
	s.ChunkIDs = chunkIDs

	failures := 0
	for i, text := range s.Chunks {
		vec, err := llm.GenerateEmbedding(ctx, e.embed, text)
		if err != nil {
			s.addError("embed_persist: embedding chunk %d failed: %v", i, err)
			failures++
			continue
		}
		if err := e.store.InsertEmbedding(ctx, chunkIDs[i], vec); err != nil {
			s.addError("embed_persist: storing embedding for chunk %d failed: %v", i, err)
			failures++
		}
	}

	s.ChunksSaved = len(s.Chunks) - failures
	status := "ready"
	if failures > 0 {
		status = "error"
	}
	if failures == len(s.Chunks) {
		s.addError("embed_persist: %v", ErrEmbeddingFailed)
	}
	if _, err := e.store.UpsertDocument(ctx, store.Document{
		DocID:       s.DocID,
		SourcePath:  s.Source.FilePath,
		Format:      s.Format,
		ContentHash: contentHash(s.Markdown),
		RBACTags:    s.RBACTags,
		MetaTags:    s.MetaTags,
		Title:       s.Metadata.Title,
		Summary:     s.Metadata.Summary,
		Keywords:    s.Metadata.Keywords,
		DocType:     s.Metadata.DocType,
		ChunkCount:  s.ChunksSaved,
		Status:      status,
	}); err != nil {
		s.addError("embed_persist: finalizing document status failed: %v", err)
	}
	return nil
}

// auditNode records the ingestion outcome as a document_tracking row.
func (e *Engine) auditNode(ctx context.Context, s *State) error {
	if s.DocumentID == 0 {
		s.addError("audit: no document id, skipping tracking record")
		return nil
	}

	status := "COMPLETED"
	if len(s.Errors) > 0 {
		status = "COMPLETED_WITH_ERRORS"
	}

	tags := make([]string, 0, len(s.RBACTags)+len(s.MetaTags))
	tags = append(tags, s.RBACTags...)
	tags = append(tags, s.MetaTags...)

	if _, err := e.store.RecordTracking(ctx, store.DocumentTracking{
		DocumentID: s.DocumentID,
		DocID:      s.DocID,
		Stage:      "ingest",
		Status:     status,
		ChunkCount: s.ChunksSaved,
		Tags:       tags,
	}); err != nil {
		s.addError("audit: recording tracking failed: %v", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
