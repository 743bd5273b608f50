//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ragheal.db")
	st, err := New(dbPath, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestUpsertDocumentInsertThenUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.UpsertDocument(ctx, Document{
		DocID:       "file_refund_policy_20260101_000000",
		SourcePath:  "refund_policy.pdf",
		Format:      "pdf",
		ContentHash: "abc123",
		RBACTags:    []string{"public"},
		MetaTags:    []string{"policy"},
		Title:       "Refund Policy",
		ChunkCount:  3,
		Status:      "ready",
	})
	if err != nil {
		t.Fatalf("UpsertDocument insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero row id")
	}

	id2, err := st.UpsertDocument(ctx, Document{
		DocID:       "file_refund_policy_20260101_000000",
		SourcePath:  "refund_policy.pdf",
		Format:      "pdf",
		ContentHash: "def456",
		ChunkCount:  4,
		Status:      "ready",
	})
	if err != nil {
		t.Fatalf("UpsertDocument update: %v", err)
	}
	if id2 != id {
		t.Fatalf("update returned a different row id: %d != %d", id2, id)
	}

	doc, err := st.GetDocumentByDocID(ctx, "file_refund_policy_20260101_000000")
	if err != nil {
		t.Fatalf("GetDocumentByDocID: %v", err)
	}
	if doc.ContentHash != "def456" || doc.ChunkCount != 4 {
		t.Fatalf("document not updated: %+v", doc)
	}
}

func TestDocIDExists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	exists, err := st.DocIDExists(ctx, "file_missing_doc")
	if err != nil {
		t.Fatalf("DocIDExists: %v", err)
	}
	if exists {
		t.Fatal("expected doc_id not to exist yet")
	}

	if _, err := st.UpsertDocument(ctx, Document{DocID: "file_present_doc", Format: "txt", Status: "ready"}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	exists, err = st.DocIDExists(ctx, "file_present_doc")
	if err != nil {
		t.Fatalf("DocIDExists: %v", err)
	}
	if !exists {
		t.Fatal("expected doc_id to exist after insert")
	}
}

func TestInsertAndGetChunks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	docID, err := st.UpsertDocument(ctx, Document{DocID: "text_faq_20260101_000000", Format: "text", Status: "ready"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	ids, err := st.InsertChunks(ctx, []Chunk{
		{DocumentID: docID, Content: "first chunk", Position: 0, EmbeddingModel: "test-embed"},
		{DocumentID: docID, Content: "second chunk", Position: 1, EmbeddingModel: "test-embed"},
	})
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	chunks, err := st.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetChunksByDocument: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Position != 0 || chunks[1].Position != 1 {
		t.Fatalf("chunks not ordered by position: %+v", chunks)
	}
	if chunks[0].QualityScore != 0.5 {
		t.Fatalf("expected default quality score 0.5, got %v", chunks[0].QualityScore)
	}
}

func TestChunkQualityAndReindexMutation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	docID, err := st.UpsertDocument(ctx, Document{DocID: "text_doc_20260101_000000", Format: "text", Status: "ready"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	ids, err := st.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: "content", Position: 0}})
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	chunkID := ids[0]

	if err := st.SetChunkQuality(ctx, chunkID, 0.9); err != nil {
		t.Fatalf("SetChunkQuality: %v", err)
	}
	if err := st.IncrementReindexCount(ctx, chunkID); err != nil {
		t.Fatalf("IncrementReindexCount: %v", err)
	}
	if err := st.IncrementReindexCount(ctx, chunkID); err != nil {
		t.Fatalf("IncrementReindexCount: %v", err)
	}

	chunk, err := st.GetChunk(ctx, chunkID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if chunk.QualityScore != 0.9 {
		t.Fatalf("quality_score = %v, want 0.9", chunk.QualityScore)
	}
	if chunk.ReindexCount != 2 {
		t.Fatalf("reindex_count = %d, want 2", chunk.ReindexCount)
	}
}

func TestLogEventAndGetHistoryForDocument(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	docID, err := st.UpsertDocument(ctx, Document{DocID: "text_hist_20260101_000000", Format: "text", Status: "ready"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	reward := 0.2
	for i := 0; i < 3; i++ {
		if _, err := st.LogEvent(ctx, HistoryEvent{
			SessionID:  "sess-1",
			AgentID:    "rl_healing_agent",
			DocumentID: &docID,
			EventType:  EventQuery,
			Metrics:    map[string]any{"quality": 0.6},
			Reward:     &reward,
		}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}

	events, err := st.GetHistoryForDocument(ctx, docID, 10)
	if err != nil {
		t.Fatalf("GetHistoryForDocument: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].HistoryID <= events[len(events)-1].HistoryID {
		t.Fatal("expected most-recent-first ordering by history_id")
	}
	for _, e := range events {
		if e.DocumentID == nil || *e.DocumentID != docID {
			t.Fatalf("event document_id mismatch: %+v", e)
		}
		if e.Metrics["quality"] != 0.6 {
			t.Fatalf("metrics not round-tripped: %+v", e.Metrics)
		}
		if e.Reward == nil || *e.Reward != 0.2 {
			t.Fatalf("reward not round-tripped: %+v", e.Reward)
		}
	}

	count, err := st.CountEventsForDocument(ctx, docID, EventQuery)
	if err != nil {
		t.Fatalf("CountEventsForDocument: %v", err)
	}
	if count != 3 {
		t.Fatalf("CountEventsForDocument = %d, want 3", count)
	}
}

func TestGetHistoryForSessionChronological(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := st.LogEvent(ctx, HistoryEvent{SessionID: "sess-chrono", EventType: EventHeal})
		if err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
		ids = append(ids, id)
	}

	events, err := st.GetHistoryForSession(ctx, "sess-chrono")
	if err != nil {
		t.Fatalf("GetHistoryForSession: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if e.HistoryID != ids[i] {
			t.Fatalf("events not in chronological order: got %d at index %d, want %d", e.HistoryID, i, ids[i])
		}
	}
}

func TestRecordTrackingAndStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	docID, err := st.UpsertDocument(ctx, Document{DocID: "text_track_20260101_000000", Format: "text", Status: "ready"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if _, err := st.RecordTracking(ctx, DocumentTracking{
		DocumentID: docID,
		DocID:      "text_track_20260101_000000",
		Stage:      "chunk",
		Status:     "success",
		ChunkCount: 2,
		Tags:       []string{"public"},
	}); err != nil {
		t.Fatalf("RecordTracking: %v", err)
	}

	if _, err := st.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: "a", Position: 0}}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Documents != 1 {
		t.Fatalf("Documents = %d, want 1", stats.Documents)
	}
	if stats.Chunks != 1 {
		t.Fatalf("Chunks = %d, want 1", stats.Chunks)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	docID, err := st.UpsertDocument(ctx, Document{DocID: "text_del_20260101_000000", Format: "text", Status: "ready"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if _, err := st.InsertChunks(ctx, []Chunk{{DocumentID: docID, Content: "a", Position: 0}}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	if err := st.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	chunks, err := st.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetChunksByDocument: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected chunks to be cascaded away, got %d", len(chunks))
	}

	doc, err := st.GetDocument(ctx, docID)
	if err == nil && doc != nil {
		t.Fatalf("expected document to be deleted, got %+v", doc)
	}
}
