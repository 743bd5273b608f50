// Package store implements the relational tracking store and embedded
// vector index backing the retrieval engine: document/chunk metadata,
// the append-only history-and-optimization log the healing agent reads
// and writes, and the ingestion audit trail.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrDocumentNotFound is returned by GetDocument and GetDocumentByDocID
// when no row matches.
var ErrDocumentNotFound = errors.New("store: document not found")

// Document represents a row in document_metadata.
type Document struct {
	ID          int64    `json:"id"`
	DocID       string   `json:"doc_id"`
	SourcePath  string   `json:"source_path,omitempty"`
	Format      string   `json:"format"`
	ContentHash string   `json:"content_hash"`
	RBACTags    []string `json:"rbac_tags"`
	MetaTags    []string `json:"meta_tags"`
	Title       string   `json:"title,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	DocType     string   `json:"doc_type,omitempty"`
	ChunkCount  int      `json:"chunk_count"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// Chunk represents a row in chunk_embedding_data.
type Chunk struct {
	ID             int64   `json:"id"`
	DocumentID     int64   `json:"document_id"`
	Content        string  `json:"content"`
	Position       int     `json:"position"`
	ContentHash    string  `json:"content_hash"`
	EmbeddingModel string  `json:"embedding_model"`
	QualityScore   float64 `json:"quality_score"`
	ReindexCount   int     `json:"reindex_count"`
}

// EventType enumerates the kinds of entries recorded in
// rag_history_and_optimization.
type EventType string

const (
	EventQuery          EventType = "QUERY"
	EventHeal           EventType = "HEAL"
	EventSyntheticTest  EventType = "SYNTHETIC_TEST"
	EventGuardrailCheck EventType = "GUARDRAIL_CHECK"
)

// HistoryEvent represents a row in rag_history_and_optimization.
type HistoryEvent struct {
	HistoryID int64          `json:"history_id"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	QueryText string         `json:"query_text,omitempty"`
	DocumentID *int64        `json:"document_id,omitempty"`
	ChunkID    *int64        `json:"chunk_id,omitempty"`
	EventType  EventType     `json:"event_type"`
	Action     string        `json:"action,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Reward     *float64      `json:"reward,omitempty"`
	CreatedAt  string        `json:"created_at,omitempty"`
}

// DocumentTracking represents a row in document_tracking: one entry
// per ingestion-stage attempt, independent of the document's current
// (possibly re-ingested) state.
type DocumentTracking struct {
	ID         int64    `json:"id"`
	DocumentID int64    `json:"document_id"`
	DocID      string   `json:"doc_id"`
	Stage      string   `json:"stage"`
	Status     string   `json:"status"`
	ChunkCount int      `json:"chunk_count"`
	Tags       []string `json:"tags,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty"`
}

// RetrievalResult holds a chunk with its retrieval distance and
// document info, as returned by a vector search.
type RetrievalResult struct {
	ChunkID      int64   `json:"chunk_id"`
	DocumentID   int64   `json:"document_id"`
	Content      string  `json:"content"`
	Position     int     `json:"position"`
	QualityScore float64 `json:"quality_score"`
	DocID        string  `json:"doc_id"`
	SourcePath   string  `json:"source_path"`
	Distance     float64 `json:"distance"`
}

// Store wraps the SQLite database backing both the relational tables
// and the embedded vec0 vector index.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema, including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries (e.g. the
// table-ingestion source-database reader opens its own handle, but
// callers that need raw access to the tracking store use this).
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record keyed by doc_id.
// Returns the internal row ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	rbacJSON, _ := json.Marshal(doc.RBACTags)
	metaJSON, _ := json.Marshal(doc.MetaTags)
	kwJSON, _ := json.Marshal(doc.Keywords)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_metadata (doc_id, source_path, format, content_hash, rbac_tags, meta_tags,
			title, summary, keywords, doc_type, chunk_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			source_path = excluded.source_path,
			format = excluded.format,
			content_hash = excluded.content_hash,
			rbac_tags = excluded.rbac_tags,
			meta_tags = excluded.meta_tags,
			title = excluded.title,
			summary = excluded.summary,
			keywords = excluded.keywords,
			doc_type = excluded.doc_type,
			chunk_count = excluded.chunk_count,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, doc.DocID, doc.SourcePath, doc.Format, doc.ContentHash, string(rbacJSON), string(metaJSON),
		doc.Title, doc.Summary, string(kwJSON), doc.DocType, doc.ChunkCount, doc.Status)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT id FROM document_metadata WHERE doc_id = ?", doc.DocID)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func scanDocument(row interface {
	Scan(dest ...any) error
}) (*Document, error) {
	doc := &Document{}
	var rbac, meta, kw, title, summary, docType sql.NullString
	if err := row.Scan(&doc.ID, &doc.DocID, &doc.SourcePath, &doc.Format, &doc.ContentHash,
		&rbac, &meta, &title, &summary, &kw, &docType, &doc.ChunkCount, &doc.Status,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(rbac.String), &doc.RBACTags)
	_ = json.Unmarshal([]byte(meta.String), &doc.MetaTags)
	_ = json.Unmarshal([]byte(kw.String), &doc.Keywords)
	doc.Title = title.String
	doc.Summary = summary.String
	doc.DocType = docType.String
	return doc, nil
}

const documentColumns = `id, doc_id, source_path, format, content_hash, rbac_tags, meta_tags,
	title, summary, keywords, doc_type, chunk_count, status, created_at, updated_at`

// GetDocumentByDocID retrieves a document by its user-facing doc_id.
func (s *Store) GetDocumentByDocID(ctx context.Context, docID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM document_metadata WHERE doc_id = ?", docID)
	return scanDocument(row)
}

// GetDocument retrieves a document by internal row ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM document_metadata WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM document_metadata ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// DocIDExists reports whether a doc_id is already registered.
func (s *Store) DocIDExists(ctx context.Context, docID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_metadata WHERE doc_id = ?", docID).Scan(&count)
	return count > 0, err
}

// DeleteDocument removes a document and cascades to its chunks and embeddings.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunk_embedding_data WHERE document_id = ?
			)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_embedding_data WHERE document_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM document_metadata WHERE id = ?", id)
		return err
	})
}

// DeleteChunksForDocument removes every chunk and embedding belonging
// to a document without touching the document row itself, used by the
// ingestion pipeline to clear stale chunks before a re-ingest.
func (s *Store) DeleteChunksForDocument(ctx context.Context, documentID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunk_embedding_data WHERE document_id = ?
			)`, documentID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM chunk_embedding_data WHERE document_id = ?", documentID)
		return err
	})
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks and returns their assigned IDs.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunk_embedding_data (document_id, content, position, content_hash, embedding_model, quality_score, reindex_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			hash := sha256.Sum256([]byte(c.Content))
			contentHash := hex.EncodeToString(hash[:])
			if c.QualityScore == 0 {
				c.QualityScore = 0.5
			}
			res, err := stmt.ExecContext(ctx, c.DocumentID, c.Content, c.Position,
				contentHash, c.EmbeddingModel, c.QualityScore, c.ReindexCount)
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// GetChunksByDocument returns all chunks for a given document, ordered by position.
func (s *Store) GetChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, position, content_hash, embedding_model, quality_score, reindex_count
		FROM chunk_embedding_data WHERE document_id = ? ORDER BY position
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Position,
			&c.ContentHash, &c.EmbeddingModel, &c.QualityScore, &c.ReindexCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunk retrieves a single chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	var c Chunk
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, position, content_hash, embedding_model, quality_score, reindex_count
		FROM chunk_embedding_data WHERE id = ?
	`, id).Scan(&c.ID, &c.DocumentID, &c.Content, &c.Position, &c.ContentHash, &c.EmbeddingModel, &c.QualityScore, &c.ReindexCount)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetChunkQuality updates a chunk's quality score.
func (s *Store) SetChunkQuality(ctx context.Context, chunkID int64, quality float64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE chunk_embedding_data SET quality_score = ? WHERE id = ?", quality, chunkID)
	return err
}

// IncrementReindexCount bumps a chunk's reindex_count by one.
func (s *Store) IncrementReindexCount(ctx context.Context, chunkID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE chunk_embedding_data SET reindex_count = reindex_count + 1 WHERE id = ?", chunkID)
	return err
}

// SetChunkEmbeddingModel records which embedding model produced a
// chunk's current vector.
func (s *Store) SetChunkEmbeddingModel(ctx context.Context, chunkID int64, model string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE chunk_embedding_data SET embedding_model = ? WHERE id = ?", model, chunkID)
	return err
}

// --- Embedding / vector search operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a KNN search returning the top-k nearest
// chunks, optionally restricted to documents carrying one of the given
// RBAC tags (an empty namespace slice disables the filter).
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int, namespace []string) ([]RetrievalResult, error) {
	args := []any{serializeFloat32(queryEmbedding), k}
	query := `
		SELECT v.chunk_id, v.distance,
			c.content, c.position, c.quality_score, c.document_id,
			d.doc_id, d.source_path, d.rbac_tags
		FROM vec_chunks v
		JOIN chunk_embedding_data c ON c.id = v.chunk_id
		JOIN document_metadata d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var rbacJSON string
		if err := rows.Scan(&r.ChunkID, &r.Distance,
			&r.Content, &r.Position, &r.QualityScore, &r.DocumentID,
			&r.DocID, &r.SourcePath, &rbacJSON); err != nil {
			return nil, err
		}
		if len(namespace) > 0 {
			var tags []string
			_ = json.Unmarshal([]byte(rbacJSON), &tags)
			if !anyTagMatches(tags, namespace) {
				continue
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func anyTagMatches(tags, namespace []string) bool {
	set := make(map[string]bool, len(namespace))
	for _, t := range namespace {
		set[t] = true
	}
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

// --- History log ---

const historyColumns = `history_id, COALESCE(session_id, ''), COALESCE(agent_id, ''), COALESCE(user_id, ''),
	COALESCE(query_text, ''), document_id, chunk_id, event_type, COALESCE(action, ''),
	metrics, context, reward, created_at`

// LogEvent appends a row to rag_history_and_optimization. The
// history_id primary key is the ordering authority the spec requires
// for the append-only log: SQLite's AUTOINCREMENT guarantees it is
// monotonically increasing even under concurrent writers serialized by
// the driver's connection pool.
func (s *Store) LogEvent(ctx context.Context, e HistoryEvent) (int64, error) {
	metricsJSON, _ := json.Marshal(e.Metrics)
	contextJSON, _ := json.Marshal(e.Context)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_history_and_optimization
			(session_id, agent_id, user_id, query_text, document_id, chunk_id, event_type, action, metrics, context, reward)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(e.SessionID), nullString(e.AgentID), nullString(e.UserID), nullString(e.QueryText),
		e.DocumentID, e.ChunkID, string(e.EventType), nullString(e.Action), string(metricsJSON), string(contextJSON), e.Reward)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetHistoryForChunk returns history events touching a given chunk,
// most recent first.
func (s *Store) GetHistoryForChunk(ctx context.Context, chunkID int64, limit int) ([]HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM rag_history_and_optimization WHERE chunk_id = ? ORDER BY history_id DESC LIMIT ?",
		chunkID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// GetHistoryForDocument returns history events targeting a document,
// most recent first.
func (s *Store) GetHistoryForDocument(ctx context.Context, documentID int64, limit int) ([]HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM rag_history_and_optimization WHERE document_id = ? ORDER BY history_id DESC LIMIT ?",
		documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// GetHistoryForSession returns all events for a session in chronological order.
func (s *Store) GetHistoryForSession(ctx context.Context, sessionID string) ([]HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM rag_history_and_optimization WHERE session_id = ? ORDER BY history_id ASC",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// CountEventsForDocument counts how many events of a given type target
// a document.
func (s *Store) CountEventsForDocument(ctx context.Context, documentID int64, eventType EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rag_history_and_optimization WHERE document_id = ? AND event_type = ?",
		documentID, string(eventType)).Scan(&n)
	return n, err
}

func scanHistoryRows(rows *sql.Rows) ([]HistoryEvent, error) {
	var events []HistoryEvent
	for rows.Next() {
		var e HistoryEvent
		var metricsJSON, contextJSON string
		var docID, chunkID sql.NullInt64
		var reward sql.NullFloat64
		if err := rows.Scan(&e.HistoryID, &e.SessionID, &e.AgentID, &e.UserID, &e.QueryText,
			&docID, &chunkID, &e.EventType, &e.Action, &metricsJSON, &contextJSON, &reward, &e.CreatedAt); err != nil {
			return nil, err
		}
		if docID.Valid {
			v := docID.Int64
			e.DocumentID = &v
		}
		if chunkID.Valid {
			v := chunkID.Int64
			e.ChunkID = &v
		}
		if reward.Valid {
			v := reward.Float64
			e.Reward = &v
		}
		_ = json.Unmarshal([]byte(metricsJSON), &e.Metrics)
		_ = json.Unmarshal([]byte(contextJSON), &e.Context)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Document tracking / audit ---

// RecordTracking appends an ingestion-stage audit row.
func (s *Store) RecordTracking(ctx context.Context, t DocumentTracking) (int64, error) {
	tagsJSON, _ := json.Marshal(t.Tags)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_tracking (document_id, doc_id, stage, status, chunk_count, tags, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.DocumentID, t.DocID, t.Stage, t.Status, t.ChunkCount, string(tagsJSON), t.Detail)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- Diagnostic helpers ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	Embeddings int `json:"embeddings"`
	Events     int `json:"events"`
}

// Stats returns counts across the tracking store's main tables.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM document_metadata", &stats.Documents},
		{"SELECT COUNT(*) FROM chunk_embedding_data", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
		{"SELECT COUNT(*) FROM rag_history_and_optimization", &stats.Events},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
