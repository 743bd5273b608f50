package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TableSource describes a source table to read for table ingestion.
// DB is a connection to the *source* database, which is distinct from
// the tracking store Engine was constructed with.
type TableSource struct {
	DB              *sql.DB
	TableName       string
	TextColumns     []string
	MetadataColumns []string
	Filter          string
}

// IngestTable reads every matching row from ts and ingests each one as
// a single synthetic document through the full six-stage pipeline
// (classify and extract_metadata return fixed fallbacks for table rows
// without calling the LLM — see classifyNode/extractMetadataNode).
//
// docIDFn builds the doc id for a given row and its 0-based index;
// callers typically delegate to the session registry's deterministic
// doc-id generator.
func (e *Engine) IngestTable(ctx context.Context, ts TableSource, sessionID string, docIDFn func(row map[string]any, index int) string) ([]Result, error) {
	rows, columns, err := readTableRows(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("ingest: reading source table %q: %w", ts.TableName, err)
	}

	results := make([]Result, 0, len(rows))
	for i, row := range rows {
		docID := docIDFn(row, i)
		src := Source{
			Kind:      SourceTable,
			TableName: ts.TableName,
			Columns:   columns,
			TableRows: []map[string]any{row},
		}
		res, _, err := e.Ingest(ctx, Request{DocID: docID, Source: src, SessionID: sessionID})
		if err != nil {
			results = append(results, Result{DocID: docID, Errors: []string{err.Error()}})
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func readTableRows(ctx context.Context, ts TableSource) ([]map[string]any, []string, error) {
	if ts.DB == nil {
		return nil, nil, fmt.Errorf("source database is required")
	}
	if ts.TableName == "" || len(ts.TextColumns) == 0 {
		return nil, nil, fmt.Errorf("table name and at least one text column are required")
	}

	columns := make([]string, 0, len(ts.TextColumns)+len(ts.MetadataColumns))
	columns = append(columns, ts.TextColumns...)
	columns = append(columns, ts.MetadataColumns...)

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), ts.TableName)
	if ts.Filter != "" {
		query += " WHERE " + ts.Filter
	}

	rows, err := ts.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	return out, columns, rows.Err()
}
