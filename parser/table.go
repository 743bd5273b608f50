package parser

import (
	"fmt"
	"strings"
)

// RenderTableRows flattens a set of SQL rows into one Section per row,
// each row's columns rendered as "**Column:** value" lines — the
// normalize-stage shape used by the table-ingestion path, where there
// is no native document structure to preserve, only a record set.
//
// columns gives the display order; each entry of rows must carry a
// value for every column in columns (missing columns render as empty
// strings rather than erroring, since a driver may return nil for a
// NULL cell).
func RenderTableRows(tableName string, columns []string, rows []map[string]any) []Section {
	sections := make([]Section, 0, len(rows))
	for i, row := range rows {
		var sb strings.Builder
		for _, col := range columns {
			val := row[col]
			sb.WriteString("**")
			sb.WriteString(col)
			sb.WriteString(":** ")
			sb.WriteString(formatCellValue(val))
			sb.WriteString("\n")
		}
		sections = append(sections, Section{
			Heading: fmt.Sprintf("%s row %d", tableName, i+1),
			Content: sb.String(),
			Level:   2,
			Type:    "table_row",
		})
	}
	return sections
}

func formatCellValue(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
