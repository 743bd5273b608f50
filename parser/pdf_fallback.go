package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/ledongthuc/pdf"
)

// ParseFallback extracts a PDF's raw text stream without attempting
// table or heading reconstruction. It is the fallback path invoked
// when the primary table-aware PDFParser fails to open or walk a
// document (e.g. a malformed xref table the richer page-walk can't
// tolerate).
func (p *PDFParser) ParseFallback(ctx context.Context, path string) (*ParseResult, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF (fallback): %w", err)
	}
	defer f.Close()

	textReader, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting plain text (fallback): %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return nil, fmt.Errorf("reading plain text (fallback): %w", err)
	}

	content := buf.String()
	if content == "" {
		return nil, fmt.Errorf("fallback extraction produced no text")
	}

	return &ParseResult{
		Sections: []Section{{
			Heading: filepath.Base(path),
			Content: content,
			Level:   1,
			Type:    "paragraph",
		}},
		Method: "fallback",
	}, nil
}
