package parser

import "strings"

// RenderMarkdown flattens a parsed section tree into a single
// normalized markdown document, preserving heading levels, table
// blocks, and paragraph breaks — the ingestion pipeline's
// normalize-to-markdown stage for any parser that already produces a
// Section tree (PDF, DOCX, XLSX, plain text).
func RenderMarkdown(sections []Section) string {
	var sb strings.Builder
	renderSections(&sb, sections)
	return strings.TrimSpace(sb.String())
}

func renderSections(sb *strings.Builder, sections []Section) {
	for _, sec := range sections {
		renderSection(sb, sec)
	}
}

func renderSection(sb *strings.Builder, sec Section) {
	if sec.Heading != "" {
		level := sec.Level
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		sb.WriteString(strings.Repeat("#", level))
		sb.WriteString(" ")
		sb.WriteString(sec.Heading)
		sb.WriteString("\n\n")
	}
	if sec.Content != "" {
		sb.WriteString(strings.TrimRight(sec.Content, "\n"))
		sb.WriteString("\n\n")
	}
	renderSections(sb, sec.Children)
}
