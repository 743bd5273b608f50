package parser

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned by Get for a format no registered
// parser claims.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// Registry dispatches a file extension to the Parser that handles it.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a Registry with every built-in parser registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	// LegacyParser is registered first so the native parsers below take
	// priority for any format they both claim (e.g. "xls").
	builtins := []Parser{
		&LegacyParser{},
		&PDFParser{},
		&DOCXParser{},
		&XLSXParser{},
		&TextParser{},
	}
	for _, p := range builtins {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser registered for format, or ErrUnsupportedFormat
// if none handles it.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Register overrides or adds a parser for a given format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
