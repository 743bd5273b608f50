// Package observability implements the process-wide diagram cache
// referenced in spec.md's Design Notes: a Mermaid-style flowchart is
// generated once per distinct graph structure and reused for every
// subsequent request that shares that structure, since the rendering
// itself is deterministic and otherwise wasted work on every
// Engine.Ask/Ingest call.
package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GraphShape describes a compiled workflow graph structurally enough
// to fingerprint it: node names plus unconditional and conditional
// edges. It deliberately excludes node function bodies — two graphs
// with the same topology produce the same diagram.
type GraphShape struct {
	Nodes       []string
	Edges       map[string]string
	Conditional map[string][]string // from -> destination node names, in any order
}

// Fingerprint returns a stable hash of the graph's structure, used as
// the cache key.
func (s GraphShape) Fingerprint() string {
	nodes := append([]string(nil), s.Nodes...)
	sort.Strings(nodes)

	var edgeKeys []string
	for from, to := range s.Edges {
		edgeKeys = append(edgeKeys, from+"->"+to)
	}
	sort.Strings(edgeKeys)

	var condKeys []string
	for from, dests := range s.Conditional {
		d := append([]string(nil), dests...)
		sort.Strings(d)
		condKeys = append(condKeys, from+"=>"+strings.Join(d, ","))
	}
	sort.Strings(condKeys)

	h := sha256.New()
	h.Write([]byte(strings.Join(nodes, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(edgeKeys, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(condKeys, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// cache is the process-wide, lazily-populated diagram cache.
var cache = struct {
	mu    sync.Mutex
	diagrams map[string]string
}{diagrams: make(map[string]string)}

// Diagram returns the cached Mermaid flowchart for shape's
// fingerprint, generating and storing it on first request.
func Diagram(shape GraphShape) string {
	key := shape.Fingerprint()

	cache.mu.Lock()
	if d, ok := cache.diagrams[key]; ok {
		cache.mu.Unlock()
		return d
	}
	cache.mu.Unlock()

	d := render(shape)

	cache.mu.Lock()
	cache.diagrams[key] = d
	cache.mu.Unlock()
	return d
}

// ResetDiagramCache clears every cached diagram, e.g. after a graph is
// recompiled with different nodes or edges during development.
func ResetDiagramCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.diagrams = make(map[string]string)
}

// render produces a Mermaid `graph TD` flowchart from shape.
func render(shape GraphShape) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	b.WriteString("    __start__([START])\n")
	b.WriteString("    __end__([END])\n")

	nodes := append([]string(nil), shape.Nodes...)
	sort.Strings(nodes)
	for _, n := range nodes {
		fmt.Fprintf(&b, "    %s[%s]\n", n, n)
	}

	var edgeKeys []string
	for from := range shape.Edges {
		edgeKeys = append(edgeKeys, from)
	}
	sort.Strings(edgeKeys)
	for _, from := range edgeKeys {
		fmt.Fprintf(&b, "    %s --> %s\n", from, shape.Edges[from])
	}

	var condKeys []string
	for from := range shape.Conditional {
		condKeys = append(condKeys, from)
	}
	sort.Strings(condKeys)
	for _, from := range condKeys {
		dests := append([]string(nil), shape.Conditional[from]...)
		sort.Strings(dests)
		for _, to := range dests {
			fmt.Fprintf(&b, "    %s -.->|%s| %s\n", from, to, to)
		}
	}
	return b.String()
}
