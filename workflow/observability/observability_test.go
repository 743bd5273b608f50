package observability

import (
	"strings"
	"testing"
)

func sampleShape() GraphShape {
	return GraphShape{
		Nodes: []string{"retrieve", "rerank", "optimize", "answer"},
		Edges: map[string]string{
			"retrieve": "rerank",
			"optimize": "answer",
		},
		Conditional: map[string][]string{
			"rerank": {"optimize", "answer"},
		},
	}
}

func TestDiagram_CachedAcrossCalls(t *testing.T) {
	ResetDiagramCache()
	shape := sampleShape()

	first := Diagram(shape)
	second := Diagram(shape)
	if first != second {
		t.Fatalf("expected identical cached diagram, got different output")
	}
	if !strings.Contains(first, "graph TD") {
		t.Errorf("diagram missing graph header: %s", first)
	}
	if !strings.Contains(first, "retrieve --> rerank") {
		t.Errorf("diagram missing expected edge: %s", first)
	}
	if !strings.Contains(first, "rerank -.->|optimize| optimize") {
		t.Errorf("diagram missing conditional edge: %s", first)
	}
}

func TestFingerprint_StableUnderFieldReordering(t *testing.T) {
	a := GraphShape{
		Nodes: []string{"a", "b"},
		Edges: map[string]string{"a": "b"},
	}
	b := GraphShape{
		Nodes: []string{"b", "a"},
		Edges: map[string]string{"a": "b"},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprint should be stable regardless of node slice order")
	}
}

func TestFingerprint_DiffersForDifferentShapes(t *testing.T) {
	a := GraphShape{Nodes: []string{"a"}, Edges: map[string]string{"a": "b"}}
	b := GraphShape{Nodes: []string{"a"}, Edges: map[string]string{"a": "c"}}
	if a.Fingerprint() == b.Fingerprint() {
		t.Errorf("different edge targets should fingerprint differently")
	}
}

func TestResetDiagramCache_ForcesRegeneration(t *testing.T) {
	ResetDiagramCache()
	shape := sampleShape()
	_ = Diagram(shape)

	cache.mu.Lock()
	before := len(cache.diagrams)
	cache.mu.Unlock()
	if before != 1 {
		t.Fatalf("expected 1 cached diagram, got %d", before)
	}

	ResetDiagramCache()
	cache.mu.Lock()
	after := len(cache.diagrams)
	cache.mu.Unlock()
	if after != 0 {
		t.Errorf("expected cache cleared, got %d entries", after)
	}
}
