package workflow

import (
	"context"
	"testing"
)

type demoState struct {
	Count  int
	Errors []string
	Path   []string
}

func TestInvoke_LinearGraph(t *testing.T) {
	g := New[demoState]()
	g.AddNode("inc", func(ctx context.Context, s *demoState) error {
		s.Count++
		s.Path = append(s.Path, "inc")
		return nil
	})
	g.AddNode("double", func(ctx context.Context, s *demoState) error {
		s.Count *= 2
		s.Path = append(s.Path, "double")
		return nil
	})
	g.AddEdge(Start, "inc")
	g.AddEdge("inc", "double")
	g.AddEdge("double", End)

	exec, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	final, trace, err := exec.Invoke(context.Background(), demoState{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if final.Count != 2 {
		t.Errorf("count = %d, want 2", final.Count)
	}
	if len(trace.Nodes) != 2 {
		t.Errorf("trace nodes = %d, want 2", len(trace.Nodes))
	}
	for _, nt := range trace.Nodes {
		if nt.Status != "completed" {
			t.Errorf("node %s status = %s, want completed", nt.Node, nt.Status)
		}
	}
}

func TestInvoke_ConditionalRouting(t *testing.T) {
	g := New[demoState]()
	g.AddNode("check", func(ctx context.Context, s *demoState) error { return nil })
	g.AddNode("big", func(ctx context.Context, s *demoState) error {
		s.Path = append(s.Path, "big")
		return nil
	})
	g.AddNode("small", func(ctx context.Context, s *demoState) error {
		s.Path = append(s.Path, "small")
		return nil
	})
	g.AddEdge(Start, "check")
	g.AddConditionalEdges("check", func(ctx context.Context, s *demoState) string {
		if s.Count > 5 {
			return "big"
		}
		return "small"
	}, map[string]string{"big": "big", "small": "small"})
	g.AddEdge("big", End)
	g.AddEdge("small", End)

	exec, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	final, _, err := exec.Invoke(context.Background(), demoState{Count: 10})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(final.Path) != 1 || final.Path[0] != "big" {
		t.Errorf("path = %v, want [big]", final.Path)
	}

	final2, _, err := exec.Invoke(context.Background(), demoState{Count: 1})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(final2.Path) != 1 || final2.Path[0] != "small" {
		t.Errorf("path = %v, want [small]", final2.Path)
	}
}

func TestInvoke_NodeErrorDoesNotHaltExecution(t *testing.T) {
	g := New[demoState]()
	g.AddNode("fails", func(ctx context.Context, s *demoState) error {
		s.Errors = append(s.Errors, "boom")
		return errBoom
	})
	g.AddNode("after", func(ctx context.Context, s *demoState) error {
		s.Path = append(s.Path, "after")
		return nil
	})
	g.AddEdge(Start, "fails")
	g.AddEdge("fails", "after")
	g.AddEdge("after", End)

	exec, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	final, trace, err := exec.Invoke(context.Background(), demoState{})
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if len(final.Errors) != 1 {
		t.Errorf("errors = %v, want 1 entry", final.Errors)
	}
	if len(final.Path) != 1 || final.Path[0] != "after" {
		t.Errorf("downstream node did not run: path = %v", final.Path)
	}
	if trace.Nodes[0].Status != "failed" {
		t.Errorf("trace status = %s, want failed", trace.Nodes[0].Status)
	}
}

func TestCompile_RejectsUnreachableNode(t *testing.T) {
	g := New[demoState]()
	g.AddNode("a", func(ctx context.Context, s *demoState) error { return nil })
	g.AddNode("orphan", func(ctx context.Context, s *demoState) error { return nil })
	g.AddEdge(Start, "a")
	g.AddEdge("a", End)

	if _, err := g.Compile(); err == nil {
		t.Fatal("expected compile error for unreachable node")
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom error = boomErr{}
