// Package workflow implements the typed directed-graph executor that
// drives ingestion, retrieval, and optimization as state machines with
// conditional branches and per-node tracing. Each visit runs a node
// once; a node that returns an error is not retried.
//
// A graph is built from named nodes (pure-ish functions that mutate a
// pointer to the shared state), unconditional edges, and conditional
// edges whose router resolves a label against a destination map. The
// sentinel node names Start and End anchor entry and exit.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ragheal/ragheal/workflow/observability"
)

// Start and End are the sentinel node names used with AddEdge and
// AddConditionalEdges to mark graph entry and exit.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeFunc is a single graph step. It receives the running state by
// pointer and mutates the fields it owns; this is the Go-typed
// equivalent of the shallow dict-merge used by untyped state-machine
// frameworks. A returned error is recorded on the trace but does not
// halt execution — callers are expected to also append a
// human-readable message to the state's own error list so downstream
// nodes can degrade gracefully.
type NodeFunc[S any] func(ctx context.Context, state *S) error

// RouterFunc inspects the state after a node runs and returns a label
// that is resolved against the mapping passed to AddConditionalEdges.
type RouterFunc[S any] func(ctx context.Context, state *S) string

type conditionalEdge[S any] struct {
	router  RouterFunc[S]
	mapping map[string]string
}

// Graph is a mutable graph definition. Build it with AddNode/AddEdge/
// AddConditionalEdges, then call Compile to obtain an Executable.
type Graph[S any] struct {
	nodes       map[string]NodeFunc[S]
	edges       map[string]string
	conditional map[string]conditionalEdge[S]
	entry       string
}

// New returns an empty graph.
func New[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:       make(map[string]NodeFunc[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge[S]),
	}
}

// AddNode registers a named node. fn receives the running state and
// mutates it in place.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) {
	g.nodes[name] = fn
}

// AddEdge registers an unconditional transition from -> to. An edge
// from Start designates the graph's entry node; an edge to End marks a
// terminal node.
func (g *Graph[S]) AddEdge(from, to string) {
	if from == Start {
		g.entry = to
		return
	}
	g.edges[from] = to
}

// AddConditionalEdges registers a routing function for the given node.
// After the node runs, router(state) must return a key present in
// mapping; the mapped node name is the next step.
func (g *Graph[S]) AddConditionalEdges(from string, router RouterFunc[S], mapping map[string]string) {
	g.conditional[from] = conditionalEdge[S]{router: router, mapping: mapping}
}

// Compile validates the graph — every node must be reachable from
// Start, every node must be able to reach End, and every edge/mapping
// destination must name a real node (or End) — and returns an
// Executable.
func (g *Graph[S]) Compile() (*Executable[S], error) {
	if g.entry == "" {
		return nil, fmt.Errorf("workflow: no entry node (call AddEdge(Start, ...))")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("workflow: entry node %q not registered", g.entry)
	}

	// Every node must be registered as a valid destination somewhere,
	// and every destination must exist.
	destinations := func(name string) []string {
		var out []string
		if to, ok := g.edges[name]; ok {
			out = append(out, to)
		}
		if ce, ok := g.conditional[name]; ok {
			for _, to := range ce.mapping {
				out = append(out, to)
			}
		}
		return out
	}

	for name := range g.nodes {
		for _, to := range destinations(name) {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("workflow: node %q routes to unregistered node %q", name, to)
			}
		}
	}

	// Reachable-from-start check.
	reachable := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range destinations(cur) {
			if to == End || reachable[to] {
				continue
			}
			reachable[to] = true
			queue = append(queue, to)
		}
	}
	for name := range g.nodes {
		if !reachable[name] {
			return nil, fmt.Errorf("workflow: node %q is unreachable from start", name)
		}
	}

	// Every node must be able to reach End: walk backwards from nodes
	// with no outgoing edges/conditional (terminal) or an explicit End
	// edge.
	canReachEnd := map[string]bool{}
	changed := true
	for changed {
		changed = false
		for name := range g.nodes {
			if canReachEnd[name] {
				continue
			}
			if to, ok := g.edges[name]; ok {
				if to == End || canReachEnd[to] {
					canReachEnd[name] = true
					changed = true
				}
				continue
			}
			if ce, ok := g.conditional[name]; ok {
				allOK := len(ce.mapping) > 0
				for _, to := range ce.mapping {
					if to != End && !canReachEnd[to] {
						allOK = false
					}
				}
				if allOK {
					canReachEnd[name] = true
					changed = true
				}
				continue
			}
			// No outgoing edge at all — treated as implicitly reaching End.
			canReachEnd[name] = true
			changed = true
		}
	}
	for name := range g.nodes {
		if !canReachEnd[name] {
			return nil, fmt.Errorf("workflow: node %q cannot reach end", name)
		}
	}

	return &Executable[S]{g: g}, nil
}

// NodeTrace captures one node's execution within a single invocation.
type NodeTrace struct {
	Node      string          `json:"node"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	DurationMs int64          `json:"duration_ms"`
	Status    string          `json:"status"` // completed or failed
	Error     string          `json:"error,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
}

// Trace records the full per-node history of one Invoke call.
type Trace struct {
	Nodes []NodeTrace `json:"nodes"`
}

// Executable is a compiled, runnable graph.
type Executable[S any] struct {
	g *Graph[S]
}

// Shape returns the compiled graph's structure (nodes, edges and
// conditional destinations), which the observability package's diagram
// cache fingerprints.
func (e *Executable[S]) Shape() observability.GraphShape {
	shape := observability.GraphShape{
		Edges:       make(map[string]string, len(e.g.edges)),
		Conditional: make(map[string][]string, len(e.g.conditional)),
	}
	shape.Nodes = append(shape.Nodes, Start, End)
	for name := range e.g.nodes {
		shape.Nodes = append(shape.Nodes, name)
	}
	for from, to := range e.g.edges {
		shape.Edges[from] = to
	}
	for from, ce := range e.g.conditional {
		for _, to := range ce.mapping {
			shape.Conditional[from] = append(shape.Conditional[from], to)
		}
	}
	if e.g.entry != "" {
		shape.Edges[Start] = e.g.entry
	}
	return shape
}

// Diagram returns the cached Mermaid flowchart for this graph's
// structure, generating it on first call.
func (e *Executable[S]) Diagram() string {
	return observability.Diagram(e.Shape())
}

// Invoke runs the graph to completion from the given initial state and
// returns the final state plus a trace of every node visited. A single
// Executable may be invoked concurrently from multiple goroutines —
// each call owns its own state value and trace.
func (e *Executable[S]) Invoke(ctx context.Context, initial S) (S, *Trace, error) {
	state := initial
	trace := &Trace{}
	current := e.g.entry

	for current != End && current != "" {
		fn, ok := e.g.nodes[current]
		if !ok {
			return state, trace, fmt.Errorf("workflow: node %q not registered", current)
		}

		before, _ := json.Marshal(state)
		nt := NodeTrace{Node: current, StartedAt: time.Now(), Status: "started", Before: before}

		err := fn(ctx, &state)

		nt.EndedAt = time.Now()
		nt.DurationMs = nt.EndedAt.Sub(nt.StartedAt).Milliseconds()
		after, _ := json.Marshal(state)
		nt.After = after
		if err != nil {
			nt.Status = "failed"
			nt.Error = err.Error()
		} else {
			nt.Status = "completed"
		}
		trace.Nodes = append(trace.Nodes, nt)

		next := End
		if ce, ok := e.g.conditional[current]; ok {
			label := ce.router(ctx, &state)
			dest, ok := ce.mapping[label]
			if !ok {
				return state, trace, fmt.Errorf("workflow: router at %q returned unmapped label %q", current, label)
			}
			next = dest
		} else if to, ok := e.g.edges[current]; ok {
			next = to
		}
		current = next
	}

	return state, trace, nil
}
