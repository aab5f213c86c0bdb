//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a graph-based execution engine for stateful,
// multi-step applications. A graph is declared with StateGraph, compiled
// into an immutable plan, and driven by Executor in synchronized supersteps
// over a shared, reducer-merged state.
package graph

import (
	"context"
	"time"
)

// Special node identifiers for graph routing.
const (
	// Start is the virtual entry node. It is never executed.
	Start = "__start__"
	// End is the virtual terminal node. Routing to it completes the run.
	End = "__end__"
)

// NodeFunc is the operation a node exposes. It receives an immutable state
// snapshot and returns either a State holding a partial update, or a
// *Command combining an update with explicit routing.
type NodeFunc func(ctx context.Context, state State) (any, error)

// RoutingFunc decides the targets of a conditional edge from the merged
// post-superstep state. It may return zero, one, or many targets; returning
// several fans execution out to all of them in the next superstep.
type RoutingFunc func(ctx context.Context, state State) ([]string, error)

// Command is a node result that combines a state update with an explicit
// routing decision. GoTo overrides the node's outgoing edges; GoTo == End
// halts the run once the superstep commits.
type Command struct {
	Update State
	GoTo   string
}

// NodeType identifies the capability a node wraps. The scheduler never
// inspects it; it exists for introspection and event metadata.
type NodeType string

// Node capability kinds.
const (
	NodeTypeFunction NodeType = "function"
	NodeTypeTool     NodeType = "tool"
	NodeTypeModel    NodeType = "model"
)

// ErrorPolicy controls how a node execution error affects the run.
type ErrorPolicy string

const (
	// ErrorPolicyFatal fails the whole run. The unfinished superstep is not
	// checkpointed. This is the default.
	ErrorPolicyFatal ErrorPolicy = "fatal"
	// ErrorPolicyIsolate drops the failing node's update, records the error
	// in the step event, and lets the superstep proceed.
	ErrorPolicyIsolate ErrorPolicy = "isolate"
)

// Node is a named unit of work. Nodes are immutable once the graph is
// compiled.
type Node struct {
	ID          string
	Name        string
	Description string
	Type        NodeType
	Function    NodeFunc

	// Timeout bounds a single attempt; zero means no limit.
	Timeout time.Duration
	// Retry controls re-execution after transient failures.
	Retry RetryPolicy
	// OnError selects fatal or isolate handling; empty means fatal.
	OnError ErrorPolicy
}

// Edge is an unconditional directed relation between two nodes.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from a node through a RoutingFunc. Targets is the
// declared set of possible destinations, checked structurally at compile
// time; the routing function must only ever return members of it.
type ConditionalEdge struct {
	From    string
	Route   RoutingFunc
	Targets []string
}

// Graph is the compiled, immutable execution plan: adjacency from each node
// (plus Start) to its outgoing edges, a reverse index for fan-in detection,
// and a validated absence of unreachable nodes. Build one with
// StateGraph.Compile; a compiled graph is never mutated, so it is safe to
// share across concurrent runs.
type Graph struct {
	schema           *StateSchema
	nodes            map[string]*Node
	edges            map[string][]*Edge
	conditionalEdges map[string]*ConditionalEdge
	incoming         map[string][]string
	cyclic           bool
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// NodeIDs returns the IDs of all declared nodes.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Edges returns the outgoing unconditional edges of a node.
func (g *Graph) Edges(nodeID string) []*Edge {
	return g.edges[nodeID]
}

// ConditionalEdge returns the conditional edge from a node, if any.
func (g *Graph) ConditionalEdge(nodeID string) (*ConditionalEdge, bool) {
	edge, ok := g.conditionalEdges[nodeID]
	return edge, ok
}

// Incoming returns the sources feeding a node. Multiple sources mean the
// node is a fan-in point.
func (g *Graph) Incoming(nodeID string) []string {
	return g.incoming[nodeID]
}

// Schema returns the state schema the graph was compiled with.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

// Cyclic reports whether the plan contains at least one cycle. Cycles are
// legal; the executor bounds them with its recursion limit.
func (g *Graph) Cyclic() bool {
	return g.cyclic
}

// entryTargets resolves the active set for the first superstep: the targets
// of Start's unconditional edges, or of its conditional edge.
func (g *Graph) entryTargets(ctx context.Context, state State) ([]string, error) {
	if cond, ok := g.conditionalEdges[Start]; ok {
		return cond.Route(ctx, state)
	}
	var targets []string
	for _, e := range g.edges[Start] {
		targets = append(targets, e.To)
	}
	return targets, nil
}
