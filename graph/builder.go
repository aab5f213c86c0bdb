//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"time"
)

// StateGraph is the fluent builder for graphs. Declare nodes, edges, and
// conditional routing, then Compile into an immutable Graph.
//
// Example:
//
//	schema := NewStateSchema().AddField("count", StateField{Reducer: SumReducer})
//	g, err := NewStateGraph(schema).
//	    AddNode("work", workFn).
//	    SetEntryPoint("work").
//	    SetFinishPoint("work").
//	    Compile()
//
// Builder methods record structural problems instead of returning them;
// Compile reports the first one found. Nothing executes before Compile
// succeeds.
type StateGraph struct {
	schema           *StateSchema
	nodes            map[string]*Node
	order            []string
	edges            []*Edge
	conditionalEdges []*ConditionalEdge
	errs             []*CompileError
}

// NewStateGraph creates a builder with the given state schema. A nil schema
// is replaced with an empty one.
func NewStateGraph(schema *StateSchema) *StateGraph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &StateGraph{
		schema: schema,
		nodes:  make(map[string]*Node),
	}
}

// NodeOption configures a node at declaration time.
type NodeOption func(*Node)

// WithName sets the display name of the node.
func WithName(name string) NodeOption {
	return func(n *Node) { n.Name = name }
}

// WithDescription sets the description of the node.
func WithDescription(description string) NodeOption {
	return func(n *Node) { n.Description = description }
}

// WithTimeout bounds each execution attempt of the node.
func WithTimeout(timeout time.Duration) NodeOption {
	return func(n *Node) { n.Timeout = timeout }
}

// WithRetryPolicy sets the node's retry policy.
func WithRetryPolicy(policy RetryPolicy) NodeOption {
	return func(n *Node) { n.Retry = policy }
}

// WithErrorPolicy selects fatal or isolate handling for node errors.
func WithErrorPolicy(policy ErrorPolicy) NodeOption {
	return func(n *Node) { n.OnError = policy }
}

// AddNode declares a function node.
func (sg *StateGraph) AddNode(id string, fn NodeFunc, opts ...NodeOption) *StateGraph {
	node := &Node{
		ID:       id,
		Name:     id,
		Type:     NodeTypeFunction,
		Function: fn,
		OnError:  ErrorPolicyFatal,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.addNode(node)
	return sg
}

// AddToolNode declares a node backed by a ToolCaller. The tool reads its
// arguments from argsKey and its result is written under outputKey.
func (sg *StateGraph) AddToolNode(id string, tool ToolCaller, argsKey, outputKey string, opts ...NodeOption) *StateGraph {
	node := &Node{
		ID:       id,
		Name:     id,
		Type:     NodeTypeTool,
		Function: NewToolNodeFunc(tool, argsKey, outputKey),
		OnError:  ErrorPolicyFatal,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.addNode(node)
	return sg
}

// AddModelNode declares a node backed by a ModelCaller reading inputKey.
func (sg *StateGraph) AddModelNode(id string, model ModelCaller, inputKey string, opts ...NodeOption) *StateGraph {
	node := &Node{
		ID:       id,
		Name:     id,
		Type:     NodeTypeModel,
		Function: NewModelNodeFunc(model, inputKey),
		OnError:  ErrorPolicyFatal,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.addNode(node)
	return sg
}

func (sg *StateGraph) addNode(node *Node) {
	if _, exists := sg.nodes[node.ID]; exists {
		sg.errs = append(sg.errs, &CompileError{Err: ErrDuplicateNodeName, Node: node.ID})
		return
	}
	sg.nodes[node.ID] = node
	sg.order = append(sg.order, node.ID)
}

// AddEdge declares an unconditional edge. A node may have several outgoing
// edges; all of them activate in the next superstep (static fan-out).
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	sg.edges = append(sg.edges, &Edge{From: from, To: to})
	return sg
}

// AddConditionalEdges declares conditional routing from a node. targets is
// the complete set of destinations route may return; it is validated
// structurally at compile time, without executing route.
func (sg *StateGraph) AddConditionalEdges(from string, route RoutingFunc, targets []string) *StateGraph {
	sg.conditionalEdges = append(sg.conditionalEdges, &ConditionalEdge{
		From:    from,
		Route:   route,
		Targets: targets,
	})
	return sg
}

// SetEntryPoint marks a node as the run's starting point. Equivalent to
// AddEdge(Start, nodeID); calling it more than once fans the first
// superstep out to every entry node.
func (sg *StateGraph) SetEntryPoint(nodeID string) *StateGraph {
	return sg.AddEdge(Start, nodeID)
}

// SetFinishPoint marks a node as terminal. Equivalent to AddEdge(nodeID, End).
func (sg *StateGraph) SetFinishPoint(nodeID string) *StateGraph {
	return sg.AddEdge(nodeID, End)
}

// Compile validates the declaration and returns the immutable execution
// plan. Changing structure afterwards requires building and compiling a new
// graph.
func (sg *StateGraph) Compile() (*Graph, error) {
	if len(sg.errs) > 0 {
		return nil, sg.errs[0]
	}
	g := &Graph{
		schema:           sg.schema,
		nodes:            make(map[string]*Node, len(sg.nodes)),
		edges:            make(map[string][]*Edge),
		conditionalEdges: make(map[string]*ConditionalEdge),
		incoming:         make(map[string][]string),
	}
	for id, node := range sg.nodes {
		g.nodes[id] = node
	}
	if err := sg.linkEdges(g); err != nil {
		return nil, err
	}
	if len(g.edges[Start]) == 0 {
		if _, ok := g.conditionalEdges[Start]; !ok {
			return nil, &CompileError{Err: ErrNoEntryPoint}
		}
	}
	if err := checkReachability(g, sg.order); err != nil {
		return nil, err
	}
	g.cyclic = detectCycle(g)
	return g, nil
}

// MustCompile compiles the graph or panics. Intended for graphs declared
// with static structure at program start.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

// linkEdges moves declared edges into the plan's adjacency and reverse
// index, rejecting references to undeclared nodes.
func (sg *StateGraph) linkEdges(g *Graph) error {
	declared := func(id string) bool {
		_, ok := g.nodes[id]
		return ok
	}
	for _, e := range sg.edges {
		if e.From != Start && !declared(e.From) {
			return &CompileError{Err: ErrUnknownNodeReference, Edge: e.From + " -> " + e.To}
		}
		if e.To != End && !declared(e.To) {
			return &CompileError{Err: ErrUnknownNodeReference, Edge: e.From + " -> " + e.To}
		}
		g.edges[e.From] = append(g.edges[e.From], e)
		g.incoming[e.To] = append(g.incoming[e.To], e.From)
	}
	for _, ce := range sg.conditionalEdges {
		if ce.From != Start && !declared(ce.From) {
			return &CompileError{Err: ErrUnknownNodeReference, Node: ce.From}
		}
		for _, to := range ce.Targets {
			if to != End && !declared(to) {
				return &CompileError{Err: ErrUnknownNodeReference, Edge: ce.From + " -> " + to}
			}
			g.incoming[to] = append(g.incoming[to], ce.From)
		}
		g.conditionalEdges[ce.From] = ce
	}
	return nil
}

// successors returns every possible destination of a node: unconditional
// edge targets plus the declared targets of its conditional edge.
func successors(g *Graph, id string) []string {
	var out []string
	for _, e := range g.edges[id] {
		out = append(out, e.To)
	}
	if ce, ok := g.conditionalEdges[id]; ok {
		out = append(out, ce.Targets...)
	}
	return out
}

// checkReachability walks the plan from Start and rejects graphs with
// unreachable nodes or without a path to End.
func checkReachability(g *Graph, order []string) error {
	visited := map[string]bool{Start: true}
	queue := []string{Start}
	endReached := false
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range successors(g, current) {
			if next == End {
				endReached = true
				continue
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	// Report unreachable nodes in declaration order for stable messages.
	for _, id := range order {
		if !visited[id] {
			return &CompileError{Err: ErrUnreachableNode, Node: id}
		}
	}
	if !endReached {
		return &CompileError{Err: ErrNoPathToEnd}
	}
	return nil
}

// detectCycle reports whether the plan contains a cycle. Cycles are legal;
// the flag only informs the executor's recursion-limit bookkeeping.
func detectCycle(g *Graph) bool {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	states := make(map[string]int)
	var visit func(id string) bool
	visit = func(id string) bool {
		states[id] = inStack
		for _, next := range successors(g, id) {
			if next == End {
				continue
			}
			switch states[next] {
			case inStack:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		states[id] = done
		return false
	}
	for id := range g.nodes {
		if states[id] == unvisited && visit(id) {
			return true
		}
	}
	return false
}
