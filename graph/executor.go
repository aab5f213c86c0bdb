//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ryansann/agentgraph/log"
	"github.com/ryansann/agentgraph/telemetry/metric"
	"github.com/ryansann/agentgraph/telemetry/trace"
)

// Default executor configuration.
const (
	// DefaultMaxSteps bounds the number of supersteps; cycles are legal, so
	// a limit is required to keep loops finite.
	DefaultMaxSteps = 100
	// DefaultMaxConcurrency is the goroutine pool size for node dispatch.
	DefaultMaxConcurrency = 16
	// DefaultCheckpointRetries is how many times a failed checkpoint save
	// is retried before it becomes fatal to the run.
	DefaultCheckpointRetries = 3
	// defaultCheckpointRetryDelay is the pause between save retries.
	defaultCheckpointRetryDelay = 50 * time.Millisecond
)

// Executor drives a compiled graph to completion (or suspension) in
// Bulk-Synchronous-Parallel supersteps. Within a superstep every active
// node executes concurrently against its own state snapshot; the executor
// waits for all of them (the barrier), merges their updates as one batch
// through the schema's reducers, evaluates routing against the merged
// state, checkpoints, and emits one StepEvent.
//
// An Executor is safe for concurrent use; all per-run state lives on the
// stack of Run/Resume.
type Executor struct {
	graph          *Graph
	pool           *ants.Pool
	saver          CheckpointSaver
	emitter        Emitter
	maxSteps       int
	maxConcurrency int
	saveRetries    int
	saveRetryDelay time.Duration

	stepCounter otelmetric.Int64Counter
	nodeCounter otelmetric.Int64Counter
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointSaver sets the checkpoint store. Without one, runs are not
// resumable.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(e *Executor) { e.saver = saver }
}

// WithEmitter sets the step event consumer.
func WithEmitter(emitter Emitter) ExecutorOption {
	return func(e *Executor) { e.emitter = emitter }
}

// WithMaxSteps sets the recursion limit: the run fails with
// ErrRecursionLimitExceeded when the superstep counter would exceed it.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(e *Executor) { e.maxSteps = maxSteps }
}

// WithMaxConcurrency sets the node dispatch pool size.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithCheckpointRetries sets how many times a failed save is retried.
func WithCheckpointRetries(n int) ExecutorOption {
	return func(e *Executor) { e.saveRetries = n }
}

// NewExecutor creates an executor for a compiled graph.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, errors.New("graph is nil")
	}
	e := &Executor{
		graph:          graph,
		maxSteps:       DefaultMaxSteps,
		maxConcurrency: DefaultMaxConcurrency,
		saveRetries:    DefaultCheckpointRetries,
		saveRetryDelay: defaultCheckpointRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	pool, err := ants.NewPool(e.maxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch pool: %w", err)
	}
	e.pool = pool
	e.stepCounter, err = metric.Meter.Int64Counter("agentgraph.supersteps",
		otelmetric.WithDescription("Committed supersteps"))
	if err != nil {
		return nil, fmt.Errorf("failed to create superstep counter: %w", err)
	}
	e.nodeCounter, err = metric.Meter.Int64Counter("agentgraph.node.attempts",
		otelmetric.WithDescription("Node execution attempts"))
	if err != nil {
		return nil, fmt.Errorf("failed to create node attempt counter: %w", err)
	}
	return e, nil
}

// Close releases the dispatch pool.
func (e *Executor) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// RunResult is the outcome of a run that ended without a fatal error.
type RunResult struct {
	RunID  string
	Status RunStatus
	State  State
	Steps  int
}

// runConfig carries per-run options.
type runConfig struct {
	interrupt  *InterruptSignal
	resumeStep int
}

// RunOption configures a single run.
type RunOption func(*runConfig)

// WithInterrupt attaches a cooperative pause signal to the run. The signal
// is honored only at superstep boundaries.
func WithInterrupt(signal *InterruptSignal) RunOption {
	return func(c *runConfig) { c.interrupt = signal }
}

// WithResumeStep resumes from a specific checkpointed step instead of the
// latest one.
func WithResumeStep(step int) RunOption {
	return func(c *runConfig) { c.resumeStep = step }
}

// Run executes the graph from its entry point over the given initial
// state. It returns when the run completes, is interrupted, or fails.
func (e *Executor) Run(ctx context.Context, runID string, initial State, opts ...RunOption) (*RunResult, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	state := e.graph.Schema().ApplyDefaults(initial)
	if err := e.graph.Schema().Validate(state); err != nil {
		return nil, fmt.Errorf("invalid initial state: %w", err)
	}
	frontier, err := e.graph.entryTargets(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("entry routing failed: %w", err)
	}
	frontier = activeSet(frontier)
	parentID := ""
	if e.saver != nil {
		cp := NewCheckpoint(runID, 0, CheckpointSourceInput, StatusRunning, state, frontier)
		if err := e.saveCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
		parentID = cp.ID
	}
	return e.execute(ctx, runID, state, frontier, 0, parentID, &cfg)
}

// Resume restarts a run from its most recent checkpoint (or the step named
// by WithResumeStep). Prior supersteps are never re-executed.
func (e *Executor) Resume(ctx context.Context, runID string, opts ...RunOption) (*RunResult, error) {
	if e.saver == nil {
		return nil, errors.New("resume requires a checkpoint saver")
	}
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	var cp *Checkpoint
	var err error
	if cfg.resumeStep > 0 {
		cp, err = e.saver.Get(ctx, runID, cfg.resumeStep)
	} else {
		cp, err = e.saver.Latest(ctx, runID)
	}
	if err != nil {
		return nil, err
	}
	if cp.Status == StatusCompleted {
		return &RunResult{RunID: runID, Status: StatusCompleted, State: cp.State.Clone(), Steps: cp.Step}, nil
	}
	if cfg.interrupt != nil {
		cfg.interrupt.Reset()
	}
	return e.execute(ctx, runID, cp.State.Clone(), cp.Frontier, cp.Step, cp.ID, &cfg)
}

// execute is the superstep loop. state and frontier describe the position
// to continue from; step is the last committed superstep number.
func (e *Executor) execute(
	ctx context.Context,
	runID string,
	state State,
	frontier []string,
	step int,
	parentID string,
	cfg *runConfig,
) (*RunResult, error) {
	ctx, span := trace.Tracer.Start(ctx, "execute_graph")
	defer span.End()
	span.SetAttributes(attribute.String("agentgraph.run_id", runID))

	frontier = activeSet(frontier)
	for {
		if len(frontier) == 0 {
			return &RunResult{RunID: runID, Status: StatusCompleted, State: state, Steps: step}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cfg.interrupt != nil && cfg.interrupt.Fired() {
			if e.saver != nil {
				cp := NewCheckpoint(runID, step, CheckpointSourceInterrupt, StatusInterrupted, state, frontier)
				cp.ParentID = parentID
				if err := e.saveCheckpoint(ctx, cp); err != nil {
					return nil, err
				}
			}
			return &RunResult{RunID: runID, Status: StatusInterrupted, State: state, Steps: step}, nil
		}
		step++
		if step > e.maxSteps {
			return nil, fmt.Errorf("%w: limit %d", ErrRecursionLimitExceeded, e.maxSteps)
		}

		outcomes, err := e.dispatch(ctx, frontier, state)
		if err != nil {
			return nil, err
		}

		event := newStepEvent(runID, step, StatusRunning)
		event.ActiveNodes = frontier

		// Fatal node errors abort before anything is merged or checkpointed.
		var updates []NodeUpdate
		var finished []nodeOutcome
		for _, oc := range outcomes {
			e.nodeCounter.Add(ctx, int64(oc.attempts),
				otelmetric.WithAttributes(attribute.String("agentgraph.node_id", oc.nodeID)))
			if oc.err != nil {
				node, _ := e.graph.Node(oc.nodeID)
				if node != nil && node.OnError == ErrorPolicyIsolate {
					log.Warnf("run %s step %d: node %s isolated after error: %v", runID, step, oc.nodeID, oc.err)
					if event.NodeErrors == nil {
						event.NodeErrors = make(map[string]string)
					}
					event.NodeErrors[oc.nodeID] = oc.err.Error()
					continue
				}
				return nil, oc.err
			}
			finished = append(finished, oc)
			if len(oc.update) > 0 {
				updates = append(updates, NodeUpdate{NodeID: oc.nodeID, Update: oc.update})
				event.NodeOutputs[oc.nodeID] = oc.update
			}
		}

		var delta State
		state, delta = e.graph.Schema().ApplyUpdates(state, updates)
		event.StateDelta = delta

		next, err := e.routeAll(ctx, finished, state)
		if err != nil {
			return nil, err
		}
		frontier = next
		done := len(frontier) == 0
		status := StatusRunning
		if done {
			status = StatusCompleted
		}
		event.Status = status
		event.Frontier = frontier

		if e.saver != nil {
			cp := NewCheckpoint(runID, step, CheckpointSourceLoop, status, state, frontier)
			cp.ParentID = parentID
			if err := e.saveCheckpoint(ctx, cp); err != nil {
				return nil, err
			}
			parentID = cp.ID
		}
		e.stepCounter.Add(ctx, 1)
		e.emit(event)

		if done {
			return &RunResult{RunID: runID, Status: StatusCompleted, State: state, Steps: step}, nil
		}
	}
}

// dispatch runs every frontier node concurrently on the pool and waits for
// all of them. Each node gets its own snapshot of the pre-superstep state,
// so no node ever observes another's output from the same superstep.
func (e *Executor) dispatch(ctx context.Context, frontier []string, state State) ([]nodeOutcome, error) {
	nodes := make([]*Node, 0, len(frontier))
	for _, id := range frontier {
		node, ok := e.graph.Node(id)
		if !ok {
			return nil, fmt.Errorf("active node %s not found in plan", id)
		}
		nodes = append(nodes, node)
	}

	outcomes := make([]nodeOutcome, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		i, node := i, node
		snapshot := state.Clone()
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = invokeNode(ctx, node, snapshot)
		}
		if err := e.pool.Submit(task); err != nil {
			// Pool exhausted or released; run the task inline rather than
			// losing the superstep.
			task()
		}
	}
	wg.Wait()
	return outcomes, nil
}

// routeAll computes the next active set from every finished node's
// outgoing edges, evaluated against the merged post-superstep state.
func (e *Executor) routeAll(ctx context.Context, finished []nodeOutcome, state State) ([]string, error) {
	sort.Slice(finished, func(i, j int) bool { return finished[i].nodeID < finished[j].nodeID })
	var next []string
	for _, oc := range finished {
		targets, err := e.route(ctx, oc, state)
		if err != nil {
			return nil, err
		}
		next = append(next, targets...)
	}
	return activeSet(next), nil
}

// route resolves one node's routing: an explicit Command overrides edges;
// otherwise the conditional edge decides; otherwise all unconditional
// edges are taken.
func (e *Executor) route(ctx context.Context, oc nodeOutcome, state State) ([]string, error) {
	if oc.command != nil && oc.command.GoTo != "" {
		to := oc.command.GoTo
		if to != End {
			if _, ok := e.graph.Node(to); !ok {
				return nil, fmt.Errorf("node %s routed to unknown node %s", oc.nodeID, to)
			}
		}
		return []string{to}, nil
	}
	if cond, ok := e.graph.ConditionalEdge(oc.nodeID); ok {
		targets, err := cond.Route(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("conditional edge from %s failed: %w", oc.nodeID, err)
		}
		for _, t := range targets {
			if !contains(cond.Targets, t) {
				return nil, fmt.Errorf("conditional edge from %s returned undeclared target %s", oc.nodeID, t)
			}
		}
		return targets, nil
	}
	var targets []string
	for _, edge := range e.graph.Edges(oc.nodeID) {
		targets = append(targets, edge.To)
	}
	return targets, nil
}

// saveCheckpoint persists a snapshot with bounded retries. At-least-once
// durability per call is required of the saver; exhausting retries is
// fatal to the run and never silently dropped.
func (e *Executor) saveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	var lastErr error
	attempts := e.saveRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = e.saver.Put(ctx, cp); lastErr == nil {
			return nil
		}
		log.Warnf("run %s step %d: checkpoint save attempt %d failed: %v", cp.RunID, cp.Step, attempt, lastErr)
		if attempt < attempts && !sleepBackoff(ctx, e.saveRetryDelay) {
			break
		}
	}
	return &StorageError{RunID: cp.RunID, Step: cp.Step, Err: lastErr}
}

// emit pushes the event to the configured emitter. Emitters must not
// block; loss of a downstream consumer never affects the run.
func (e *Executor) emit(event *StepEvent) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

// activeSet dedupes targets in first-seen order and drops End, which is a
// marker rather than an executable node.
func activeSet(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	var out []string
	for _, t := range targets {
		if t == End || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
