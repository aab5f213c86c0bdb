//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

// Package runner provides the run control surface over the graph executor:
// starting, resuming, interrupting, and observing runs. A Manager holds the
// registry of in-flight runs; entries live until completion plus explicit
// cleanup, so finished runs stay inspectable.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ryansann/agentgraph/graph"
	"github.com/ryansann/agentgraph/log"
)

// Runner errors.
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunAlreadyExists = errors.New("run already exists")
	ErrRunStillActive   = errors.New("run is still active")
)

// Manager owns a compiled graph and the runs executing it. It is created
// explicitly (never a process-wide singleton) and is safe for concurrent
// use.
type Manager struct {
	executor   *graph.Executor
	saver      graph.CheckpointSaver
	bufferSize int

	mu   sync.RWMutex
	runs map[string]*Run
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	saver        graph.CheckpointSaver
	bufferSize   int
	executorOpts []graph.ExecutorOption
}

// WithCheckpointSaver sets the checkpoint store shared by all runs.
// Required for Resume.
func WithCheckpointSaver(saver graph.CheckpointSaver) Option {
	return func(o *managerOptions) { o.saver = saver }
}

// WithEventBufferSize sets the per-subscriber event buffer (default 256).
func WithEventBufferSize(size int) Option {
	return func(o *managerOptions) { o.bufferSize = size }
}

// WithExecutorOptions forwards options to the underlying executor, e.g.
// graph.WithMaxSteps.
func WithExecutorOptions(opts ...graph.ExecutorOption) Option {
	return func(o *managerOptions) { o.executorOpts = append(o.executorOpts, opts...) }
}

// NewManager creates a run manager for a compiled graph.
func NewManager(g *graph.Graph, opts ...Option) (*Manager, error) {
	options := managerOptions{bufferSize: 256}
	for _, opt := range opts {
		opt(&options)
	}
	m := &Manager{
		saver:      options.saver,
		bufferSize: options.bufferSize,
		runs:       make(map[string]*Run),
	}
	execOpts := append([]graph.ExecutorOption{
		graph.WithEmitter(graph.EmitterFunc(m.dispatch)),
	}, options.executorOpts...)
	if options.saver != nil {
		execOpts = append(execOpts, graph.WithCheckpointSaver(options.saver))
	}
	executor, err := graph.NewExecutor(g, execOpts...)
	if err != nil {
		return nil, err
	}
	m.executor = executor
	return m, nil
}

// Close interrupts all active runs and releases the executor. Close does
// not wait for runs to reach their boundary; call Wait first if needed.
func (m *Manager) Close() {
	m.mu.RLock()
	for _, run := range m.runs {
		run.signal.Trigger()
	}
	m.mu.RUnlock()
	m.executor.Close()
}

// dispatch routes executor events to the owning run's feed.
func (m *Manager) dispatch(event *graph.StepEvent) {
	m.mu.RLock()
	run, ok := m.runs[event.RunID]
	m.mu.RUnlock()
	if ok {
		run.hub.emit(event)
	}
}

// StartOption configures an individual run.
type StartOption func(*startOptions)

type startOptions struct {
	runID string
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) StartOption {
	return func(o *startOptions) { o.runID = id }
}

// Start launches a new run over the given initial state and returns its
// handle immediately; execution proceeds in the background.
func (m *Manager) Start(ctx context.Context, initial graph.State, opts ...StartOption) (*Run, error) {
	var options startOptions
	for _, opt := range opts {
		opt(&options)
	}
	runID := options.runID
	if runID == "" {
		runID = "run-" + uuid.New().String()
	}
	run, err := m.register(runID)
	if err != nil {
		return nil, err
	}
	go func() {
		result, err := m.executor.Run(ctx, runID, initial, graph.WithInterrupt(run.signal))
		run.finish(result, err)
	}()
	return run, nil
}

// Resume restarts an interrupted or failed run from its most recent
// checkpoint. The previous handle, if any, must no longer be active.
func (m *Manager) Resume(ctx context.Context, runID string) (*Run, error) {
	if m.saver == nil {
		return nil, errors.New("resume requires a checkpoint saver")
	}
	m.mu.Lock()
	if existing, ok := m.runs[runID]; ok {
		if !existing.Status().Terminal() && existing.Status() != graph.StatusInterrupted {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrRunStillActive, runID)
		}
		delete(m.runs, runID)
	}
	m.mu.Unlock()

	run, err := m.register(runID)
	if err != nil {
		return nil, err
	}
	go func() {
		result, err := m.executor.Resume(ctx, runID, graph.WithInterrupt(run.signal))
		run.finish(result, err)
	}()
	return run, nil
}

func (m *Manager) register(runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRunAlreadyExists, runID)
	}
	run := newRun(runID, m.bufferSize)
	m.runs[runID] = run
	return run, nil
}

// Get returns the handle for a run.
func (m *Manager) Get(runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// Interrupt asks a run to pause before its next superstep. The in-flight
// superstep finishes and checkpoints first.
func (m *Manager) Interrupt(runID string) error {
	run, err := m.Get(runID)
	if err != nil {
		return err
	}
	run.signal.Trigger()
	return nil
}

// Status reports the current status of a run.
func (m *Manager) Status(runID string) (graph.RunStatus, error) {
	run, err := m.Get(runID)
	if err != nil {
		return "", err
	}
	return run.Status(), nil
}

// Subscribe returns a feed of the run's StepEvents: history so far is
// replayed first, then live events stream until cancel is called or the
// run ends. A slow consumer loses events rather than stalling the run.
func (m *Manager) Subscribe(runID string) (<-chan *graph.StepEvent, func(), error) {
	run, err := m.Get(runID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := run.hub.subscribe()
	return ch, cancel, nil
}

// Wait blocks until the run reaches a boundary (completed, interrupted, or
// failed) or the context ends.
func (m *Manager) Wait(ctx context.Context, runID string) (*graph.RunResult, error) {
	run, err := m.Get(runID)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// Remove deletes a finished run from the registry. Active runs must be
// interrupted and waited on first.
func (m *Manager) Remove(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status() == graph.StatusRunning {
		return fmt.Errorf("%w: %s", ErrRunStillActive, runID)
	}
	run.hub.close()
	delete(m.runs, runID)
	return nil
}

// Run is the handle for one execution instance.
type Run struct {
	id     string
	signal *graph.InterruptSignal
	hub    *eventHub

	mu     sync.RWMutex
	status graph.RunStatus
	result *graph.RunResult
	err    error
	done   chan struct{}
}

func newRun(id string, bufferSize int) *Run {
	return &Run{
		id:     id,
		signal: graph.NewInterruptSignal(),
		hub:    newEventHub(bufferSize),
		status: graph.StatusRunning,
		done:   make(chan struct{}),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Status returns the run's current status.
func (r *Run) Status() graph.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Result returns the final result once the run has ended.
func (r *Run) Result() (*graph.RunResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.err
}

// Wait blocks until the run ends or the context does.
func (r *Run) Wait(ctx context.Context) (*graph.RunResult, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Run) finish(result *graph.RunResult, err error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	switch {
	case err != nil:
		r.status = graph.StatusFailed
		log.Errorf("run %s failed: %v", r.id, err)
	case result != nil:
		r.status = result.Status
	default:
		r.status = graph.StatusFailed
	}
	r.mu.Unlock()
	close(r.done)
}

// eventHub fans StepEvents out to subscribers and retains history for
// replay after completion.
type eventHub struct {
	mu         sync.Mutex
	history    []*graph.StepEvent
	subs       map[int]chan *graph.StepEvent
	nextSubID  int
	bufferSize int
	closed     bool
}

func newEventHub(bufferSize int) *eventHub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &eventHub{
		subs:       make(map[int]chan *graph.StepEvent),
		bufferSize: bufferSize,
	}
}

func (h *eventHub) emit(event *graph.StepEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.history = append(h.history, event)
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *eventHub) subscribe() (<-chan *graph.StepEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Size the channel to hold the replayed history plus the live buffer.
	ch := make(chan *graph.StepEvent, len(h.history)+h.bufferSize)
	for _, event := range h.history {
		ch <- event
	}
	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
