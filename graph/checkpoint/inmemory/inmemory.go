//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory checkpoint store. It is suitable
// for tests and single-process use; it provides no durability across
// process restarts.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/ryansann/agentgraph/graph"
)

// DefaultMaxCheckpointsPerRun bounds retained history per run; the oldest
// snapshots are evicted first.
const DefaultMaxCheckpointsPerRun = 100

// Saver is an in-memory implementation of graph.CheckpointSaver.
type Saver struct {
	mu        sync.RWMutex
	storage   map[string]map[int]*graph.Checkpoint // runID -> step -> checkpoint
	maxPerRun int
}

var _ graph.CheckpointSaver = (*Saver)(nil)

// NewSaver creates an empty in-memory saver.
func NewSaver() *Saver {
	return &Saver{
		storage:   make(map[string]map[int]*graph.Checkpoint),
		maxPerRun: DefaultMaxCheckpointsPerRun,
	}
}

// WithMaxCheckpointsPerRun sets the retained history bound.
func (s *Saver) WithMaxCheckpointsPerRun(max int) *Saver {
	if max > 0 {
		s.maxPerRun = max
	}
	return s
}

// Put stores a checkpoint, overwriting any earlier snapshot of the same
// (run, step).
func (s *Saver) Put(ctx context.Context, checkpoint *graph.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.storage[checkpoint.RunID]
	if !ok {
		steps = make(map[int]*graph.Checkpoint)
		s.storage[checkpoint.RunID] = steps
	}
	steps[checkpoint.Step] = checkpoint
	s.evictLocked(checkpoint.RunID)
	return nil
}

// evictLocked drops the oldest checkpoints beyond the per-run bound.
func (s *Saver) evictLocked(runID string) {
	steps := s.storage[runID]
	if len(steps) <= s.maxPerRun {
		return
	}
	ordered := make([]int, 0, len(steps))
	for step := range steps {
		ordered = append(ordered, step)
	}
	sort.Ints(ordered)
	for _, step := range ordered[:len(steps)-s.maxPerRun] {
		delete(steps, step)
	}
}

// Get retrieves the checkpoint at a specific step.
func (s *Saver) Get(ctx context.Context, runID string, step int) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cp, ok := s.storage[runID][step]; ok {
		return cp, nil
	}
	return nil, graph.ErrCheckpointNotFound
}

// Latest retrieves the most recent checkpoint for a run.
func (s *Saver) Latest(ctx context.Context, runID string) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.storage[runID]
	if len(steps) == 0 {
		return nil, graph.ErrCheckpointNotFound
	}
	latest := -1
	for step := range steps {
		if step > latest {
			latest = step
		}
	}
	return steps[latest], nil
}

// List returns all checkpoints for a run in ascending step order.
func (s *Saver) List(ctx context.Context, runID string) ([]*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.storage[runID]
	ordered := make([]int, 0, len(steps))
	for step := range steps {
		ordered = append(ordered, step)
	}
	sort.Ints(ordered)
	result := make([]*graph.Checkpoint, 0, len(ordered))
	for _, step := range ordered {
		result = append(result, steps[step])
	}
	return result, nil
}

// DeleteRun removes all checkpoints for a run.
func (s *Saver) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, runID)
	return nil
}

// Close is a no-op for the in-memory saver.
func (s *Saver) Close() error { return nil }
