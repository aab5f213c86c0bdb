//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CheckpointVersion is the current checkpoint format version.
const CheckpointVersion = 1

// Checkpoint sources.
const (
	// CheckpointSourceInput marks the step-0 snapshot of the initial state.
	CheckpointSourceInput = "input"
	// CheckpointSourceLoop marks a snapshot committed by the superstep loop.
	CheckpointSourceLoop = "loop"
	// CheckpointSourceInterrupt marks a snapshot re-stamped on interrupt.
	CheckpointSourceInterrupt = "interrupt"
)

// Checkpoint is an immutable snapshot of a run after a committed superstep:
// the full state value (never a diff) plus the active set for the next
// superstep. Checkpoints are keyed by (RunID, Step). The saver only ever
// receives copies; the executor retains exclusive ownership of the live
// state.
type Checkpoint struct {
	// Version is the checkpoint format version.
	Version int `json:"v"`
	// ID is a unique identifier for this snapshot.
	ID string `json:"id"`
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Step is the superstep counter at snapshot time; it doubles as the
	// state version.
	Step int `json:"step"`
	// Source records what produced the snapshot (input, loop, interrupt).
	Source string `json:"source"`
	// Status is the run status at snapshot time.
	Status RunStatus `json:"status"`
	// State is the full state value.
	State State `json:"state"`
	// Frontier is the active set scheduled when the snapshot was taken.
	Frontier []string `json:"frontier,omitempty"`
	// ParentID is the ID of the previous checkpoint in this run.
	ParentID string `json:"parent_id,omitempty"`
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"ts"`
}

// NewCheckpoint snapshots the given run position. The state is copied so
// later supersteps cannot mutate the snapshot.
func NewCheckpoint(runID string, step int, source string, status RunStatus, state State, frontier []string) *Checkpoint {
	f := make([]string, len(frontier))
	copy(f, frontier)
	return &Checkpoint{
		Version:   CheckpointVersion,
		ID:        uuid.New().String(),
		RunID:     runID,
		Step:      step,
		Source:    source,
		Status:    status,
		State:     state.Clone(),
		Frontier:  f,
		Timestamp: time.Now().UTC(),
	}
}

// CheckpointSaver is the persistence contract the engine consumes. The
// storage medium is a backend decision; implementations must durably store
// each Put before returning, and Latest must return the exact most recent
// checkpoint for a run.
type CheckpointSaver interface {
	// Put stores a checkpoint. Storing the same (RunID, Step) twice
	// overwrites the earlier snapshot.
	Put(ctx context.Context, checkpoint *Checkpoint) error
	// Get retrieves the checkpoint at a specific step, or
	// ErrCheckpointNotFound.
	Get(ctx context.Context, runID string, step int) (*Checkpoint, error)
	// Latest retrieves the most recent checkpoint for a run, or
	// ErrCheckpointNotFound.
	Latest(ctx context.Context, runID string) (*Checkpoint, error)
	// List returns all checkpoints for a run in ascending step order.
	List(ctx context.Context, runID string) ([]*Checkpoint, error)
	// DeleteRun removes all checkpoints for a run.
	DeleteRun(ctx context.Context, runID string) error
	// Close releases resources held by the saver.
	Close() error
}
