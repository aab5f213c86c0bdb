//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	StatusRunning     RunStatus = "running"
	StatusInterrupted RunStatus = "interrupted"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepEvent describes one committed superstep. Events are produced in
// strictly increasing step order, one per superstep.
type StepEvent struct {
	// ID is a unique event identifier.
	ID string `json:"id"`
	// RunID identifies the run this event belongs to.
	RunID string `json:"run_id"`
	// Step is the superstep number, starting at 1. The state version equals
	// this number.
	Step int `json:"step"`
	// Status is the run status after this superstep committed.
	Status RunStatus `json:"status"`
	// ActiveNodes are the nodes that executed in this superstep.
	ActiveNodes []string `json:"active_nodes"`
	// NodeOutputs holds each finished node's raw partial update, keyed by
	// node ID. Commands contribute their Update.
	NodeOutputs map[string]State `json:"node_outputs"`
	// NodeErrors holds errors from nodes running under the isolate policy.
	NodeErrors map[string]string `json:"node_errors,omitempty"`
	// StateDelta holds the merged values of every field written this step.
	StateDelta State `json:"state_delta"`
	// Frontier is the active set scheduled for the next superstep.
	Frontier []string `json:"frontier,omitempty"`
	// Timestamp is when the superstep committed.
	Timestamp time.Time `json:"ts"`
}

// newStepEvent stamps identity and time onto a step event.
func newStepEvent(runID string, step int, status RunStatus) *StepEvent {
	return &StepEvent{
		ID:          uuid.New().String(),
		RunID:       runID,
		Step:        step,
		Status:      status,
		NodeOutputs: make(map[string]State),
		Timestamp:   time.Now().UTC(),
	}
}

// Emitter receives step events from the executor. Emit must not block:
// events are fire-and-forget, and a slow or vanished consumer never stalls
// or fails the run.
type Emitter interface {
	Emit(event *StepEvent)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event *StepEvent)

// Emit calls f(event).
func (f EmitterFunc) Emit(event *StepEvent) { f(event) }

// ChannelEmitter forwards events to a buffered channel, dropping events
// when the buffer is full so the producer never blocks.
type ChannelEmitter struct {
	ch chan *StepEvent
}

// NewChannelEmitter creates a channel emitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelEmitter{ch: make(chan *StepEvent, buffer)}
}

// Events returns the receive side of the emitter.
func (c *ChannelEmitter) Events() <-chan *StepEvent { return c.ch }

// Emit forwards the event without blocking.
func (c *ChannelEmitter) Emit(event *StepEvent) {
	select {
	case c.ch <- event:
	default:
	}
}

// Close closes the underlying channel. Callers must ensure no further Emit
// calls follow.
func (c *ChannelEmitter) Close() { close(c.ch) }
