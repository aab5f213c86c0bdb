//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package graph

import "sync/atomic"

// InterruptSignal requests a cooperative pause of a run. The executor
// checks it only at superstep boundaries: in-flight node executions run to
// completion and the superstep commits before the pause takes effect, so a
// checkpoint always represents a fully committed superstep.
type InterruptSignal struct {
	fired atomic.Bool
}

// NewInterruptSignal creates an unfired signal.
func NewInterruptSignal() *InterruptSignal {
	return &InterruptSignal{}
}

// Trigger requests the pause. Safe to call from any goroutine, repeatedly.
func (s *InterruptSignal) Trigger() {
	s.fired.Store(true)
}

// Fired reports whether the pause has been requested.
func (s *InterruptSignal) Fired() bool {
	return s.fired.Load()
}

// Reset clears the signal so the run can be resumed with the same handle.
func (s *InterruptSignal) Reset() {
	s.fired.Store(false)
}
