//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ryansann/agentgraph/telemetry/trace"
)

// nodeOutcome is the collected result of one node execution within a
// superstep.
type nodeOutcome struct {
	nodeID   string
	update   State
	command  *Command
	attempts int
	err      error
}

// invokeNode runs a single node against its state snapshot, applying the
// node's timeout and retry policy. It never touches shared state; the
// scheduler merges the returned update after the superstep barrier.
func invokeNode(ctx context.Context, node *Node, snapshot State) nodeOutcome {
	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("execute_node %s", node.ID))
	defer span.End()
	span.SetAttributes(
		attribute.String("agentgraph.node_id", node.ID),
		attribute.String("agentgraph.node_type", string(node.Type)),
	)

	outcome := nodeOutcome{nodeID: node.ID}
	var lastErr error
	maxAttempts := node.Retry.attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.attempts = attempt
		result, err := runAttempt(ctx, node, snapshot)
		if err == nil {
			update, command, perr := parseNodeResult(result)
			if perr != nil {
				outcome.err = &NodeError{NodeID: node.ID, Attempts: attempt, Err: perr}
				span.SetAttributes(attribute.String("agentgraph.error", perr.Error()))
				return outcome
			}
			outcome.update = update
			outcome.command = command
			return outcome
		}
		lastErr = err
		span.SetAttributes(
			attribute.Int("agentgraph.attempt", attempt),
			attribute.String("agentgraph.error", err.Error()),
		)
		if attempt == maxAttempts {
			break
		}
		if !sleepBackoff(ctx, node.Retry.NextDelay(attempt)) {
			lastErr = ctx.Err()
			break
		}
	}
	outcome.err = &NodeError{
		NodeID:   node.ID,
		Attempts: outcome.attempts,
		Err:      fmt.Errorf("%w: %w", ErrNodeExecutionFailed, lastErr),
	}
	return outcome
}

// runAttempt executes one attempt under the node's timeout. The timeout is
// enforced here rather than trusted to the node function, so a function
// that ignores its context still yields ErrNodeTimeout on schedule.
func runAttempt(ctx context.Context, node *Node, snapshot State) (any, error) {
	if node.Function == nil {
		return nil, fmt.Errorf("node %s has no function", node.ID)
	}
	attemptCtx := ctx
	var cancel context.CancelFunc
	if node.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	type attemptResult struct {
		value any
		err   error
	}
	resultCh := make(chan attemptResult, 1)
	go func() {
		value, err := node.Function(attemptCtx, snapshot)
		resultCh <- attemptResult{value: value, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil && attemptCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %v", ErrNodeTimeout, node.ID, node.Timeout)
		}
		return r.value, r.err
	case <-attemptCtx.Done():
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %v", ErrNodeTimeout, node.ID, node.Timeout)
		}
		return nil, attemptCtx.Err()
	}
}

// parseNodeResult normalizes the node return value. Nil means no update.
func parseNodeResult(result any) (State, *Command, error) {
	switch r := result.(type) {
	case nil:
		return nil, nil, nil
	case State:
		return r, nil, nil
	case *Command:
		return r.Update, r, nil
	case Command:
		return r.Update, &r, nil
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrInvalidNodeResult, result)
	}
}

// sleepBackoff waits the given delay, returning false if the context ends
// first.
func sleepBackoff(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
