//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"errors"
	"fmt"
)

// Compile-time errors. All structural problems are reported by Compile,
// never during execution.
var (
	ErrUnknownNodeReference = errors.New("edge references undeclared node")
	ErrDuplicateNodeName    = errors.New("duplicate node name")
	ErrUnreachableNode      = errors.New("node unreachable from start")
	ErrNoPathToEnd          = errors.New("no path from start to end")
	ErrNoEntryPoint         = errors.New("graph has no entry point")
)

// Runtime errors.
var (
	ErrRecursionLimitExceeded = errors.New("recursion limit exceeded")
	ErrNodeTimeout            = errors.New("node execution timed out")
	ErrNodeExecutionFailed    = errors.New("node execution failed")
	ErrCheckpointNotFound     = errors.New("checkpoint not found")
	ErrRunInterrupted         = errors.New("run interrupted")
	ErrInvalidNodeResult      = errors.New("node returned invalid result type")
)

// CompileError describes a structural problem found while compiling a graph.
// It wraps one of the compile-time sentinel errors above.
type CompileError struct {
	// Err is the underlying sentinel error.
	Err error
	// Node is the offending node ID, if any.
	Node string
	// Edge describes the offending edge as "from -> to", if any.
	Edge string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	switch {
	case e.Edge != "":
		return fmt.Sprintf("compile: %v (edge %s)", e.Err, e.Edge)
	case e.Node != "":
		return fmt.Sprintf("compile: %v (node %s)", e.Err, e.Node)
	default:
		return fmt.Sprintf("compile: %v", e.Err)
	}
}

// Unwrap returns the underlying sentinel error.
func (e *CompileError) Unwrap() error { return e.Err }

// NodeError records the failure of a single node execution, including how
// many attempts were made before giving up.
type NodeError struct {
	NodeID   string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed after %d attempt(s): %v", e.NodeID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error { return e.Err }

// StorageError wraps a checkpoint persistence failure. Storage errors are
// retried a bounded number of times by the executor and are fatal to the
// run once retries are exhausted.
type StorageError struct {
	RunID string
	Step  int
	Err   error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("checkpoint save failed for run %s step %d: %v", e.RunID, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }
