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
)

// ToolCaller is the capability a tool-backed node wraps. Concrete tool
// implementations live outside the engine.
type ToolCaller interface {
	// Call invokes the tool with arguments drawn from state and returns the
	// tool output.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ModelCaller is the capability a model-backed node wraps. Prompt
// formatting, token accounting, and the underlying client are out of scope
// here; the engine only needs a way to exchange state for a completion.
type ModelCaller interface {
	// Generate produces a completion for the given input.
	Generate(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NewToolNodeFunc wraps a ToolCaller as a NodeFunc. The tool receives the
// value of argsKey (a map) from state and its output is written under
// outputKey.
func NewToolNodeFunc(tool ToolCaller, argsKey, outputKey string) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		args, _ := state[argsKey].(map[string]any)
		result, err := tool.Call(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("tool call failed: %w", err)
		}
		return State{outputKey: result}, nil
	}
}

// NewModelNodeFunc wraps a ModelCaller as a NodeFunc. The model receives
// the value of inputKey (a map) from state; every key of its output map is
// written into state and merged through the schema's reducers.
func NewModelNodeFunc(model ModelCaller, inputKey string) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		input, _ := state[inputKey].(map[string]any)
		output, err := model.Generate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		update := make(State, len(output))
		for k, v := range output {
			update[k] = v
		}
		return update, nil
	}
}
