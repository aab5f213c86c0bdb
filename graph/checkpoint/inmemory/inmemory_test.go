//
// Copyright (C) 2025 agentgraph authors. All rights reserved.
//
// agentgraph is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansann/agentgraph/graph"
)

func checkpointAt(runID string, step int) *graph.Checkpoint {
	return graph.NewCheckpoint(runID, step, graph.CheckpointSourceLoop,
		graph.StatusRunning, graph.State{"step": step}, []string{"next"})
}

func TestSaverPutGet(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()

	require.NoError(t, saver.Put(ctx, checkpointAt("run-1", 0)))
	require.NoError(t, saver.Put(ctx, checkpointAt("run-1", 1)))

	cp, err := saver.Get(ctx, "run-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Step)
	assert.Equal(t, []string{"next"}, cp.Frontier)

	_, err = saver.Get(ctx, "run-1", 99)
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)
	_, err = saver.Get(ctx, "other-run", 0)
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)
}

func TestSaverPutOverwritesSameStep(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()

	first := checkpointAt("run-1", 2)
	second := checkpointAt("run-1", 2)
	require.NoError(t, saver.Put(ctx, first))
	require.NoError(t, saver.Put(ctx, second))

	cp, err := saver.Get(ctx, "run-1", 2)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cp.ID)

	all, err := saver.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaverLatest(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()

	_, err := saver.Latest(ctx, "run-1")
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)

	for step := 0; step <= 3; step++ {
		require.NoError(t, saver.Put(ctx, checkpointAt("run-1", step)))
	}
	cp, err := saver.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Step)
}

func TestSaverList(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()

	// Inserted out of order; List returns ascending steps.
	for _, step := range []int{2, 0, 1} {
		require.NoError(t, saver.Put(ctx, checkpointAt("run-1", step)))
	}
	all, err := saver.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, cp := range all {
		assert.Equal(t, i, cp.Step)
	}
}

func TestSaverDeleteRun(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()

	require.NoError(t, saver.Put(ctx, checkpointAt("run-1", 0)))
	require.NoError(t, saver.Put(ctx, checkpointAt("run-2", 0)))
	require.NoError(t, saver.DeleteRun(ctx, "run-1"))

	_, err := saver.Latest(ctx, "run-1")
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)
	_, err = saver.Latest(ctx, "run-2")
	assert.NoError(t, err)
}

func TestSaverEviction(t *testing.T) {
	saver := NewSaver().WithMaxCheckpointsPerRun(3)
	ctx := context.Background()

	for step := 0; step < 5; step++ {
		require.NoError(t, saver.Put(ctx, checkpointAt("run-1", step)))
	}
	all, err := saver.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Oldest steps evicted first.
	assert.Equal(t, 2, all[0].Step)
	assert.Equal(t, 4, all[2].Step)

	cp, err := saver.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, cp.Step)
}

func TestSaverConcurrentAccess(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			runID := fmt.Sprintf("run-%d", i%2)
			for step := 0; step < 20; step++ {
				_ = saver.Put(ctx, checkpointAt(runID, step))
				_, _ = saver.Latest(ctx, runID)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	cp, err := saver.Latest(ctx, "run-0")
	require.NoError(t, err)
	assert.Equal(t, 19, cp.Step)
}
