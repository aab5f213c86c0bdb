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
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ryansann/agentgraph/telemetry/metric"
)

// memSaver is a minimal in-process CheckpointSaver for executor tests. The
// real in-memory saver lives in graph/checkpoint/inmemory; importing it here
// would cycle.
type memSaver struct {
	mu    sync.Mutex
	puts  int
	store map[string]map[int]*Checkpoint
}

func newMemSaver() *memSaver {
	return &memSaver{store: make(map[string]map[int]*Checkpoint)}
}

func (s *memSaver) Put(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	steps, ok := s.store[cp.RunID]
	if !ok {
		steps = make(map[int]*Checkpoint)
		s.store[cp.RunID] = steps
	}
	steps[cp.Step] = cp
	return nil
}

func (s *memSaver) Get(ctx context.Context, runID string, step int) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.store[runID][step]; ok {
		return cp, nil
	}
	return nil, ErrCheckpointNotFound
}

func (s *memSaver) Latest(ctx context.Context, runID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.store[runID]
	if len(steps) == 0 {
		return nil, ErrCheckpointNotFound
	}
	latest := -1
	for step := range steps {
		if step > latest {
			latest = step
		}
	}
	return steps[latest], nil
}

func (s *memSaver) List(ctx context.Context, runID string) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]int, 0, len(s.store[runID]))
	for step := range s.store[runID] {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	out := make([]*Checkpoint, 0, len(steps))
	for _, step := range steps {
		out = append(out, s.store[runID][step])
	}
	return out, nil
}

func (s *memSaver) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, runID)
	return nil
}

func (s *memSaver) Close() error { return nil }

func (s *memSaver) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// failingSaver rejects every Put and counts the attempts.
type failingSaver struct {
	memSaver
	attempts atomic.Int32
}

func (s *failingSaver) Put(ctx context.Context, cp *Checkpoint) error {
	s.attempts.Add(1)
	return errors.New("disk full")
}

// collectEmitter records every emitted event.
type collectEmitter struct {
	mu     sync.Mutex
	events []*StepEvent
}

func (c *collectEmitter) Emit(event *StepEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *collectEmitter) all() []*StepEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*StepEvent, len(c.events))
	copy(out, c.events)
	return out
}

func sumSchema() *StateSchema {
	return NewStateSchema().
		AddField("count", StateField{Type: reflect.TypeOf(0), Reducer: SumReducer})
}

func addOne(ctx context.Context, state State) (any, error) {
	return State{"count": 1}, nil
}

func TestRunLinearSum(t *testing.T) {
	g := NewStateGraph(sumSchema()).
		AddNode("a", addOne).
		AddNode("b", addOne).
		SetEntryPoint("a").
		AddEdge("a", "b").
		SetFinishPoint("b").
		MustCompile()

	emitter := &collectEmitter{}
	exec, err := NewExecutor(g, WithEmitter(emitter))
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Run(context.Background(), "run-linear", State{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.State["count"])
	assert.Equal(t, 2, result.Steps)

	events := emitter.all()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Step)
	assert.Equal(t, []string{"a"}, events[0].ActiveNodes)
	assert.Equal(t, StatusRunning, events[0].Status)
	assert.Equal(t, 2, events[1].Step)
	assert.Equal(t, []string{"b"}, events[1].ActiveNodes)
	assert.Equal(t, StatusCompleted, events[1].Status)
	assert.Empty(t, events[1].Frontier)
	assert.Equal(t, State{"count": 1}, events[0].NodeOutputs["a"])
}

func TestRunConditionalFanOut(t *testing.T) {
	build := func() *Graph {
		return NewStateGraph(sumSchema().
			AddField("flag", StateField{Type: reflect.TypeOf(false)})).
			AddNode("router", func(ctx context.Context, s State) (any, error) {
				return nil, nil
			}).
			AddNode("b", addOne).
			AddNode("c", addOne).
			SetEntryPoint("router").
			AddConditionalEdges("router", func(ctx context.Context, s State) ([]string, error) {
				if flag, _ := s["flag"].(bool); flag {
					return []string{"b", "c"}, nil
				}
				return []string{End}, nil
			}, []string{"b", "c", End}).
			SetFinishPoint("b").
			SetFinishPoint("c").
			MustCompile()
	}

	t.Run("fan-out when flag set", func(t *testing.T) {
		emitter := &collectEmitter{}
		exec, err := NewExecutor(build(), WithEmitter(emitter))
		require.NoError(t, err)
		defer exec.Close()

		result, err := exec.Run(context.Background(), "run-fan", State{"flag": true, "count": 0})
		require.NoError(t, err)
		assert.Equal(t, 2, result.State["count"])
		assert.Equal(t, 2, result.Steps)

		events := emitter.all()
		require.Len(t, events, 2)
		assert.ElementsMatch(t, []string{"b", "c"}, events[1].ActiveNodes)
	})

	t.Run("straight to end when flag unset", func(t *testing.T) {
		emitter := &collectEmitter{}
		exec, err := NewExecutor(build(), WithEmitter(emitter))
		require.NoError(t, err)
		defer exec.Close()

		result, err := exec.Run(context.Background(), "run-skip", State{"flag": false, "count": 0})
		require.NoError(t, err)
		assert.Equal(t, 0, result.State["count"])
		assert.Equal(t, 1, result.Steps)
		assert.Len(t, emitter.all(), 1)
	})
}

func TestRunSameSuperstepIsolation(t *testing.T) {
	// Both writers run in the same superstep and must observe the
	// pre-superstep value, never each other's output.
	schema := NewStateSchema().
		AddField("count", StateField{Type: reflect.TypeOf(0)}).
		AddField("seen", StateField{Type: reflect.TypeOf([]any{}), Reducer: AppendReducer})

	writer := func(ctx context.Context, s State) (any, error) {
		return State{"seen": []any{s["count"]}, "count": s["count"].(int) + 1}, nil
	}
	g := NewStateGraph(schema).
		AddNode("fan", func(ctx context.Context, s State) (any, error) { return nil, nil }).
		AddNode("w1", writer).
		AddNode("w2", writer).
		SetEntryPoint("fan").
		AddEdge("fan", "w1").
		AddEdge("fan", "w2").
		SetFinishPoint("w1").
		SetFinishPoint("w2").
		MustCompile()

	exec, err := NewExecutor(g)
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Run(context.Background(), "run-isolation", State{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 1}, result.State["seen"])
	// No reducer on count: the lexicographically greatest writer wins.
	assert.Equal(t, 2, result.State["count"])
}

func TestRunRetrySucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, s State) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return State{"count": 1}, nil
	}
	g := NewStateGraph(sumSchema()).
		AddNode("flaky", flaky, WithRetryPolicy(RetryPolicy{
			MaxAttempts:   3,
			BaseDelay:     10 * time.Millisecond,
			MaxDelay:      100 * time.Millisecond,
			BackoffFactor: 2.0,
		})).
		SetEntryPoint("flaky").
		SetFinishPoint("flaky").
		MustCompile()

	exec, err := NewExecutor(g)
	require.NoError(t, err)
	defer exec.Close()

	start := time.Now()
	result, err := exec.Run(context.Background(), "run-retry", State{"count": 0})
	require.NoError(t, err)
	assert.Equal(t, 1, result.State["count"])
	assert.Equal(t, int32(3), calls.Load())
	// Two backoff pauses elapsed: 10ms then 20ms.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunRetryExhaustionIsFatal(t *testing.T) {
	var calls atomic.Int32
	broken := func(ctx context.Context, s State) (any, error) {
		calls.Add(1)
		return nil, errors.New("permanent")
	}
	g := NewStateGraph(nil).
		AddNode("broken", broken, WithRetryPolicy(RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
		})).
		SetEntryPoint("broken").
		SetFinishPoint("broken").
		MustCompile()

	saver := newMemSaver()
	exec, err := NewExecutor(g, WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-exhaust", State{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeExecutionFailed)
	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "broken", nerr.NodeID)
	assert.Equal(t, 3, nerr.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	// The failed superstep is never checkpointed; only step 0 remains.
	cp, err := saver.Latest(context.Background(), "run-exhaust")
	require.NoError(t, err)
	assert.Equal(t, 0, cp.Step)
}

func TestRunIsolatePolicyDropsFailedUpdate(t *testing.T) {
	g := NewStateGraph(sumSchema()).
		AddNode("fan", func(ctx context.Context, s State) (any, error) { return nil, nil }).
		AddNode("ok", addOne).
		AddNode("bad", func(ctx context.Context, s State) (any, error) {
			return nil, errors.New("boom")
		}, WithErrorPolicy(ErrorPolicyIsolate)).
		SetEntryPoint("fan").
		AddEdge("fan", "ok").
		AddEdge("fan", "bad").
		SetFinishPoint("ok").
		SetFinishPoint("bad").
		MustCompile()

	emitter := &collectEmitter{}
	exec, err := NewExecutor(g, WithEmitter(emitter))
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Run(context.Background(), "run-isolate", State{"count": 0})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.State["count"])

	events := emitter.all()
	require.Len(t, events, 2)
	require.Contains(t, events[1].NodeErrors, "bad")
	assert.NotContains(t, events[1].NodeOutputs, "bad")
}

func TestRunNodeTimeout(t *testing.T) {
	stubborn := func(ctx context.Context, s State) (any, error) {
		// Ignores its context on purpose.
		time.Sleep(500 * time.Millisecond)
		return nil, nil
	}
	g := NewStateGraph(nil).
		AddNode("slow", stubborn, WithTimeout(20*time.Millisecond)).
		SetEntryPoint("slow").
		SetFinishPoint("slow").
		MustCompile()

	exec, err := NewExecutor(g)
	require.NoError(t, err)
	defer exec.Close()

	start := time.Now()
	_, err = exec.Run(context.Background(), "run-timeout", State{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRunRecursionLimit(t *testing.T) {
	schema := sumSchema()
	loopGraph := func(stop int) *Graph {
		return NewStateGraph(schema).
			AddNode("inc", addOne).
			SetEntryPoint("inc").
			AddConditionalEdges("inc", func(ctx context.Context, s State) ([]string, error) {
				if s["count"].(int) >= stop {
					return []string{End}, nil
				}
				return []string{"inc"}, nil
			}, []string{"inc", End}).
			MustCompile()
	}

	t.Run("exceeding the limit fails", func(t *testing.T) {
		exec, err := NewExecutor(loopGraph(1<<30), WithMaxSteps(5))
		require.NoError(t, err)
		defer exec.Close()

		_, err = exec.Run(context.Background(), "run-loop", State{"count": 0})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRecursionLimitExceeded)
	})

	t.Run("finishing exactly at the limit succeeds", func(t *testing.T) {
		exec, err := NewExecutor(loopGraph(5), WithMaxSteps(5))
		require.NoError(t, err)
		defer exec.Close()

		result, err := exec.Run(context.Background(), "run-exact", State{"count": 0})
		require.NoError(t, err)
		assert.Equal(t, 5, result.Steps)
		assert.Equal(t, 5, result.State["count"])
	})
}

func TestRunCommandOverridesEdges(t *testing.T) {
	var skippedRan atomic.Bool
	g := NewStateGraph(sumSchema()).
		AddNode("jump", func(ctx context.Context, s State) (any, error) {
			return &Command{Update: State{"count": 1}, GoTo: End}, nil
		}).
		AddNode("skipped", func(ctx context.Context, s State) (any, error) {
			skippedRan.Store(true)
			return nil, nil
		}).
		SetEntryPoint("jump").
		AddEdge("jump", "skipped").
		SetFinishPoint("skipped").
		MustCompile()

	exec, err := NewExecutor(g)
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Run(context.Background(), "run-command", State{"count": 0})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.State["count"])
	assert.Equal(t, 1, result.Steps)
	assert.False(t, skippedRan.Load())
}

func TestRunUndeclaredConditionalTargetIsFatal(t *testing.T) {
	g := NewStateGraph(nil).
		AddNode("a", noopNode).
		AddNode("b", noopNode).
		AddNode("c", noopNode).
		SetEntryPoint("a").
		AddConditionalEdges("a", func(ctx context.Context, s State) ([]string, error) {
			// "b" is a real node but not declared for this edge.
			return []string{"b"}, nil
		}, []string{"c", End}).
		AddEdge("c", "b").
		SetFinishPoint("b").
		MustCompile()

	exec, err := NewExecutor(g)
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-undeclared", State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared target")
}

func TestRunCheckpointsEverySuperstep(t *testing.T) {
	g := NewStateGraph(sumSchema()).
		AddNode("a", addOne).
		AddNode("b", addOne).
		SetEntryPoint("a").
		AddEdge("a", "b").
		SetFinishPoint("b").
		MustCompile()

	saver := newMemSaver()
	exec, err := NewExecutor(g, WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-cp", State{"count": 0})
	require.NoError(t, err)

	// One Put per committed superstep plus the input snapshot.
	assert.Equal(t, 3, saver.putCount())

	cp0, err := saver.Get(context.Background(), "run-cp", 0)
	require.NoError(t, err)
	assert.Equal(t, CheckpointSourceInput, cp0.Source)
	assert.Equal(t, []string{"a"}, cp0.Frontier)
	assert.Empty(t, cp0.ParentID)

	cp1, err := saver.Get(context.Background(), "run-cp", 1)
	require.NoError(t, err)
	assert.Equal(t, CheckpointSourceLoop, cp1.Source)
	assert.Equal(t, 1, cp1.State["count"])
	assert.Equal(t, StatusRunning, cp1.Status)
	// The lineage chain is unbroken back to the input snapshot.
	assert.Equal(t, cp0.ID, cp1.ParentID)

	cp2, err := saver.Get(context.Background(), "run-cp", 2)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cp2.Status)
	assert.Equal(t, 2, cp2.State["count"])
	assert.Empty(t, cp2.Frontier)
	assert.Equal(t, cp1.ID, cp2.ParentID)
}

func TestRunCheckpointFailureIsFatal(t *testing.T) {
	g := NewStateGraph(nil).
		AddNode("a", noopNode).
		SetEntryPoint("a").
		SetFinishPoint("a").
		MustCompile()

	saver := &failingSaver{}
	exec, err := NewExecutor(g, WithCheckpointSaver(saver), WithCheckpointRetries(2))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-badsaver", State{})
	require.Error(t, err)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "run-badsaver", serr.RunID)
	assert.Equal(t, int32(2), saver.attempts.Load())
}

func TestInterruptAndResume(t *testing.T) {
	schema := sumSchema()
	signal := NewInterruptSignal()
	var calls atomic.Int32
	g := NewStateGraph(schema).
		AddNode("inc", func(ctx context.Context, s State) (any, error) {
			if calls.Add(1) == 2 {
				signal.Trigger()
			}
			return State{"count": 1}, nil
		}).
		SetEntryPoint("inc").
		AddConditionalEdges("inc", func(ctx context.Context, s State) ([]string, error) {
			if s["count"].(int) >= 5 {
				return []string{End}, nil
			}
			return []string{"inc"}, nil
		}, []string{"inc", End}).
		MustCompile()

	saver := newMemSaver()
	exec, err := NewExecutor(g, WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Run(context.Background(), "run-pause", State{"count": 0},
		WithInterrupt(signal))
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, result.Status)
	assert.Equal(t, 2, result.Steps)
	assert.Equal(t, 2, result.State["count"])

	cp, err := saver.Latest(context.Background(), "run-pause")
	require.NoError(t, err)
	assert.Equal(t, CheckpointSourceInterrupt, cp.Source)
	assert.Equal(t, StatusInterrupted, cp.Status)
	assert.Equal(t, []string{"inc"}, cp.Frontier)

	// Resume picks up at step 3; prior supersteps never re-execute.
	result, err = exec.Resume(context.Background(), "run-pause", WithInterrupt(signal))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 5, result.State["count"])
	assert.Equal(t, 5, result.Steps)
	assert.Equal(t, int32(5), calls.Load())
}

func TestResumeCompletedRunIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	g := NewStateGraph(sumSchema()).
		AddNode("a", func(ctx context.Context, s State) (any, error) {
			calls.Add(1)
			return State{"count": 1}, nil
		}).
		SetEntryPoint("a").
		SetFinishPoint("a").
		MustCompile()

	saver := newMemSaver()
	exec, err := NewExecutor(g, WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-done", State{"count": 0})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	result, err := exec.Resume(context.Background(), "run-done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.State["count"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestResumeFromSpecificStep(t *testing.T) {
	g := NewStateGraph(sumSchema()).
		AddNode("inc", addOne).
		SetEntryPoint("inc").
		AddConditionalEdges("inc", func(ctx context.Context, s State) ([]string, error) {
			if s["count"].(int) >= 3 {
				return []string{End}, nil
			}
			return []string{"inc"}, nil
		}, []string{"inc", End}).
		MustCompile()

	saver := newMemSaver()
	exec, err := NewExecutor(g, WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-replay", State{"count": 0})
	require.NoError(t, err)

	// Rewind to the state after step 1 and run forward again.
	result, err := exec.Resume(context.Background(), "run-replay", WithResumeStep(1))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.State["count"])
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	g := NewStateGraph(nil).
		AddNode("a", noopNode).
		SetEntryPoint("a").
		SetFinishPoint("a").
		MustCompile()

	saver := newMemSaver()
	exec, err := NewExecutor(g, WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Resume(context.Background(), "never-started")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestRunRequiredFieldValidation(t *testing.T) {
	schema := NewStateSchema().
		AddField("input", StateField{Type: reflect.TypeOf(""), Required: true})
	g := NewStateGraph(schema).
		AddNode("a", noopNode).
		SetEntryPoint("a").
		SetFinishPoint("a").
		MustCompile()

	exec, err := NewExecutor(g)
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-invalid", State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid initial state")
}

func TestRunRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := metric.Meter
	metric.Meter = provider.Meter("")
	defer func() { metric.Meter = previous }()

	g := NewStateGraph(sumSchema()).
		AddNode("a", addOne).
		AddNode("b", addOne).
		SetEntryPoint("a").
		AddEdge("a", "b").
		SetFinishPoint("b").
		MustCompile()

	exec, err := NewExecutor(g)
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(context.Background(), "run-metrics", State{"count": 0})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(2), counterValue(t, rm, "agentgraph.supersteps"))
	assert.Equal(t, int64(2), counterValue(t, rm, "agentgraph.node.attempts"))
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return 0
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewStateGraph(sumSchema()).
		AddNode("inc", func(ctx context.Context, s State) (any, error) {
			if s["count"].(int) >= 2 {
				cancel()
			}
			return State{"count": 1}, nil
		}).
		SetEntryPoint("inc").
		AddConditionalEdges("inc", func(ctx context.Context, s State) ([]string, error) {
			return []string{"inc"}, nil
		}, []string{"inc", End}).
		MustCompile()

	exec, err := NewExecutor(g, WithMaxSteps(1000))
	require.NoError(t, err)
	defer exec.Close()

	_, err = exec.Run(ctx, "run-cancel", State{"count": 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
