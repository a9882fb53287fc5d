package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/turns"
)

func noopExecutor(_ context.Context, _ string, _ map[string]any) (any, error) {
	return "ok", nil
}

func TestAddRecord_InfersDependencyFromID(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("call-1", "get_player", map[string]any{"name": "salah"}, `{"name":"salah"}`)
	require.NoError(t, err)

	r, err := p.AddRecord("call-2", "get_team", nil, `{"team":"result of call-1"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"call-1"}, r.Dependencies)
	assert.True(t, r.DependsOn("call-1"))
}

func TestAddRecord_InfersDependencyFromPositionalAlias(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("call-a", "get_player", nil, `{}`)
	require.NoError(t, err)
	_, err = p.AddRecord("call-b", "get_player", nil, `{}`)
	require.NoError(t, err)

	r, err := p.AddRecord("call-c", "compare", nil, `{"left":"tool_0","right":"tool_1"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"call-a", "call-b"}, r.Dependencies)
}

func TestAddRecordWithDeps_RejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecordWithDeps("call-1", "echo", nil, "", []string{"missing"})
	assert.Error(t, err)
}

func TestAddRecord_RejectsDuplicateID(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("call-1", "echo", nil, "")
	require.NoError(t, err)
	_, err = p.AddRecord("call-1", "echo", nil, "")
	assert.Error(t, err)
}

func TestRunReady_IndependentRecordsRunInOneBatch(t *testing.T) {
	t.Parallel()

	p := New()
	for _, id := range []string{"a", "b", "c"} {
		_, err := p.AddRecord(id, "lookup", map[string]any{"id": id}, "")
		require.NoError(t, err)
	}

	var concurrent, peak atomic.Int64
	barrier := make(chan struct{})
	var once sync.Once

	exec := func(_ context.Context, name string, args map[string]any) (any, error) {
		n := concurrent.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		// hold every record in the executor until all three have arrived
		if n == 3 {
			once.Do(func() { close(barrier) })
		}
		<-barrier
		concurrent.Add(-1)
		return args["id"], nil
	}

	ran, err := p.RunReady(context.Background(), exec)
	require.NoError(t, err)
	assert.Len(t, ran, 3)
	assert.EqualValues(t, 3, peak.Load())
	assert.True(t, p.IsComplete())
}

func TestRunReady_DependentRunsAfterPrerequisite(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("first", "get_player", nil, `{}`)
	require.NoError(t, err)
	_, err = p.AddRecord("second", "get_team", nil, `{"player":"first"}`)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	exec := func(_ context.Context, _ string, _ map[string]any) (any, error) {
		return "ok", nil
	}
	p.listener = func(r *Record, _, to Status) {
		if to == StatusCompleted {
			mu.Lock()
			order = append(order, r.ID)
			mu.Unlock()
		}
	}

	_, err = p.RunReady(context.Background(), exec)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, order)
	assert.True(t, p.IsComplete())
}

func TestFailedDependency_LeavesDependentPendingForever(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("flaky", "lookup", nil, `{}`)
	require.NoError(t, err)
	dep, err := p.AddRecord("downstream", "compare", nil, `{"input":"flaky"}`)
	require.NoError(t, err)

	exec := func(_ context.Context, name string, _ map[string]any) (any, error) {
		return nil, errors.New("lookup failed")
	}
	_, err = p.RunReady(context.Background(), exec)
	require.NoError(t, err)

	assert.Equal(t, StatusError, p.Get("flaky").Status)
	assert.Equal(t, StatusPending, dep.Status)
	assert.False(t, p.IsComplete())

	stalled := p.Stalled()
	require.Len(t, stalled, 1)
	assert.Equal(t, "downstream", stalled[0].ID)

	// nothing is runnable anymore: the dependent never unblocks
	assert.Nil(t, p.NextRunnable())

	m := p.Metrics()
	assert.Equal(t, 1, m.Errored)
	assert.Equal(t, 1, m.Pending)
	assert.Equal(t, 1, m.Stalled)
}

func TestRunReady_ExecutorPanicBecomesErrorState(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("boom", "explode", nil, "")
	require.NoError(t, err)

	exec := func(_ context.Context, _ string, _ map[string]any) (any, error) {
		panic("kaboom")
	}
	_, err = p.RunReady(context.Background(), exec)
	require.NoError(t, err)

	r := p.Get("boom")
	require.Equal(t, StatusError, r.Status)
	assert.Contains(t, r.Err.Error(), "kaboom")
	assert.True(t, p.IsComplete())
}

func TestTransitions_ForwardOnly(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("call-1", "echo", nil, "")
	require.NoError(t, err)

	// terminal transitions require the executing state first
	err = p.Complete("call-1", "result")
	require.ErrorIs(t, errors.Cause(err), ErrInvalidTransition)

	require.NoError(t, p.BeginExecution("call-1"))
	err = p.BeginExecution("call-1")
	require.ErrorIs(t, errors.Cause(err), ErrInvalidTransition)

	require.NoError(t, p.Complete("call-1", "result"))
	err = p.Fail("call-1", errors.New("late failure"))
	require.ErrorIs(t, errors.Cause(err), ErrInvalidTransition)

	assert.Equal(t, "result", p.Get("call-1").Result)
}

func TestTransitionListener_SeesEveryTransition(t *testing.T) {
	t.Parallel()

	type step struct{ from, to Status }
	var mu sync.Mutex
	var steps []step

	p := New(WithTransitionListener(func(_ *Record, from, to Status) {
		mu.Lock()
		steps = append(steps, step{from, to})
		mu.Unlock()
	}))
	_, err := p.AddRecord("call-1", "echo", nil, "")
	require.NoError(t, err)

	_, err = p.RunReady(context.Background(), noopExecutor)
	require.NoError(t, err)

	require.Equal(t, []step{
		{StatusPending, StatusExecuting},
		{StatusExecuting, StatusCompleted},
	}, steps)
}

func TestAdvancePhase_EnforcesCeiling(t *testing.T) {
	t.Parallel()

	p := New(WithMaxPhases(3))
	for i := 1; i <= 3; i++ {
		phase, err := p.AdvancePhase()
		require.NoError(t, err)
		assert.Equal(t, i, phase)
	}
	_, err := p.AdvancePhase()
	require.ErrorIs(t, errors.Cause(err), ErrPhaseCeiling)
}

func TestContextBlocks_TagResultsAndErrors(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("good", "lookup", nil, "")
	require.NoError(t, err)
	_, err = p.AddRecord("bad", "lookup", nil, "")
	require.NoError(t, err)
	_, err = p.AddRecord("waiting", "compare", nil, `{"x":"bad"}`)
	require.NoError(t, err)

	exec := func(_ context.Context, _ string, args map[string]any) (any, error) {
		return map[string]any{"value": 42}, nil
	}
	r, err := p.RunNext(context.Background(), exec)
	require.NoError(t, err)
	require.Equal(t, "good", r.ID)

	require.NoError(t, p.BeginExecution("bad"))
	require.NoError(t, p.Fail("bad", errors.New("nope")))

	blocks := p.ContextBlocks()
	require.Len(t, blocks, 2)

	assert.Equal(t, turns.BlockKindToolUse, blocks[0].Kind)
	assert.Equal(t, "good", blocks[0].Payload[turns.PayloadKeyID])
	assert.Equal(t, `{"value":42}`, blocks[0].Payload[turns.PayloadKeyResult])

	assert.Equal(t, "bad", blocks[1].Payload[turns.PayloadKeyID])
	assert.Equal(t, "nope", blocks[1].Payload[turns.PayloadKeyError])
}

func TestTakeContextBlocks_HandsOutEachResultOnce(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("first", "lookup", nil, "")
	require.NoError(t, err)

	_, err = p.RunReady(context.Background(), noopExecutor)
	require.NoError(t, err)

	blocks := p.TakeContextBlocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "first", blocks[0].Payload[turns.PayloadKeyID])

	// a later registration and execution folds only the new result
	_, err = p.AddRecord("second", "lookup", nil, "")
	require.NoError(t, err)
	_, err = p.RunReady(context.Background(), noopExecutor)
	require.NoError(t, err)

	blocks = p.TakeContextBlocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "second", blocks[0].Payload[turns.PayloadKeyID])

	assert.Empty(t, p.TakeContextBlocks())

	// the full snapshot is unaffected by folding
	assert.Len(t, p.ContextBlocks(), 2)
}

func TestRunReady_SurfacesContextCancellation(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("blocked", "wait", nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	exec := func(ctx context.Context, _ string, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err = p.RunReady(ctx, exec)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusError, p.Get("blocked").Status)
}

func TestMetrics_ExecutionTimes(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.AddRecord("slow", "sleep", nil, "")
	require.NoError(t, err)

	exec := func(_ context.Context, _ string, _ map[string]any) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "done", nil
	}
	_, err = p.RunReady(context.Background(), exec)
	require.NoError(t, err)

	m := p.Metrics()
	assert.Equal(t, 1, m.Completed)
	assert.GreaterOrEqual(t, m.TotalExecutionTime, 10*time.Millisecond)
	assert.Equal(t, m.TotalExecutionTime, m.MeanExecutionTime)
}
