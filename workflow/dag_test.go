package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/miniclaw/miniclaw/types"
)

const diamondRecipe = `
mode: dag
steps:
  - id: collect
    prompt: collect data
  - id: support
    prompt: "support from {collect_output}"
    depends_on: [collect]
    retry_backoff_ms: 0
    on_failure: continue
  - id: growth
    prompt: "growth from {collect_output}"
    depends_on: [collect]
  - id: finance
    prompt: "finance from {collect_output}"
    depends_on: [collect]
  - id: merge
    prompt: "merge {support_output} {growth_output} {finance_output}"
    depends_on: [support, growth, finance]
`

func runDAGRecipe(t *testing.T, raw string, invoker Invoker, sink EventSink) *RunResult {
	t.Helper()
	if sink == nil {
		sink = NopSink()
	}
	runner := NewRunner(invoker, WithLogger(zaptest.NewLogger(t)), WithEventSink(sink))
	result, err := runner.Run(context.Background(), mustRecipe(raw), nil)
	require.NoError(t, err)
	return result
}

func TestDAG_AllSucceed(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.outputs["collect"] = "the numbers"

	result := runDAGRecipe(t, diamondRecipe, invoker, nil)
	assert.Equal(t, RunCompleted, result.Status)
	for _, sr := range result.Steps {
		assert.Equal(t, StepSucceeded, sr.Status, sr.StepID)
	}

	// Fan-out steps saw collect's output in their rendered prompts.
	support, _ := result.StepResult("support")
	assert.Equal(t, "support from the numbers", support.Output)

	// collect ran before its dependents, merge last.
	order := invoker.callOrder()
	require.Len(t, order, 5)
	assert.Equal(t, "collect", order[0])
	assert.Equal(t, "merge", order[4])
}

func TestDAG_FailedBranchSkipsMerge(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.failures["support"] = -1
	sink := &recordingSink{}

	result := runDAGRecipe(t, diamondRecipe, invoker, sink)
	assert.Equal(t, RunFailed, result.Status)

	support, _ := result.StepResult("support")
	assert.Equal(t, StepFailed, support.Status)

	// Independent branches with on_failure=continue kept going.
	growth, _ := result.StepResult("growth")
	assert.Equal(t, StepSucceeded, growth.Status)
	finance, _ := result.StepResult("finance")
	assert.Equal(t, StepSucceeded, finance.Status)

	// merge depends on the failed branch and is never launched.
	merge, _ := result.StepResult("merge")
	assert.Equal(t, StepSkipped, merge.Status)
	require.NotNil(t, merge.Err)
	assert.Equal(t, types.ErrDependencyFailed, merge.Err.Code)
	assert.Zero(t, invoker.callsFor("merge"))
}

func TestDAG_TransitiveFailurePropagation(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.failures["root"] = -1

	result := runDAGRecipe(t, `
mode: dag
steps:
  - id: root
    prompt: start
    retry_backoff_ms: 0
    on_failure: continue
  - id: mid
    prompt: "{root_output}"
    depends_on: [root]
  - id: leaf
    prompt: "{mid_output}"
    depends_on: [mid]
  - id: lone
    prompt: independent
`, invoker, nil)

	assert.Equal(t, RunFailed, result.Status)
	for _, id := range []string{"mid", "leaf"} {
		sr, _ := result.StepResult(id)
		assert.Equal(t, StepSkipped, sr.Status, id)
		require.NotNil(t, sr.Err)
		assert.Equal(t, types.ErrDependencyFailed, sr.Err.Code)
		assert.Zero(t, invoker.callsFor(id))
	}

	// No path from lone to root: it still ran.
	lone, _ := result.StepResult("lone")
	assert.Equal(t, StepSucceeded, lone.Status)
}

func TestDAG_StopPolicyHaltsNewLaunches(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.failures["first"] = -1

	result := runDAGRecipe(t, `
mode: dag
max_parallel: 1
steps:
  - id: first
    prompt: a
    retry_backoff_ms: 0
    on_failure: stop
  - id: second
    prompt: b
  - id: third
    prompt: c
`, invoker, nil)

	assert.Equal(t, RunFailed, result.Status)
	first, _ := result.StepResult("first")
	assert.Equal(t, StepFailed, first.Status)

	for _, id := range []string{"second", "third"} {
		sr, _ := result.StepResult(id)
		assert.Equal(t, StepSkipped, sr.Status, id)
		require.NotNil(t, sr.Err)
		assert.Equal(t, types.ErrWorkflowStopped, sr.Err.Code)
		assert.Zero(t, invoker.callsFor(id))
	}
}

func TestDAG_MaxParallelOneRunsSequentially(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.delay = 20 * time.Millisecond

	result := runDAGRecipe(t, `
mode: dag
max_parallel: 1
steps:
  - id: a
    prompt: one
  - id: b
    prompt: two
  - id: c
    prompt: three
`, invoker, nil)

	assert.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, int32(1), invoker.maxInflight.Load())
	// Launch tie-break follows declaration order.
	assert.Equal(t, []string{"a", "b", "c"}, invoker.callOrder())
}

func TestDAG_ConcurrencyBoundHolds(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.delay = 30 * time.Millisecond

	result := runDAGRecipe(t, `
mode: dag
max_parallel: 2
steps:
  - id: a
    prompt: one
  - id: b
    prompt: two
  - id: c
    prompt: three
  - id: d
    prompt: four
  - id: e
    prompt: five
`, invoker, nil)

	assert.Equal(t, RunCompleted, result.Status)
	assert.LessOrEqual(t, invoker.maxInflight.Load(), int32(2))
}

func TestDAG_StepNeverStartsBeforeDependenciesTerminal(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.delay = 10 * time.Millisecond

	result := runDAGRecipe(t, diamondRecipe, invoker, nil)
	require.Equal(t, RunCompleted, result.Status)

	times := func(id string) time.Time {
		ts := invoker.callTime[id]
		require.Len(t, ts, 1, id)
		return ts[0]
	}
	collectDone := times("collect").Add(invoker.delay)
	for _, id := range []string{"support", "growth", "finance"} {
		assert.True(t, !times(id).Before(collectDone),
			"%s started before collect finished", id)
	}
}

func TestDAG_ApprovalDeniedSkipsDependents(t *testing.T) {
	invoker := newScriptedInvoker()
	gate := newScriptedGate("deploy")

	runner := NewRunner(invoker,
		WithLogger(zaptest.NewLogger(t)),
		WithApprovalGate(gate),
	)
	result, err := runner.Run(context.Background(), mustRecipe(`
mode: dag
steps:
  - id: build
    prompt: build it
  - id: deploy
    prompt: "ship {build_output}"
    depends_on: [build]
    require_approval: true
    on_failure: continue
  - id: announce
    prompt: "tell everyone about {deploy_output}"
    depends_on: [deploy]
`), nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	deploy, _ := result.StepResult("deploy")
	assert.Equal(t, StepFailed, deploy.Status)
	require.NotNil(t, deploy.Err)
	assert.Equal(t, types.ErrApprovalDenied, deploy.Err.Code)

	announce, _ := result.StepResult("announce")
	assert.Equal(t, StepSkipped, announce.Status)
	assert.Equal(t, types.ErrDependencyFailed, announce.Err.Code)
}

// A step awaiting approval gives up its execution slot: even with
// max_parallel=1, other ready steps keep running while it is suspended.
func TestDAG_ApprovalDoesNotBlockOtherReadySteps(t *testing.T) {
	invoker := newScriptedInvoker()
	gate := newBlockingGate()

	runner := NewRunner(invoker,
		WithLogger(zaptest.NewLogger(t)),
		WithApprovalGate(gate),
	)
	recipe := mustRecipe(`
mode: dag
max_parallel: 1
steps:
  - id: gated
    prompt: needs a human
    require_approval: true
  - id: free
    prompt: just runs
`)
	runID, err := runner.Submit(context.Background(), recipe, nil)
	require.NoError(t, err)

	// free completes while gated is still suspended.
	require.Eventually(t, func() bool {
		return invoker.callsFor("free") == 1
	}, 2*time.Second, 5*time.Millisecond)

	status, ok := runner.Status(runID)
	require.True(t, ok)
	gated, _ := status.StepResult("gated")
	assert.Equal(t, StepAwaitingApproval, gated.Status)

	gate.resolve("gated", true)
	result, err := runner.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, result.Status)
}

func TestDAG_CancelStopsNewLaunches(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	invoker := InvokeFunc(func(ctx context.Context, req InvokeRequest) (string, error) {
		if req.StepID == "a" {
			close(started)
			<-release
		}
		return "out", nil
	})

	runner := NewRunner(invoker, WithLogger(zaptest.NewLogger(t)))
	recipe := mustRecipe(`
mode: dag
max_parallel: 1
steps:
  - id: a
    prompt: slow
  - id: b
    prompt: "after {a_output}"
    depends_on: [a]
`)
	runID, err := runner.Submit(context.Background(), recipe, nil)
	require.NoError(t, err)

	<-started
	require.True(t, runner.Cancel(runID))
	close(release)

	result, err := runner.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, result.Status)

	a, _ := result.StepResult("a")
	assert.Equal(t, StepSucceeded, a.Status)
	b, _ := result.StepResult("b")
	assert.Equal(t, StepCancelled, b.Status)
}

func TestDAG_ContextCancelledMidRunTerminates(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	invoker := InvokeFunc(func(ctx context.Context, req InvokeRequest) (string, error) {
		if req.StepID == "a" {
			close(started)
			<-release
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "out", nil
	})

	runner := NewRunner(invoker, WithLogger(zaptest.NewLogger(t)))
	recipe := mustRecipe(`
mode: dag
max_parallel: 1
steps:
  - id: a
    prompt: slow
    retry_backoff_ms: 0
    on_failure: continue
  - id: b
    prompt: independent
`)
	ctx, cancel := context.WithCancel(context.Background())
	runID, err := runner.Submit(ctx, recipe, nil)
	require.NoError(t, err)

	// Kill the submission context while a step holds the only slot.
	<-started
	cancel()
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()
	result, err := runner.Wait(waitCtx, runID)
	require.NoError(t, err, "run must reach a terminal status after its context dies")
	assert.Equal(t, RunCancelled, result.Status)

	b, _ := result.StepResult("b")
	assert.Equal(t, StepCancelled, b.Status)
}
