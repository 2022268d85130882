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

func newTestExecutor(t *testing.T, invoker Invoker, gate ApprovalGate, sink EventSink) *stepExecutor {
	t.Helper()
	if sink == nil {
		sink = NopSink()
	}
	return newStepExecutor(invoker, gate, sink, zaptest.NewLogger(t), nil)
}

func singleStepRun(raw string) (*RunState, *Step) {
	recipe := mustRecipe(raw)
	run := newRunState("wf_test", recipe, nil)
	return run, recipe.Steps[0]
}

func TestExecute_Success(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.outputs["greet"] = "hello there"
	sink := &recordingSink{}
	exec := newTestExecutor(t, invoker, nil, sink)

	run, step := singleStepRun("steps:\n  - id: greet\n    prompt: say hi\n")
	result := exec.execute(context.Background(), run, step)

	assert.Equal(t, StepSucceeded, result.Status)
	assert.Equal(t, "hello there", result.Output)
	assert.Equal(t, 1, result.Attempts)
	assert.Nil(t, result.Err)
	assert.Equal(t, []EventType{EventStepStarted, EventStepSucceeded}, sink.typesFor("greet"))
}

func TestExecute_RetriesExactlyMaxAttempts(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.failures["flaky"] = -1
	sink := &recordingSink{}
	exec := newTestExecutor(t, invoker, nil, sink)

	run, step := singleStepRun(`
steps:
  - id: flaky
    prompt: try me
    retry_max_attempts: 3
    retry_backoff_ms: 0
`)
	result := exec.execute(context.Background(), run, step)

	assert.Equal(t, StepFailed, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, invoker.callsFor("flaky"))
	require.NotNil(t, result.Err)
	assert.Equal(t, types.ErrUpstreamError, result.Err.Code)
	assert.Equal(t,
		[]EventType{EventStepStarted, EventStepRetrying, EventStepRetrying, EventStepFailed},
		sink.typesFor("flaky"))
}

func TestExecute_BackoffElapsesBetweenAttempts(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.failures["flaky"] = -1
	exec := newTestExecutor(t, invoker, nil, nil)

	run, step := singleStepRun(`
steps:
  - id: flaky
    prompt: try me
    retry_max_attempts: 3
    retry_backoff_ms: 40
`)
	exec.execute(context.Background(), run, step)

	times := invoker.callTime["flaky"]
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, 35*time.Millisecond, "attempt %d fired before backoff elapsed", i+1)
	}
}

func TestExecute_RecoversAfterTransientFailure(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.failures["flaky"] = 1
	invoker.outputs["flaky"] = "finally"
	exec := newTestExecutor(t, invoker, nil, nil)

	run, step := singleStepRun(`
steps:
  - id: flaky
    prompt: try me
    retry_max_attempts: 2
    retry_backoff_ms: 0
`)
	result := exec.execute(context.Background(), run, step)

	assert.Equal(t, StepSucceeded, result.Status)
	assert.Equal(t, "finally", result.Output)
	assert.Equal(t, 2, result.Attempts)
}

func TestExecute_EmptyOutputIsFailure(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.outputs["quiet"] = "   "
	exec := newTestExecutor(t, invoker, nil, nil)

	run, step := singleStepRun("steps:\n  - id: quiet\n    prompt: speak\n    retry_backoff_ms: 0\n")
	result := exec.execute(context.Background(), run, step)

	assert.Equal(t, StepFailed, result.Status)
	require.NotNil(t, result.Err)
	assert.Equal(t, types.ErrStepExecution, result.Err.Code)
}

func TestExecute_EmptyRenderedPromptSkips(t *testing.T) {
	invoker := newScriptedInvoker()
	exec := newTestExecutor(t, invoker, nil, nil)

	run, step := singleStepRun("steps:\n  - id: hollow\n    prompt: \"{nothing}\"\n")
	// {nothing} stays verbatim, so force an actually-empty render.
	step.Prompt = "{gone}"
	run.vars["gone"] = "   "

	result := exec.execute(context.Background(), run, step)
	assert.Equal(t, StepSkipped, result.Status)
	require.NotNil(t, result.Err)
	assert.Equal(t, types.ErrEmptyPrompt, result.Err.Code)
	assert.Zero(t, invoker.callsFor("hollow"))
}

func TestExecute_PromptSubstitutesPriorOutputs(t *testing.T) {
	invoker := newScriptedInvoker()
	exec := newTestExecutor(t, invoker, nil, nil)

	recipe := mustRecipe(`
steps:
  - id: fetch
    prompt: fetch
  - id: report
    prompt: "Report on {fetch_output} for {workflow_name}"
`)
	run := newRunState("wf_test", recipe, nil)
	run.finishStep("fetch", StepSucceeded, "3 incidents", nil, 1)

	exec.execute(context.Background(), run, recipe.Steps[1])
	require.Len(t, invoker.calls, 1)
	assert.Equal(t, "Report on 3 incidents for test-recipe", invoker.calls[0].Prompt)
}

func TestExecute_ApprovalDenied(t *testing.T) {
	invoker := newScriptedInvoker()
	gate := newScriptedGate("risky")
	sink := &recordingSink{}
	exec := newTestExecutor(t, invoker, gate, sink)

	run, step := singleStepRun(`
steps:
  - id: risky
    prompt: rm everything
    require_approval: true
    retry_max_attempts: 3
`)
	result := exec.execute(context.Background(), run, step)

	assert.Equal(t, StepFailed, result.Status)
	require.NotNil(t, result.Err)
	assert.Equal(t, types.ErrApprovalDenied, result.Err.Code)
	// Denial is terminal: no invocation, no retries.
	assert.Zero(t, invoker.callsFor("risky"))
	assert.Equal(t, 0, result.Attempts)
	assert.Contains(t, sink.typesFor("risky"), EventStepAwaitingApproval)
}

func TestExecute_ApprovalGranted(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.outputs["risky"] = "carefully done"
	gate := newScriptedGate()
	sink := &recordingSink{}
	exec := newTestExecutor(t, invoker, gate, sink)

	run, step := singleStepRun(`
steps:
  - id: risky
    prompt: deploy it
    require_approval: true
`)
	result := exec.execute(context.Background(), run, step)

	assert.Equal(t, StepSucceeded, result.Status)
	require.Len(t, gate.requests, 1)
	assert.Equal(t, "wf_test", gate.requests[0].RunID)
	assert.Equal(t, "deploy it", gate.requests[0].PromptPreview)
	evs := sink.typesFor("risky")
	assert.Equal(t, EventStepAwaitingApproval, evs[0])
	assert.Contains(t, evs, EventStepApprovalResolved)
	assert.Equal(t, EventStepSucceeded, evs[len(evs)-1])
}

func TestExecute_NilGateAutoApproves(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.outputs["risky"] = "ok"
	exec := newTestExecutor(t, invoker, nil, nil)

	run, step := singleStepRun("steps:\n  - id: risky\n    prompt: go\n    require_approval: true\n")
	result := exec.execute(context.Background(), run, step)
	assert.Equal(t, StepSucceeded, result.Status)
}

func TestStepStatusTransitionsAreMonotonic(t *testing.T) {
	recipe := mustRecipe("steps:\n  - id: a\n    prompt: x\n")
	run := newRunState("wf_test", recipe, nil)

	require.True(t, run.transition("a", StepRunning))
	run.finishStep("a", StepSucceeded, "out", nil, 1)

	// Terminal results never revert.
	assert.False(t, run.transition("a", StepRunning))
	run.finishStep("a", StepFailed, "", nil, 2)
	res, _ := run.stepResult("a")
	assert.Equal(t, StepSucceeded, res.Status)
	assert.Equal(t, "out", res.Output)
}

func TestAwaitingApprovalToRunningIsAllowed(t *testing.T) {
	recipe := mustRecipe("steps:\n  - id: a\n    prompt: x\n")
	run := newRunState("wf_test", recipe, nil)

	require.True(t, run.transition("a", StepAwaitingApproval))
	assert.True(t, run.transition("a", StepRunning))
}
