package workflow

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/miniclaw/miniclaw/types"
)

// InvokeRequest carries one rendered prompt to the agent backend.
type InvokeRequest struct {
	Workflow   string
	RunID      string
	StepID     string
	SessionKey string
	Prompt     string
	Model      string
}

// Invoker executes a rendered prompt against an agent and returns its text
// output. It is the boundary to the agent-invocation subsystem; timeouts
// on the call itself are the invoker's concern and surface here as plain
// failures eligible for retry.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (string, error)
}

// InvokeFunc adapts a function to the Invoker interface.
type InvokeFunc func(ctx context.Context, req InvokeRequest) (string, error)

func (f InvokeFunc) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	return f(ctx, req)
}

// ApprovalRequest identifies a step suspended pending human approval.
type ApprovalRequest struct {
	RunID         string
	Workflow      string
	StepID        string
	PromptPreview string
}

// ApprovalGate resolves approval requests. Await blocks until a decision
// arrives; there is no engine-side timeout, though a gate implementation
// may impose one. A nil gate on the runner grants every request.
type ApprovalGate interface {
	Await(ctx context.Context, req ApprovalRequest) (approved bool, err error)
}

const promptPreviewLimit = 500

// stepExecutor runs individual steps for one run: template rendering,
// approval gating, retry with fixed backoff, and lifecycle events.
type stepExecutor struct {
	invoker Invoker
	gate    ApprovalGate
	sink    EventSink
	logger  *zap.Logger

	// slots is the run's concurrency bound. An approval-suspended step
	// gives its slot back so other ready steps keep launching, and
	// reacquires it before running. Nil in linear mode.
	slots *semaphore.Weighted

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newStepExecutor(invoker Invoker, gate ApprovalGate, sink EventSink, logger *zap.Logger, slots *semaphore.Weighted) *stepExecutor {
	return &stepExecutor{
		invoker: invoker,
		gate:    gate,
		sink:    sink,
		logger:  logger.With(zap.String("component", "step_executor")),
		slots:   slots,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute drives one step to a terminal status and records the outcome on
// the run. The returned result is a copy of what was recorded.
func (e *stepExecutor) execute(ctx context.Context, run *RunState, step *Step) StepResult {
	prompt := Render(step.Prompt, run.templateVars())
	if strings.TrimSpace(prompt) == "" {
		err := types.NewError(types.ErrEmptyPrompt, "step prompt rendered empty")
		run.finishStep(step.ID, StepSkipped, "", err, 0)
		e.sink.Emit(newEvent(run.RunID, step.ID, EventStepSkipped, map[string]any{"reason": string(err.Code)}))
		res, _ := run.stepResult(step.ID)
		return res
	}

	if step.RequireApproval {
		if result, done := e.awaitApproval(ctx, run, step, prompt); done {
			return result
		}
	}

	var lastErr *types.Error
	for attempt := 1; attempt <= step.RetryMaxAttempts; attempt++ {
		run.transition(step.ID, StepRunning)
		run.setAttempts(step.ID, attempt)
		if attempt == 1 {
			e.sink.Emit(newEvent(run.RunID, step.ID, EventStepStarted, nil))
		}

		output, err := e.invoke(ctx, run, step, prompt)
		if err == nil {
			run.finishStep(step.ID, StepSucceeded, output, nil, attempt)
			e.sink.Emit(newEvent(run.RunID, step.ID, EventStepSucceeded, map[string]any{"attempts": attempt}))
			e.logger.Debug("step succeeded",
				zap.String("run_id", run.RunID),
				zap.String("step_id", step.ID),
				zap.Int("attempts", attempt),
			)
			res, _ := run.stepResult(step.ID)
			return res
		}

		lastErr = types.AsError(err, types.ErrStepExecution)
		e.logger.Warn("step attempt failed",
			zap.String("run_id", run.RunID),
			zap.String("step_id", step.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < step.RetryMaxAttempts {
			e.sink.Emit(newEvent(run.RunID, step.ID, EventStepRetrying, map[string]any{
				"attempt":    attempt,
				"backoff_ms": step.RetryBackoff.Milliseconds(),
			}))
			// Backoff is fixed per attempt, not exponential.
			if step.RetryBackoff > 0 {
				if err := e.sleep(ctx, step.RetryBackoff); err != nil {
					break
				}
			}
		}
	}

	run.finishStep(step.ID, StepFailed, "", lastErr, stepAttempts(run, step.ID))
	e.sink.Emit(newEvent(run.RunID, step.ID, EventStepFailed, map[string]any{"error": lastErr.Error()}))
	res, _ := run.stepResult(step.ID)
	return res
}

func stepAttempts(run *RunState, stepID string) int {
	if res, ok := run.stepResult(stepID); ok {
		return res.Attempts
	}
	return 0
}

// awaitApproval suspends the step until the gate decides. The bool result
// is true when the step reached a terminal state here (denial or gate
// error); false means approval was granted and execution continues.
func (e *stepExecutor) awaitApproval(ctx context.Context, run *RunState, step *Step, prompt string) (StepResult, bool) {
	run.transition(step.ID, StepAwaitingApproval)
	e.sink.Emit(newEvent(run.RunID, step.ID, EventStepAwaitingApproval, nil))

	preview := prompt
	if len(preview) > promptPreviewLimit {
		preview = preview[:promptPreviewLimit]
	}
	req := ApprovalRequest{
		RunID:         run.RunID,
		Workflow:      run.Recipe.Name,
		StepID:        step.ID,
		PromptPreview: preview,
	}

	// Give the execution slot back while suspended so the scheduler can
	// keep launching other ready steps.
	if e.slots != nil {
		e.slots.Release(1)
	}
	approved, err := e.awaitGate(ctx, req)
	if e.slots != nil {
		if acquireErr := e.slots.Acquire(ctx, 1); acquireErr != nil {
			run.finishStep(step.ID, StepCancelled, "", types.NewError(types.ErrRunCancelled, "run cancelled while awaiting slot"), 0)
			e.sink.Emit(newEvent(run.RunID, step.ID, EventStepCancelled, nil))
			res, _ := run.stepResult(step.ID)
			return res, true
		}
	}

	if err != nil {
		stepErr := types.AsError(err, types.ErrApprovalDenied)
		run.finishStep(step.ID, StepFailed, "", stepErr, 0)
		e.sink.Emit(newEvent(run.RunID, step.ID, EventStepFailed, map[string]any{"error": stepErr.Error()}))
		res, _ := run.stepResult(step.ID)
		return res, true
	}
	if !approved {
		stepErr := types.NewError(types.ErrApprovalDenied, "approval denied")
		run.finishStep(step.ID, StepFailed, "", stepErr, 0)
		e.sink.Emit(newEvent(run.RunID, step.ID, EventStepApprovalResolved, map[string]any{"approved": false}))
		e.sink.Emit(newEvent(run.RunID, step.ID, EventStepFailed, map[string]any{"error": stepErr.Error()}))
		res, _ := run.stepResult(step.ID)
		return res, true
	}

	e.sink.Emit(newEvent(run.RunID, step.ID, EventStepApprovalResolved, map[string]any{"approved": true}))
	return StepResult{}, false
}

func (e *stepExecutor) awaitGate(ctx context.Context, req ApprovalRequest) (bool, error) {
	if e.gate == nil {
		return true, nil
	}
	return e.gate.Await(ctx, req)
}

func (e *stepExecutor) invoke(ctx context.Context, run *RunState, step *Step, prompt string) (string, error) {
	output, err := e.invoker.Invoke(ctx, InvokeRequest{
		Workflow:   run.Recipe.Name,
		RunID:      run.RunID,
		StepID:     step.ID,
		SessionKey: "workflow:" + run.Recipe.Name + ":" + step.ID,
		Prompt:     prompt,
	})
	if err != nil {
		return "", err
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return "", types.NewError(types.ErrStepExecution, "agent returned empty output").WithRetryable(true)
	}
	return output, nil
}
