package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/types"
)

// runLinear executes steps strictly in declaration order. Template
// rendering before each step sees only outputs of prior completed steps,
// which the ordering guarantees.
func runLinear(ctx context.Context, run *RunState, exec *stepExecutor, logger *zap.Logger) {
	stopped := false
	for _, step := range run.Recipe.Steps {
		if ctx.Err() != nil {
			run.requestCancel()
		}
		if run.cancelRequested() {
			markRemaining(run, exec.sink, step.ID, StepCancelled, types.NewError(types.ErrRunCancelled, "run cancelled"))
			return
		}
		if stopped {
			err := types.Errorf(types.ErrPreviousStepStopped, "a previous step failed with on_failure=stop")
			run.finishStep(step.ID, StepSkipped, "", err, 0)
			exec.sink.Emit(newEvent(run.RunID, step.ID, EventStepSkipped, map[string]any{"reason": string(err.Code)}))
			continue
		}

		result := exec.execute(ctx, run, step)
		if result.Status == StepFailed && step.OnFailure == OnFailureStop {
			logger.Info("linear run stopping on step failure",
				zap.String("run_id", run.RunID),
				zap.String("step_id", step.ID),
			)
			stopped = true
		}
	}
}

// markRemaining finalizes every step from (and including) fromStepID that
// has not already reached a terminal status.
func markRemaining(run *RunState, sink EventSink, fromStepID string, status StepStatus, stepErr *types.Error) {
	seen := false
	for _, step := range run.Recipe.Steps {
		if step.ID == fromStepID {
			seen = true
		}
		if !seen {
			continue
		}
		if res, ok := run.stepResult(step.ID); ok && res.Status.Terminal() {
			continue
		}
		run.finishStep(step.ID, status, "", stepErr, 0)
		eventType := EventStepSkipped
		if status == StepCancelled {
			eventType = EventStepCancelled
		}
		sink.Emit(newEvent(run.RunID, step.ID, eventType, map[string]any{"reason": string(stepErr.Code)}))
	}
}
