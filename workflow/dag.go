package workflow

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/miniclaw/miniclaw/types"
)

// stepOutcome is the completion message a worker sends back to the
// scheduler loop.
type stepOutcome struct {
	step   *Step
	result StepResult
}

// dagScheduler resolves a recipe's dependency graph and runs independent
// steps concurrently, bounded by the recipe's max_parallel. Scheduling is
// a single loop exchanging launch and completion messages with worker
// goroutines; the loop alone mutates scheduler state.
type dagScheduler struct {
	run    *RunState
	exec   *stepExecutor
	logger *zap.Logger

	slots       *semaphore.Weighted
	pending     map[string]bool
	running     int
	stop        bool
	completions chan stepOutcome
}

func newDAGScheduler(run *RunState, exec *stepExecutor, logger *zap.Logger, slots *semaphore.Weighted) *dagScheduler {
	pending := make(map[string]bool, len(run.Recipe.Steps))
	for _, step := range run.Recipe.Steps {
		pending[step.ID] = true
	}
	return &dagScheduler{
		run:         run,
		exec:        exec,
		logger:      logger.With(zap.String("component", "dag_scheduler")),
		slots:       slots,
		pending:     pending,
		completions: make(chan stepOutcome, len(run.Recipe.Steps)),
	}
}

// runDAG drives the graph to quiescence: no steps pending or running.
func runDAG(ctx context.Context, run *RunState, exec *stepExecutor, logger *zap.Logger, slots *semaphore.Weighted) {
	newDAGScheduler(run, exec, logger, slots).schedule(ctx)
}

func (s *dagScheduler) schedule(ctx context.Context) {
	for {
		// A dead context means no further step can launch; fold it
		// into cancellation so the run still reaches a terminal
		// status instead of spinning on failed slot acquisitions.
		if ctx.Err() != nil {
			s.run.requestCancel()
		}
		s.drainCompletions()
		s.cascadeSkips()

		if !s.stopRequested() {
			s.launchReady(ctx)
		}

		if s.running == 0 {
			s.cascadeSkips()
			if len(s.pending) == 0 {
				return
			}
			if s.stopRequested() {
				s.finalizePending()
				return
			}
			if len(s.readySteps()) == 0 {
				// Validated recipes cannot reach this state; guard
				// against it rather than spinning.
				s.markPending(StepSkipped, types.NewError(types.ErrDependencyFailed, "unresolved dependencies"))
				return
			}
			continue
		}

		// Block until at least one running step finishes.
		s.handleOutcome(<-s.completions)
	}
}

// readySteps returns pending steps whose dependencies have all succeeded,
// in declaration order. Ties for available slots resolve by that order.
func (s *dagScheduler) readySteps() []*Step {
	var ready []*Step
	for _, step := range s.run.Recipe.Steps {
		if !s.pending[step.ID] {
			continue
		}
		eligible := true
		for _, dep := range step.DependsOn {
			res, ok := s.run.stepResult(dep)
			if !ok || res.Status != StepSucceeded {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, step)
		}
	}
	return ready
}

func (s *dagScheduler) launchReady(ctx context.Context) {
	for _, step := range s.readySteps() {
		if s.stopRequested() {
			return
		}
		// Acquire may block while all slots are busy; completions
		// buffer in the channel until the loop drains them.
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}
		// A step may have finished with on_failure=stop while we
		// waited for a slot; honor it before launching anything new.
		s.drainCompletions()
		if s.stopRequested() {
			s.slots.Release(1)
			return
		}
		s.launch(ctx, step)
	}
}

func (s *dagScheduler) launch(ctx context.Context, step *Step) {
	delete(s.pending, step.ID)
	s.running++
	s.logger.Debug("launching step",
		zap.String("run_id", s.run.RunID),
		zap.String("step_id", step.ID),
	)
	go func() {
		result := s.exec.execute(ctx, s.run, step)
		// Queue the outcome before releasing the slot: a launch that
		// wins the freed slot must be able to observe this completion
		// first, or a stop policy could be missed.
		s.completions <- stepOutcome{step: step, result: result}
		s.slots.Release(1)
	}()
}

func (s *dagScheduler) drainCompletions() {
	for {
		select {
		case outcome := <-s.completions:
			s.handleOutcome(outcome)
		default:
			return
		}
	}
}

func (s *dagScheduler) handleOutcome(outcome stepOutcome) {
	s.running--
	if outcome.result.Status == StepFailed && outcome.step.OnFailure == OnFailureStop {
		s.logger.Info("halting new step launches after failure",
			zap.String("run_id", s.run.RunID),
			zap.String("step_id", outcome.step.ID),
		)
		s.stop = true
	}
}

func (s *dagScheduler) stopRequested() bool {
	return s.stop || s.run.cancelRequested()
}

// cascadeSkips marks every pending step with a failed, skipped, or
// cancelled dependency as skipped. Repeats until a fixpoint so the
// propagation crosses multi-hop dependency chains.
func (s *dagScheduler) cascadeSkips() {
	for changed := true; changed; {
		changed = false
		for _, step := range s.run.Recipe.Steps {
			if !s.pending[step.ID] {
				continue
			}
			for _, dep := range step.DependsOn {
				res, ok := s.run.stepResult(dep)
				if !ok || !res.Status.Terminal() || res.Status == StepSucceeded {
					continue
				}
				delete(s.pending, step.ID)
				err := types.Errorf(types.ErrDependencyFailed, "dependency %q did not succeed", dep)
				s.run.finishStep(step.ID, StepSkipped, "", err, 0)
				s.exec.sink.Emit(newEvent(s.run.RunID, step.ID, EventStepSkipped, map[string]any{
					"reason":     string(types.ErrDependencyFailed),
					"dependency": dep,
				}))
				changed = true
				break
			}
		}
	}
}

// finalizePending resolves steps that will never launch because the run
// stopped or was cancelled.
func (s *dagScheduler) finalizePending() {
	if s.run.cancelRequested() {
		s.markPending(StepCancelled, types.NewError(types.ErrRunCancelled, "run cancelled"))
		return
	}
	s.markPending(StepSkipped, types.NewError(types.ErrWorkflowStopped, "workflow stopped after step failure"))
}

func (s *dagScheduler) markPending(status StepStatus, stepErr *types.Error) {
	for _, step := range s.run.Recipe.Steps {
		if !s.pending[step.ID] {
			continue
		}
		delete(s.pending, step.ID)
		s.run.finishStep(step.ID, status, "", stepErr, 0)
		eventType := EventStepSkipped
		if status == StepCancelled {
			eventType = EventStepCancelled
		}
		s.exec.sink.Emit(newEvent(s.run.RunID, step.ID, eventType, map[string]any{"reason": string(stepErr.Code)}))
	}
}
