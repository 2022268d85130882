package workflow

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/miniclaw/miniclaw/types"
)

// ResultStore archives terminal run results. Implemented by the store
// package; a nil store keeps results in memory only.
type ResultStore interface {
	SaveResult(ctx context.Context, result *RunResult) error
}

// Runner owns workflow run lifecycles end to end: it selects the linear or
// DAG scheduler per recipe mode, drives it to completion, and serves
// status, cancellation, and final results. Runs are isolated; they share
// nothing beyond the read-only recipe definitions.
type Runner struct {
	invoker Invoker
	gate    ApprovalGate
	sink    EventSink
	store   ResultStore
	logger  *zap.Logger

	mu   sync.Mutex
	runs map[string]*RunState
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithApprovalGate installs the approval collaborator. Without one, every
// approval-gated step proceeds immediately.
func WithApprovalGate(gate ApprovalGate) RunnerOption {
	return func(r *Runner) { r.gate = gate }
}

// WithEventSink installs the observability sink.
func WithEventSink(sink EventSink) RunnerOption {
	return func(r *Runner) { r.sink = sink }
}

// WithResultStore installs the archival store for terminal run results.
func WithResultStore(store ResultStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner around the given step-execution callback.
func NewRunner(invoker Invoker, opts ...RunnerOption) *Runner {
	r := &Runner{
		invoker: invoker,
		sink:    NopSink(),
		logger:  zap.NewNop(),
		runs:    make(map[string]*RunState),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "workflow_runner"))
	return r
}

// newRunID returns ids of the form wf_<12 hex chars>.
func newRunID() string {
	return "wf_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Submit starts a run asynchronously and returns its run id immediately.
// The terminal result is retrievable via Status or Wait.
func (r *Runner) Submit(ctx context.Context, recipe *Recipe, vars map[string]string) (string, error) {
	if recipe == nil {
		return "", types.NewError(types.ErrRecipeInvalid, "recipe is nil")
	}
	run := newRunState(newRunID(), recipe, vars)
	r.mu.Lock()
	r.runs[run.RunID] = run
	r.mu.Unlock()

	go r.drive(ctx, run)
	return run.RunID, nil
}

// Run executes a recipe synchronously and returns the final report.
func (r *Runner) Run(ctx context.Context, recipe *Recipe, vars map[string]string) (*RunResult, error) {
	runID, err := r.Submit(ctx, recipe, vars)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx, runID)
}

// drive supervises one run to its terminal status.
func (r *Runner) drive(ctx context.Context, run *RunState) {
	defer close(run.done)

	run.setStatus(RunRunning)
	r.sink.Emit(newEvent(run.RunID, "", EventRunStarted, map[string]any{
		"recipe": run.Recipe.Name,
		"mode":   string(run.Recipe.Mode),
	}))
	r.logger.Info("run started",
		zap.String("run_id", run.RunID),
		zap.String("recipe", run.Recipe.Name),
		zap.String("mode", string(run.Recipe.Mode)),
	)

	if run.Recipe.Mode == ModeDAG {
		slots := semaphore.NewWeighted(int64(run.Recipe.MaxParallel))
		exec := newStepExecutor(r.invoker, r.gate, r.sink, r.logger, slots)
		runDAG(ctx, run, exec, r.logger, slots)
	} else {
		exec := newStepExecutor(r.invoker, r.gate, r.sink, r.logger, nil)
		runLinear(ctx, run, exec, r.logger)
	}

	status := r.finalStatus(run)
	run.setStatus(status)
	result := run.snapshot()

	r.sink.Emit(newEvent(run.RunID, "", runEventFor(status), map[string]any{
		"duration_ms": result.Duration.Milliseconds(),
	}))
	r.logger.Info("run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(status)),
		zap.Duration("duration", result.Duration),
	)

	if r.store != nil {
		// Archive even when the run's context died; the result is
		// terminal either way.
		if err := r.store.SaveResult(context.WithoutCancel(ctx), result); err != nil {
			r.logger.Warn("archiving run result failed",
				zap.String("run_id", run.RunID),
				zap.Error(err),
			)
		}
	}
}

func (r *Runner) finalStatus(run *RunState) RunStatus {
	if run.cancelRequested() {
		return RunCancelled
	}
	if run.anyFailed() {
		return RunFailed
	}
	return RunCompleted
}

func runEventFor(status RunStatus) EventType {
	switch status {
	case RunFailed:
		return EventRunFailed
	case RunCancelled:
		return EventRunCancelled
	default:
		return EventRunCompleted
	}
}

// Status returns the current report for a run. The report includes
// non-terminal step statuses while the run is in flight.
func (r *Runner) Status(runID string) (*RunResult, bool) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return run.snapshot(), true
}

// Cancel requests cooperative cancellation: no new steps launch, in-flight
// steps run to their own terminal state, and the run finalizes as
// cancelled. Returns false when the run is unknown or already terminal.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	run, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return run.requestCancel()
}

// Wait blocks until the run reaches a terminal status or ctx expires.
func (r *Runner) Wait(ctx context.Context, runID string) (*RunResult, error) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil, types.Errorf(types.ErrInternalError, "unknown run %q", runID)
	}
	select {
	case <-run.Done():
		return run.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Runs lists the ids of runs known to this runner.
func (r *Runner) Runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}
