package workflow

import (
	"sync"
	"time"

	"github.com/miniclaw/miniclaw/types"
)

// StepStatus is the lifecycle status of one step within a run.
type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepRunning          StepStatus = "running"
	StepSucceeded        StepStatus = "succeeded"
	StepFailed           StepStatus = "failed"
	StepSkipped          StepStatus = "skipped"
	StepAwaitingApproval StepStatus = "awaiting_approval"
	StepCancelled        StepStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// stepStatusRank orders statuses so transitions only move forward. The one
// allowed "backward" move, awaiting_approval to running, is special-cased
// in transition.
func stepStatusRank(s StepStatus) int {
	switch s {
	case StepPending:
		return 0
	case StepRunning:
		return 1
	case StepAwaitingApproval:
		return 2
	case StepSucceeded, StepFailed, StepSkipped, StepCancelled:
		return 3
	}
	return -1
}

// RunStatus is the lifecycle status of a whole run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelling RunStatus = "cancelling"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// StepResult is the per-step outcome within a run.
type StepResult struct {
	StepID   string       `json:"step_id"`
	Status   StepStatus   `json:"status"`
	Output   string       `json:"output,omitempty"`
	Err      *types.Error `json:"error,omitempty"`
	Attempts int          `json:"attempts"`
}

// RunResult is the final report of a run, including every step's terminal
// status in declaration order.
type RunResult struct {
	RunID    string        `json:"run_id"`
	Recipe   string        `json:"recipe"`
	Mode     Mode          `json:"mode"`
	Status   RunStatus     `json:"status"`
	Duration time.Duration `json:"duration"`
	Steps    []StepResult  `json:"steps"`
}

// StepResult returns the result for the given step id, if present.
func (r *RunResult) StepResult(id string) (StepResult, bool) {
	for _, sr := range r.Steps {
		if sr.StepID == id {
			return sr, true
		}
	}
	return StepResult{}, false
}

// RunState holds the mutable state of one run. It is created when a recipe
// execution is submitted and mutated only by the owning scheduler and
// executor; all access to step results goes through its mutex.
type RunState struct {
	RunID  string
	Recipe *Recipe

	mu        sync.Mutex
	vars      map[string]string
	results   map[string]*StepResult
	status    RunStatus
	cancelled bool
	started   time.Time
	finished  time.Time
	done      chan struct{}
}

func newRunState(runID string, recipe *Recipe, vars map[string]string) *RunState {
	scoped := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		scoped[k] = v
	}
	if _, ok := scoped["workflow_name"]; !ok {
		scoped["workflow_name"] = recipe.Name
	}
	return &RunState{
		RunID:   runID,
		Recipe:  recipe,
		vars:    scoped,
		results: make(map[string]*StepResult, len(recipe.Steps)),
		status:  RunPending,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Status returns the current run status.
func (rs *RunState) Status() RunStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.status
}

func (rs *RunState) setStatus(status RunStatus) {
	rs.mu.Lock()
	rs.status = status
	if status.Terminal() && rs.finished.IsZero() {
		rs.finished = time.Now()
	}
	rs.mu.Unlock()
}

// requestCancel flips the run into cancelling unless it is already
// terminal. Returns true when the request took effect.
func (rs *RunState) requestCancel() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.status.Terminal() || rs.cancelled {
		return false
	}
	rs.cancelled = true
	rs.status = RunCancelling
	return true
}

func (rs *RunState) cancelRequested() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.cancelled
}

// templateVars returns a snapshot of the run vars merged with the outputs
// of steps that have succeeded so far, keyed as <step_id>_output.
func (rs *RunState) templateVars() map[string]string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]string, len(rs.vars)+len(rs.results))
	for k, v := range rs.vars {
		out[k] = v
	}
	for id, res := range rs.results {
		if res.Status == StepSucceeded {
			out[id+"_output"] = res.Output
		}
	}
	return out
}

// transition moves a step to the given status, creating the result lazily
// on first touch. Backward transitions are rejected, with the single
// exception of awaiting_approval back to running on approval grant.
func (rs *RunState) transition(stepID string, status StepStatus) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res, ok := rs.results[stepID]
	if !ok {
		res = &StepResult{StepID: stepID, Status: StepPending}
		rs.results[stepID] = res
	}
	if res.Status == StepAwaitingApproval && status == StepRunning {
		res.Status = status
		return true
	}
	if stepStatusRank(status) < stepStatusRank(res.Status) || res.Status.Terminal() {
		return false
	}
	res.Status = status
	return true
}

// finishStep records a step's terminal outcome.
func (rs *RunState) finishStep(stepID string, status StepStatus, output string, stepErr *types.Error, attempts int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res, ok := rs.results[stepID]
	if !ok {
		res = &StepResult{StepID: stepID}
		rs.results[stepID] = res
	}
	if res.Status.Terminal() {
		return
	}
	res.Status = status
	res.Output = output
	res.Err = stepErr
	res.Attempts = attempts
}

func (rs *RunState) setAttempts(stepID string, attempts int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if res, ok := rs.results[stepID]; ok {
		res.Attempts = attempts
	}
}

// stepResult returns a copy of the step's result.
func (rs *RunState) stepResult(stepID string) (StepResult, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res, ok := rs.results[stepID]
	if !ok {
		return StepResult{}, false
	}
	return *res, true
}

// anyFailed reports whether any step ended failed.
func (rs *RunState) anyFailed() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, res := range rs.results {
		if res.Status == StepFailed {
			return true
		}
	}
	return false
}

// snapshot assembles the run report with steps in declaration order.
// Steps that never produced a result are reported as pending.
func (rs *RunState) snapshot() *RunResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	steps := make([]StepResult, 0, len(rs.Recipe.Steps))
	for _, step := range rs.Recipe.Steps {
		if res, ok := rs.results[step.ID]; ok {
			steps = append(steps, *res)
		} else {
			steps = append(steps, StepResult{StepID: step.ID, Status: StepPending})
		}
	}
	end := rs.finished
	if end.IsZero() {
		end = time.Now()
	}
	return &RunResult{
		RunID:    rs.RunID,
		Recipe:   rs.Recipe.Name,
		Mode:     rs.Recipe.Mode,
		Status:   rs.status,
		Duration: end.Sub(rs.started),
		Steps:    steps,
	}
}

// Done is closed once the run reaches a terminal status.
func (rs *RunState) Done() <-chan struct{} { return rs.done }
