// Package bus holds in-process coordination surfaces between the engine
// and the outside world. Approvals is the registry behind approval-gated
// workflow steps: the engine suspends on Await, a human resolves through
// the API or a chat channel.
package bus

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/types"
	"github.com/miniclaw/miniclaw/workflow"
)

// PendingApproval is one suspended step awaiting a decision.
type PendingApproval struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	Workflow      string    `json:"workflow"`
	StepID        string    `json:"step_id"`
	PromptPreview string    `json:"prompt_preview"`
	CreatedAt     time.Time `json:"created_at"`
}

type pendingEntry struct {
	approval PendingApproval
	decision chan bool
}

// Approvals implements workflow.ApprovalGate over an in-memory registry
// of pending decisions. Suspension is unbounded unless a timeout is set;
// a timed-out request resolves as denied.
type Approvals struct {
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// ApprovalsOption configures the registry.
type ApprovalsOption func(*Approvals)

// WithTimeout bounds how long a request stays pending; 0 waits forever.
func WithTimeout(d time.Duration) ApprovalsOption {
	return func(a *Approvals) { a.timeout = d }
}

// NewApprovals creates an empty registry.
func NewApprovals(logger *zap.Logger, opts ...ApprovalsOption) *Approvals {
	a := &Approvals{
		logger:  logger.With(zap.String("component", "approvals")),
		pending: make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func newApprovalID() string {
	return "ap_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Await implements workflow.ApprovalGate. It registers the request and
// blocks until Resolve, the optional timeout, or ctx.
func (a *Approvals) Await(ctx context.Context, req workflow.ApprovalRequest) (bool, error) {
	entry := &pendingEntry{
		approval: PendingApproval{
			ID:            newApprovalID(),
			RunID:         req.RunID,
			Workflow:      req.Workflow,
			StepID:        req.StepID,
			PromptPreview: req.PromptPreview,
			CreatedAt:     time.Now(),
		},
		decision: make(chan bool, 1),
	}

	a.mu.Lock()
	a.pending[entry.approval.ID] = entry
	a.mu.Unlock()
	defer a.remove(entry.approval.ID)

	a.logger.Info("approval requested",
		zap.String("approval_id", entry.approval.ID),
		zap.String("run_id", req.RunID),
		zap.String("step_id", req.StepID),
	)

	var expired <-chan time.Time
	if a.timeout > 0 {
		timer := time.NewTimer(a.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case approved := <-entry.decision:
		return approved, nil
	case <-expired:
		a.logger.Warn("approval timed out",
			zap.String("approval_id", entry.approval.ID),
			zap.String("step_id", req.StepID),
		)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (a *Approvals) remove(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

// Resolve delivers a decision for a pending approval.
func (a *Approvals) Resolve(id string, approved bool) error {
	a.mu.Lock()
	entry, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok {
		return types.Errorf(types.ErrInvalidRequest, "no pending approval %q", id)
	}
	entry.decision <- approved
	a.logger.Info("approval resolved",
		zap.String("approval_id", id),
		zap.Bool("approved", approved),
	)
	return nil
}

// Pending lists outstanding approvals, oldest first.
func (a *Approvals) Pending() []PendingApproval {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PendingApproval, 0, len(a.pending))
	for _, entry := range a.pending {
		out = append(out, entry.approval)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
