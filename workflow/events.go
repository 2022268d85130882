package workflow

import (
	"time"

	"go.uber.org/zap"
)

// EventType identifies the kind of run or step lifecycle event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunCancelled EventType = "run.cancelled"

	EventStepStarted          EventType = "step.started"
	EventStepRetrying         EventType = "step.retrying"
	EventStepSucceeded        EventType = "step.succeeded"
	EventStepFailed           EventType = "step.failed"
	EventStepSkipped          EventType = "step.skipped"
	EventStepAwaitingApproval EventType = "step.awaiting_approval"
	EventStepApprovalResolved EventType = "step.approval_resolved"
	EventStepCancelled        EventType = "step.cancelled"
)

// Event is one lifecycle transition emitted during a run. StepID is empty
// for run-level events.
type Event struct {
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// EventSink receives lifecycle events for audit and observability consumers.
// Implementations must be safe for concurrent use; steps of a DAG run emit
// from multiple goroutines.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// FanoutSink forwards each event to every sink in order.
type FanoutSink []EventSink

func (s FanoutSink) Emit(e Event) {
	for _, sink := range s {
		sink.Emit(e)
	}
}

// LoggingSink writes events through a zap logger at debug level.
func LoggingSink(logger *zap.Logger) EventSink {
	scoped := logger.With(zap.String("component", "workflow_events"))
	return SinkFunc(func(e Event) {
		scoped.Debug("workflow event",
			zap.String("run_id", e.RunID),
			zap.String("step_id", e.StepID),
			zap.String("type", string(e.Type)),
		)
	})
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// NopSink discards all events.
func NopSink() EventSink { return nopSink{} }

func newEvent(runID, stepID string, typ EventType, detail map[string]any) Event {
	return Event{
		RunID:     runID,
		StepID:    stepID,
		Type:      typ,
		Timestamp: time.Now(),
		Detail:    detail,
	}
}
