// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/workflow"
)

// Collector owns the runtime's Prometheus instruments.
type Collector struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	activeRuns   prometheus.Gauge

	stepAttempts  *prometheus.CounterVec
	stepsFinished *prometheus.CounterVec

	llmRequests   *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	llmTokensUsed *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the runtime's instruments on reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsStarted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_runs_started_total",
		Help:      "Total number of workflow runs started",
	})
	c.runsFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_finished_total",
			Help:      "Total number of workflow runs finished, by terminal status",
		},
		[]string{"status"},
	)
	c.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workflow_runs_active",
		Help:      "Number of workflow runs currently in flight",
	})

	c.stepAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_attempts_total",
			Help:      "Total number of step attempts, including retries",
		},
		[]string{"recipe"},
	)
	c.stepsFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_finished_total",
			Help:      "Total number of steps reaching a terminal status",
		},
		[]string{"status"},
	)

	c.llmRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)
	c.llmDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"},
	)

	return c
}

// RecordLLMRequest records one provider call.
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration) {
	c.llmRequests.WithLabelValues(provider, model, status).Inc()
	c.llmDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordTokens records token consumption for one completion.
func (c *Collector) RecordTokens(model string, promptTokens, completionTokens int) {
	c.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// EventSink returns a workflow.EventSink that feeds the workflow
// instruments. The recipe name rides in on run.started detail.
func (c *Collector) EventSink() workflow.EventSink {
	recipes := newRunRecipeIndex()
	return workflow.SinkFunc(func(e workflow.Event) {
		switch e.Type {
		case workflow.EventRunStarted:
			if name, ok := e.Detail["recipe"].(string); ok {
				recipes.put(e.RunID, name)
			}
			c.runsStarted.Inc()
			c.activeRuns.Inc()
		case workflow.EventRunCompleted, workflow.EventRunFailed, workflow.EventRunCancelled:
			recipes.drop(e.RunID)
			c.runsFinished.WithLabelValues(runStatusLabel(e.Type)).Inc()
			c.activeRuns.Dec()
		case workflow.EventStepStarted, workflow.EventStepRetrying:
			c.stepAttempts.WithLabelValues(recipes.get(e.RunID)).Inc()
		case workflow.EventStepSucceeded:
			c.stepsFinished.WithLabelValues("succeeded").Inc()
		case workflow.EventStepFailed:
			c.stepsFinished.WithLabelValues("failed").Inc()
		case workflow.EventStepSkipped:
			c.stepsFinished.WithLabelValues("skipped").Inc()
		case workflow.EventStepCancelled:
			c.stepsFinished.WithLabelValues("cancelled").Inc()
		}
	})
}

func runStatusLabel(t workflow.EventType) string {
	switch t {
	case workflow.EventRunFailed:
		return "failed"
	case workflow.EventRunCancelled:
		return "cancelled"
	default:
		return "completed"
	}
}
