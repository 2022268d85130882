// Package agent hosts the assistant runtime: a thin session-aware layer
// over an llm.Provider that both chat channels and the workflow engine
// call into.
package agent

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/llm"
	"github.com/miniclaw/miniclaw/types"
	"github.com/miniclaw/miniclaw/workflow"
)

// UsageRecorder receives token accounting for each completed call.
type UsageRecorder interface {
	Record(sessionKey, model string, usage types.Usage)
}

// ProcessOptions tune a single ProcessDirect call.
type ProcessOptions struct {
	// SessionKey groups related calls for usage accounting. Empty means
	// the "direct" session.
	SessionKey string
	// Model overrides the runtime's default model.
	Model string
	// SystemPrompt overrides the runtime's default system prompt. An
	// explicit empty override is not possible; use the runtime default.
	SystemPrompt string
}

// Runtime turns raw user content into completions. It owns the default
// model, system prompt and per-call timeout; callers override per call
// through ProcessOptions.
type Runtime struct {
	provider     llm.Provider
	usage        UsageRecorder
	logger       *zap.Logger
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithUsageRecorder attaches token accounting.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(rt *Runtime) { rt.usage = r }
}

// WithSystemPrompt sets the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(rt *Runtime) { rt.systemPrompt = prompt }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(rt *Runtime) { rt.model = model }
}

// WithSampling sets temperature and the completion token cap.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(rt *Runtime) {
		rt.temperature = temperature
		rt.maxTokens = maxTokens
	}
}

// WithTimeout bounds each provider call; 0 disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(rt *Runtime) { rt.timeout = d }
}

// WithLogger sets the runtime logger.
func WithLogger(logger *zap.Logger) Option {
	return func(rt *Runtime) { rt.logger = logger }
}

// NewRuntime creates a runtime over the given provider.
func NewRuntime(provider llm.Provider, opts ...Option) *Runtime {
	rt := &Runtime{
		provider:    provider,
		logger:      zap.NewNop(),
		model:       "gpt-4o-mini",
		temperature: 0.7,
		maxTokens:   4096,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.With(zap.String("component", "agent_runtime"))
	return rt
}

// ProcessDirect sends one piece of content through the provider and
// returns the assistant's text. Empty content is rejected before any
// provider call.
func (rt *Runtime) ProcessDirect(ctx context.Context, content string, opts ProcessOptions) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", types.NewError(types.ErrInvalidRequest, "content is empty")
	}

	if rt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.timeout)
		defer cancel()
	}

	model := opts.Model
	if model == "" {
		model = rt.model
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = rt.systemPrompt
	}
	sessionKey := opts.SessionKey
	if sessionKey == "" {
		sessionKey = "direct"
	}

	messages := make([]types.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, types.Message{Role: types.RoleUser, Content: content})

	started := time.Now()
	resp, err := rt.provider.Completion(ctx, &llm.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: rt.temperature,
		MaxTokens:   rt.maxTokens,
	})
	if err != nil {
		rt.logger.Warn("completion failed",
			zap.String("session", sessionKey),
			zap.String("model", model),
			zap.Error(err))
		return "", err
	}

	rt.logger.Debug("completion ok",
		zap.String("session", sessionKey),
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(started)))

	if rt.usage != nil {
		rt.usage.Record(sessionKey, model, resp.Usage)
	}
	return resp.Content, nil
}

// Invoke implements workflow.Invoker, making the runtime the execution
// backend for recipe steps.
func (rt *Runtime) Invoke(ctx context.Context, req workflow.InvokeRequest) (string, error) {
	return rt.ProcessDirect(ctx, req.Prompt, ProcessOptions{
		SessionKey: req.SessionKey,
		Model:      req.Model,
	})
}
