// Package llm abstracts chat-completion providers behind a single
// interface plus composable wrappers for rate limiting and failover.
package llm

import (
	"context"

	"github.com/miniclaw/miniclaw/types"
)

// ChatRequest is one completion call.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// ChatResponse is a provider's completion answer.
type ChatResponse struct {
	Content string      `json:"content"`
	Model   string      `json:"model"`
	Usage   types.Usage `json:"usage"`
}

// Provider executes chat completions. Implementations map their
// transport's failures onto types.Error codes so callers can tell
// retryable conditions apart.
type Provider interface {
	Name() string
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
