// Package providers contains HTTP adapters for concrete LLM backends.
package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/miniclaw/miniclaw/llm"
	"github.com/miniclaw/miniclaw/types"
)

// OpenAICompatible talks to any endpoint implementing the OpenAI chat
// completions API shape, which covers OpenAI itself plus most local and
// proxy gateways.
type OpenAICompatible struct {
	name   string
	model  string
	client *resty.Client
}

// OpenAIOption configures the adapter.
type OpenAIOption func(*OpenAICompatible)

// WithHTTPTimeout overrides the request timeout.
func WithHTTPTimeout(d time.Duration) OpenAIOption {
	return func(p *OpenAICompatible) { p.client.SetTimeout(d) }
}

// NewOpenAICompatible creates an adapter for the given endpoint. The
// default model applies when a request carries none.
func NewOpenAICompatible(name, baseURL, apiKey, model string, opts ...OpenAIOption) *OpenAICompatible {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(90*time.Second).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	p := &OpenAICompatible{name: name, model: model, client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements llm.Provider.
func (p *OpenAICompatible) Name() string { return p.name }

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion implements llm.Provider.
func (p *OpenAICompatible) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var out chatCompletionResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(chatCompletionRequest{
			Model:       model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "completion request failed").
			WithCause(err).WithRetryable(true).WithProvider(p.name)
	}

	if resp.IsError() {
		return nil, p.statusError(resp.StatusCode(), &out)
	}
	if len(out.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "completion returned no choices").
			WithRetryable(true).WithProvider(p.name)
	}

	return &llm.ChatResponse{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Usage: types.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAICompatible) statusError(status int, out *chatCompletionResponse) *types.Error {
	message := "upstream error"
	if out.Error != nil && out.Error.Message != "" {
		message = out.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, message).WithRetryable(true).WithProvider(p.name)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrAuthentication, message).WithProvider(p.name)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, message).WithRetryable(true).WithProvider(p.name)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, message).WithRetryable(true).WithProvider(p.name)
	default:
		return types.NewError(types.ErrInvalidRequest, message).WithProvider(p.name)
	}
}
