package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a provider with a client-side request rate bound so
// bursts of workflow steps cannot trip the upstream limiter.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited bounds the provider to requestsPerMinute. A value of 0
// or less returns the provider unwrapped.
func NewRateLimited(inner Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return inner
	}
	limit := rate.Limit(float64(requestsPerMinute) / 60.0)
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name implements Provider.
func (r *RateLimited) Name() string { return r.inner.Name() }

// Completion waits for a rate token, then delegates. Waiting respects
// context cancellation.
func (r *RateLimited) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Completion(ctx, req)
}
