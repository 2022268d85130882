package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/types"
)

// Failover tries providers in order, moving to the next one when a call
// fails with a retryable error. Non-retryable errors (bad request, auth)
// surface immediately since every provider would reject them the same way.
type Failover struct {
	providers []Provider
	logger    *zap.Logger
}

// NewFailover builds a failover chain. The first provider is primary.
func NewFailover(logger *zap.Logger, providers ...Provider) *Failover {
	return &Failover{
		providers: providers,
		logger:    logger.With(zap.String("component", "llm_failover")),
	}
}

// Name implements Provider.
func (f *Failover) Name() string {
	if len(f.providers) > 0 {
		return f.providers[0].Name()
	}
	return "failover"
}

// Completion implements Provider.
func (f *Failover) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if len(f.providers) == 0 {
		return nil, types.NewError(types.ErrProviderUnavailable, "no providers configured")
	}

	var lastErr error
	for _, p := range f.providers {
		resp, err := p.Completion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !types.IsRetryable(err) {
			return nil, err
		}
		f.logger.Warn("provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
	}
	return nil, lastErr
}
