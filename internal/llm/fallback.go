package llm

import (
	"context"

	"github.com/tau-run/tau/internal/agent"
	tmodels "github.com/tau-run/tau/internal/models"
)

// ClientBuilder resolves a ready-to-use agent.LlmClient for one
// provider/model pair, including that provider's own credential
// lookup. Built by the caller, which knows how to resolve a
// provider-keyed credential from its store.
type ClientBuilder func(provider, model string) (agent.LlmClient, error)

// FallbackClient wraps a primary provider/model with an ordered list of
// "provider/model" candidates to retry against when the primary call
// fails, using internal/models.RunWithModelFallback, grounded directly
// on the teacher's own multi-provider failover helper
// (internal/models/fallback.go).
type FallbackClient struct {
	config *tmodels.FallbackConfig
	build  ClientBuilder
}

// NewFallbackClient builds a FallbackClient. fallbacks is a list of
// "provider/model" strings tried in order after primaryProvider/
// primaryModel fails; an empty list makes FallbackClient behave like a
// plain call to build(primaryProvider, primaryModel).
func NewFallbackClient(primaryProvider, primaryModel string, fallbacks []string, build ClientBuilder) *FallbackClient {
	return &FallbackClient{
		config: &tmodels.FallbackConfig{
			PrimaryProvider: primaryProvider,
			PrimaryModel:    primaryModel,
			Fallbacks:       fallbacks,
		},
		build: build,
	}
}

// CompleteWithStream tries the primary provider/model first, then each
// configured fallback in order, stopping at the first call that
// succeeds or the first error RunWithModelFallback classifies as
// non-retryable (see internal/models.IsAbortError).
func (c *FallbackClient) CompleteWithStream(ctx context.Context, req agent.ChatRequest, onDelta agent.DeltaHandler) (agent.ChatResponse, error) {
	result, err := tmodels.RunWithModelFallback(ctx, c.config, func(ctx context.Context, provider, model string) (agent.ChatResponse, error) {
		client, err := c.build(provider, model)
		if err != nil {
			return agent.ChatResponse{}, tmodels.NewFailoverError(err, provider, model, "client_build_failed")
		}
		candidateReq := req
		candidateReq.Model = model
		return client.CompleteWithStream(ctx, candidateReq, onDelta)
	}, nil)
	if err != nil {
		return agent.ChatResponse{}, err
	}
	return result.Result, nil
}
