package session

import (
	"context"

	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/nikhilbhutani/jawn/internal/metrics"
)

// GatewayExecutor runs prompt sessions against the LLM gateway.
type GatewayExecutor struct {
	gw              llm.Gateway
	defaultProvider string
	defaultModel    string
}

func NewGatewayExecutor(gw llm.Gateway, defaultProvider, defaultModel string) *GatewayExecutor {
	return &GatewayExecutor{gw: gw, defaultProvider: defaultProvider, defaultModel: defaultModel}
}

func (e *GatewayExecutor) GenerateStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if req.Provider == "" {
		req.Provider = e.defaultProvider
	}
	if req.Model == "" {
		req.Model = e.defaultModel
	}

	upstream, err := e.gw.ChatStream(ctx, req)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(req.Provider, "error").Inc()
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		status := "ok"
		defer func() { metrics.LLMRequestsTotal.WithLabelValues(req.Provider, status).Inc() }()

		for chunk := range upstream {
			if chunk.Error != nil {
				status = "error"
			}
			if chunk.InputTokens > 0 {
				metrics.LLMTokensTotal.WithLabelValues(req.Provider, "input").Add(float64(chunk.InputTokens))
			}
			if chunk.OutputTokens > 0 {
				metrics.LLMTokensTotal.WithLabelValues(req.Provider, "output").Add(float64(chunk.OutputTokens))
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				status = "cancelled"
				return
			}
		}
	}()
	return out, nil
}
