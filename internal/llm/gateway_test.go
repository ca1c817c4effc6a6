package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nikhilbhutani/jawn/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	mu        sync.Mutex
	calls     int
	failFirst int
	err       error
	streamErr error
	chunks    []StreamChunk
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return []string{f.name + "-small", f.name + "-large"} }

func (f *fakeProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil || f.calls <= f.failFirst {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("transient")
	}
	return &ChatResponse{Provider: f.name, Model: req.Model, Content: "ok"}, nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func testGateway(cfg config.LLMConfig, providers ...Provider) *gateway {
	g := newGateway(cfg, providers...)
	g.backoff = func(int) time.Duration { return time.Millisecond }
	return g
}

func TestGateway_ProviderNotConfigured(t *testing.T) {
	g := testGateway(config.LLMConfig{DefaultProvider: "openai"})

	_, err := g.Chat(context.Background(), ChatRequest{Model: "gpt-4o"})
	assert.EqualError(t, err, `provider "openai" not configured`)

	_, err = g.ChatStream(context.Background(), ChatRequest{Provider: "nope"})
	assert.EqualError(t, err, `provider "nope" not configured`)
}

func TestGateway_ChatRetries(t *testing.T) {
	p := &fakeProvider{name: "openai", failFirst: 2}
	g := testGateway(config.LLMConfig{DefaultProvider: "openai", MaxRetries: 2}, p)

	resp, err := g.Chat(context.Background(), ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, p.calls)
}

func TestGateway_ChatFallsBack(t *testing.T) {
	primary := &fakeProvider{name: "openai", err: errors.New("down")}
	fallback := &fakeProvider{name: "anthropic"}
	g := testGateway(config.LLMConfig{DefaultProvider: "openai", FallbackProvider: "anthropic", MaxRetries: 1}, primary, fallback)

	resp, err := g.Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, 2, primary.calls)
}

func TestGateway_ChatDoesNotRetryCancellation(t *testing.T) {
	p := &fakeProvider{name: "openai", err: context.Canceled}
	g := testGateway(config.LLMConfig{DefaultProvider: "openai", MaxRetries: 3}, p)

	_, err := g.Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}

func TestGateway_ChatStream(t *testing.T) {
	p := &fakeProvider{name: "ollama", chunks: []StreamChunk{{Content: "a"}, {Content: "b"}, {Done: true}}}
	g := testGateway(config.LLMConfig{DefaultProvider: "openai"}, p)

	ch, err := g.ChatStream(context.Background(), ChatRequest{Provider: "ollama"})
	require.NoError(t, err)

	var got string
	for c := range ch {
		got += c.Content
	}
	assert.Equal(t, "ab", got)
}

func TestGateway_ChatStreamFallsBackOnOpen(t *testing.T) {
	primary := &fakeProvider{name: "openai", streamErr: errors.New("401")}
	fallback := &fakeProvider{name: "ollama", chunks: []StreamChunk{{Content: "local"}}}
	g := testGateway(config.LLMConfig{DefaultProvider: "openai", FallbackProvider: "ollama"}, primary, fallback)

	ch, err := g.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)
	c := <-ch
	assert.Equal(t, "local", c.Content)
}

func TestGateway_ListModelsSorted(t *testing.T) {
	g := testGateway(config.LLMConfig{}, &fakeProvider{name: "openai"}, &fakeProvider{name: "anthropic"})

	assert.Equal(t, []ModelInfo{
		{Provider: "anthropic", Model: "anthropic-large"},
		{Provider: "anthropic", Model: "anthropic-small"},
		{Provider: "openai", Model: "openai-large"},
		{Provider: "openai", Model: "openai-small"},
	}, g.ListModels())
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.03+0.06, CalculateCost("gpt-4", 1000, 1000), 1e-9)
	assert.Zero(t, CalculateCost("llama3", 1000, 1000))
}
