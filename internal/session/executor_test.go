package session

import (
	"context"
	"errors"
	"testing"

	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeGateway struct {
	got    llm.ChatRequest
	chunks []llm.StreamChunk
	err    error
}

func (g *fakeGateway) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) ChatStream(_ context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	g.got = req
	if g.err != nil {
		return nil, g.err
	}
	ch := make(chan llm.StreamChunk, len(g.chunks))
	for _, c := range g.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (g *fakeGateway) Provider(string) (llm.Provider, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) ListModels() []llm.ModelInfo {
	return nil
}

func TestGatewayExecutor_AppliesDefaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	gw := &fakeGateway{chunks: []llm.StreamChunk{{Content: "a"}, {Done: true, OutputTokens: 1}}}
	exec := NewGatewayExecutor(gw, "openai", "gpt-4o-mini")

	ch, err := exec.GenerateStream(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	var got []llm.StreamChunk
	for c := range ch {
		got = append(got, c)
	}

	assert.Equal(t, "openai", gw.got.Provider)
	assert.Equal(t, "gpt-4o-mini", gw.got.Model)
	assert.Equal(t, gw.chunks, got)
}

func TestGatewayExecutor_OpenError(t *testing.T) {
	gw := &fakeGateway{err: errors.New(`provider "x" not configured`)}
	_, err := NewGatewayExecutor(gw, "x", "m").GenerateStream(context.Background(), llm.ChatRequest{})
	assert.EqualError(t, err, `provider "x" not configured`)
}

func TestGatewayExecutor_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	gw := &fakeGateway{chunks: []llm.StreamChunk{{Content: "a"}, {Content: "b"}}}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewGatewayExecutor(gw, "openai", "m").GenerateStream(ctx, llm.ChatRequest{})
	require.NoError(t, err)
	cancel()
	for range ch {
	}
}
