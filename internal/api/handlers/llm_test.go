package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	resp    *llm.ChatResponse
	err     error
	chunks  []llm.StreamChunk
	lastReq llm.ChatRequest
}

func (g *stubGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.lastReq = req
	return g.resp, g.err
}

func (g *stubGateway) ChatStream(_ context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	g.lastReq = req
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

func (g *stubGateway) Provider(name string) (llm.Provider, error) {
	return nil, errors.New("unknown provider " + name)
}

func (g *stubGateway) ListModels() []llm.ModelInfo {
	return []llm.ModelInfo{{Provider: "openai", Model: "gpt-4o"}}
}

func TestLLMHandler_Chat(t *testing.T) {
	gw := &stubGateway{resp: &llm.ChatResponse{Content: "hi", Provider: "openai"}}
	h := NewLLMHandler(gw)

	w := do(t, http.HandlerFunc(h.Chat), http.MethodPost, "/v1/llm/chat", `{"messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", decodeBody(t, w)["content"])
	assert.Equal(t, "hello", gw.lastReq.Messages[0].Content)
}

func TestLLMHandler_ChatErrors(t *testing.T) {
	h := NewLLMHandler(&stubGateway{err: errors.New("upstream down")})

	assert.Equal(t, http.StatusBadRequest, do(t, http.HandlerFunc(h.Chat), http.MethodPost, "/", `{"messages":[]}`).Code)
	w := do(t, http.HandlerFunc(h.Chat), http.MethodPost, "/", `{"messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "upstream down", decodeBody(t, w)["error"])
}

func TestLLMHandler_ChatStream(t *testing.T) {
	gw := &stubGateway{chunks: []llm.StreamChunk{{Content: "a"}, {Content: "b"}, {Done: true}}}
	h := NewLLMHandler(gw)

	w := do(t, http.HandlerFunc(h.ChatStream), http.MethodPost, "/", `{"messages":[{"role":"user","content":"x"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, 3, strings.Count(w.Body.String(), "data: "))
}

func TestLLMHandler_ChatStreamError(t *testing.T) {
	gw := &stubGateway{chunks: []llm.StreamChunk{{Content: "a"}, {Error: errors.New("boom")}}}
	h := NewLLMHandler(gw)

	w := do(t, http.HandlerFunc(h.ChatStream), http.MethodPost, "/", `{"messages":[{"role":"user","content":"x"}]}`)

	assert.Contains(t, w.Body.String(), "event: error\ndata: {\"error\":\"boom\"}")
}

func TestLLMHandler_Models(t *testing.T) {
	h := NewLLMHandler(&stubGateway{})
	w := do(t, http.HandlerFunc(h.Models), http.MethodGet, "/", "")
	assert.JSONEq(t, `{"models":[{"provider":"openai","model":"gpt-4o"}]}`, w.Body.String())
}
