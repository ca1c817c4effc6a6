package prompt

import (
	"encoding/json"
	"testing"

	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func rawMessages(t *testing.T, msgs ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		require.True(t, json.Valid([]byte(m)), m)
		out = append(out, json.RawMessage(m))
	}
	return out
}

func TestFromTemplateMessages(t *testing.T) {
	raw := rawMessages(t,
		`{"role":"system","content":"You are helpful."}`,
		`{"role":"user","content":[{"type":"text","text":"Hello "},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"{{name}}"}]}`,
		`"<helicone-auto-prompt-input idx=0 />"`,
		`{"role":"assistant","content":"Hi","idx":3}`,
		`"plain string"`,
	)

	got, err := FromTemplateMessages(raw)
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, StateMessage{Role: "system", Content: "You are helpful."}, got[0])
	assert.Equal(t, StateMessage{Role: "user", Content: "Hello {{name}}"}, got[1])
	assert.Equal(t, StateMessage{Role: "user", Idx: intPtr(0)}, got[2])
	assert.Equal(t, StateMessage{Role: "assistant", Content: "Hi", Idx: intPtr(3)}, got[3])
	assert.Equal(t, StateMessage{Role: "user", Content: "plain string"}, got[4])
}

func TestFromTemplateMessages_Invalid(t *testing.T) {
	_, err := FromTemplateMessages([]json.RawMessage{json.RawMessage(`{"role":"user","content":42}`)})
	assert.ErrorContains(t, err, "decode message 0 content")
}

func TestToTemplateMessages_RoundTrip(t *testing.T) {
	msgs := []StateMessage{
		{Role: "user", Content: "Hello"},
		{Role: "user", Content: "from var", Idx: intPtr(1)},
	}
	raw, err := ToTemplateMessages(msgs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"Hello"}`, string(raw[0]))

	back, err := FromTemplateMessages(raw)
	require.NoError(t, err)
	assert.Equal(t, msgs, back)
}

func TestFillMessages(t *testing.T) {
	msgs := []StateMessage{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Hello {{name}}"},
	}

	got := FillMessages(msgs, SyntaxAll, map[string]string{"name": "World"})

	assert.Equal(t, []llm.Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Hello World"},
	}, got)
}

func TestIsLastMessageUser(t *testing.T) {
	assert.False(t, IsLastMessageUser(nil))
	assert.True(t, IsLastMessageUser([]StateMessage{{Role: "user"}}))
	assert.False(t, IsLastMessageUser([]StateMessage{{Role: "user"}, {Role: "assistant"}}))
}

func TestIsPrefillSupported(t *testing.T) {
	assert.True(t, IsPrefillSupported("anthropic"))
	assert.False(t, IsPrefillSupported("openai"))
	assert.False(t, IsPrefillSupported(""))
}

func roles(msgs []StateMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role+":"+m.Content)
	}
	return out
}

func TestRemoveMessagePair(t *testing.T) {
	msgs := []StateMessage{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
		{Role: "assistant", Content: "prefill"},
	}

	tests := []struct {
		name  string
		index int
		want  []string
	}{
		{"assistant takes following user", 2, []string{"system:s", "user:u1", "assistant:prefill"}},
		{"user takes preceding assistant", 3, []string{"system:s", "user:u1", "assistant:prefill"}},
		{"first user takes following assistant", 1, []string{"system:s", "user:u2", "assistant:prefill"}},
		{"trailing prefill removed alone", 4, []string{"system:s", "user:u1", "assistant:a1", "user:u2"}},
		{"system removed alone", 0, []string{"user:u1", "assistant:a1", "user:u2", "assistant:prefill"}},
		{"out of range is unchanged", 9, roles(msgs)},
		{"negative is unchanged", -1, roles(msgs)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoveMessagePair(msgs, tt.index)
			assert.Equal(t, tt.want, roles(got))
			assert.Len(t, msgs, 5)
		})
	}
}

func TestRemoveMessagePair_KeepsIdx(t *testing.T) {
	msgs := []StateMessage{
		{Role: "user", Content: "a", Idx: intPtr(0)},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c", Idx: intPtr(2)},
	}
	got := RemoveMessagePair(msgs, 1)
	require.Len(t, got, 1)
	assert.Equal(t, 0, *got[0].Idx)
}

func TestKebabCase(t *testing.T) {
	assert.Equal(t, "my-prompt", KebabCase("My Prompt"))
	assert.Equal(t, "my-prompt", KebabCase("  my_prompt "))
	assert.Equal(t, "already-kebab", KebabCase("already-kebab"))
}
