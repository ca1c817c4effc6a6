package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/stoewer/go-strcase"
)

var autoInputPattern = regexp.MustCompile(`^\s*<helicone-auto-prompt-input\s+idx=["']?(\d+)["']?\s*/>\s*$`)

type templateMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Idx     *int            `json:"idx,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FromTemplateMessages converts stored template messages into editable
// messages. Auto-input markers become user messages carrying an index.
func FromTemplateMessages(raw []json.RawMessage) ([]StateMessage, error) {
	out := make([]StateMessage, 0, len(raw))
	for i, r := range raw {
		r = bytes.TrimSpace(r)
		if len(r) > 0 && r[0] == '"' {
			var s string
			if err := json.Unmarshal(r, &s); err != nil {
				return nil, fmt.Errorf("decode message %d: %w", i, err)
			}
			if m := autoInputPattern.FindStringSubmatch(s); m != nil {
				idx, _ := strconv.Atoi(m[1])
				out = append(out, StateMessage{Role: "user", Idx: &idx})
				continue
			}
			out = append(out, StateMessage{Role: "user", Content: s})
			continue
		}

		var tm templateMessage
		if err := json.Unmarshal(r, &tm); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		content, err := messageContent(tm.Content)
		if err != nil {
			return nil, fmt.Errorf("decode message %d content: %w", i, err)
		}
		out = append(out, StateMessage{Role: tm.Role, Content: content, Idx: tm.Idx})
	}
	return out, nil
}

func messageContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

func ToTemplateMessages(msgs []StateMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// FillMessages renders the messages sent to the model.
func FillMessages(msgs []StateMessage, syntax Syntax, values map[string]string) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{
			Role:    m.Role,
			Content: FillVariables(m.Content, syntax, values),
		})
	}
	return out
}

func IsLastMessageUser(msgs []StateMessage) bool {
	return len(msgs) > 0 && msgs[len(msgs)-1].Role == "user"
}

func IsPrefillSupported(provider string) bool {
	return strings.EqualFold(provider, "anthropic")
}

// RemoveMessagePair removes the message at i together with its counterpart
// so the conversation keeps alternating. An assistant message pairs with the
// user message after it, a user message with the assistant before it.
func RemoveMessagePair(msgs []StateMessage, i int) []StateMessage {
	if i < 0 || i >= len(msgs) {
		return cloneMessages(msgs)
	}

	from, to := i, i+1
	switch msgs[i].Role {
	case "assistant":
		if i+1 < len(msgs) && msgs[i+1].Role == "user" {
			to = i + 2
		}
	case "user":
		switch {
		case i > 0 && msgs[i-1].Role == "assistant":
			from = i - 1
		case i+1 < len(msgs) && msgs[i+1].Role == "assistant":
			to = i + 2
		}
	}

	out := make([]StateMessage, 0, len(msgs)-(to-from))
	out = append(out, cloneMessages(msgs[:from])...)
	out = append(out, cloneMessages(msgs[to:])...)
	return out
}

// KebabCase normalises a user-defined prompt id.
func KebabCase(s string) string {
	return strcase.KebabCase(strings.TrimSpace(s))
}
