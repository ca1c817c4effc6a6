package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultProvider    = "openai"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
)

// State is the in-memory prompt being edited in a session.
type State struct {
	PromptID      uuid.UUID       `json:"promptId"`
	MasterVersion int             `json:"masterVersion"`
	Version       int             `json:"version"`
	VersionID     uuid.UUID       `json:"versionId"`
	Messages      []StateMessage  `json:"messages"`
	Parameters    Parameters      `json:"parameters"`
	Variables     []Variable      `json:"variables"`
	Evals         json.RawMessage `json:"evals,omitempty"`
	Structure     json.RawMessage `json:"structure,omitempty"`
	Response      string          `json:"response"`
	IsDirty       bool            `json:"isDirty"`
}

type StateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Idx     *int   `json:"idx,omitempty"`
}

type Parameters struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

func DefaultParameters() Parameters {
	return Parameters{
		Provider:    DefaultProvider,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = cloneMessages(s.Messages)
	c.Variables = append([]Variable(nil), s.Variables...)
	c.Evals = append(json.RawMessage(nil), s.Evals...)
	c.Structure = append(json.RawMessage(nil), s.Structure...)
	return &c
}

// HasUserContent reports whether some user message has non-blank content.
func (s *State) HasUserContent() bool {
	for _, m := range s.Messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

// CanRun reports whether a run may start for this state. editable is false
// for prompts managed from code.
func (s *State) CanRun(editable bool) bool {
	return s != nil && editable && s.HasUserContent()
}

var messageVariablePattern = regexp.MustCompile(`^message_(\d+)$`)

func MessageVariableName(idx int) string {
	return fmt.Sprintf("message_%d", idx)
}

// MessageVariableIdx returns the message index encoded in a message_<N>
// variable name.
func MessageVariableIdx(name string) (int, bool) {
	m := messageVariablePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func cloneMessages(msgs []StateMessage) []StateMessage {
	if msgs == nil {
		return nil
	}
	out := make([]StateMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Idx != nil {
			idx := *m.Idx
			out[i].Idx = &idx
		}
	}
	return out
}
