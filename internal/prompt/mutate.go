package prompt

// Delta is a partial update to a State. Only fields that were set are
// applied, and an empty Delta leaves the state untouched.
type Delta struct {
	messages     []StateMessage
	variables    []Variable
	parameters   *Parameters
	response     *string
	setMessages  bool
	setVariables bool
}

func (d Delta) WithMessages(msgs []StateMessage) Delta {
	d.messages, d.setMessages = msgs, true
	return d
}

func (d Delta) WithVariables(vars []Variable) Delta {
	d.variables, d.setVariables = vars, true
	return d
}

func (d Delta) WithParameters(p Parameters) Delta {
	d.parameters = &p
	return d
}

func (d Delta) WithResponse(r string) Delta {
	d.response = &r
	return d
}

func (d Delta) IsEmpty() bool {
	return !d.setMessages && !d.setVariables && d.parameters == nil && d.response == nil
}

// Mutator computes a Delta from the current state without modifying it.
type Mutator func(*State) Delta

// Apply merges d into s and reports whether anything changed. A non-empty
// delta marks the state dirty when markDirty is set.
func (s *State) Apply(d Delta, markDirty bool) bool {
	if s == nil || d.IsEmpty() {
		return false
	}
	if d.setMessages {
		s.Messages = d.messages
	}
	if d.setVariables {
		s.Variables = d.variables
	}
	if d.parameters != nil {
		s.Parameters = *d.parameters
	}
	if d.response != nil {
		s.Response = *d.response
	}
	if markDirty {
		s.IsDirty = true
	}
	return true
}

// EditMessage replaces the content of message i and re-derives variables
// from every message. Values of variables that are still referenced are kept.
func EditMessage(i int, content string) Mutator {
	return func(s *State) Delta {
		if i < 0 || i >= len(s.Messages) {
			return Delta{}
		}
		msgs := cloneMessages(s.Messages)
		msgs[i].Content = content

		var extracted []Variable
		for _, m := range msgs {
			extracted = append(extracted, ExtractVariables(m.Content, SyntaxAll)...)
		}
		vars := DeduplicateVariables(extracted, s.Variables...)

		for j, m := range msgs {
			if m.Idx == nil {
				continue
			}
			mv := Variable{
				Name:      MessageVariableName(*m.Idx),
				Value:     encodeMessage(m),
				IsValid:   true,
				IsMessage: true,
			}
			if existing, ok := findVariable(s.Variables, mv.Name); ok && j != i {
				mv = existing
			}
			vars = append(vars, mv)
		}
		vars = DeduplicateVariables(vars)
		markMessageVariables(msgs, vars)

		return Delta{}.WithMessages(msgs).WithVariables(vars)
	}
}

// RemoveMessage removes message i and its paired counterpart. Message
// variables left without a message are dropped.
func RemoveMessage(i int) Mutator {
	return func(s *State) Delta {
		if i < 0 || i >= len(s.Messages) {
			return Delta{}
		}
		msgs := RemoveMessagePair(s.Messages, i)

		vars := make([]Variable, 0, len(s.Variables))
		for _, v := range s.Variables {
			if idx, ok := MessageVariableIdx(v.Name); ok && v.IsMessage && !hasMessageIdx(msgs, idx) {
				continue
			}
			vars = append(vars, v)
		}
		return Delta{}.WithMessages(msgs).WithVariables(vars)
	}
}

// UpsertVariable appends v, or merges it into the variable with the same name.
func UpsertVariable(v Variable) Mutator {
	return func(s *State) Delta {
		if v.Name == "" {
			return Delta{}
		}
		v.IsValid = IsValidVariableName(v.Name)
		if idx, ok := MessageVariableIdx(v.Name); ok && hasMessageIdx(s.Messages, idx) {
			v.IsMessage = true
		}

		vars := append([]Variable(nil), s.Variables...)
		for j := range vars {
			if vars[j].Name == v.Name {
				vars[j] = v
				return Delta{}.WithVariables(vars)
			}
		}
		return Delta{}.WithVariables(append(vars, v))
	}
}

// EditVariable sets the value of variable i. Values of message variables are
// decoded as {role, content} and copied into the matching message; a value
// that does not decode only updates the variable.
func EditVariable(i int, value string) Mutator {
	return func(s *State) Delta {
		if i < 0 || i >= len(s.Variables) {
			return Delta{}
		}
		vars := append([]Variable(nil), s.Variables...)
		vars[i].Value = value
		d := Delta{}.WithVariables(vars)

		idx, ok := MessageVariableIdx(vars[i].Name)
		if !ok {
			return d
		}
		role, content, err := decodeMessage(value)
		if err != nil {
			return d
		}
		msgs := cloneMessages(s.Messages)
		for j := range msgs {
			if msgs[j].Idx != nil && *msgs[j].Idx == idx {
				msgs[j].Role = role
				msgs[j].Content = content
			}
		}
		return d.WithMessages(msgs)
	}
}

func AddMessagePair() Mutator {
	return func(s *State) Delta {
		if !IsLastMessageUser(s.Messages) {
			return Delta{}
		}
		msgs := append(cloneMessages(s.Messages),
			StateMessage{Role: "assistant"},
			StateMessage{Role: "user"},
		)
		return Delta{}.WithMessages(msgs)
	}
}

func AddPrefill() Mutator {
	return func(s *State) Delta {
		if !IsPrefillSupported(s.Parameters.Provider) || !IsLastMessageUser(s.Messages) {
			return Delta{}
		}
		msgs := append(cloneMessages(s.Messages), StateMessage{Role: "assistant"})
		return Delta{}.WithMessages(msgs)
	}
}

type ParameterUpdate struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// SetParameters merges the fields set in u.
func SetParameters(u ParameterUpdate) Mutator {
	return func(s *State) Delta {
		p := s.Parameters
		if u.Provider != "" {
			p.Provider = u.Provider
		}
		if u.Model != "" {
			p.Model = u.Model
		}
		if u.Temperature != nil {
			p.Temperature = *u.Temperature
		}
		if p == s.Parameters {
			return Delta{}
		}
		return Delta{}.WithParameters(p)
	}
}

func ClearResponse() Mutator {
	return func(*State) Delta {
		return Delta{}.WithResponse("")
	}
}

func findVariable(vars []Variable, name string) (Variable, bool) {
	for _, v := range vars {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}
