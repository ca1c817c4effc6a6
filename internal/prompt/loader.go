package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/models"
)

// LoadVersion builds a clean editing state from a stored version. known is
// the prompt's version list, scanned for the production version.
func LoadVersion(promptID uuid.UUID, record *models.PromptVersion, known []models.PromptVersion) (*State, error) {
	var tmpl models.Template
	if err := record.HeliconeTemplate.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("load version %s template: %w", record.ID, err)
	}
	var meta models.VersionMetadata
	if err := record.Metadata.Decode(&meta); err != nil {
		return nil, fmt.Errorf("load version %s metadata: %w", record.ID, err)
	}

	msgs, err := FromTemplateMessages(tmpl.Messages)
	if err != nil {
		return nil, fmt.Errorf("load version %s messages: %w", record.ID, err)
	}

	vars := make([]Variable, 0, len(meta.Inputs))
	names := make([]string, 0, len(meta.Inputs))
	for name := range meta.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vars = append(vars, Variable{
			Name:    name,
			Value:   meta.Inputs[name],
			IsValid: IsValidVariableName(name),
		})
	}

	for _, m := range msgs {
		for _, v := range ExtractVariables(m.Content, SyntaxAll) {
			if in, ok := meta.Inputs[v.Name]; ok {
				v.Value = in
			}
			vars = append(vars, v)
		}
	}

	for _, m := range msgs {
		if m.Idx == nil {
			continue
		}
		name := MessageVariableName(*m.Idx)
		value, ok := meta.Inputs[name]
		if !ok {
			value = encodeMessage(m)
		}
		vars = append(vars, Variable{Name: name, Value: value, IsValid: true, IsMessage: true})
	}

	vars = DeduplicateVariables(vars)
	markMessageVariables(msgs, vars)
	syncMessageVariables(msgs, vars)

	params := DefaultParameters()
	if meta.Provider != "" {
		params.Provider = meta.Provider
	}
	if tmpl.Model != "" {
		params.Model = tmpl.Model
	}
	if tmpl.Temperature != nil {
		params.Temperature = *tmpl.Temperature
	}

	return &State{
		PromptID:      promptID,
		MasterVersion: masterVersion(record, meta, known),
		Version:       record.MajorVersion,
		VersionID:     record.ID,
		Messages:      msgs,
		Parameters:    params,
		Variables:     vars,
		Evals:         tmpl.Evals,
		Structure:     tmpl.Structure,
	}, nil
}

func masterVersion(record *models.PromptVersion, meta models.VersionMetadata, known []models.PromptVersion) int {
	if meta.IsProduction {
		return record.MajorVersion
	}
	for i := range known {
		if known[i].IsProduction() {
			return known[i].MajorVersion
		}
	}
	return record.MajorVersion
}

func encodeMessage(m StateMessage) string {
	b, _ := json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
	return string(b)
}

var errMessageNoRole = errors.New("message variable has no role")

// decodeMessage parses a message variable value. Anything other than an
// object with a role is rejected.
func decodeMessage(value string) (role, content string, err error) {
	var tm templateMessage
	if err := json.Unmarshal([]byte(value), &tm); err != nil {
		return "", "", err
	}
	if tm.Role == "" {
		return "", "", errMessageNoRole
	}
	content, err = messageContent(tm.Content)
	if err != nil {
		return "", "", err
	}
	return tm.Role, content, nil
}

func markMessageVariables(msgs []StateMessage, vars []Variable) {
	for i := range vars {
		idx, ok := MessageVariableIdx(vars[i].Name)
		if !ok {
			continue
		}
		if hasMessageIdx(msgs, idx) {
			vars[i].IsMessage = true
		}
	}
}

// syncMessageVariables pushes message variable values into their messages.
// Values that do not parse leave the message as it is.
func syncMessageVariables(msgs []StateMessage, vars []Variable) {
	for _, v := range vars {
		if !v.IsMessage {
			continue
		}
		idx, ok := MessageVariableIdx(v.Name)
		if !ok {
			continue
		}
		role, content, err := decodeMessage(v.Value)
		if err != nil {
			continue
		}
		for i := range msgs {
			if msgs[i].Idx != nil && *msgs[i].Idx == idx {
				if role != "" {
					msgs[i].Role = role
				}
				msgs[i].Content = content
			}
		}
	}
}

func hasMessageIdx(msgs []StateMessage, idx int) bool {
	for _, m := range msgs {
		if m.Idx != nil && *m.Idx == idx {
			return true
		}
	}
	return false
}
